package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/tunogya/fractal/pkg/app"
	"github.com/tunogya/fractal/pkg/config"
	"github.com/tunogya/fractal/pkg/data"
	"github.com/tunogya/fractal/pkg/logger"
	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/sweep"
)

// Flags holds sweep command options
type Flags struct {
	ConfigPath string
	CSVPath    string
	Symbol     string
}

func main() {
	flags := parseFlags()

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log).With().Str("cmd", "sweep").Logger()

	ctx := context.Background()
	candles, err := loadCandles(ctx, cfg, flags, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load candles")
	}

	res, err := sweep.NewRunner(log).Run(ctx, flags.Symbol, candles, cfg.Sweep)
	if err != nil {
		log.Fatal().Err(err).Msg("Sweep failed")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Fatal().Err(err).Msg("Failed to print result")
	}
}

// loadCandles reads the CSV when given, otherwise the stored series
func loadCandles(ctx context.Context, cfg *config.Config, flags Flags, log zerolog.Logger) ([]model.Candle, error) {
	if flags.CSVPath != "" {
		return data.NewCSVProvider(flags.CSVPath, flags.Symbol, cfg.Timeframe).Load()
	}

	// the sweep only reads candles, so the optional backends stay off
	local := *cfg
	local.Milvus.Enabled, local.NATS.Enabled, local.Redis.Enabled = false, false, false
	a, err := app.New(ctx, &local, log)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return a.FullSeries(ctx, flags.Symbol)
}

func parseFlags() Flags {
	flags := Flags{}

	flag.StringVar(&flags.ConfigPath, "config", "", "Path to YAML config file")
	flag.StringVar(&flags.CSVPath, "csv", "", "CSV file with candle data (default: stored candles)")
	flag.StringVar(&flags.Symbol, "symbol", "BTCUSDT", "Trading symbol")

	flag.Parse()

	return flags
}
