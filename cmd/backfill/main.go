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
)

// Flags holds backfill command options
type Flags struct {
	ConfigPath string
	CSVPath    string
	Symbol     string
	ReplayStep int
	Publish    bool
}

func main() {
	flags := parseFlags()

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log).With().Str("cmd", "backfill").Logger()

	if err := run(context.Background(), cfg, flags, log); err != nil {
		log.Fatal().Err(err).Msg("Backfill failed")
	}
}

func run(ctx context.Context, cfg *config.Config, flags Flags, log zerolog.Logger) error {
	candles, err := data.NewCSVProvider(flags.CSVPath, flags.Symbol, cfg.Timeframe).Load()
	if err != nil {
		return fmt.Errorf("load csv: %w", err)
	}
	log.Info().Str("csv", flags.CSVPath).Int("candles", len(candles)).Msg("CSV loaded")

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	// hand the candles to the writer worker instead of writing them here
	if flags.Publish {
		if a.Publisher == nil {
			return fmt.Errorf("-publish needs nats.enabled: %w", model.ErrInvalidConfig)
		}
		if err := a.Publisher.PublishCandles(ctx, flags.Symbol, cfg.Timeframe, candles); err != nil {
			return fmt.Errorf("publish candles: %w", err)
		}
		log.Info().Str("symbol", flags.Symbol).Int("candles", len(candles)).Msg("Candles published")
		return nil
	}

	res, err := a.Backfill(ctx, flags.Symbol, candles, flags.ReplayStep)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func parseFlags() Flags {
	flags := Flags{}

	flag.StringVar(&flags.ConfigPath, "config", "", "Path to YAML config file")
	flag.StringVar(&flags.CSVPath, "csv", "", "Path to CSV file with candle data")
	flag.StringVar(&flags.Symbol, "symbol", "BTCUSDT", "Trading symbol")
	flag.IntVar(&flags.ReplayStep, "replay-step", 0, "Bars between replayed vintage decisions (0 = horizon)")
	flag.BoolVar(&flags.Publish, "publish", false, "Publish candles to NATS for the writer instead of storing them")

	flag.Parse()

	if flags.CSVPath == "" {
		fmt.Println("Usage: backfill -csv <path> [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	return flags
}
