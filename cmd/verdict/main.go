package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/tunogya/fractal/pkg/app"
	"github.com/tunogya/fractal/pkg/config"
	"github.com/tunogya/fractal/pkg/drift"
	"github.com/tunogya/fractal/pkg/logger"
	"github.com/tunogya/fractal/pkg/model"
)

// Flags holds verdict command options
type Flags struct {
	ConfigPath string
	Symbol     string
	Consensus  bool
}

// Output is printed as JSON
type Output struct {
	Verdict   model.Verdict                 `json:"verdict"`
	Drift     *drift.IntelReport            `json:"drift,omitempty"`
	Consensus *model.ConsensusHistoryRecord `json:"consensus,omitempty"`
}

func main() {
	flags := parseFlags()

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log).With().Str("cmd", "verdict").Logger()

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	if _, err := a.Warm(ctx); err != nil {
		log.Warn().Err(err).Msg("Drift monitor starts cold")
	}

	var out Output
	if flags.Consensus {
		v, rec, err := a.Daily(ctx, flags.Symbol)
		if err != nil {
			log.Fatal().Err(err).Str("symbol", flags.Symbol).Msg("Verdict failed")
		}
		out.Verdict, out.Consensus = v, &rec
	} else {
		v, _, _, err := a.Verdict(ctx, flags.Symbol)
		if err != nil {
			log.Fatal().Err(err).Str("symbol", flags.Symbol).Msg("Verdict failed")
		}
		out.Verdict = v
	}
	if report, ok := a.Monitor.Report(flags.Symbol); ok {
		out.Drift = &report
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatal().Err(err).Msg("Failed to print verdict")
	}
}

func parseFlags() Flags {
	flags := Flags{}

	flag.StringVar(&flags.ConfigPath, "config", "", "Path to YAML config file")
	flag.StringVar(&flags.Symbol, "symbol", "BTCUSDT", "Trading symbol")
	flag.BoolVar(&flags.Consensus, "consensus", false, "Also record today's consensus snapshot")

	flag.Parse()

	return flags
}
