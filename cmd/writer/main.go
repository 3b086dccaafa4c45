package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tunogya/fractal/pkg/app"
	"github.com/tunogya/fractal/pkg/config"
	"github.com/tunogya/fractal/pkg/logger"
	natsq "github.com/tunogya/fractal/pkg/queue/nats"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log).With().Str("cmd", "writer").Logger()
	if !cfg.NATS.Enabled {
		log.Fatal().Msg("Writer needs nats.enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info().Str("nats", cfg.NATS.Client.URL).Str("duckdb", cfg.DuckDB.Path).Msg("Starting writer worker")

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	candles := natsq.NewCandleHandler(a.Candles, a.Reindex, log)
	events := natsq.NewEventHandler(a.Forecasts, a.Consensus, log)

	subs := []struct {
		subject  string
		consumer string
		handler  natsq.MessageHandler
	}{
		{natsq.SubjectCandleWrite, "candle-writer", candles.Handle},
		{natsq.SubjectForecastCreated, "forecast-writer", events.HandleForecast},
		{natsq.SubjectOutcomeResolved, "outcome-writer", events.HandleOutcome},
		{natsq.SubjectConsensusRecorded, "consensus-writer", events.HandleConsensus},
	}

	var consumers []jetstream.ConsumeContext
	for _, s := range subs {
		cc, err := a.NATS.Subscribe(ctx, s.subject, s.consumer, s.handler)
		if err != nil {
			log.Fatal().Err(err).Str("subject", s.subject).Msg("Failed to subscribe")
		}
		consumers = append(consumers, cc)
		log.Info().Str("subject", s.subject).Str("consumer", s.consumer).Msg("Subscribed")
	}
	defer func() {
		for _, cc := range consumers {
			cc.Stop()
		}
	}()

	log.Info().Msg("Writer worker started, waiting for messages")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down writer worker")
}
