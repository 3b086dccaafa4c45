package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tunogya/fractal/pkg/app"
	"github.com/tunogya/fractal/pkg/config"
	"github.com/tunogya/fractal/pkg/logger"
	"github.com/tunogya/fractal/pkg/outcome"
	"github.com/tunogya/fractal/pkg/scheduler"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	runNow := flag.Bool("run-now", false, "Run every job once at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log).With().Str("cmd", "scheduler").Logger()

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	if _, err := a.Warm(ctx); err != nil {
		log.Warn().Err(err).Msg("Drift monitor starts cold")
	}

	resolve := scheduler.JobFunc{JobName: "resolve_outcomes", Fn: func(ctx context.Context) error {
		_, err := a.Resolve(ctx)
		if errors.Is(err, outcome.ErrAlreadyRunning) {
			return nil
		}
		return err
	}}
	daily := scheduler.JobFunc{JobName: "daily_verdict", Fn: a.DailyAll}

	sched := scheduler.New(cfg.Schedule.JobTimeout, log)
	if err := sched.AddJob(cfg.Schedule.Resolve, resolve); err != nil {
		log.Fatal().Err(err).Msg("Failed to register job")
	}
	if err := sched.AddJob(cfg.Schedule.Verdict, daily); err != nil {
		log.Fatal().Err(err).Msg("Failed to register job")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	sched.Start()
	if *runNow {
		for _, job := range []scheduler.Job{resolve, daily} {
			if err := sched.RunNow(job); err != nil {
				log.Error().Err(err).Str("job", job.Name()).Msg("Job failed")
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down scheduler")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Metrics server shutdown")
	}
}
