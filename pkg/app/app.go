// Package app wires the stores, backends and engine components shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tunogya/fractal/pkg/analog"
	"github.com/tunogya/fractal/pkg/config"
	"github.com/tunogya/fractal/pkg/drift"
	"github.com/tunogya/fractal/pkg/ensemble"
	"github.com/tunogya/fractal/pkg/forecast"
	"github.com/tunogya/fractal/pkg/metrics"
	"github.com/tunogya/fractal/pkg/outcome"
	natsq "github.com/tunogya/fractal/pkg/queue/nats"
	"github.com/tunogya/fractal/pkg/store/duckdb"
	"github.com/tunogya/fractal/pkg/store/milvus"
	"github.com/tunogya/fractal/pkg/verdict"
	"github.com/tunogya/fractal/pkg/window"
)

// App holds every long-lived component built from a Config
type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Recorder

	DB          *duckdb.Client
	Candles     *duckdb.CandleRepo
	Windows     *duckdb.WindowRepo
	Forecasts   *duckdb.ForecastRepo
	Consensus   *duckdb.ConsensusRepo
	Adjustments *duckdb.AdjustmentRepo

	// Optional backends, nil when disabled
	Milvus    *milvus.Client
	NATS      *natsq.Client
	Redis     *redis.Client
	Publisher *natsq.Publisher

	Cache            *window.Cache
	Monitor          *drift.Monitor
	Engine           *verdict.Engine
	Service          *forecast.Service
	Selector         *ensemble.Selector
	ConsensusService *drift.ConsensusService
	Resolver         *outcome.Resolver

	now func() time.Time
}

// Option configures an App
type Option func(*App)

// WithClock overrides the wall clock of every time-dependent component
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New opens the stores and backends enabled in cfg and wires the engine on top of them.
// On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	a := &App{
		Config:   cfg,
		Log:      log,
		Registry: prometheus.NewRegistry(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.Metrics = metrics.New(a.Registry)

	if err := a.open(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.wire(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	cfg := a.Config

	db, err := duckdb.NewClient(cfg.DuckDB.Path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb: %w", err)
	}
	a.DB = db
	a.Candles = duckdb.NewCandleRepo(db, cfg.Timeframe)
	a.Windows = duckdb.NewWindowRepo(db)
	a.Forecasts = duckdb.NewForecastRepo(db)
	a.Consensus = duckdb.NewConsensusRepo(db)
	a.Adjustments = duckdb.NewAdjustmentRepo(db)
	a.Log.Info().Str("path", db.Path()).Msg("DuckDB opened")

	if cfg.Milvus.Enabled {
		mc, err := milvus.NewClient(ctx, cfg.Milvus.Client)
		if err != nil {
			return fmt.Errorf("failed to connect to milvus: %w", err)
		}
		a.Milvus = mc.WithMetric(cfg.Index.Metric)
		a.Log.Info().Str("address", mc.Address()).Msg("Milvus connected")
	}

	if cfg.NATS.Enabled {
		nc, err := natsq.NewClient(cfg.NATS.Client)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		a.NATS = nc
		if err := nc.CreateStream(ctx); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		a.Publisher = natsq.NewPublisher(nc)
		a.Log.Info().Str("url", cfg.NATS.Client.URL).Msg("NATS connected")
	}

	if cfg.Redis.Enabled {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.Redis = rc
		if err := rc.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis connected")
	}
	return nil
}

func (a *App) wire() error {
	cfg := a.Config

	a.Cache = window.NewCache(cfg.Index.Options(), a.Log)

	monitor, err := drift.NewMonitor(cfg.Drift.Thresholds, cfg.Drift.Cohorts, cfg.Drift.RingCapacity, a.Metrics, a.Log)
	if err != nil {
		return fmt.Errorf("failed to create drift monitor: %w", err)
	}
	a.Monitor = monitor

	a.Engine = verdict.NewEngine(cfg.Verdict, a.Log,
		verdict.WithHealth(monitor),
		verdict.WithCalibration(verdict.NoopCalibration{}),
		verdict.WithClock(a.now),
	)

	serviceOpts := []forecast.Option{
		forecast.WithMetrics(a.Metrics),
		forecast.WithProvenance(cfg.Forecast.Provenance),
		forecast.WithClock(a.now),
	}
	resolverOpts := []outcome.Option{
		outcome.WithObserver(monitor),
		outcome.WithMetrics(a.Metrics),
		outcome.WithClock(a.now),
	}
	var consensusPub drift.ConsensusPublisher
	if a.Publisher != nil {
		serviceOpts = append(serviceOpts, forecast.WithPublisher(a.Publisher))
		resolverOpts = append(resolverOpts, outcome.WithPublisher(a.Publisher))
		consensusPub = a.Publisher
	}
	if a.Redis != nil {
		resolverOpts = append(resolverOpts, outcome.WithGuard(outcome.NewRedisGuard(a.Redis, cfg.Redis.LockKey, cfg.Redis.LockTTL)))
	} else {
		resolverOpts = append(resolverOpts, outcome.WithGuard(&outcome.LocalGuard{}))
	}

	a.Service = forecast.NewService(a.Forecasts, a.Log, serviceOpts...)

	registry := ensemble.NewRegistry()
	for _, h := range cfg.Horizons {
		p := analog.NewPredictor(h, a.Cache, a.Log)
		if a.Milvus != nil {
			p.WithSearcher(milvus.NewSearcher(a.Milvus, cfg.Milvus.Client.NProbe))
		}
		spec := ensemble.HorizonSpec{Horizon: h.Horizon, WindowLength: h.WindowLength, ModelID: h.ID()}
		if err := registry.Register(spec, a.Service.Coalesce(p, h.ID())); err != nil {
			return fmt.Errorf("failed to register horizon %d: %w", h.Horizon, err)
		}
	}

	a.Selector = ensemble.NewSelector(registry, a.Engine, a.Adjustments, a.Metrics, a.Log)
	a.ConsensusService = drift.NewConsensusService(a.Consensus, consensusPub, a.Metrics, a.Log)
	a.Resolver = outcome.NewResolver(a.Forecasts, a.Candles, a.Log, resolverOpts...)
	return nil
}

// Now returns the app clock
func (a *App) Now() time.Time {
	return a.now()
}

// Close releases every opened backend
func (a *App) Close() error {
	var errs []error
	if a.NATS != nil {
		a.NATS.Close()
	}
	if a.Milvus != nil {
		errs = append(errs, a.Milvus.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
