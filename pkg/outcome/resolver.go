// Package outcome resolves recorded forecasts against realized prices.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunogya/fractal/pkg/data"
	"github.com/tunogya/fractal/pkg/forecast"
	"github.com/tunogya/fractal/pkg/metrics"
	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/verdict"
)

// Observer receives every newly resolved outcome
type Observer interface {
	Observe(o model.Outcome)
}

// Publisher announces resolved outcomes
type Publisher interface {
	PublishOutcome(ctx context.Context, o model.Outcome) error
}

// RunResult summarizes one resolver run
type RunResult struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Processed  int
	Resolved   int
	Duplicates int
	Pending    int
	Failed     int
	Errors     []string
	Partial    bool
	Skipped    bool
	ByHorizon  map[int]HorizonSummary
}

// Resolver turns due forecast points into outcomes
type Resolver struct {
	store     forecast.Store
	prices    data.PriceProvider
	guard     Guard
	observer  Observer
	publisher Publisher
	metrics   *metrics.Recorder
	now       func() time.Time
	log       zerolog.Logger
}

// Option configures a Resolver
type Option func(*Resolver)

// WithGuard replaces the in-process guard
func WithGuard(g Guard) Option {
	return func(r *Resolver) { r.guard = g }
}

// WithObserver feeds resolved outcomes to o, typically the drift monitor
func WithObserver(o Observer) Option {
	return func(r *Resolver) { r.observer = o }
}

// WithPublisher publishes resolved outcomes
func WithPublisher(p Publisher) Option {
	return func(r *Resolver) { r.publisher = p }
}

// WithMetrics records run statistics
func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithClock overrides the resolver clock
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a resolver
func NewResolver(store forecast.Store, prices data.PriceProvider, log zerolog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		prices: prices,
		guard:  &LocalGuard{},
		now:    time.Now,
		log:    log.With().Str("component", "outcome_resolver").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run resolves every forecast whose target bar has closed. Runs never overlap: a run that
// finds the guard held returns a skipped result with ErrAlreadyRunning. A failing item is
// counted and reported without stopping the batch. An item whose target bar is not stored
// yet stays pending and is retried by the next run.
func (r *Resolver) Run(ctx context.Context) (RunResult, error) {
	res := RunResult{StartedAt: r.now()}

	release, ok, err := r.guard.TryAcquire(ctx)
	if err != nil {
		r.metrics.RecordResolverRun("error", 0, 0)
		return res, err
	}
	if !ok {
		res.Skipped = true
		res.FinishedAt = r.now()
		r.metrics.RecordResolverRun("skipped", 0, 0)
		r.log.Info().Msg("Outcome resolution already running, skipping")
		return res, ErrAlreadyRunning
	}
	defer release()

	due, err := r.store.ListUnresolved(ctx, res.StartedAt)
	if err != nil {
		r.metrics.RecordResolverRun("error", 0, 0)
		return res, fmt.Errorf("list unresolved forecasts: %w", err)
	}

	var resolved []model.Outcome
	for _, p := range due {
		res.Processed++

		o, err := r.Resolve(ctx, p)
		if errors.Is(err, model.ErrNotFound) {
			res.Pending++
			r.log.Debug().Err(err).Str("key", p.Key().String()).Msg("Target bar not available yet")
			continue
		}
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", p.Key(), err))
			r.log.Warn().Err(err).Str("key", p.Key().String()).Msg("Failed to resolve forecast")
			continue
		}

		saved, err := r.store.SaveOutcome(ctx, o)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: save outcome: %v", p.Key(), err))
			r.log.Warn().Err(err).Str("key", p.Key().String()).Msg("Failed to save outcome")
			continue
		}
		if !saved {
			res.Duplicates++
			continue
		}

		res.Resolved++
		resolved = append(resolved, o)
		if r.observer != nil {
			r.observer.Observe(o)
		}
		if r.publisher != nil {
			if err := r.publisher.PublishOutcome(ctx, o); err != nil {
				r.log.Warn().Err(err).Str("key", p.Key().String()).Msg("Failed to publish outcome")
				r.metrics.RecordError("outcome_publish")
			}
		}
	}

	res.Partial = res.Failed > 0
	res.ByHorizon = Summarize(resolved)
	res.FinishedAt = r.now()

	status := "completed"
	if res.Partial {
		status = "partial"
	}
	r.metrics.RecordResolverRun(status, res.Resolved, res.Failed)
	r.log.Info().
		Int("processed", res.Processed).
		Int("resolved", res.Resolved).
		Int("pending", res.Pending).
		Int("failed", res.Failed).
		Int("duplicates", res.Duplicates).
		Dur("took", res.FinishedAt.Sub(res.StartedAt)).
		Msg("Outcome resolution finished")

	return res, nil
}

// Resolve computes the outcome of one forecast point. The base is the recorded base price, or
// the last close of the base day, and the target is the close of the bar opened Horizon days
// after the base bar. A target bar that has not closed or is not stored yields ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, p model.ForecastPoint) (model.Outcome, error) {
	baseDay, err := p.BaseDay()
	if err != nil {
		return model.Outcome{}, err
	}
	target := baseDay.AddDate(0, 0, p.Horizon)
	targetEnd := target.Add(24*time.Hour - time.Nanosecond)
	if now := r.now(); now.Before(target.Add(24 * time.Hour)) {
		return model.Outcome{}, fmt.Errorf("target bar %s closes after %s: %w",
			model.Day(target), now.UTC().Format(time.RFC3339), model.ErrNotFound)
	}
	asOf, _ := time.Parse(model.DayLayout, p.Day)

	base := p.BasePrice
	if base <= 0 {
		base, err = r.prices.PriceAt(ctx, p.Symbol, baseDay.Add(24*time.Hour-time.Nanosecond))
		if err != nil {
			return model.Outcome{}, fmt.Errorf("base price: %w: %v", model.ErrProviderFailure, err)
		}
	}
	if base <= 0 {
		return model.Outcome{}, fmt.Errorf("non-positive base price %g: %w", base, model.ErrProviderFailure)
	}

	price, err := r.prices.CloseOn(ctx, p.Symbol, target)
	if errors.Is(err, model.ErrNotFound) {
		return model.Outcome{}, fmt.Errorf("target price: %w", err)
	}
	if err != nil {
		return model.Outcome{}, fmt.Errorf("target price: %w: %w", model.ErrProviderFailure, err)
	}

	realized := price/base - 1
	o := model.Outcome{
		Key:            p.Key(),
		Cohort:         model.CohortLive,
		AsOf:           asOf,
		Horizon:        p.Horizon,
		Direction:      p.Direction,
		Confidence:     p.Confidence,
		ExpectedReturn: p.ExpectedMovePct / 100,
		RealizedReturn: realized,
		Hit:            Hit(p.Direction, realized),
		ResolvedAt:     r.now(),
	}

	if action := actionOf(p.Direction); action != model.ActionHold {
		mdd, err := r.prices.MaxDrawdown(ctx, p.Symbol, baseDay, targetEnd, action)
		if err != nil {
			r.log.Debug().Err(err).Str("key", p.Key().String()).Msg("Drawdown unavailable")
		} else {
			o.MaxDrawdown = mdd
		}
	}
	return o, nil
}

// Hit reports whether a call was right: directional calls need the realized move in their
// direction, flat calls need the move to stay inside the no-trade band.
func Hit(dir model.Direction, realized float64) bool {
	if dir == model.DirectionFlat {
		return math.Abs(realized) <= verdict.ReturnThreshold
	}
	return dir.Sign()*realized > 0
}

func actionOf(dir model.Direction) model.Action {
	switch dir {
	case model.DirectionUp:
		return model.ActionBuy
	case model.DirectionDown:
		return model.ActionSell
	default:
		return model.ActionHold
	}
}
