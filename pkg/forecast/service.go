// Package forecast computes and records one forecast point per (symbol, model, horizon, day).
package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/tunogya/fractal/pkg/ensemble"
	"github.com/tunogya/fractal/pkg/metrics"
	"github.com/tunogya/fractal/pkg/model"
)

// Publisher announces newly recorded forecast points
type Publisher interface {
	PublishForecast(ctx context.Context, p model.ForecastPoint) error
}

// Result is the forecast of one key
type Result struct {
	Point      model.ForecastPoint
	Prediction model.HorizonPrediction
	Cached     bool // served from the store without computing
	Shared     bool // the computation was shared with concurrent callers
}

// Service computes forecasts at most once per key. Concurrent callers for the same key share
// one in-flight computation and receive the same result.
type Service struct {
	store      Store
	publisher  Publisher
	metrics    *metrics.Recorder
	provenance string
	now        func() time.Time
	log        zerolog.Logger

	group singleflight.Group
}

// Option configures a Service
type Option func(*Service)

// WithPublisher publishes every inserted point
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics records writes and coalesced calls
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

// WithProvenance sets the provenance stamped on new points
func WithProvenance(p string) Option {
	return func(s *Service) { s.provenance = p }
}

// WithClock overrides the service clock
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a forecast service over store
func NewService(store Store, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		provenance: "fractal",
		now:        time.Now,
		log:        log.With().Str("component", "forecast").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the forecast key of a request for a model
func (s *Service) Key(modelID string, req model.PredictionRequest) model.ForecastKey {
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}
	return model.ForecastKey{Symbol: req.Symbol, ModelID: modelID, Horizon: req.Horizon, Day: model.Day(asOf)}
}

// Forecast returns the point for the request's key, computing it with p when the store has none
func (s *Service) Forecast(ctx context.Context, p ensemble.Predictor, modelID string, req model.PredictionRequest) (Result, error) {
	key := s.Key(modelID, req)

	if point, err := s.store.Get(ctx, key); err == nil {
		return Result{Point: point, Prediction: PredictionFromPoint(point), Cached: true}, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return Result{}, fmt.Errorf("load forecast %s: %w", key, err)
	}

	v, err, shared := s.group.Do(key.String(), func() (interface{}, error) {
		return s.compute(ctx, p, key, req)
	})
	if err != nil {
		return Result{}, err
	}
	res := v.(Result)
	if shared {
		res.Shared = true
		s.metrics.RecordCoalesced()
	}
	return res, nil
}

func (s *Service) compute(ctx context.Context, p ensemble.Predictor, key model.ForecastKey, req model.PredictionRequest) (Result, error) {
	// a caller that finished just before this flight started may already have stored the point
	if point, err := s.store.Get(ctx, key); err == nil {
		return Result{Point: point, Prediction: PredictionFromPoint(point), Cached: true}, nil
	}

	pred, err := p.Predict(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("predict %s: %w", key, err)
	}
	if pred.ModelID == "" {
		pred.ModelID = key.ModelID
	}

	point := s.point(key, pred)
	inserted, err := s.store.Append(ctx, point)
	if err != nil {
		return Result{}, fmt.Errorf("append forecast %s: %w", key, err)
	}
	s.metrics.RecordForecastWrite(inserted)

	if !inserted {
		existing, err := s.store.Get(ctx, key)
		if err != nil {
			return Result{}, fmt.Errorf("reload forecast %s: %w", key, err)
		}
		return Result{Point: existing, Prediction: PredictionFromPoint(existing), Cached: true}, nil
	}

	if s.publisher != nil {
		if err := s.publisher.PublishForecast(ctx, point); err != nil {
			s.log.Warn().Err(err).Str("key", key.String()).Msg("Failed to publish forecast")
			s.metrics.RecordError("forecast_publish")
		}
	}

	s.log.Debug().
		Str("key", key.String()).
		Float64("expected_move_pct", point.ExpectedMovePct).
		Float64("confidence", point.Confidence).
		Msg("Forecast recorded")

	return Result{Point: point, Prediction: pred}, nil
}

func (s *Service) point(key model.ForecastKey, pred model.HorizonPrediction) model.ForecastPoint {
	return model.ForecastPoint{
		Symbol:          key.Symbol,
		ModelID:         key.ModelID,
		Horizon:         key.Horizon,
		Day:             key.Day,
		BasePrice:       pred.BasePrice,
		BaseTime:        pred.BaseTime,
		ExpectedMovePct: pred.ExpectedReturn * 100,
		Direction:       model.DirectionOf(pred.ExpectedReturn),
		Confidence:      pred.Confidence,
		VolatilityPct:   pred.Volatility * 100,
		ProbUp:          pred.ProbUp,
		Entropy:         pred.Entropy,
		Samples:         pred.Samples,
		Insufficient:    pred.Insufficient,
		Provenance:      s.provenance,
		CreatedAt:       s.now(),
	}
}

// PredictionFromPoint rebuilds the prediction carried by a stored point
func PredictionFromPoint(p model.ForecastPoint) model.HorizonPrediction {
	pred := model.HorizonPrediction{
		Horizon:        p.Horizon,
		ModelID:        p.ModelID,
		ExpectedReturn: p.ExpectedMovePct / 100,
		Confidence:     p.Confidence,
		ProbUp:         p.ProbUp,
		Entropy:        p.Entropy,
		Samples:        p.Samples,
		Insufficient:   p.Insufficient,
		Volatility:     p.VolatilityPct / 100,
		BasePrice:      p.BasePrice,
		BaseTime:       p.BaseTime,
		Notes:          []string{fmt.Sprintf("recorded forecast %s", p.Day)},
	}
	if p.Insufficient {
		pred.Notes = append(pred.Notes, fmt.Sprintf("insufficient analogs: %d samples", p.Samples))
	}
	return pred
}

// CoalescingPredictor routes a predictor through the service so that each key is computed once
// and recorded
type CoalescingPredictor struct {
	service *Service
	inner   ensemble.Predictor
	modelID string
}

// Coalesce wraps inner
func (s *Service) Coalesce(inner ensemble.Predictor, modelID string) *CoalescingPredictor {
	return &CoalescingPredictor{service: s, inner: inner, modelID: modelID}
}

// Predict implements ensemble.Predictor
func (c *CoalescingPredictor) Predict(ctx context.Context, req model.PredictionRequest) (model.HorizonPrediction, error) {
	res, err := c.service.Forecast(ctx, c.inner, c.modelID, req)
	if err != nil {
		return model.HorizonPrediction{}, err
	}
	return res.Prediction, nil
}
