package verdict

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tunogya/fractal/pkg/model"
)

// Adjustment sources
const (
	SourceHealth      = "health"
	SourceCalibration = "calibration"
)

// adjustmentEpsilon is the smallest confidence change that is recorded
const adjustmentEpsilon = 1e-6

// Config holds sizing configuration
type Config struct {
	MaxPositionPct float64 `yaml:"max_position_pct" default:"25" validate:"gt=0,lte=100"`
	AllowShort     bool    `yaml:"allow_short"`
}

// DefaultConfig returns the default sizing configuration
func DefaultConfig() Config {
	return Config{MaxPositionPct: 25}
}

// Engine applies modifier hooks to a horizon prediction and sizes the result
type Engine struct {
	cfg         Config
	calibration CalibrationProvider
	health      HealthProvider
	now         func() time.Time
	log         zerolog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithCalibration sets the calibration provider
func WithCalibration(p CalibrationProvider) Option {
	return func(e *Engine) { e.calibration = p }
}

// WithHealth sets the health provider
func WithHealth(p HealthProvider) Option {
	return func(e *Engine) { e.health = p }
}

// WithClock overrides the clock used to stamp adjustments
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine with no-op providers unless overridden
func NewEngine(cfg Config, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:         cfg,
		calibration: NoopCalibration{},
		health:      NoopHealth{},
		now:         time.Now,
		log:         log.With().Str("component", "verdict").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the sizing configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// Candidate turns a prediction into a sized candidate. Confidence passes the health hook first
// and the calibration hook second; each step is clamped to [0,1].
func (e *Engine) Candidate(ctx context.Context, req model.PredictionRequest, pred model.HorizonPrediction) (model.HorizonCandidate, []model.VerdictAdjustment, []string) {
	conf, adjustments, notes := e.ModifyConfidence(ctx, req.Symbol, pred.ModelID, pred.Horizon, req.Regime, pred.Confidence)

	action := DecideAction(pred.ExpectedReturn, conf, e.cfg.AllowShort)
	risk := DecideRisk(conf)
	size := 0.0
	if action != model.ActionHold {
		size = DecideSizePct(conf, risk, e.cfg.MaxPositionPct)
	}

	return model.HorizonCandidate{
		Horizon:         pred.Horizon,
		ModelID:         pred.ModelID,
		ExpectedReturn:  pred.ExpectedReturn,
		Confidence:      conf,
		RawConfidence:   pred.Confidence,
		Action:          action,
		Risk:            risk,
		PositionSizePct: size,
	}, adjustments, notes
}

// ModifyConfidence composes the health and calibration modifiers on a confidence.
// Provider failures fall back to a neutral modifier and are reported as notes.
func (e *Engine) ModifyConfidence(ctx context.Context, symbol, modelID string, horizon int, regime string, confidence float64) (float64, []model.VerdictAdjustment, []string) {
	var (
		adjustments []model.VerdictAdjustment
		notes       []string
	)
	conf := Clamp(confidence, 0, 1)

	healthMod := 1.0
	health, err := e.health.HealthModifier(ctx, HealthQuery{Symbol: symbol, ModelID: modelID, Horizon: horizon})
	if err != nil {
		notes = append(notes, fmt.Sprintf("health provider failed for %s h%d: %v", modelID, horizon, err))
		e.log.Warn().Err(err).Str("model", modelID).Int("horizon", horizon).Msg("Health provider failed, using neutral modifier")
	} else {
		healthMod = health.State.Modifier()
	}
	next := Clamp(conf*healthMod, 0, 1)
	if adj, ok := e.adjustment(symbol, modelID, horizon, SourceHealth, healthMod, conf, next, healthNotes(health)); ok {
		adjustments = append(adjustments, adj)
	}
	conf = next

	calMod := 1.0
	cal, err := e.calibration.ConfidenceModifier(ctx, CalibrationQuery{Symbol: symbol, ModelID: modelID, Horizon: horizon, Regime: regime})
	if err != nil {
		notes = append(notes, fmt.Sprintf("calibration provider failed for %s h%d: %v", modelID, horizon, err))
		e.log.Warn().Err(err).Str("model", modelID).Int("horizon", horizon).Msg("Calibration provider failed, using neutral modifier")
	} else {
		calMod = Clamp(cal.Modifier, MinCalibrationModifier, MaxCalibrationModifier)
	}
	next = Clamp(conf*calMod, 0, 1)
	if adj, ok := e.adjustment(symbol, modelID, horizon, SourceCalibration, calMod, conf, next, cal.Notes); ok {
		adjustments = append(adjustments, adj)
	}

	return next, adjustments, notes
}

func (e *Engine) adjustment(symbol, modelID string, horizon int, source string, modifier, before, after float64, notes string) (model.VerdictAdjustment, bool) {
	delta := after - before
	if math.Abs(delta) <= adjustmentEpsilon {
		return model.VerdictAdjustment{}, false
	}
	return model.VerdictAdjustment{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Horizon:   horizon,
		ModelID:   modelID,
		Source:    source,
		Modifier:  modifier,
		Before:    before,
		After:     after,
		Delta:     delta,
		Notes:     notes,
		CreatedAt: e.now(),
	}, true
}

func healthNotes(h HealthModifier) string {
	if h.State == "" || h.State == HealthHealthy {
		return h.Notes
	}
	s := fmt.Sprintf("state=%s calibration_error=%.4f divergence=%.4f critical_streak=%d",
		h.State, h.CalibrationError, h.Divergence, h.CriticalStreak)
	if h.Notes != "" {
		s += " " + h.Notes
	}
	return s
}
