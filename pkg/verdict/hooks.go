package verdict

import (
	"context"

	"github.com/tunogya/fractal/pkg/model"
)

// Calibration modifier bounds
const (
	MinCalibrationModifier = 0.6
	MaxCalibrationModifier = 1.1
)

// CalibrationQuery identifies the forecast a calibration modifier is requested for
type CalibrationQuery struct {
	Symbol  string
	ModelID string
	Horizon int
	Regime  string
}

// CalibrationModifier scales confidence to account for historical calibration error
type CalibrationModifier struct {
	Modifier float64
	Notes    string
}

// CalibrationProvider supplies calibration modifiers
type CalibrationProvider interface {
	ConfidenceModifier(ctx context.Context, q CalibrationQuery) (CalibrationModifier, error)
}

// NoopCalibration leaves confidence unchanged
type NoopCalibration struct{}

// ConfidenceModifier returns a neutral modifier
func (NoopCalibration) ConfidenceModifier(context.Context, CalibrationQuery) (CalibrationModifier, error) {
	return CalibrationModifier{Modifier: 1.0}, nil
}

// HealthState is the discretized health of a model
type HealthState string

const (
	HealthHealthy  HealthState = "HEALTHY"
	HealthDegraded HealthState = "DEGRADED"
	HealthCritical HealthState = "CRITICAL"
)

// Modifier returns the confidence multiplier of a state. Unknown states count as healthy.
func (s HealthState) Modifier() float64 {
	switch s {
	case HealthDegraded:
		return 0.6
	case HealthCritical:
		return 0.3
	default:
		return 1.0
	}
}

// HealthQuery identifies the model a health modifier is requested for
type HealthQuery struct {
	Symbol  string
	ModelID string
	Horizon int
}

// HealthModifier is the health of a model plus its diagnostics
type HealthModifier struct {
	State            HealthState
	CalibrationError float64
	Divergence       float64
	CriticalStreak   int
	Notes            string
}

// HealthProvider supplies model health
type HealthProvider interface {
	HealthModifier(ctx context.Context, q HealthQuery) (HealthModifier, error)
}

// NoopHealth reports every model healthy
type NoopHealth struct{}

// HealthModifier returns a healthy state
func (NoopHealth) HealthModifier(context.Context, HealthQuery) (HealthModifier, error) {
	return HealthModifier{State: HealthHealthy}, nil
}

// AdjustmentSink receives the audit trail of confidence adjustments
type AdjustmentSink interface {
	RecordAdjustments(ctx context.Context, adjustments []model.VerdictAdjustment) error
}

// DiscardSink drops adjustments
type DiscardSink struct{}

// RecordAdjustments does nothing
func (DiscardSink) RecordAdjustments(context.Context, []model.VerdictAdjustment) error {
	return nil
}
