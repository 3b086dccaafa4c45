package verdict

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunogya/fractal/pkg/model"
)

type fixedCalibration struct {
	modifier float64
	err      error
}

func (f fixedCalibration) ConfidenceModifier(context.Context, CalibrationQuery) (CalibrationModifier, error) {
	return CalibrationModifier{Modifier: f.modifier, Notes: "fixed"}, f.err
}

type fixedHealth struct {
	state HealthState
	err   error
}

func (f fixedHealth) HealthModifier(context.Context, HealthQuery) (HealthModifier, error) {
	return HealthModifier{State: f.state, CriticalStreak: 3}, f.err
}

func TestDecideAction(t *testing.T) {
	tests := []struct {
		name       string
		er, conf   float64
		allowShort bool
		want       model.Action
	}{
		{"confidence gate dominates return", 0.05, 0.15, true, model.ActionHold},
		{"buy", 0.0031, 0.2, false, model.ActionBuy},
		{"sell", -0.0031, 0.9, true, model.ActionSell},
		{"sell downgraded without shorting", -0.05, 0.9, false, model.ActionHold},
		{"inside band", 0.003, 0.9, true, model.ActionHold},
		{"negative inside band", -0.003, 0.9, true, model.ActionHold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecideAction(tt.er, tt.conf, tt.allowShort))
		})
	}
}

func TestDecideAction_Monotonic(t *testing.T) {
	for conf := 0.2; conf <= 1.0; conf += 0.05 {
		for er := 0.0035; er < 0.2; er *= 1.7 {
			assert.Equal(t, model.ActionBuy, DecideAction(er, conf, false))
			assert.Equal(t, model.ActionSell, DecideAction(-er, conf, true))
			assert.Equal(t, model.ActionHold, DecideAction(-er, conf, false))
		}
	}
}

func TestDecideRisk(t *testing.T) {
	assert.Equal(t, model.RiskLow, DecideRisk(0.65))
	assert.Equal(t, model.RiskMedium, DecideRisk(0.5))
	assert.Equal(t, model.RiskMedium, DecideRisk(0.6499))
	assert.Equal(t, model.RiskHigh, DecideRisk(0.4999))
}

func TestDecideSizePct_MonotonicAndBounded(t *testing.T) {
	const maxPct = 25.0
	for _, risk := range []model.Risk{model.RiskLow, model.RiskMedium, model.RiskHigh} {
		prev := 0.0
		for conf := -0.1; conf <= 1.2; conf += 0.01 {
			size := DecideSizePct(conf, risk, maxPct)
			assert.GreaterOrEqual(t, size, prev)
			assert.GreaterOrEqual(t, size, 0.0)
			assert.LessOrEqual(t, size, maxPct)
			prev = size
		}
	}
	assert.InDelta(t, 25.0, DecideSizePct(0.9, model.RiskLow, maxPct), 1e-9)
	assert.InDelta(t, 0.5*0.7*25, DecideSizePct(0.71, model.RiskMedium, maxPct), 1e-9)
	assert.Zero(t, DecideSizePct(0.52, model.RiskLow, maxPct))
	assert.Zero(t, DecideSizePct(0.9, model.RiskLow, 0))
}

func TestModifyConfidence_HealthThenCalibration(t *testing.T) {
	e := NewEngine(DefaultConfig(), zerolog.Nop(),
		WithHealth(fixedHealth{state: HealthCritical}),
		WithCalibration(fixedCalibration{modifier: 1.1}))

	conf, adjustments, notes := e.ModifyConfidence(context.Background(), "BTC", "analog-L30H7", 7, "", 0.8)

	assert.InDelta(t, 0.264, conf, 1e-12)
	assert.Empty(t, notes)
	require.Len(t, adjustments, 2)
	assert.Equal(t, SourceHealth, adjustments[0].Source)
	assert.InDelta(t, 0.24, adjustments[0].After, 1e-12)
	assert.InDelta(t, -0.56, adjustments[0].Delta, 1e-12)
	assert.Contains(t, adjustments[0].Notes, "critical_streak=3")
	assert.Equal(t, SourceCalibration, adjustments[1].Source)
	assert.InDelta(t, 0.264, adjustments[1].After, 1e-12)
	assert.NotEqual(t, adjustments[0].ID, adjustments[1].ID)
}

func TestModifyConfidence_ClampsModifierAndResult(t *testing.T) {
	e := NewEngine(DefaultConfig(), zerolog.Nop(), WithCalibration(fixedCalibration{modifier: 3}))

	conf, adjustments, _ := e.ModifyConfidence(context.Background(), "BTC", "m", 1, "", 0.95)

	assert.Equal(t, 1.0, conf)
	require.Len(t, adjustments, 1)
	assert.Equal(t, MaxCalibrationModifier, adjustments[0].Modifier)

	low := NewEngine(DefaultConfig(), zerolog.Nop(), WithCalibration(fixedCalibration{modifier: 0.1}))
	conf, _, _ = low.ModifyConfidence(context.Background(), "BTC", "m", 1, "", 0.5)
	assert.InDelta(t, 0.3, conf, 1e-12)
}

func TestModifyConfidence_NoAdjustmentBelowEpsilon(t *testing.T) {
	e := NewEngine(DefaultConfig(), zerolog.Nop())

	conf, adjustments, notes := e.ModifyConfidence(context.Background(), "BTC", "m", 1, "", 0.42)

	assert.Equal(t, 0.42, conf)
	assert.Empty(t, adjustments)
	assert.Empty(t, notes)
}

func TestModifyConfidence_ProviderFailureIsNeutral(t *testing.T) {
	boom := errors.New("boom")
	e := NewEngine(DefaultConfig(), zerolog.Nop(),
		WithHealth(fixedHealth{err: boom}),
		WithCalibration(fixedCalibration{err: boom}))

	conf, adjustments, notes := e.ModifyConfidence(context.Background(), "BTC", "m", 7, "", 0.7)

	assert.Equal(t, 0.7, conf)
	assert.Empty(t, adjustments)
	assert.Len(t, notes, 2)
}

func TestCandidate_SizesAfterHooks(t *testing.T) {
	e := NewEngine(Config{MaxPositionPct: 20}, zerolog.Nop(), WithHealth(fixedHealth{state: HealthDegraded}))
	pred := model.HorizonPrediction{Horizon: 7, ModelID: "m", ExpectedReturn: 0.02, Confidence: 1}

	c, adjustments, _ := e.Candidate(context.Background(), model.PredictionRequest{Symbol: "BTC"}, pred)

	assert.Equal(t, 1.0, c.RawConfidence)
	assert.InDelta(t, 0.6, c.Confidence, 1e-12)
	assert.Equal(t, model.ActionBuy, c.Action)
	assert.Equal(t, model.RiskMedium, c.Risk)
	assert.InDelta(t, (0.08/0.38)*0.7*20, c.PositionSizePct, 1e-9)
	assert.Len(t, adjustments, 1)

	hold, _, _ := e.Candidate(context.Background(), model.PredictionRequest{Symbol: "BTC"},
		model.HorizonPrediction{Horizon: 7, ExpectedReturn: 0.001, Confidence: 1})
	assert.Equal(t, model.ActionHold, hold.Action)
	assert.Zero(t, hold.PositionSizePct)
}
