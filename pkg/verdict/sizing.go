// Package verdict converts horizon forecasts into sized trading decisions.
package verdict

import (
	"math"

	"github.com/tunogya/fractal/pkg/model"
)

// Decision thresholds
const (
	MinConfidence   = 0.20
	ReturnThreshold = 0.003

	LowRiskConfidence    = 0.65
	MediumRiskConfidence = 0.50

	sizeFloor = 0.52
	sizeSpan  = 0.38
)

// DecideAction maps an expected return and confidence to an action.
// Low confidence always holds, whatever the return signal says.
func DecideAction(expectedReturn, confidence float64, allowShort bool) model.Action {
	switch {
	case confidence < MinConfidence:
		return model.ActionHold
	case expectedReturn > ReturnThreshold:
		return model.ActionBuy
	case expectedReturn < -ReturnThreshold:
		if !allowShort {
			return model.ActionHold
		}
		return model.ActionSell
	default:
		return model.ActionHold
	}
}

// DecideRisk tiers a confidence
func DecideRisk(confidence float64) model.Risk {
	switch {
	case confidence >= LowRiskConfidence:
		return model.RiskLow
	case confidence >= MediumRiskConfidence:
		return model.RiskMedium
	default:
		return model.RiskHigh
	}
}

// RiskMultiplier scales position size by risk tier
func RiskMultiplier(risk model.Risk) float64 {
	switch risk {
	case model.RiskLow:
		return 1.0
	case model.RiskMedium:
		return 0.7
	default:
		return 0.4
	}
}

// DecideSizePct returns the position size in [0, maxPct]. It is non-decreasing in confidence
// for a fixed risk tier.
func DecideSizePct(confidence float64, risk model.Risk, maxPct float64) float64 {
	if maxPct <= 0 {
		return 0
	}
	base := Clamp((confidence-sizeFloor)/sizeSpan, 0, 1)
	return Clamp(base*RiskMultiplier(risk)*maxPct, 0, maxPct)
}

// Clamp limits v to [lo, hi]; NaN maps to lo
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
