package feature

import (
	"math"

	"github.com/tunogya/fractal/pkg/model"
)

// DefaultVolSpan is the rolling span used for the volatility-shape representation
const DefaultVolSpan = 5

// Extractor builds the shape representations of a raw log-return window
type Extractor struct {
	VolSpan int // rolling span for the volatility shape
}

// NewExtractor creates a new representation extractor
func NewExtractor(volSpan int) *Extractor {
	if volSpan <= 1 {
		volSpan = DefaultVolSpan
	}
	return &Extractor{VolSpan: volSpan}
}

// Extract returns every representation of the raw log-return window.
// The returns representation equals ZScore(returns).
func (e *Extractor) Extract(returns []float64) map[model.Representation][]float64 {
	if len(returns) == 0 {
		return nil
	}

	reps := map[model.Representation][]float64{
		model.RepReturns:  ZScore(returns),
		model.RepMomentum: {TrendSlope(CumulativePath(returns))},
	}
	if vol := RollingVolatility(returns, e.VolSpan); len(vol) > 0 {
		reps[model.RepVolatility] = ZScore(vol)
	}
	if dd := DrawdownPath(returns); len(dd) > 0 {
		reps[model.RepDrawdown] = ZScore(dd)
	}
	return reps
}

// CumulativePath turns log returns into a cumulative log-price path starting at 0
func CumulativePath(returns []float64) []float64 {
	path := make([]float64, len(returns)+1)
	for i, r := range returns {
		path[i+1] = path[i] + r
	}
	return path
}

// RollingVolatility returns the rolling population std of returns over span.
// The first span-1 points use the available prefix.
func RollingVolatility(returns []float64, span int) []float64 {
	if len(returns) < 2 || span < 2 {
		return nil
	}
	out := make([]float64, len(returns))
	for i := range returns {
		start := i - span + 1
		if start < 0 {
			start = 0
		}
		_, std := meanStd(returns[start : i+1])
		out[i] = std
	}
	return out
}

// DrawdownPath returns, for each step, the distance of the cumulative path below its running peak (<= 0)
func DrawdownPath(returns []float64) []float64 {
	if len(returns) == 0 {
		return nil
	}
	path := CumulativePath(returns)
	out := make([]float64, len(returns))
	peak := path[0]
	for i := 1; i < len(path); i++ {
		if path[i] > peak {
			peak = path[i]
		}
		out[i-1] = path[i] - peak
	}
	return out
}

// TrendSlope calculates the least-squares slope of a series against its index
func TrendSlope(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	n := float64(len(values))
	var sumX, sumY, sumXY, sumX2 float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	denominator := n*sumX2 - sumX*sumX
	if denominator == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denominator
}

// RealizedVolatility calculates the population standard deviation of returns
func RealizedVolatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	_, std := meanStd(returns)
	return std
}

// MaxDrawdown calculates the maximum peak-to-trough decline of a price series as a fraction
func MaxDrawdown(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}

	peak := closes[0]
	maxDD := 0.0
	for _, c := range closes {
		if c > peak {
			peak = c
		}
		if peak > 0 {
			maxDD = math.Max(maxDD, (peak-c)/peak)
		}
	}
	return maxDD
}
