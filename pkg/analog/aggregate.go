// Package analog turns nearest historical windows into a probabilistic forward forecast.
package analog

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/tunogya/fractal/pkg/model"
)

// DefaultTemperature is the softmax temperature applied to similarity scores
const DefaultTemperature = 0.1

// Forecast is the aggregate of a set of analog matches
type Forecast struct {
	Matches        []model.AnalogMatch
	Samples        int
	ForecastReturn float64 // similarity-weighted mean forward return
	ProbUp         float64 // weighted share of rising analogs, flat ones counted half
	Entropy        float64 // normalized binary entropy of the up/down split, in [0,1]
	MeanSimilarity float64
	Dispersion     float64 // weighted standard deviation of forward returns
	P10            float64
	P50            float64
	P90            float64
	Insufficient   bool
}

// Softmax returns exp(x_i/T) normalized to sum to 1. The maximum is shifted out first so
// large inputs do not overflow. A non-positive temperature falls back to DefaultTemperature.
func Softmax(xs []float64, temperature float64) []float64 {
	if len(xs) == 0 {
		return nil
	}
	if temperature <= 0 {
		temperature = DefaultTemperature
	}

	maxX := floats.Max(xs)
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = math.Exp((x - maxX) / temperature)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// Aggregate weights the matches by softmax over similarity and summarizes their forward returns.
// Fewer than minAnalogs matches marks the forecast as insufficient but still aggregates what exists.
func Aggregate(matches []model.AnalogMatch, temperature float64, minAnalogs int) Forecast {
	f := Forecast{
		Samples:      len(matches),
		Insufficient: len(matches) < minAnalogs || len(matches) == 0,
		ProbUp:       0.5,
		Entropy:      1,
	}
	if len(matches) == 0 {
		return f
	}

	sims := make([]float64, len(matches))
	rets := make([]float64, len(matches))
	for i, m := range matches {
		sims[i] = m.Similarity
		rets[i] = m.ForwardReturn
	}
	weights := Softmax(sims, temperature)

	weighted := make([]model.AnalogMatch, len(matches))
	copy(weighted, matches)
	probUp := 0.0
	for i := range weighted {
		weighted[i].Weight = weights[i]
		switch model.DirectionOf(rets[i]) {
		case model.DirectionUp:
			probUp += weights[i]
		case model.DirectionFlat:
			probUp += weights[i] / 2
		}
	}

	f.Matches = weighted
	f.ForecastReturn = floats.Dot(weights, rets)
	f.ProbUp = clamp(probUp, 0, 1)
	f.Entropy = BinaryEntropy(f.ProbUp)
	f.MeanSimilarity = stat.Mean(sims, nil)
	f.Dispersion = weightedStd(rets, weights, f.ForecastReturn)

	sorted := make([]float64, len(rets))
	copy(sorted, rets)
	sort.Float64s(sorted)
	f.P10 = percentile(sorted, 10)
	f.P50 = percentile(sorted, 50)
	f.P90 = percentile(sorted, 90)

	return f
}

// BinaryEntropy returns the Shannon entropy of (p, 1-p) normalized to [0,1]
func BinaryEntropy(p float64) float64 {
	p = clamp(p, 0, 1)
	return clamp(stat.Entropy([]float64{p, 1 - p})/math.Ln2, 0, 1)
}

// weightedStd is the spread of values around mean under weights that already sum to 1.
// stat.Variance treats weights as frequencies and divides by sum-1, which is 0 here.
func weightedStd(values, weights []float64, mean float64) float64 {
	v := 0.0
	for i, x := range values {
		d := x - mean
		v += weights[i] * d * d
	}
	return math.Sqrt(v)
}

// percentile calculates the p-th percentile (p in 0-100) of sorted values by linear interpolation
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	fraction := rank - float64(lower)
	return sorted[lower] + fraction*(sorted[upper]-sorted[lower])
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
