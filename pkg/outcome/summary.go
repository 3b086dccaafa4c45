package outcome

import (
	"fmt"
	"math"
	"sort"

	"github.com/tunogya/fractal/pkg/model"
)

// HorizonSummary aggregates resolved outcomes of one horizon
type HorizonSummary struct {
	Horizon     int
	SampleCount int
	HitRate     float64
	MeanReturn  float64
	P10         float64
	P50         float64
	P90         float64
	MDDP95      float64
}

// Summarize groups outcomes by horizon and computes return percentiles and tail drawdown
func Summarize(outcomes []model.Outcome) map[int]HorizonSummary {
	byHorizon := make(map[int][]model.Outcome)
	for _, o := range outcomes {
		byHorizon[o.Horizon] = append(byHorizon[o.Horizon], o)
	}

	summaries := make(map[int]HorizonSummary, len(byHorizon))
	for horizon, group := range byHorizon {
		returns := make([]float64, len(group))
		mdds := make([]float64, len(group))
		hits := 0
		for i, o := range group {
			returns[i] = o.RealizedReturn
			mdds[i] = o.MaxDrawdown
			if o.Hit {
				hits++
			}
		}
		sort.Float64s(returns)
		sort.Float64s(mdds)

		summaries[horizon] = HorizonSummary{
			Horizon:     horizon,
			SampleCount: len(group),
			HitRate:     float64(hits) / float64(len(group)),
			MeanReturn:  mean(returns),
			P10:         percentile(returns, 10),
			P50:         percentile(returns, 50),
			P90:         percentile(returns, 90),
			MDDP95:      percentile(mdds, 95),
		}
	}
	return summaries
}

// String returns a formatted string representation
func (s HorizonSummary) String() string {
	return fmt.Sprintf(
		"Horizon: %d | Samples: %d | Hit: %.2f | Mean: %.4f | P10: %.4f | P50: %.4f | P90: %.4f | MDD95: %.4f",
		s.Horizon, s.SampleCount, s.HitRate, s.MeanReturn, s.P10, s.P50, s.P90, s.MDDP95,
	)
}

// mean calculates the arithmetic mean
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// percentile calculates the p-th percentile (p in 0-100) of sorted values
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	// Linear interpolation method
	rank := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	fraction := rank - float64(lower)
	return sorted[lower] + fraction*(sorted[upper]-sorted[lower])
}
