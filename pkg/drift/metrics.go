package drift

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/tunogya/fractal/pkg/feature"
	"github.com/tunogya/fractal/pkg/model"
)

// Metrics summarizes the performance of a set of directional calls
type Metrics struct {
	Samples     int     `json:"samples"`
	HitRate     float64 `json:"hit_rate"`
	Expectancy  float64 `json:"expectancy"`   // mean return in the direction of the call
	Sharpe      float64 `json:"sharpe"`       // mean over standard deviation of signed returns
	MaxDrawdown float64 `json:"max_drawdown"` // of the compounded signed-return equity curve
}

// Delta is live minus vintage per dimension
type Delta struct {
	HitRate     float64 `json:"hit_rate"`
	Expectancy  float64 `json:"expectancy"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
}

// Sub returns m - other
func (m Metrics) Sub(other Metrics) Delta {
	return Delta{
		HitRate:     m.HitRate - other.HitRate,
		Expectancy:  m.Expectancy - other.Expectancy,
		Sharpe:      m.Sharpe - other.Sharpe,
		MaxDrawdown: m.MaxDrawdown - other.MaxDrawdown,
	}
}

// ComputeMetrics evaluates the directional outcomes in chronological order. Flat calls are skipped.
func ComputeMetrics(outcomes []model.Outcome) Metrics {
	calls := make([]model.Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Direction != model.DirectionFlat && o.Direction != "" {
			calls = append(calls, o)
		}
	}
	if len(calls) == 0 {
		return Metrics{}
	}
	sort.SliceStable(calls, func(i, j int) bool { return calls[i].AsOf.Before(calls[j].AsOf) })

	signed := make([]float64, len(calls))
	equity := make([]float64, len(calls)+1)
	equity[0] = 1
	hits := 0
	for i, o := range calls {
		signed[i] = o.SignedReturn()
		equity[i+1] = equity[i] * math.Max(0, 1+signed[i])
		if o.Hit {
			hits++
		}
	}

	mean, std := stat.PopMeanStdDev(signed, nil)
	sharpe := 0.0
	if std > 0 {
		sharpe = mean / std
	}

	return Metrics{
		Samples:     len(calls),
		HitRate:     float64(hits) / float64(len(calls)),
		Expectancy:  mean,
		Sharpe:      sharpe,
		MaxDrawdown: feature.MaxDrawdown(equity),
	}
}
