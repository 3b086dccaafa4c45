package sweep

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/tunogya/fractal/pkg/analog"
	"github.com/tunogya/fractal/pkg/feature"
	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/verdict"
	"github.com/tunogya/fractal/pkg/window"
)

// Signal is one walk-forward analog decision and its realized forward return
type Signal struct {
	EndIndex       int
	Time           time.Time
	ExpectedReturn float64
	Confidence     float64
	Action         model.Action
	Realized       float64 // close[e+H]/close[e]-1
	Samples        int
}

// PnL is the return of the position taken by the signal
func (s Signal) PnL() float64 {
	switch s.Action {
	case model.ActionBuy:
		return s.Realized
	case model.ActionSell:
		return -s.Realized
	default:
		return 0
	}
}

// SignalConfig controls signal generation
type SignalConfig struct {
	Spec        window.Spec
	TopK        int
	MinAnalogs  int
	Temperature float64
	AllowShort  bool
	Step        int // bars between decisions; defaults to the horizon so trades never overlap
	From, To    time.Time
}

// Signals replays the analog forecast at every Step bars. Each decision only sees analogs whose
// outcome was known at its own time, so the walk is free of look-ahead.
func Signals(ctx context.Context, symbol string, candles []model.Candle, cfg SignalConfig) ([]Signal, error) {
	spec := cfg.Spec
	step := cfg.Step
	if step <= 0 {
		step = spec.Horizon
	}

	closes := model.Closes(candles)
	returns := feature.LogReturns(closes)
	first := spec.Length + spec.Horizon + 1
	last := len(returns) - spec.Horizon
	if first > last {
		return nil, fmt.Errorf("%d candles cannot replay %s: %w", len(candles), spec, model.ErrInsufficientHistory)
	}

	idx := window.Build(symbol, "", candles, spec, window.Options{})

	var signals []Signal
	for e := first; e <= last; e += step {
		if err := ctx.Err(); err != nil {
			return signals, err
		}
		t := candles[e].Timestamp()
		if (!cfg.From.IsZero() && t.Before(cfg.From)) || (!cfg.To.IsZero() && t.After(cfg.To)) {
			continue
		}

		q := window.QueryAt(symbol, "", candles, returns, e, spec, window.Options{}, cfg.TopK)
		matches, err := idx.Search(ctx, q)
		if err != nil {
			return signals, err
		}
		f := analog.Aggregate(matches, cfg.Temperature, cfg.MinAnalogs)
		conf := analog.Confidence(f, cfg.MinAnalogs)

		signals = append(signals, Signal{
			EndIndex:       e,
			Time:           t,
			ExpectedReturn: f.ForecastReturn,
			Confidence:     conf,
			Action:         verdict.DecideAction(f.ForecastReturn, conf, cfg.AllowShort),
			Realized:       closes[e+spec.Horizon]/closes[e] - 1,
			Samples:        f.Samples,
		})
	}
	return signals, nil
}

// Performance summarizes a simulated equity path
type Performance struct {
	Trades      int     `json:"trades"`
	HitRate     float64 `json:"hit_rate"`
	TotalReturn float64 `json:"total_return"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
}

// Simulate applies the governor to the trades of signals in order. Exposure follows the
// governor target of the drawdown before each trade, smoothed by an EMA.
// It returns the performance and the governed per-trade returns.
func Simulate(signals []Signal, g Governor) (Performance, []float64) {
	equity, peak, exposure := 1.0, 1.0, 1.0
	var pnls []float64
	hits := 0
	maxDD := 0.0

	for _, s := range signals {
		if s.Action == model.ActionHold {
			continue
		}
		drawdown := 0.0
		if peak > 0 {
			drawdown = (peak - equity) / peak
		}
		exposure = g.EMASmoothing*g.Target(drawdown) + (1-g.EMASmoothing)*exposure

		pnl := exposure * s.PnL()
		pnls = append(pnls, pnl)
		if s.PnL() > 0 {
			hits++
		}

		equity *= math.Max(0, 1+pnl)
		peak = math.Max(peak, equity)
		if peak > 0 {
			maxDD = math.Max(maxDD, (peak-equity)/peak)
		}
	}

	perf := Performance{Trades: len(pnls), TotalReturn: equity - 1, MaxDrawdown: maxDD}
	if len(pnls) == 0 {
		return perf, pnls
	}
	perf.HitRate = float64(hits) / float64(len(pnls))
	mean, std := stat.PopMeanStdDev(pnls, nil)
	if std > 0 {
		perf.Sharpe = mean / std
	}
	return perf, pnls
}

// BootstrapDrawdown resamples the trade returns with replacement and returns the 95th
// percentile of the resulting max drawdowns
func BootstrapDrawdown(pnls []float64, iterations int, rng *rand.Rand) float64 {
	if len(pnls) == 0 || iterations <= 0 {
		return 0
	}

	dds := make([]float64, iterations)
	path := make([]float64, len(pnls)+1)
	for i := range dds {
		path[0] = 1
		for j := range pnls {
			path[j+1] = path[j] * math.Max(0, 1+pnls[rng.IntN(len(pnls))])
		}
		dds[i] = feature.MaxDrawdown(path)
	}
	return stat.Quantile(0.95, stat.LinInterp, sortedCopy(dds), nil)
}
