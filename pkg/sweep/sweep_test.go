package sweep

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunogya/fractal/pkg/analog"
	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/testutil"
)

func smallParams() Params {
	p := DefaultParams()
	p.Iterations = 50
	p.WindowLengths = []int{30}
	p.WarnThresholds = []float64{0.05}
	p.HardThresholds = []float64{0.2}
	p.MinScale = []float64{0.5}
	p.EMASmoothing = []float64{0.5, 1}
	p.MinTrades = 10
	p.MinSharpe = 0.5
	return p
}

func TestParams_Validate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"warn above hard", func(p *Params) { p.WarnThresholds = []float64{0.25} }},
		{"warn equals hard", func(p *Params) { p.WarnThresholds = []float64{0.2}; p.HardThresholds = []float64{0.2} }},
		{"empty windows", func(p *Params) { p.WindowLengths = nil }},
		{"empty ema", func(p *Params) { p.EMASmoothing = nil }},
		{"zero iterations", func(p *Params) { p.Iterations = 0 }},
		{"min scale out of range", func(p *Params) { p.MinScale = []float64{1.5} }},
		{"reversed dates", func(p *Params) {
			p.FromDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			p.ToDate = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), model.ErrInvalidConfig)
		})
	}
}

func TestGovernor_Target(t *testing.T) {
	g := Governor{Warn: 0.1, Hard: 0.3, MinScale: 0.4}

	assert.Equal(t, 1.0, g.Target(0))
	assert.Equal(t, 1.0, g.Target(0.1))
	assert.InDelta(t, 0.7, g.Target(0.2), 1e-12)
	assert.Equal(t, 0.4, g.Target(0.3))
	assert.Equal(t, 0.4, g.Target(0.9))
}

func TestParams_Grid(t *testing.T) {
	p := DefaultParams()
	assert.Len(t, p.grid(), 16)
}

func TestSimulate_GovernorScalesAfterDrawdown(t *testing.T) {
	signals := []Signal{
		{Action: model.ActionBuy, Realized: -0.1},
		{Action: model.ActionHold, Realized: 0.5},
		{Action: model.ActionBuy, Realized: 0.1},
	}
	g := Governor{Warn: 0.05, Hard: 0.1, MinScale: 0.5, EMASmoothing: 1}

	perf, pnls := Simulate(signals, g)

	require.Len(t, pnls, 2)
	assert.InDelta(t, -0.1, pnls[0], 1e-12)
	assert.InDelta(t, 0.05, pnls[1], 1e-12)
	assert.Equal(t, 2, perf.Trades)
	assert.InDelta(t, 0.5, perf.HitRate, 1e-12)
	assert.InDelta(t, 0.1, perf.MaxDrawdown, 1e-12)
	assert.InDelta(t, 0.9*1.05-1, perf.TotalReturn, 1e-12)
}

func TestSimulate_ShortSignals(t *testing.T) {
	perf, pnls := Simulate([]Signal{{Action: model.ActionSell, Realized: -0.02}}, Governor{Warn: 0.1, Hard: 0.2, EMASmoothing: 1})
	require.Len(t, pnls, 1)
	assert.InDelta(t, 0.02, pnls[0], 1e-12)
	assert.Equal(t, 1.0, perf.HitRate)
}

func TestBootstrapDrawdown(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	assert.Zero(t, BootstrapDrawdown([]float64{0.01, 0.02, 0.03}, 100, rng))
	assert.Zero(t, BootstrapDrawdown(nil, 100, rng))

	losses := make([]float64, 10)
	for i := range losses {
		losses[i] = -0.01
	}
	assert.InDelta(t, 1-math.Pow(0.99, 10), BootstrapDrawdown(losses, 100, rng), 1e-12)
}

func TestSignals_NoLookAhead(t *testing.T) {
	candles := testutil.LinearSeries("BTC", 200)
	cfg := SignalConfig{TopK: 25, MinAnalogs: 10, Temperature: 0.1}
	cfg.Spec.Length, cfg.Spec.Horizon = 30, 7

	signals, err := Signals(context.Background(), "BTC", candles, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, signals)

	for i, s := range signals {
		if i > 0 {
			assert.Equal(t, 7, s.EndIndex-signals[i-1].EndIndex)
		}
		assert.InDelta(t, float64(7)/float64(100+s.EndIndex), s.Realized, 1e-12)
		assert.LessOrEqual(t, s.Samples, 25)
		if s.Action == model.ActionBuy {
			assert.Positive(t, s.PnL())
		}
	}
	// the first decision has no window whose outcome is already known and that does not overlap
	assert.Zero(t, signals[0].Samples)
	assert.Equal(t, model.ActionHold, signals[0].Action)
}

func TestSignals_TooShort(t *testing.T) {
	cfg := SignalConfig{TopK: 25, MinAnalogs: 10, Temperature: 0.1}
	cfg.Spec.Length, cfg.Spec.Horizon = 30, 7

	_, err := Signals(context.Background(), "BTC", testutil.LinearSeries("BTC", 20), cfg)
	assert.ErrorIs(t, err, model.ErrInsufficientHistory)
}

func TestRun_PicksPassingConfig(t *testing.T) {
	r := NewRunner(zerolog.Nop())

	res, err := r.Run(context.Background(), "BTC", testutil.LinearSeries("BTC", 300), smallParams())
	require.NoError(t, err)

	require.NotNil(t, res.Best)
	assert.Len(t, res.Grid, 2)
	assert.False(t, res.Partial)
	assert.Equal(t, 30, res.Best.WindowLength)
	assert.Equal(t, 1.0, res.Best.Performance.HitRate)
	assert.Zero(t, res.Best.Performance.MaxDrawdown)
	assert.Zero(t, res.WorstCaseDrawdownP95)
	assert.GreaterOrEqual(t, res.Best.Performance.Trades, 10)
}

func TestRun_DeterministicForSeed(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	candles := testutil.RandomWalk("BTC", 400, 0.001, 0.02, 7)
	p := smallParams()
	p.MinTrades = 0
	p.MinSharpe = -10

	a, errA := r.Run(context.Background(), "BTC", candles, p)
	b, errB := r.Run(context.Background(), "BTC", candles, p)

	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a.Grid, b.Grid)
}

func TestRun_NoPassingConfig(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	p := smallParams()
	p.MinTrades = 1000

	res, err := r.Run(context.Background(), "BTC", testutil.LinearSeries("BTC", 300), p)

	assert.True(t, errors.Is(err, model.ErrInsufficientSamples))
	assert.Nil(t, res.Best)
	require.Len(t, res.Grid, 2)
	for _, row := range res.Grid {
		assert.False(t, row.Passed)
		assert.NotEmpty(t, row.RejectReasons)
	}
}

func TestRun_SkipsUnusableWindowLength(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	p := smallParams()
	p.WindowLengths = []int{30, 500}

	res, err := r.Run(context.Background(), "BTC", testutil.LinearSeries("BTC", 300), p)
	require.NoError(t, err)

	assert.True(t, res.Partial)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "window 500")
	assert.Len(t, res.Grid, 2)
}

func TestRun_RejectsInvalidParams(t *testing.T) {
	p := smallParams()
	p.HardThresholds = []float64{0.01}

	_, err := NewRunner(zerolog.Nop()).Run(context.Background(), "BTC", testutil.LinearSeries("BTC", 300), p)
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}

func TestReplay_VintageOutcomes(t *testing.T) {
	candles := testutil.LinearSeries("BTC", 200)
	cfg := analog.DefaultConfig(30, 7)

	outcomes, err := Replay(context.Background(), "BTC", candles, cfg, 7)
	require.NoError(t, err)
	require.NotEmpty(t, outcomes)

	ups := 0
	for _, o := range outcomes {
		assert.Equal(t, model.CohortVintage, o.Cohort)
		assert.Equal(t, "analog-L30H7"+VintageSuffix, o.Key.ModelID)
		assert.Equal(t, model.Day(o.AsOf), o.Key.Day)
		assert.True(t, o.ResolvedAt.After(o.AsOf))
		if o.Direction == model.DirectionUp {
			ups++
			assert.True(t, o.Hit)
			assert.Zero(t, o.MaxDrawdown)
		}
	}
	assert.Positive(t, ups)
}
