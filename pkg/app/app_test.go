package app

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunogya/fractal/pkg/analog"
	"github.com/tunogya/fractal/pkg/config"
	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/sweep"
	"github.com/tunogya/fractal/pkg/testutil"
	"github.com/tunogya/fractal/pkg/window"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestApp(t *testing.T, clk *clock) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Symbols = []string{"TEST"}
	cfg.DuckDB.Path = ":memory:"
	cfg.Horizons = []analog.Config{analog.DefaultConfig(20, 5)}

	a, err := New(context.Background(), &cfg, zerolog.Nop(), WithClock(clk.now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestBackfillIndexesAndReplays(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: testutil.Epoch.AddDate(1, 0, 0)}
	a := newTestApp(t, clk)

	candles := testutil.RandomWalk("TEST", 250, 0.0005, 0.02, 3)
	res, err := a.Backfill(ctx, "TEST", candles, 5)
	require.NoError(t, err)
	assert.False(t, res.Partial)
	require.Len(t, res.Indexes, 1)

	spec := window.Spec{Length: 20, Horizon: 5}
	built := window.Build("TEST", "1d", candles, spec, window.Options{})
	assert.Equal(t, built.Len(), res.Indexes[0].Built)
	assert.Equal(t, built.Len(), res.Indexes[0].New)
	assert.Zero(t, res.Indexes[0].Vectors)

	count, err := a.Windows.Count(ctx, "TEST", "1d", spec)
	require.NoError(t, err)
	assert.EqualValues(t, built.Len(), count)

	vintage, err := a.Forecasts.Vintage(ctx, "TEST")
	require.NoError(t, err)
	assert.Equal(t, res.Vintage, len(vintage))
	require.NotEmpty(t, vintage)
	for _, o := range vintage {
		assert.Equal(t, "analog-L20H5"+sweep.VintageSuffix, o.Key.ModelID)
	}

	// a second backfill of the same data records nothing new
	again, err := a.Backfill(ctx, "TEST", candles, 5)
	require.NoError(t, err)
	assert.Zero(t, again.Indexes[0].New)
	assert.Zero(t, again.Vintage)
}

func TestReindexAppendsOnlyNewWindows(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: testutil.Epoch.AddDate(1, 0, 0)}
	a := newTestApp(t, clk)

	candles := testutil.RandomWalk("TEST", 200, 0, 0.01, 9)
	_, err := a.Backfill(ctx, "TEST", candles[:150], 5)
	require.NoError(t, err)

	require.NoError(t, a.Candles.InsertBatch(ctx, candles[150:]))
	require.NoError(t, a.Reindex(ctx, "TEST", "1d"))

	spec := window.Spec{Length: 20, Horizon: 5}
	count, err := a.Windows.Count(ctx, "TEST", "1d", spec)
	require.NoError(t, err)
	assert.EqualValues(t, window.Build("TEST", "1d", candles, spec, window.Options{}).Len(), count)

	// other timeframes are ignored
	require.NoError(t, a.Reindex(ctx, "TEST", "1h"))
}

func TestDailyVerdictThenResolve(t *testing.T) {
	ctx := context.Background()
	candles := testutil.RandomWalk("TEST", 300, 0.001, 0.015, 21)
	asOf := candles[290].OpenTime.Add(12 * time.Hour)
	clk := &clock{t: asOf}
	a := newTestApp(t, clk)

	_, err := a.Backfill(ctx, "TEST", candles[:291], 5)
	require.NoError(t, err)

	v, rec, err := a.Daily(ctx, "TEST")
	require.NoError(t, err)
	assert.Equal(t, "TEST", v.Symbol)
	assert.Equal(t, 5, v.Horizon)
	require.Len(t, v.Candidates, 1)
	assert.False(t, v.Partial)

	assert.Equal(t, model.Day(asOf), rec.Date)
	stored, err := a.Consensus.Get(ctx, "TEST", rec.Date, "ensemble")
	require.NoError(t, err)
	assert.InDelta(t, rec.ConsensusIndex, stored.ConsensusIndex, 1e-9)

	key := model.ForecastKey{Symbol: "TEST", ModelID: "analog-L20H5", Horizon: 5, Day: model.Day(asOf)}
	point, err := a.Forecasts.Get(ctx, key)
	require.NoError(t, err)
	assert.InDelta(t, candles[290].Close, point.BasePrice, 1e-9)
	assert.True(t, candles[290].OpenTime.Equal(point.BaseTime))

	// nothing is due yet
	run, err := a.Resolve(ctx)
	require.NoError(t, err)
	assert.Zero(t, run.Processed)

	// the target bar opened on day 295 is still forming at noon
	require.NoError(t, a.Candles.InsertBatch(ctx, candles[291:295]))
	clk.t = candles[295].OpenTime.Add(12 * time.Hour)
	run, err = a.Resolve(ctx)
	require.NoError(t, err)
	assert.Zero(t, run.Processed)

	require.NoError(t, a.Candles.InsertBatch(ctx, candles[295:]))
	clk.t = asOf.AddDate(0, 0, 7)

	run, err = a.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Resolved)
	assert.Len(t, a.Monitor.Live("TEST"), 1)

	live, err := a.Forecasts.Outcomes(ctx, "TEST", time.Time{}, time.Time{})
	require.NoError(t, err)
	var realized float64
	for _, o := range live {
		if o.Cohort == model.CohortLive {
			realized = o.RealizedReturn
		}
	}
	assert.InDelta(t, candles[295].Close/candles[290].Close-1, realized, 1e-9)
}

func TestWarmLoadsLiveOutcomesOnly(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: testutil.Epoch.AddDate(1, 0, 0)}
	a := newTestApp(t, clk)

	_, err := a.Backfill(ctx, "TEST", testutil.RandomWalk("TEST", 200, 0, 0.01, 4), 5)
	require.NoError(t, err)

	live := model.Outcome{
		Key:    model.ForecastKey{Symbol: "TEST", ModelID: "analog-L20H5", Horizon: 5, Day: "2015-03-01"},
		Cohort: model.CohortLive,
		AsOf:   time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	_, err = a.Forecasts.SaveOutcome(ctx, live)
	require.NoError(t, err)

	n, err := a.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, a.Monitor.Live("TEST"), 1)

	// warming again reloads instead of appending
	_, err = a.Warm(ctx)
	require.NoError(t, err)
	assert.Len(t, a.Monitor.Live("TEST"), 1)
}

func TestSeriesWithoutCandles(t *testing.T) {
	a := newTestApp(t, &clock{t: testutil.Epoch})
	_, err := a.Series(context.Background(), "NONE")
	assert.ErrorIs(t, err, model.ErrInsufficientHistory)
}
