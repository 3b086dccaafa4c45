package duckdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunogya/fractal/pkg/drift"
	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/testutil"
	"github.com/tunogya/fractal/pkg/window"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCandleRepo_RoundTripAndPrices(t *testing.T) {
	ctx := context.Background()
	repo := NewCandleRepo(newClient(t), "1d")
	candles := testutil.LinearSeries("BTC", 10)

	require.NoError(t, repo.InsertBatch(ctx, candles))
	// revising a bar replaces it
	revised := candles[9]
	revised.Close = 500
	require.NoError(t, repo.Insert(ctx, revised))

	n, err := repo.Count(ctx, "BTC", "1d")
	require.NoError(t, err)
	assert.EqualValues(t, 10, n)

	latest, err := repo.FetchLatestCandles(ctx, "BTC", "1d", 3)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	assert.Equal(t, 107.0, latest[0].Close)
	assert.Equal(t, 500.0, latest[2].Close)
	assert.True(t, latest[2].CloseTime.Equal(candles[9].CloseTime))

	ranged, err := repo.FetchCandles(ctx, "BTC", "1d", candles[2].OpenTime, candles[4].OpenTime)
	require.NoError(t, err)
	assert.Len(t, ranged, 3)

	price, err := repo.PriceAt(ctx, "BTC", testutil.Epoch.AddDate(0, 0, 3).Add(12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 102.0, price)

	_, err = repo.PriceAt(ctx, "BTC", testutil.Epoch.Add(-time.Hour))
	assert.ErrorIs(t, err, model.ErrNotFound)

	price, err = repo.CloseOn(ctx, "BTC", testutil.Epoch.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, 103.0, price)

	_, err = repo.CloseOn(ctx, "BTC", testutil.Epoch.AddDate(0, 0, 10))
	assert.ErrorIs(t, err, model.ErrNotFound)

	mdd, err := repo.MaxDrawdown(ctx, "BTC", candles[0].CloseTime, candles[5].CloseTime, model.ActionSell)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, mdd, 1e-12)
}

func TestWindowRepo_Incremental(t *testing.T) {
	ctx := context.Background()
	repo := NewWindowRepo(newClient(t))
	spec := window.Spec{Length: 30, Horizon: 7}
	idx := window.Build("BTC", "1d", testutil.LinearSeries("BTC", 60), spec, window.Options{})

	end, err := repo.LatestEnd(ctx, "BTC", "1d", spec)
	require.NoError(t, err)
	assert.True(t, end.IsZero())

	n, err := repo.InsertBatch(ctx, "BTC", "1d", idx.Windows())
	require.NoError(t, err)
	assert.Equal(t, idx.Len(), n)

	n, err = repo.InsertBatch(ctx, "BTC", "1d", idx.Windows())
	require.NoError(t, err)
	assert.Zero(t, n)

	end, err = repo.LatestEnd(ctx, "BTC", "1d", spec)
	require.NoError(t, err)
	assert.True(t, end.Equal(idx.Window(idx.Len()-1).EndTime))

	ok, err := repo.Exists(ctx, idx.Window(0).ID)
	require.NoError(t, err)
	assert.True(t, ok)

	count, err := repo.Count(ctx, "BTC", "1d", spec)
	require.NoError(t, err)
	assert.EqualValues(t, idx.Len(), count)
}

func point(day string, horizon int) model.ForecastPoint {
	return model.ForecastPoint{
		Symbol:          "BTC",
		ModelID:         "analog-L30H7",
		Horizon:         horizon,
		Day:             day,
		BasePrice:       100,
		ExpectedMovePct: 1.5,
		Direction:       model.DirectionUp,
		Confidence:      0.7,
		VolatilityPct:   3,
		ProbUp:          0.64,
		Entropy:         0.94,
		Samples:         8,
		Insufficient:    true,
		Provenance:      "test",
		CreatedAt:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestForecastRepo_AppendOnly(t *testing.T) {
	ctx := context.Background()
	repo := NewForecastRepo(newClient(t))
	p := point("2024-03-01", 7)

	ok, err := repo.Append(ctx, p)
	require.NoError(t, err)
	assert.True(t, ok)

	changed := p
	changed.Confidence = 0.1
	ok, err = repo.Append(ctx, changed)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.Get(ctx, p.Key())
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = repo.Get(ctx, point("2024-03-02", 7).Key())
	assert.ErrorIs(t, err, model.ErrNotFound)

	based := point("2024-03-03", 7)
	based.BaseTime = time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	_, err = repo.Append(ctx, based)
	require.NoError(t, err)
	got, err = repo.Get(ctx, based.Key())
	require.NoError(t, err)
	assert.Equal(t, based, got)
}

func TestForecastRepo_UnresolvedAndOutcomes(t *testing.T) {
	ctx := context.Background()
	repo := NewForecastRepo(newClient(t))
	for _, p := range []model.ForecastPoint{point("2024-03-01", 7), point("2024-03-01", 1), point("2024-03-05", 7)} {
		_, err := repo.Append(ctx, p)
		require.NoError(t, err)
	}

	// the 7-day point of 2024-03-01 targets the 03-08 bar, still open at noon
	due, err := repo.ListUnresolved(ctx, time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Horizon)

	now := time.Date(2024, 3, 9, 0, 5, 0, 0, time.UTC)
	due, err = repo.ListUnresolved(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 2)

	o := model.Outcome{
		Key:            due[0].Key(),
		Cohort:         model.CohortLive,
		AsOf:           time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Horizon:        due[0].Horizon,
		Direction:      model.DirectionUp,
		Confidence:     0.7,
		ExpectedReturn: 0.015,
		RealizedReturn: 0.02,
		Hit:            true,
		ResolvedAt:     now,
	}
	ok, err := repo.SaveOutcome(ctx, o)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.SaveOutcome(ctx, o)
	require.NoError(t, err)
	assert.False(t, ok)

	due, err = repo.ListUnresolved(ctx, now)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	outcomes, err := repo.Outcomes(ctx, "BTC", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, o, outcomes[0])

	none, err := repo.Outcomes(ctx, "ETH", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestForecastRepo_Vintage(t *testing.T) {
	ctx := context.Background()
	repo := NewForecastRepo(newClient(t))
	v := model.Outcome{
		Key:        model.ForecastKey{Symbol: "BTC", ModelID: "analog-L30H7/vintage", Horizon: 7, Day: "2018-01-01"},
		Cohort:     model.CohortVintage,
		AsOf:       time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC),
		Horizon:    7,
		Direction:  model.DirectionDown,
		ResolvedAt: time.Date(2018, 1, 8, 0, 0, 0, 0, time.UTC),
	}

	n, err := repo.SaveVintage(ctx, []model.Outcome{v, v})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	live := v
	live.Cohort = model.CohortLive
	_, err = repo.SaveVintage(ctx, []model.Outcome{live})
	assert.ErrorIs(t, err, model.ErrInvalidConfig)

	got, err := repo.Vintage(ctx, "BTC")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.CohortVintage, got[0].Cohort)
}

func TestConsensusRepo_UpsertRules(t *testing.T) {
	ctx := context.Background()
	repo := NewConsensusRepo(newClient(t))
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	rec := model.ConsensusHistoryRecord{
		Symbol: "BTC", Date: "2024-03-10", Source: "ensemble",
		ConsensusIndex: 40, DriftSeverity: "OK", DominanceTier: drift.TierTactical,
		VolRegime: drift.VolNormal, Phase: drift.PhaseMarkup, PhaseStrength: 0.4, UpdatedAt: now,
	}

	res, err := repo.Upsert(ctx, rec, now)
	require.NoError(t, err)
	assert.Equal(t, drift.UpsertInserted, res)

	rec.ConsensusIndex = 55
	res, err = repo.Upsert(ctx, rec, now)
	require.NoError(t, err)
	assert.Equal(t, drift.UpsertUpdated, res)

	// the next day the record is frozen
	rec.ConsensusIndex = 99
	res, err = repo.Upsert(ctx, rec, now.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, drift.UpsertImmutable, res)

	got, err := repo.Get(ctx, "BTC", "2024-03-10", "ensemble")
	require.NoError(t, err)
	assert.Equal(t, 55.0, got.ConsensusIndex)

	future := rec
	future.Date = "2024-03-12"
	_, err = repo.Upsert(ctx, future, now)
	assert.ErrorIs(t, err, model.ErrInvalidConfig)

	past := rec
	past.Date = "2024-03-01"
	res, err = repo.Upsert(ctx, past, now)
	require.NoError(t, err)
	assert.Equal(t, drift.UpsertInserted, res)

	history, err := repo.History(ctx, "BTC", "ensemble", "", "")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2024-03-01", history[0].Date)

	history, err = repo.History(ctx, "BTC", "ensemble", "2024-03-05", "")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestAdjustmentRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewAdjustmentRepo(newClient(t))
	adj := model.VerdictAdjustment{
		ID: "a1", Symbol: "BTC", Horizon: 7, ModelID: "analog-L30H7", Source: "health",
		Modifier: 0.6, Before: 0.8, After: 0.48, Delta: -0.32, Notes: "state=DEGRADED",
		CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	require.NoError(t, repo.RecordAdjustments(ctx, nil))
	require.NoError(t, repo.RecordAdjustments(ctx, []model.VerdictAdjustment{adj}))
	require.NoError(t, repo.RecordAdjustments(ctx, []model.VerdictAdjustment{adj}))

	got, err := repo.List(ctx, "BTC")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, adj, got[0])
}
