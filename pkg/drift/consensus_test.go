package drift

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/testutil"
)

func TestConsensusIndex(t *testing.T) {
	agree := []model.HorizonCandidate{
		{Action: model.ActionBuy, Confidence: 0.6},
		{Action: model.ActionBuy, Confidence: 0.4},
	}
	assert.InDelta(t, 100, ConsensusIndex(agree, SeverityOK), 1e-12)
	assert.InDelta(t, 75, ConsensusIndex(agree, SeverityWarn), 1e-12)

	split := []model.HorizonCandidate{
		{Action: model.ActionBuy, Confidence: 0.5},
		{Action: model.ActionSell, Confidence: 0.3},
		{Action: model.ActionHold, Confidence: 0.2},
		{Action: model.ActionBuy, Confidence: 0.9, Degraded: true},
	}
	assert.InDelta(t, 20, ConsensusIndex(split, SeverityOK), 1e-12)
	assert.Zero(t, ConsensusIndex(nil, SeverityOK))
}

func TestDominanceTier(t *testing.T) {
	assert.Equal(t, TierTiming, DominanceTier(1))
	assert.Equal(t, TierTactical, DominanceTier(7))
	assert.Equal(t, TierStructure, DominanceTier(30))
}

func TestPhaseAndVolRegime(t *testing.T) {
	up := model.Closes(testutil.LinearSeries("BTC", 200))
	phase, strength := Phase(up)
	assert.Equal(t, PhaseMarkup, phase)
	assert.Greater(t, strength, 0.0)
	assert.LessOrEqual(t, strength, 1.0)

	down := make([]float64, len(up))
	for i := range up {
		down[i] = up[len(up)-1-i]
	}
	phase, _ = Phase(down)
	assert.Equal(t, PhaseMarkdown, phase)

	// long decline with a recent bounce above the level of twenty bars ago
	bounce := append(append([]float64{}, down...), 125)
	phase, _ = Phase(bounce)
	assert.Equal(t, PhaseAccumulation, phase)

	calm := model.Closes(testutil.AlternatingSeries("BTC", 301))
	assert.Equal(t, VolNormal, VolRegime(calm))

	wild := append([]float64{}, calm...)
	for i := 0; i < 30; i++ {
		if i%2 == 0 {
			wild = append(wild, 110)
		} else {
			wild = append(wild, 100)
		}
	}
	assert.Equal(t, VolExtreme, VolRegime(wild))
	assert.Equal(t, VolLow, VolRegime([]float64{100, 100, 100}))
}

func TestMemoryConsensusStore_PastIsImmutable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryConsensusStore()
	day1 := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	rec := model.ConsensusHistoryRecord{Symbol: "BTC", Date: "2025-03-10", Source: "analog", ConsensusIndex: 40}

	res, err := store.Upsert(ctx, rec, day1)
	require.NoError(t, err)
	assert.Equal(t, UpsertInserted, res)

	rec.ConsensusIndex = 55
	res, err = store.Upsert(ctx, rec, day1.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, UpsertUpdated, res)

	rec.ConsensusIndex = 99
	res, err = store.Upsert(ctx, rec, day1.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, UpsertImmutable, res)

	got, err := store.Get(ctx, "BTC", "2025-03-10", "analog")
	require.NoError(t, err)
	assert.Equal(t, 55.0, got.ConsensusIndex)

	backfill := model.ConsensusHistoryRecord{Symbol: "BTC", Date: "2025-03-01", Source: "analog"}
	res, err = store.Upsert(ctx, backfill, day1)
	require.NoError(t, err)
	assert.Equal(t, UpsertInserted, res)

	_, err = store.Upsert(ctx, model.ConsensusHistoryRecord{Symbol: "BTC", Date: "2025-03-11", Source: "analog"}, day1)
	assert.ErrorIs(t, err, model.ErrInvalidConfig)

	history, err := store.History(ctx, "BTC", "analog", "", "")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2025-03-01", history[0].Date)
}

type capturePublisher struct {
	records []model.ConsensusHistoryRecord
}

func (c *capturePublisher) PublishConsensus(_ context.Context, rec model.ConsensusHistoryRecord) error {
	c.records = append(c.records, rec)
	return nil
}

func TestConsensusService_Snapshot(t *testing.T) {
	store := NewMemoryConsensusStore()
	pub := &capturePublisher{}
	svc := NewConsensusService(store, pub, nil, zerolog.Nop())
	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	v := model.Verdict{
		Horizon: 7,
		Candidates: []model.HorizonCandidate{
			{Horizon: 1, Action: model.ActionBuy, Confidence: 0.5},
			{Horizon: 7, Action: model.ActionBuy, Confidence: 0.7},
		},
	}
	report := IntelReport{Severity: SeverityWatch}

	rec, res, err := svc.Snapshot(context.Background(), "BTC", "analog", v, report, testutil.LinearSeries("BTC", 120), now)
	require.NoError(t, err)

	assert.Equal(t, UpsertInserted, res)
	assert.Equal(t, "2025-03-10", rec.Date)
	assert.InDelta(t, 90, rec.ConsensusIndex, 1e-9)
	assert.Equal(t, "WATCH", rec.DriftSeverity)
	assert.Equal(t, TierTactical, rec.DominanceTier)
	assert.Equal(t, PhaseMarkup, rec.Phase)
	assert.Len(t, pub.records, 1)

	_, res, err = svc.Snapshot(context.Background(), "BTC", "analog", v, report, testutil.LinearSeries("BTC", 120), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, UpsertUpdated, res)
}
