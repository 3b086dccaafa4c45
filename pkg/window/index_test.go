package window

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunogya/fractal/pkg/feature"
	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/testutil"
)

func TestBuild_ReservesForwardHorizon(t *testing.T) {
	candles := testutil.RandomWalk("BTC", 300, 0.0005, 0.02, 1)
	returns := len(candles) - 1

	for _, spec := range []Spec{{Length: 30, Horizon: 7}, {Length: 60, Horizon: 30}, {Length: 10, Horizon: 1}} {
		idx := Build("BTC", "1d", candles, spec, Options{})

		require.Equal(t, returns-spec.Horizon-1-spec.Length+1, idx.Len(), spec.String())
		for _, w := range idx.Windows() {
			assert.Len(t, w.Vector, spec.Length)
			assert.Greater(t, w.Norm, 0.0)
			assert.Equal(t, spec.Length, w.EndIndex-w.StartIndex)
			// no window overlaps the last H returns
			assert.LessOrEqual(t, w.EndIndex, returns-spec.Horizon-1)
			assert.Less(t, w.EndIndex+spec.Horizon, len(candles))
		}
	}
}

func TestBuild_ForwardReturnFromCloses(t *testing.T) {
	candles := testutil.LinearSeries("BTC", 60)

	idx := Build("BTC", "1d", candles, Spec{Length: 10, Horizon: 5}, Options{})

	w := idx.Window(0)
	assert.Equal(t, 10, w.EndIndex)
	assert.InDelta(t, candles[15].Close/candles[10].Close-1, w.ForwardReturn, 1e-12)
	assert.Equal(t, candles[10].CloseTime, w.EndTime)
}

func TestBuild_TooShortSeriesIsEmpty(t *testing.T) {
	candles := testutil.LinearSeries("BTC", 20)

	idx := Build("BTC", "1d", candles, Spec{Length: 30, Horizon: 7}, Options{})

	assert.Equal(t, 0, idx.Len())
}

func TestBuild_DegenerateWindowsFallBackToUnitNorm(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100
	}

	idx := Build("FLAT", "1d", testutil.SeriesFromCloses("FLAT", closes), Spec{Length: 10, Horizon: 2}, Options{})

	require.Greater(t, idx.Len(), 0)
	for _, w := range idx.Windows() {
		assert.Equal(t, 1.0, w.Norm)
	}
}

func TestSearch_ExcludesOverlapAndLookAhead(t *testing.T) {
	candles := testutil.RandomWalk("BTC", 250, 0, 0.01, 7)
	spec := Spec{Length: 20, Horizon: 5}
	idx := Build("BTC", "1d", candles, spec, Options{})

	returns := feature.LogReturns(model.Closes(candles))
	q := QueryAt("BTC", "1d", candles, returns, 150, spec, Options{}, 0)

	matches, err := idx.Search(context.Background(), q)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	for _, m := range matches {
		assert.LessOrEqual(t, m.EndIndex, q.StartIndex)
		assert.LessOrEqual(t, m.EndIndex+spec.Horizon, q.EndIndex)
	}
}

func TestSearch_TopKOrderedWithRecencyTieBreak(t *testing.T) {
	candles := testutil.AlternatingSeries("ALT", 200)
	spec := Spec{Length: 20, Horizon: 8}
	idx := Build("ALT", "1d", candles, spec, Options{})

	q, err := LiveQuery("ALT", "1d", candles, spec, Options{}, 5)
	require.NoError(t, err)

	matches, err := idx.Search(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, matches, 5)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Similarity, matches[i].Similarity)
		if matches[i-1].Similarity == matches[i].Similarity {
			assert.Greater(t, matches[i-1].EndIndex, matches[i].EndIndex)
		}
	}
}

func TestSearch_RejectsWrongLength(t *testing.T) {
	idx := Build("BTC", "1d", testutil.LinearSeries("BTC", 100), Spec{Length: 10, Horizon: 2}, Options{})

	_, err := idx.Search(context.Background(), Query{Vector: []float64{1, 2, 3}})

	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}

func TestLiveQuery_InsufficientHistory(t *testing.T) {
	_, err := LiveQuery("BTC", "1d", testutil.LinearSeries("BTC", 10), Spec{Length: 30, Horizon: 7}, Options{}, 10)

	assert.ErrorIs(t, err, model.ErrInsufficientHistory)
}

func TestSearch_MultiRepresentation(t *testing.T) {
	candles := testutil.RandomWalk("BTC", 200, 0, 0.015, 3)
	opts := Options{MultiRep: model.DefaultMultiRepConfig(), VolSpan: 5}
	spec := Spec{Length: 30, Horizon: 7}
	idx := Build("BTC", "1d", candles, spec, opts)

	q, err := LiveQuery("BTC", "1d", candles, spec, opts, 10)
	require.NoError(t, err)
	require.NotNil(t, q.Reps)

	matches, err := idx.Search(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, matches, 10)
	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Similarity, -1.0)
		assert.LessOrEqual(t, m.Similarity, 1.0)
	}
}

func TestSearch_EuclideanMetric(t *testing.T) {
	candles := testutil.RandomWalk("BTC", 250, 0, 0.012, 11)
	spec := Spec{Length: 20, Horizon: 5}
	returns := feature.LogReturns(model.Closes(candles))

	euclid := Options{Metric: MetricEuclidean}
	q := QueryAt("BTC", "1d", candles, returns, 200, spec, euclid, 10)
	matches, err := Build("BTC", "1d", candles, spec, euclid).Search(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, matches, 10)
	for _, m := range matches {
		assert.InDelta(t, 1/(1+feature.EuclideanDistance(q.Vector, m.Window.Vector)), m.Similarity, 1e-12)
		assert.Greater(t, m.Similarity, 0.0)
		assert.LessOrEqual(t, m.Similarity, 1.0)
	}

	// z-scored windows share a norm, so both metrics rank alike
	cosine, err := Build("BTC", "1d", candles, spec, Options{}).Search(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, cosine, 10)
	for i := range matches {
		assert.Equal(t, cosine[i].EndIndex, matches[i].EndIndex)
	}
}

func TestMetric_Similarity(t *testing.T) {
	a := []float64{1, 0}
	b := []float64{0, 1}

	assert.InDelta(t, 0.0, MetricCosine.Similarity(a, b, 1, 1), 1e-12)
	assert.InDelta(t, 0.0, Metric("").Similarity(a, b, 1, 1), 1e-12)
	assert.InDelta(t, 1/(1+math.Sqrt2), MetricEuclidean.Similarity(a, b, 1, 1), 1e-12)
	assert.Equal(t, 1.0, MetricEuclidean.Similarity(a, a, 1, 1))
	assert.InDelta(t, 1.0, MetricCosine.Distance(a, b), 1e-12)
	assert.InDelta(t, math.Sqrt2, MetricEuclidean.Distance(a, b), 1e-12)
	assert.Zero(t, DistanceSimilarity(math.Inf(1)))
	assert.Zero(t, DistanceSimilarity(math.NaN()))
}

func TestCache_RebuildsOnlyWhenSeriesChanges(t *testing.T) {
	cache := NewCache(Options{}, zerolog.Nop())
	key := Key{Symbol: "BTC", Timeframe: "1d"}
	specs := []Spec{{Length: 30, Horizon: 7}}
	candles := testutil.LinearSeries("BTC", 120)

	first := cache.Get(key, candles, specs)
	again := cache.Get(key, candles, specs)
	assert.Same(t, first, again)
	assert.Equal(t, int64(1), cache.Builds())

	grown := testutil.LinearSeries("BTC", 121)
	rebuilt := cache.Get(key, grown, specs)
	assert.NotSame(t, first, rebuilt)
	assert.Equal(t, int64(2), cache.Builds())

	idx, ok := first.Index(specs[0])
	require.True(t, ok)
	assert.Equal(t, 120-1-7-1-30+1, idx.Len(), "old set is untouched by the rebuild")

	withMore := cache.Get(key, grown, append(specs, Spec{Length: 10, Horizon: 1}))
	assert.Len(t, withMore.Specs(), 2)

	cache.Clear()
	_, ok = cache.Peek(key)
	assert.False(t, ok)
}

func TestCache_ConcurrentReaders(t *testing.T) {
	cache := NewCache(Options{}, zerolog.Nop())
	key := Key{Symbol: "BTC", Timeframe: "1d"}
	specs := []Spec{{Length: 20, Horizon: 5}}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			candles := testutil.LinearSeries("BTC", 100+n%2)
			set := cache.Get(key, candles, specs)
			idx, ok := set.Index(specs[0])
			assert.True(t, ok)
			assert.Equal(t, len(candles)-1-5-1-20+1, idx.Len())
		}(i)
	}
	wg.Wait()
}
