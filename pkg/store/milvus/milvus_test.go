package milvus

import (
	"testing"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/testutil"
	"github.com/tunogya/fractal/pkg/window"
)

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "analog_windows_L30_H7", CollectionName(window.Spec{Length: 30, Horizon: 7}))

	s := schema(window.Spec{Length: 60, Horizon: 14})
	assert.Equal(t, "analog_windows_L60_H14", s.CollectionName)
	for _, f := range s.Fields {
		if f.Name == fieldEmbedding {
			assert.Equal(t, "60", f.TypeParams["dim"])
		}
	}
}

func TestFilter(t *testing.T) {
	q := window.Query{
		Symbol:    "BTC",
		Timeframe: "1d",
		StartTime: time.Unix(1000, 0),
		EndTime:   time.Unix(5000, 0),
	}
	assert.Equal(t, `symbol == "BTC" && timeframe == "1d" && end_time <= 1000 && outcome_time <= 5000`, Filter(q))

	q.Timeframe = ""
	assert.Equal(t, `symbol == "BTC" && end_time <= 1000 && outcome_time <= 5000`, Filter(q))
}

func TestNewWindowData(t *testing.T) {
	candles := testutil.LinearSeries("BTC", 60)
	idx := window.Build("BTC", "1d", candles, window.Spec{Length: 30, Horizon: 7}, window.Options{})
	w := idx.Window(0)

	row, err := NewWindowData("BTC", "1d", candles, w)
	require.NoError(t, err)
	assert.Len(t, row.Embedding, 30)
	assert.EqualValues(t, 30, row.EndIndex)
	assert.True(t, row.OutcomeTime.Equal(candles[37].Timestamp()))
	assert.InDelta(t, w.ForwardReturn, row.ForwardReturn, 1e-15)

	cols := columns([]*WindowData{row})
	assert.Len(t, cols, len(outputFields)+1)
	for _, c := range cols {
		assert.Equal(t, 1, c.Len())
	}

	late := *w
	late.EndIndex = 58
	_, err = NewWindowData("BTC", "1d", candles, &late)
	assert.ErrorIs(t, err, model.ErrInsufficientHistory)
}

func TestParseResult_OrdersLikeIndex(t *testing.T) {
	res := client.SearchResult{
		ResultCount: 3,
		Scores:      []float32{0.5, 0.9, 0.9},
		Fields: []entity.Column{
			entity.NewColumnVarChar(fieldWindowID, []string{"a", "b", "c"}),
			entity.NewColumnInt64(fieldStartIndex, []int64{0, 10, 20}),
			entity.NewColumnInt64(fieldEndIndex, []int64{30, 40, 50}),
			entity.NewColumnInt64(fieldEndTime, []int64{100, 200, 300}),
			entity.NewColumnDouble(fieldForwardReturn, []float64{0.01, -0.02, 0.03}),
		},
	}

	matches, err := parseResult(res, window.Query{Length: 30, Horizon: 7}, window.MetricCosine)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	// equal scores go to the more recent window
	assert.Equal(t, "c", matches[0].Window.ID)
	assert.Equal(t, "b", matches[1].Window.ID)
	assert.Equal(t, "a", matches[2].Window.ID)
	assert.Equal(t, 50, matches[0].EndIndex)
	assert.Equal(t, 0.03, matches[0].ForwardReturn)
	assert.Equal(t, time.Unix(300, 0).UTC(), matches[0].EndTime)
	assert.InDelta(t, 0.9, matches[0].Similarity, 1e-6)
}

func TestParseResult_EuclideanScoresBecomeSimilarities(t *testing.T) {
	res := client.SearchResult{
		ResultCount: 2,
		Scores:      []float32{9, 0},
		Fields: []entity.Column{
			entity.NewColumnVarChar(fieldWindowID, []string{"far", "same"}),
			entity.NewColumnInt64(fieldEndIndex, []int64{30, 40}),
		},
	}

	matches, err := parseResult(res, window.Query{Length: 30, Horizon: 7}, window.MetricEuclidean)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "same", matches[0].Window.ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-12)
	assert.InDelta(t, 0.25, matches[1].Similarity, 1e-6)

	assert.Equal(t, entity.L2, MetricType(window.MetricEuclidean))
	assert.Equal(t, entity.COSINE, MetricType(window.MetricCosine))
	assert.Equal(t, entity.COSINE, MetricType(""))
}
