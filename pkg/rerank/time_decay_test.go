package rerank

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunogya/fractal/pkg/model"
)

func TestRerank_DisabledKeepsOrder(t *testing.T) {
	matches := []model.AnalogMatch{{Similarity: 0.9, EndIndex: 10}, {Similarity: 0.8, EndIndex: 90}}

	ranked := NewReranker(DefaultDecayConfig()).Rerank(matches, 100)

	assert.Equal(t, matches, ranked)
}

func TestRerank_ExponentialDecayPromotesRecent(t *testing.T) {
	matches := []model.AnalogMatch{{Similarity: 0.9, EndIndex: 0}, {Similarity: 0.8, EndIndex: 95}}
	cfg := DefaultDecayConfig()
	cfg.Lambda = 0.01

	ranked := NewReranker(cfg).Rerank(matches, 100)

	require.Len(t, ranked, 2)
	assert.Equal(t, 95, ranked[0].EndIndex)
	assert.InDelta(t, 0.8*math.Exp(-0.05), ranked[0].Similarity, 1e-12)
	assert.InDelta(t, 0.9*math.Exp(-1), ranked[1].Similarity, 1e-12)
	assert.Equal(t, 0.9, matches[0].Similarity, "input is not mutated")
}

func TestRerank_SegmentsAndNegativeScores(t *testing.T) {
	matches := []model.AnalogMatch{
		{Similarity: 1, EndIndex: 950},
		{Similarity: 1, EndIndex: 800},
		{Similarity: 1, EndIndex: 100},
		{Similarity: -0.5, EndIndex: 0},
	}

	ranked := NewReranker(SegmentConfig()).TopN(matches, 1000, 3)

	require.Len(t, ranked, 3)
	assert.InDelta(t, 1.0, ranked[0].Similarity, 1e-12)
	assert.InDelta(t, 0.85, ranked[1].Similarity, 1e-12)
	assert.InDelta(t, 0.7, ranked[2].Similarity, 1e-12)

	filtered := FilterByMinScore(NewReranker(SegmentConfig()).Rerank(matches, 1000), 0)
	assert.Len(t, filtered, 3)
}
