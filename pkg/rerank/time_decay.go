package rerank

import (
	"math"

	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/window"
)

// DecayConfig holds configuration for recency reranking of analog matches.
// Ages are measured in bars between the analog's end and the query's end.
type DecayConfig struct {
	Lambda float64 `yaml:"lambda"` // exponential decay rate per bar, 0 disables decay
	// Segment weights for different age ranges (used if UseSegments is true)
	UseSegments  bool    `yaml:"use_segments"`
	RecentBars   float64 `yaml:"recent_bars"`
	MediumBars   float64 `yaml:"medium_bars"`
	RecentWeight float64 `yaml:"recent_weight"`
	MediumWeight float64 `yaml:"medium_weight"`
	OldWeight    float64 `yaml:"old_weight"`
}

// DefaultDecayConfig returns a configuration that leaves similarities untouched
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		Lambda:       0,
		RecentBars:   90,
		MediumBars:   365,
		RecentWeight: 1.0,
		MediumWeight: 0.85,
		OldWeight:    0.7,
	}
}

// SegmentConfig returns a configuration using segment-based weights
func SegmentConfig() DecayConfig {
	cfg := DefaultDecayConfig()
	cfg.UseSegments = true
	return cfg
}

// Enabled reports whether the config changes any score
func (c DecayConfig) Enabled() bool {
	return c.UseSegments || c.Lambda > 0
}

// Reranker performs recency-based reranking of analog matches
type Reranker struct {
	config DecayConfig
}

// NewReranker creates a new reranker with the given configuration
func NewReranker(config DecayConfig) *Reranker {
	return &Reranker{config: config}
}

// Rerank scales each positive similarity by its age weight and re-sorts the matches.
// Negative similarities are kept as they are, so decay never turns a mismatch into a better score.
func (r *Reranker) Rerank(matches []model.AnalogMatch, queryEnd int) []model.AnalogMatch {
	ranked := make([]model.AnalogMatch, len(matches))
	copy(ranked, matches)
	if !r.config.Enabled() {
		return ranked
	}

	for i := range ranked {
		age := float64(queryEnd - ranked[i].EndIndex)
		if age < 0 {
			age = 0
		}
		if ranked[i].Similarity > 0 {
			ranked[i].Similarity *= r.weight(age)
		}
	}

	window.SortMatches(ranked)
	return ranked
}

// TopN returns the top N matches after reranking
func (r *Reranker) TopN(matches []model.AnalogMatch, queryEnd, n int) []model.AnalogMatch {
	ranked := r.Rerank(matches, queryEnd)
	if n <= 0 || len(ranked) <= n {
		return ranked
	}
	return ranked[:n]
}

func (r *Reranker) weight(ageBars float64) float64 {
	if r.config.UseSegments {
		return r.segmentWeight(ageBars)
	}
	return math.Exp(-r.config.Lambda * ageBars)
}

// segmentWeight returns weight based on age segments
func (r *Reranker) segmentWeight(ageBars float64) float64 {
	switch {
	case ageBars <= r.config.RecentBars:
		return r.config.RecentWeight
	case ageBars <= r.config.MediumBars:
		return r.config.MediumWeight
	default:
		return r.config.OldWeight
	}
}

// FilterByMinScore filters matches by minimum similarity
func FilterByMinScore(matches []model.AnalogMatch, minScore float64) []model.AnalogMatch {
	var filtered []model.AnalogMatch
	for _, m := range matches {
		if m.Similarity >= minScore {
			filtered = append(filtered, m)
		}
	}
	return filtered
}
