package feature

import (
	"math"

	"github.com/tunogya/fractal/pkg/model"
	"gonum.org/v1/gonum/floats"
)

// Norm returns the L2 norm of a vector, falling back to 1 for degenerate vectors
func Norm(v []float64) float64 {
	if len(v) == 0 {
		return 1
	}
	n := floats.Norm(v, 2)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return 1
	}
	return n
}

// CosineSimilarity returns the cosine of the angle between a and b in [-1, 1].
// Mismatched lengths or zero vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return CosineWithNorms(a, b, na, nb)
}

// CosineWithNorms computes cosine similarity using precomputed norms
func CosineWithNorms(a, b []float64, na, nb float64) float64 {
	if len(a) == 0 || len(a) != len(b) || na == 0 || nb == 0 {
		return 0
	}
	return clampUnit(floats.Dot(a, b) / (na * nb))
}

// CosineDistance is 1 - cosine similarity, in [0, 2]
func CosineDistance(a, b []float64) float64 {
	return 1 - CosineSimilarity(a, b)
}

// EuclideanDistance returns the L2 distance between a and b, or +Inf when lengths differ
func EuclideanDistance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	if len(a) == 0 {
		return 0
	}
	return floats.Distance(a, b, 2)
}

// ScalarSimilarity compares two scalars in [-1, 1]: 1 when equal, -1 when they are opposite
func ScalarSimilarity(a, b float64) float64 {
	denom := math.Abs(a) + math.Abs(b)
	if denom == 0 {
		return 1
	}
	return clampUnit(1 - 2*math.Abs(a-b)/denom)
}

// RepresentationSimilarity scores one representation pair
func RepresentationSimilarity(rep model.Representation, a, b []float64) float64 {
	if rep == model.RepMomentum && len(a) == 1 && len(b) == 1 {
		return ScalarSimilarity(a[0], b[0])
	}
	return CosineSimilarity(a, b)
}

// MultiRepSimilarity combines per-representation similarities as a weighted sum.
// Representations missing on either side have their weight redistributed
// proportionally over the representations present on both.
func MultiRepSimilarity(a, b map[model.Representation][]float64, cfg model.MultiRepConfig) float64 {
	weights := cfg.Normalized()

	present := make(model.MultiRepConfig, len(weights))
	for rep, w := range weights {
		va, okA := a[rep]
		vb, okB := b[rep]
		if !okA || !okB || len(va) == 0 || len(vb) == 0 {
			continue
		}
		present[rep] = w
	}

	present = present.Normalized()
	if len(present) == 0 {
		return 0
	}

	score := 0.0
	for _, rep := range model.AllRepresentations {
		w, ok := present[rep]
		if !ok {
			continue
		}
		score += w * RepresentationSimilarity(rep, a[rep], b[rep])
	}
	return clampUnit(score)
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
