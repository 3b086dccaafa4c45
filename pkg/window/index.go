package window

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tunogya/fractal/pkg/feature"
	"github.com/tunogya/fractal/pkg/model"
)

// Spec identifies one index: window length L and reserved forward horizon H (both in bars)
type Spec struct {
	Length  int `json:"length" yaml:"length"`
	Horizon int `json:"horizon" yaml:"horizon"`
}

// String renders the spec as "L30H7"
func (s Spec) String() string {
	return fmt.Sprintf("L%dH%d", s.Length, s.Horizon)
}

// Metric scores the returns-shape vectors of two windows
type Metric string

// Supported metrics
const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
)

// Distance returns the metric's distance between two windows
func (m Metric) Distance(a, b []float64) float64 {
	if m == MetricEuclidean {
		return feature.EuclideanDistance(a, b)
	}
	return feature.CosineDistance(a, b)
}

// Similarity scores a pair of z-scored windows. Cosine reuses the precomputed norms;
// Euclidean distance d maps to 1/(1+d).
func (m Metric) Similarity(a, b []float64, na, nb float64) float64 {
	if m == MetricEuclidean {
		return DistanceSimilarity(m.Distance(a, b))
	}
	return feature.CosineWithNorms(a, b, na, nb)
}

// DistanceSimilarity maps a distance in [0, +Inf] onto a similarity in (0, 1]
func DistanceSimilarity(d float64) float64 {
	if d < 0 || math.IsNaN(d) {
		return 0
	}
	return 1 / (1 + d)
}

// Options controls how window vectors are built
type Options struct {
	MultiRep model.MultiRepConfig // nil scores by returns-shape similarity only
	VolSpan  int                  // rolling span of the volatility representation
	Metric   Metric               // returns-shape metric, cosine when empty
}

// Index holds every window vector of one length over one series.
// An Index is immutable once built.
type Index struct {
	Symbol    string
	Timeframe string
	Spec      Spec

	windows  []*model.WindowVector
	multiRep model.MultiRepConfig
	metric   Metric
}

// Build constructs the index for a series. For every end index e in [L, len(returns)-H-1]
// the window [e-L, e) of log returns is z-scored and stored with its norm and realized
// forward return close[e+H]/close[e]-1. The last H returns are never part of a window,
// so no stored outcome runs past the data. Series that are too short yield an empty index.
func Build(symbol, timeframe string, candles []model.Candle, spec Spec, opts Options) *Index {
	idx := &Index{
		Symbol:    symbol,
		Timeframe: timeframe,
		Spec:      spec,
		multiRep:  opts.MultiRep,
		metric:    opts.Metric,
	}
	if spec.Length <= 0 || spec.Horizon < 0 {
		return idx
	}

	closes := model.Closes(candles)
	returns := feature.LogReturns(closes)
	lastEnd := len(returns) - spec.Horizon - 1
	if lastEnd < spec.Length {
		return idx
	}

	var extractor *feature.Extractor
	if len(opts.MultiRep) > 0 {
		extractor = feature.NewExtractor(opts.VolSpan)
	}

	idx.windows = make([]*model.WindowVector, 0, lastEnd-spec.Length+1)
	for e := spec.Length; e <= lastEnd; e++ {
		raw := returns[e-spec.Length : e]
		vector := feature.ZScore(raw)

		w := &model.WindowVector{
			ID:            model.GenerateWindowID(symbol, timeframe, candles[e].Timestamp(), spec.Length, spec.Horizon),
			Length:        spec.Length,
			Horizon:       spec.Horizon,
			StartIndex:    e - spec.Length,
			EndIndex:      e,
			StartTime:     candles[e-spec.Length].Timestamp(),
			EndTime:       candles[e].Timestamp(),
			Vector:        vector,
			Norm:          feature.Norm(vector),
			ForwardReturn: forwardReturn(closes, e, spec.Horizon),
		}
		if extractor != nil {
			w.Reps = extractor.Extract(raw)
		}
		idx.windows = append(idx.windows, w)
	}

	return idx
}

func forwardReturn(closes []float64, e, horizon int) float64 {
	base := closes[e]
	if base <= 0 || e+horizon >= len(closes) {
		return 0
	}
	return closes[e+horizon]/base - 1
}

// Len returns the number of windows in the index
func (x *Index) Len() int {
	return len(x.windows)
}

// Window returns the i-th window in chronological order
func (x *Index) Window(i int) *model.WindowVector {
	return x.windows[i]
}

// Windows returns a copy of the window slice
func (x *Index) Windows() []*model.WindowVector {
	out := make([]*model.WindowVector, len(x.windows))
	copy(out, x.windows)
	return out
}

// Query describes an analog search around a query window spanning [StartIndex, EndIndex)
type Query struct {
	Symbol     string
	Timeframe  string
	Length     int
	Horizon    int
	Vector     []float64
	Reps       map[model.Representation][]float64
	StartIndex int
	EndIndex   int
	StartTime  time.Time
	EndTime    time.Time
	TopK       int
}

// Eligible reports whether a candidate may be matched against the query: it must not overlap
// the query window and its forward outcome must be realized by the query end.
func (q *Query) Eligible(w *model.WindowVector) bool {
	if w.Overlaps(q.StartIndex, q.EndIndex) {
		return false
	}
	return w.EndIndex+w.Horizon <= q.EndIndex
}

// Search returns the TopK most similar eligible windows, ties going to the more recent window
func (x *Index) Search(_ context.Context, q Query) ([]model.AnalogMatch, error) {
	if len(q.Vector) != x.Spec.Length {
		return nil, fmt.Errorf("query length %d does not match index %s: %w", len(q.Vector), x.Spec, model.ErrInvalidConfig)
	}

	qNorm := feature.Norm(q.Vector)
	useMulti := len(x.multiRep) > 0 && len(q.Reps) > 0

	matches := make([]model.AnalogMatch, 0, len(x.windows))
	for _, w := range x.windows {
		if !q.Eligible(w) {
			continue
		}

		var sim float64
		if useMulti {
			sim = feature.MultiRepSimilarity(q.Reps, w.Reps, x.multiRep)
		} else {
			sim = x.metric.Similarity(q.Vector, w.Vector, qNorm, w.Norm)
		}

		matches = append(matches, model.AnalogMatch{
			Window:        w,
			Similarity:    sim,
			ForwardReturn: w.ForwardReturn,
			EndIndex:      w.EndIndex,
			EndTime:       w.EndTime,
		})
	}

	SortMatches(matches)
	if q.TopK > 0 && len(matches) > q.TopK {
		matches = matches[:q.TopK]
	}
	return matches, nil
}

// SortMatches orders matches by similarity (descending), ties by recency (descending end index)
func SortMatches(matches []model.AnalogMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].EndIndex > matches[j].EndIndex
	})
}

// LiveQuery builds the query for the most recent L returns of a series
func LiveQuery(symbol, timeframe string, candles []model.Candle, spec Spec, opts Options, topK int) (Query, error) {
	returns := feature.LogReturns(model.Closes(candles))
	if spec.Length <= 0 || len(returns) < spec.Length {
		return Query{}, fmt.Errorf("need %d returns for window %s, have %d: %w",
			spec.Length, spec, len(returns), model.ErrInsufficientHistory)
	}
	return QueryAt(symbol, timeframe, candles, returns, len(returns), spec, opts, topK), nil
}

// QueryAt builds the query for the window of returns ending at end (exclusive).
// The caller guarantees end >= spec.Length.
func QueryAt(symbol, timeframe string, candles []model.Candle, returns []float64, end int, spec Spec, opts Options, topK int) Query {
	raw := returns[end-spec.Length : end]
	q := Query{
		Symbol:     symbol,
		Timeframe:  timeframe,
		Length:     spec.Length,
		Horizon:    spec.Horizon,
		Vector:     feature.ZScore(raw),
		StartIndex: end - spec.Length,
		EndIndex:   end,
		TopK:       topK,
	}
	if end < len(candles) {
		q.StartTime = candles[end-spec.Length].Timestamp()
		q.EndTime = candles[end].Timestamp()
	}
	if len(opts.MultiRep) > 0 {
		q.Reps = feature.NewExtractor(opts.VolSpan).Extract(raw)
	}
	return q
}
