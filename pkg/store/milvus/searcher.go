package milvus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/window"
)

// Searcher answers analog queries from Milvus. Eligibility is pushed into the filter
// expression by time so that only windows that ended before the query window started and
// whose outcome was known at the query end are returned.
type Searcher struct {
	client *Client
	nprobe int
}

// NewSearcher creates a searcher
func NewSearcher(c *Client, nprobe int) *Searcher {
	if nprobe <= 0 {
		nprobe = 16
	}
	return &Searcher{client: c, nprobe: nprobe}
}

// Search returns the TopK most similar eligible windows, ordered like the in-memory index
func (s *Searcher) Search(ctx context.Context, q window.Query) ([]model.AnalogMatch, error) {
	if q.TopK <= 0 {
		return nil, fmt.Errorf("top k must be positive: %w", model.ErrInvalidConfig)
	}
	spec := window.Spec{Length: q.Length, Horizon: q.Horizon}

	sp, err := entity.NewIndexIvfFlatSearchParam(s.nprobe)
	if err != nil {
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	embedding := make([]float32, len(q.Vector))
	for i, v := range q.Vector {
		embedding[i] = float32(v)
	}

	results, err := s.client.conn.Search(
		ctx,
		CollectionName(spec),
		nil,
		Filter(q),
		outputFields,
		[]entity.Vector{entity.FloatVector(embedding)},
		fieldEmbedding,
		MetricType(s.client.metric),
		q.TopK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w: %w", CollectionName(spec), model.ErrProviderFailure, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return parseResult(results[0], q, s.client.metric)
}

// Filter renders the eligibility expression of a query
func Filter(q window.Query) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s == %s", fieldSymbol, strconv.Quote(q.Symbol))
	if q.Timeframe != "" {
		fmt.Fprintf(&b, " && %s == %s", fieldTimeframe, strconv.Quote(q.Timeframe))
	}
	fmt.Fprintf(&b, " && %s <= %d && %s <= %d", fieldEndTime, q.StartTime.Unix(), fieldOutcomeTime, q.EndTime.Unix())
	return b.String()
}

func parseResult(res client.SearchResult, q window.Query, metric window.Metric) ([]model.AnalogMatch, error) {
	if res.Err != nil {
		return nil, res.Err
	}

	matches := make([]model.AnalogMatch, 0, res.ResultCount)
	for i := 0; i < res.ResultCount; i++ {
		w := &model.WindowVector{Length: q.Length, Horizon: q.Horizon}
		for _, field := range res.Fields {
			var err error
			switch col := field.(type) {
			case *entity.ColumnVarChar:
				if col.Name() == fieldWindowID {
					w.ID, err = col.ValueByIdx(i)
				}
			case *entity.ColumnInt64:
				var v int64
				v, err = col.ValueByIdx(i)
				switch col.Name() {
				case fieldStartIndex:
					w.StartIndex = int(v)
				case fieldEndIndex:
					w.EndIndex = int(v)
				case fieldEndTime:
					w.EndTime = time.Unix(v, 0).UTC()
				}
			case *entity.ColumnDouble:
				if col.Name() == fieldForwardReturn {
					w.ForwardReturn, err = col.ValueByIdx(i)
				}
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", field.Name(), err)
			}
		}

		matches = append(matches, model.AnalogMatch{
			Window:        w,
			Similarity:    Similarity(metric, res.Scores[i]),
			ForwardReturn: w.ForwardReturn,
			EndIndex:      w.EndIndex,
			EndTime:       w.EndTime,
		})
	}

	window.SortMatches(matches)
	return matches, nil
}
