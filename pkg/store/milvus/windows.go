package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/window"
)

// WindowData holds one window row of a collection
type WindowData struct {
	WindowID      string
	Embedding     []float32
	Symbol        string
	Timeframe     string
	StartIndex    int64
	EndIndex      int64
	EndTime       time.Time
	OutcomeTime   time.Time // when the forward return became known
	ForwardReturn float64
}

// NewWindowData converts a window of the given series. candles must be the series the window
// was built from.
func NewWindowData(symbol, timeframe string, candles []model.Candle, w *model.WindowVector) (*WindowData, error) {
	outcome := w.EndIndex + w.Horizon
	if outcome >= len(candles) {
		return nil, fmt.Errorf("window %s outcome bar %d is past the series: %w", w.ID, outcome, model.ErrInsufficientHistory)
	}

	embedding := make([]float32, len(w.Vector))
	for i, v := range w.Vector {
		embedding[i] = float32(v)
	}
	return &WindowData{
		WindowID:      w.ID,
		Embedding:     embedding,
		Symbol:        symbol,
		Timeframe:     timeframe,
		StartIndex:    int64(w.StartIndex),
		EndIndex:      int64(w.EndIndex),
		EndTime:       w.EndTime,
		OutcomeTime:   candles[outcome].Timestamp(),
		ForwardReturn: w.ForwardReturn,
	}, nil
}

func columns(rows []*WindowData) []entity.Column {
	ids := make([]string, len(rows))
	embeddings := make([][]float32, len(rows))
	symbols := make([]string, len(rows))
	timeframes := make([]string, len(rows))
	starts := make([]int64, len(rows))
	ends := make([]int64, len(rows))
	endTimes := make([]int64, len(rows))
	outcomeTimes := make([]int64, len(rows))
	forwards := make([]float64, len(rows))

	for i, d := range rows {
		ids[i] = d.WindowID
		embeddings[i] = d.Embedding
		symbols[i] = d.Symbol
		timeframes[i] = d.Timeframe
		starts[i] = d.StartIndex
		ends[i] = d.EndIndex
		endTimes[i] = d.EndTime.Unix()
		outcomeTimes[i] = d.OutcomeTime.Unix()
		forwards[i] = d.ForwardReturn
	}

	return []entity.Column{
		entity.NewColumnVarChar(fieldWindowID, ids),
		entity.NewColumnFloatVector(fieldEmbedding, len(embeddings[0]), embeddings),
		entity.NewColumnVarChar(fieldSymbol, symbols),
		entity.NewColumnVarChar(fieldTimeframe, timeframes),
		entity.NewColumnInt64(fieldStartIndex, starts),
		entity.NewColumnInt64(fieldEndIndex, ends),
		entity.NewColumnInt64(fieldEndTime, endTimes),
		entity.NewColumnInt64(fieldOutcomeTime, outcomeTimes),
		entity.NewColumnDouble(fieldForwardReturn, forwards),
	}
}

// InsertBatch inserts window rows into the collection of spec
func (c *Client) InsertBatch(ctx context.Context, spec window.Spec, rows []*WindowData) error {
	if len(rows) == 0 {
		return nil
	}
	for _, r := range rows {
		if len(r.Embedding) != spec.Length {
			return fmt.Errorf("window %s has dimension %d, collection %s wants %d: %w",
				r.WindowID, len(r.Embedding), CollectionName(spec), spec.Length, model.ErrInvalidConfig)
		}
	}

	if _, err := c.conn.Insert(ctx, CollectionName(spec), "", columns(rows)...); err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}
	return nil
}

// InsertWindows converts and inserts windows of one series in batches of batchSize
func (c *Client) InsertWindows(ctx context.Context, spec window.Spec, symbol, timeframe string, candles []model.Candle, windows []*model.WindowVector, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	inserted := 0
	batch := make([]*WindowData, 0, batchSize)
	flush := func() error {
		if err := c.InsertBatch(ctx, spec, batch); err != nil {
			return err
		}
		inserted += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, w := range windows {
		row, err := NewWindowData(symbol, timeframe, candles, w)
		if err != nil {
			return inserted, err
		}
		batch = append(batch, row)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return inserted, err
			}
		}
	}
	if err := flush(); err != nil {
		return inserted, err
	}
	return inserted, c.Flush(ctx, CollectionName(spec))
}
