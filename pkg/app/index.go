package app

import (
	"context"
	"fmt"
	"time"

	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/sweep"
	"github.com/tunogya/fractal/pkg/window"
)

// endOfTime bounds full-series reads
var endOfTime = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// IndexResult counts the windows recorded for one spec
type IndexResult struct {
	Spec    window.Spec `json:"spec"`
	Built   int         `json:"built"`
	New     int         `json:"new"`
	Vectors int         `json:"vectors"`
	Skipped bool        `json:"skipped"`
}

// BackfillResult summarizes one backfill of a symbol
type BackfillResult struct {
	Symbol  string        `json:"symbol"`
	Candles int           `json:"candles"`
	Indexes []IndexResult `json:"indexes"`
	Vintage int           `json:"vintage"`
	Errors  []string      `json:"errors,omitempty"`
	Partial bool          `json:"partial"`
}

// Backfill stores candles, indexes the full series and replays vintage outcomes for every
// configured horizon. replayStep is the stride between replayed decisions, 0 for the horizon.
func (a *App) Backfill(ctx context.Context, symbol string, candles []model.Candle, replayStep int) (BackfillResult, error) {
	res := BackfillResult{Symbol: symbol, Candles: len(candles)}
	if len(candles) == 0 {
		return res, fmt.Errorf("no candles to backfill for %s: %w", symbol, model.ErrInsufficientHistory)
	}

	if err := a.Candles.InsertBatch(ctx, candles); err != nil {
		return res, fmt.Errorf("insert %s candles: %w", symbol, err)
	}
	a.Log.Info().Str("symbol", symbol).Int("candles", len(candles)).Msg("Candles stored")

	series, err := a.FullSeries(ctx, symbol)
	if err != nil {
		return res, err
	}

	indexes, err := a.index(ctx, symbol, series)
	res.Indexes = indexes
	if err != nil {
		return res, err
	}

	for _, h := range a.Config.Horizons {
		outcomes, err := sweep.Replay(ctx, symbol, series, h, replayStep)
		if err != nil {
			res.Partial = true
			res.Errors = append(res.Errors, err.Error())
			a.Log.Warn().Err(err).Str("symbol", symbol).Str("model", h.ID()).Msg("Vintage replay skipped")
			continue
		}
		n, err := a.Forecasts.SaveVintage(ctx, outcomes)
		if err != nil {
			return res, fmt.Errorf("save %s vintage: %w", h.ID(), err)
		}
		res.Vintage += n
		a.Log.Info().
			Str("symbol", symbol).
			Str("model", h.ID()).
			Int("replayed", len(outcomes)).
			Int("new", n).
			Msg("Vintage outcomes stored")
	}
	return res, nil
}

// Reindex records the windows of a symbol's stored series that are newer than the last
// recorded window. The writer calls it after each candle batch.
func (a *App) Reindex(ctx context.Context, symbol, timeframe string) error {
	if timeframe != "" && timeframe != a.Config.Timeframe {
		return nil
	}
	series, err := a.FullSeries(ctx, symbol)
	if err != nil {
		return err
	}
	_, err = a.index(ctx, symbol, series)
	return err
}

// FullSeries loads every stored candle of a symbol in the configured timeframe
func (a *App) FullSeries(ctx context.Context, symbol string) ([]model.Candle, error) {
	candles, err := a.Candles.FetchCandles(ctx, symbol, a.Config.Timeframe, time.Time{}, endOfTime)
	if err != nil {
		return nil, fmt.Errorf("load %s candles: %w", symbol, err)
	}
	return candles, nil
}

// index builds every configured spec over series and records the windows ending after the
// newest recorded one, in Milvus first and then in the window log
func (a *App) index(ctx context.Context, symbol string, series []model.Candle) ([]IndexResult, error) {
	tf := a.Config.Timeframe
	a.Cache.Invalidate(window.Key{Symbol: symbol, Timeframe: tf})

	var out []IndexResult
	for _, spec := range a.Config.Specs() {
		idx := window.Build(symbol, tf, series, spec, a.Cache.Options())
		r := IndexResult{Spec: spec, Built: idx.Len()}
		if idx.Len() == 0 {
			r.Skipped = true
			out = append(out, r)
			continue
		}

		latest, err := a.Windows.LatestEnd(ctx, symbol, tf, spec)
		if err != nil {
			return out, err
		}
		var fresh []*model.WindowVector
		for _, w := range idx.Windows() {
			if latest.IsZero() || w.EndTime.After(latest) {
				fresh = append(fresh, w)
			}
		}
		if len(fresh) == 0 {
			out = append(out, r)
			continue
		}

		if a.Milvus != nil {
			if err := a.Milvus.EnsureCollection(ctx, spec, a.Config.Milvus.Client.Shards, a.Config.Milvus.Client.NList); err != nil {
				return out, fmt.Errorf("ensure collection %s: %w", spec, err)
			}
			n, err := a.Milvus.InsertWindows(ctx, spec, symbol, tf, series, fresh, a.Config.Milvus.Batch)
			r.Vectors = n
			if err != nil {
				return out, fmt.Errorf("insert %s vectors: %w", spec, err)
			}
		}

		n, err := a.Windows.InsertBatch(ctx, symbol, tf, fresh)
		if err != nil {
			return out, fmt.Errorf("record %s windows: %w", spec, err)
		}
		r.New = n
		out = append(out, r)

		a.Log.Info().
			Str("symbol", symbol).
			Str("spec", spec.String()).
			Int("built", r.Built).
			Int("new", r.New).
			Int("vectors", r.Vectors).
			Msg("Windows indexed")
	}
	return out, nil
}
