// Package data defines the price and candle collaborators of the engine and simple implementations.
package data

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tunogya/fractal/pkg/model"
)

// CandleProvider defines the interface for fetching historical candle data
type CandleProvider interface {
	// FetchCandles retrieves historical candles for a symbol and timeframe
	// Returns candles ordered by time (oldest first)
	FetchCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]model.Candle, error)

	// FetchLatestCandles retrieves the most recent N candles
	FetchLatestCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error)
}

// PriceProvider answers point-in-time price questions used to resolve forecasts
type PriceProvider interface {
	// PriceAt returns the close of the latest candle at or before t
	PriceAt(ctx context.Context, symbol string, t time.Time) (float64, error)

	// CloseOn returns the close of the bar opened on the UTC calendar day of day, or
	// ErrNotFound while that bar is not stored
	CloseOn(ctx context.Context, symbol string, day time.Time) (float64, error)

	// MaxDrawdown returns the worst adverse excursion of a position opened at start and held
	// until end, as a positive fraction of the entry price. HOLD has no exposure and returns 0.
	MaxDrawdown(ctx context.Context, symbol string, start, end time.Time, action model.Action) (float64, error)
}

// SortCandles orders candles by open time
func SortCandles(candles []model.Candle) {
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].OpenTime.Before(candles[j].OpenTime)
	})
}

// PriceAt returns the close of the latest candle whose timestamp is at or before t.
// Candles must be sorted by time.
func PriceAt(candles []model.Candle, t time.Time) (float64, error) {
	i := sort.Search(len(candles), func(i int) bool {
		return candles[i].Timestamp().After(t)
	})
	if i == 0 {
		return 0, fmt.Errorf("no price at or before %s: %w", t.Format(time.RFC3339), model.ErrNotFound)
	}
	return candles[i-1].Close, nil
}

// CloseOn returns the close of the candle opened on the UTC calendar day of day
func CloseOn(candles []model.Candle, day time.Time) (float64, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)
	for i := len(candles) - 1; i >= 0; i-- {
		open := candles[i].OpenTime
		if !open.Before(start) && open.Before(end) {
			return candles[i].Close, nil
		}
	}
	return 0, fmt.Errorf("no bar on %s: %w", model.Day(start), model.ErrNotFound)
}

// MaxAdverseExcursion computes the drawdown of a position entered at the first candle's close.
// Longs lose on declines from the running high, shorts on rallies from the running low.
// A bar's extremes are compared with the running level of earlier bars only.
func MaxAdverseExcursion(candles []model.Candle, action model.Action) float64 {
	if len(candles) == 0 || action == model.ActionHold {
		return 0
	}

	entry := candles[0].Close
	if entry <= 0 {
		return 0
	}

	maxDD := 0.0
	switch action {
	case model.ActionBuy:
		peak := entry
		for _, c := range candles[1:] {
			if dd := (peak - c.Low) / peak; dd > maxDD {
				maxDD = dd
			}
			if c.High > peak {
				peak = c.High
			}
		}
	case model.ActionSell:
		trough := entry
		for _, c := range candles[1:] {
			if dd := (c.High - trough) / trough; dd > maxDD {
				maxDD = dd
			}
			if c.Low > 0 && c.Low < trough {
				trough = c.Low
			}
		}
	}
	return maxDD
}

// between returns the candles whose timestamp falls in [start, end]
func between(candles []model.Candle, start, end time.Time) []model.Candle {
	var out []model.Candle
	for _, c := range candles {
		ts := c.Timestamp()
		if ts.Before(start) || ts.After(end) {
			continue
		}
		out = append(out, c)
	}
	return out
}
