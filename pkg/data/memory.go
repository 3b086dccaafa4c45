package data

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tunogya/fractal/pkg/model"
)

// MemoryProvider implements CandleProvider and PriceProvider with in-memory storage
type MemoryProvider struct {
	mu      sync.RWMutex
	candles map[string][]model.Candle // by symbol, sorted by time
}

// NewMemoryProvider creates a new in-memory provider
func NewMemoryProvider(candles []model.Candle) *MemoryProvider {
	p := &MemoryProvider{candles: make(map[string][]model.Candle)}
	p.AddCandles(candles)
	return p
}

// AddCandles adds candles to the provider
func (p *MemoryProvider) AddCandles(candles []model.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	touched := make(map[string]struct{})
	for _, c := range candles {
		p.candles[c.Symbol] = append(p.candles[c.Symbol], c)
		touched[c.Symbol] = struct{}{}
	}
	for symbol := range touched {
		SortCandles(p.candles[symbol])
	}
}

func (p *MemoryProvider) series(symbol, timeframe string) []model.Candle {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []model.Candle
	for _, c := range p.candles[symbol] {
		if timeframe != "" && c.Timeframe != timeframe {
			continue
		}
		out = append(out, c)
	}
	return out
}

// FetchCandles retrieves candles within the specified time range
func (p *MemoryProvider) FetchCandles(_ context.Context, symbol, timeframe string, start, end time.Time) ([]model.Candle, error) {
	var result []model.Candle
	for _, c := range p.series(symbol, timeframe) {
		if c.OpenTime.Before(start) || c.OpenTime.After(end) {
			continue
		}
		result = append(result, c)
	}
	return result, nil
}

// FetchLatestCandles retrieves the most recent N candles
func (p *MemoryProvider) FetchLatestCandles(_ context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	filtered := p.series(symbol, timeframe)
	if limit <= 0 || len(filtered) <= limit {
		return filtered, nil
	}
	return filtered[len(filtered)-limit:], nil
}

// PriceAt returns the latest close at or before t
func (p *MemoryProvider) PriceAt(_ context.Context, symbol string, t time.Time) (float64, error) {
	price, err := PriceAt(p.series(symbol, ""), t)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", symbol, err)
	}
	return price, nil
}

// CloseOn returns the close of the bar opened on the day of day
func (p *MemoryProvider) CloseOn(_ context.Context, symbol string, day time.Time) (float64, error) {
	price, err := CloseOn(p.series(symbol, ""), day)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", symbol, err)
	}
	return price, nil
}

// MaxDrawdown returns the adverse excursion of a position held from start to end
func (p *MemoryProvider) MaxDrawdown(_ context.Context, symbol string, start, end time.Time, action model.Action) (float64, error) {
	return MaxAdverseExcursion(between(p.series(symbol, ""), start, end), action), nil
}
