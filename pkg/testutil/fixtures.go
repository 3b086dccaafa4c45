// Package testutil provides price-series fixtures and stub collaborators for tests.
package testutil

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/tunogya/fractal/pkg/model"
)

// Epoch is the timestamp of the first fixture candle
var Epoch = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

// SeriesFromCloses builds daily candles for the given closes
func SeriesFromCloses(symbol string, closes []float64) []model.Candle {
	candles := make([]model.Candle, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		openTime := Epoch.AddDate(0, 0, i)
		candles[i] = model.Candle{
			Symbol:    symbol,
			Timeframe: "1d",
			OpenTime:  openTime,
			CloseTime: openTime.Add(24*time.Hour - time.Millisecond),
			Open:      open,
			High:      math.Max(open, c),
			Low:       math.Min(open, c),
			Close:     c,
			Volume:    1000,
		}
	}
	return candles
}

// LinearSeries returns a strictly increasing series: 100, 101, 102, ...
func LinearSeries(symbol string, n int) []model.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	return SeriesFromCloses(symbol, closes)
}

// AlternatingSeries returns a series that alternates between 100 and 101
func AlternatingSeries(symbol string, n int) []model.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100
		if i%2 == 1 {
			closes[i] = 101
		}
	}
	return SeriesFromCloses(symbol, closes)
}

// RandomWalk returns a seeded geometric random walk with the given daily drift and volatility
func RandomWalk(symbol string, n int, drift, vol float64, seed uint64) []model.Candle {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	closes := make([]float64, n)
	price := 100.0
	for i := range closes {
		closes[i] = price
		price *= math.Exp(drift + vol*rng.NormFloat64())
	}
	return SeriesFromCloses(symbol, closes)
}
