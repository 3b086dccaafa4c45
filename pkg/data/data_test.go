package data

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/testutil"
)

func TestPriceAt_NearestAtOrBefore(t *testing.T) {
	candles := testutil.LinearSeries("BTC", 10)

	price, err := PriceAt(candles, testutil.Epoch.AddDate(0, 0, 3).Add(12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 102.0, price, "day 3 has not closed yet at noon")

	price, err = PriceAt(candles, testutil.Epoch.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 109.0, price)

	_, err = PriceAt(candles, testutil.Epoch.Add(-time.Hour))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCloseOn_RequiresBarOfThatDay(t *testing.T) {
	candles := testutil.LinearSeries("BTC", 10)

	price, err := CloseOn(candles, testutil.Epoch.AddDate(0, 0, 4).Add(18*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 104.0, price)

	_, err = CloseOn(candles, testutil.Epoch.AddDate(0, 0, 10))
	assert.ErrorIs(t, err, model.ErrNotFound, "no carry-forward from the previous bar")
}

func TestMaxAdverseExcursion(t *testing.T) {
	candles := testutil.SeriesFromCloses("BTC", []float64{100, 110, 99, 120})

	long := MaxAdverseExcursion(candles, model.ActionBuy)
	assert.InDelta(t, (110.0-99)/110, long, 1e-12)

	short := MaxAdverseExcursion(candles, model.ActionSell)
	assert.InDelta(t, (120.0-99)/99, short, 1e-12)

	assert.Zero(t, MaxAdverseExcursion(candles, model.ActionHold))
	assert.Zero(t, MaxAdverseExcursion(nil, model.ActionBuy))
}

func TestMemoryProvider(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider(append(testutil.LinearSeries("BTC", 30), testutil.AlternatingSeries("ETH", 5)...))

	latest, err := p.FetchLatestCandles(ctx, "BTC", "1d", 5)
	require.NoError(t, err)
	require.Len(t, latest, 5)
	assert.Equal(t, 129.0, latest[4].Close)

	ranged, err := p.FetchCandles(ctx, "ETH", "", testutil.Epoch, testutil.Epoch.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Len(t, ranged, 3)

	price, err := p.PriceAt(ctx, "ETH", testutil.Epoch.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)

	price, err = p.CloseOn(ctx, "ETH", testutil.Epoch.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, 101.0, price)
	_, err = p.CloseOn(ctx, "ETH", testutil.Epoch.AddDate(0, 0, 5))
	assert.ErrorIs(t, err, model.ErrNotFound)

	dd, err := p.MaxDrawdown(ctx, "BTC", testutil.Epoch, testutil.Epoch.AddDate(0, 0, 29), model.ActionSell)
	require.NoError(t, err)
	assert.Greater(t, dd, 0.0)
}

func TestReadCSV_FormatsAndDefaults(t *testing.T) {
	in := strings.Join([]string{
		"date,close,volume",
		"2020-01-02,102,10",
		"2020-01-01,100,10",
		"bad,1,1",
		"2020-01-03,,1",
	}, "\n")

	candles, err := ReadCSV(strings.NewReader(in), "SPX", "1d")
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, "SPX", candles[0].Symbol)
	assert.Equal(t, 100.0, candles[0].Close)
	assert.Equal(t, 102.0, candles[1].Open, "missing open falls back to close")
	assert.Equal(t, 102.0, candles[1].High)

	_, err = ReadCSV(strings.NewReader("date,price\n2020-01-01,1"), "SPX", "1d")
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}

func TestCSVProvider_MillisecondColumns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "btc.csv")
	body := "symbol,timeframe,open_time,close_time,open,high,low,close,volume\n" +
		"BTCUSDT,1d,1577836800000,1577923199999,7200,7300,7100,7250,1000\n" +
		"BTCUSDT,1d,1577923200000,1578009599999,7250,7260,6900,6950,1200\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	p := NewCSVProvider(path, "", "")
	candles, err := p.Load()
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, "BTCUSDT", candles[0].Symbol)

	price, err := p.PriceAt(context.Background(), "BTCUSDT", time.Date(2020, 1, 2, 23, 59, 59, 999e6, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 6950.0, price)

	_, err = NewCSVProvider(filepath.Join(dir, "missing.csv"), "", "").Load()
	assert.Error(t, err)
}
