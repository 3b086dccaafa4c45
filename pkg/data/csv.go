package data

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tunogya/fractal/pkg/model"
)

// CSVProvider implements CandleProvider and PriceProvider for CSV files.
// Required columns are a time column (open_time in unix milliseconds, or date/time as
// RFC3339 or YYYY-MM-DD) and close. open, high, low, volume, close_time, symbol and timeframe
// are optional; missing symbol and timeframe fall back to the provider defaults.
type CSVProvider struct {
	filePath  string
	symbol    string
	timeframe string

	once    sync.Once
	loadErr error
	candles []model.Candle
	mem     *MemoryProvider
}

// NewCSVProvider creates a new CSV-based provider
func NewCSVProvider(filePath, symbol, timeframe string) *CSVProvider {
	return &CSVProvider{
		filePath:  filePath,
		symbol:    symbol,
		timeframe: timeframe,
	}
}

// Load reads the whole file; later calls return the first result
func (p *CSVProvider) Load() ([]model.Candle, error) {
	p.once.Do(func() {
		file, err := os.Open(p.filePath)
		if err != nil {
			p.loadErr = fmt.Errorf("failed to open CSV file: %w", err)
			return
		}
		defer file.Close()

		candles, err := ReadCSV(file, p.symbol, p.timeframe)
		if err != nil {
			p.loadErr = err
			return
		}
		p.candles = candles
		p.mem = NewMemoryProvider(candles)
	})
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	return p.candles, nil
}

// ReadCSV parses candles from r. Rows that cannot be parsed are skipped.
func ReadCSV(r io.Reader, symbol, timeframe string) ([]model.Candle, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	colMap := make(map[string]int)
	for i, col := range header {
		colMap[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := colMap["close"]; !ok {
		return nil, fmt.Errorf("CSV has no close column: %w", model.ErrInvalidConfig)
	}

	var candles []model.Candle
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}

		candle, err := parseRecord(record, colMap, symbol, timeframe)
		if err != nil {
			continue // Skip invalid records
		}
		candles = append(candles, candle)
	}

	SortCandles(candles)
	return candles, nil
}

// parseRecord parses a CSV record into a Candle
func parseRecord(record []string, colMap map[string]int, symbol, timeframe string) (model.Candle, error) {
	getValue := func(name string) string {
		if idx, ok := colMap[name]; ok && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}

	openTime, err := parseTime(getValue("open_time"), getValue("date"), getValue("time"))
	if err != nil {
		return model.Candle{}, err
	}

	closeTime := openTime.Add(24*time.Hour - time.Millisecond)
	if ms, err := strconv.ParseInt(getValue("close_time"), 10, 64); err == nil {
		closeTime = time.UnixMilli(ms).UTC()
	}

	closePrice, err := strconv.ParseFloat(getValue("close"), 64)
	if err != nil {
		return model.Candle{}, fmt.Errorf("invalid close: %w", err)
	}
	open := parseOr(getValue("open"), closePrice)
	high := parseOr(getValue("high"), max(open, closePrice))
	low := parseOr(getValue("low"), min(open, closePrice))
	volume := parseOr(getValue("volume"), 0)

	if s := getValue("symbol"); s != "" {
		symbol = s
	}
	if tf := getValue("timeframe"); tf != "" {
		timeframe = tf
	}

	return model.Candle{
		Symbol:    symbol,
		Timeframe: timeframe,
		OpenTime:  openTime,
		CloseTime: closeTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}

func parseTime(openTimeMs, date, clock string) (time.Time, error) {
	if ms, err := strconv.ParseInt(openTimeMs, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, v := range []string{date, clock} {
		if v == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC(), nil
		}
		if t, err := time.Parse(model.DayLayout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no parsable time in record")
}

func parseOr(v string, fallback float64) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// FetchCandles retrieves candles within the specified time range
func (p *CSVProvider) FetchCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]model.Candle, error) {
	if _, err := p.Load(); err != nil {
		return nil, err
	}
	return p.mem.FetchCandles(ctx, symbol, timeframe, start, end)
}

// FetchLatestCandles retrieves the most recent N candles
func (p *CSVProvider) FetchLatestCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	if _, err := p.Load(); err != nil {
		return nil, err
	}
	return p.mem.FetchLatestCandles(ctx, symbol, timeframe, limit)
}

// PriceAt returns the latest close at or before t
func (p *CSVProvider) PriceAt(ctx context.Context, symbol string, t time.Time) (float64, error) {
	if _, err := p.Load(); err != nil {
		return 0, err
	}
	return p.mem.PriceAt(ctx, symbol, t)
}

// CloseOn returns the close of the bar opened on the day of day
func (p *CSVProvider) CloseOn(ctx context.Context, symbol string, day time.Time) (float64, error) {
	if _, err := p.Load(); err != nil {
		return 0, err
	}
	return p.mem.CloseOn(ctx, symbol, day)
}

// MaxDrawdown returns the adverse excursion of a position held from start to end
func (p *CSVProvider) MaxDrawdown(ctx context.Context, symbol string, start, end time.Time, action model.Action) (float64, error) {
	if _, err := p.Load(); err != nil {
		return 0, err
	}
	return p.mem.MaxDrawdown(ctx, symbol, start, end, action)
}
