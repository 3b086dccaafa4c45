package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tunogya/fractal/pkg/data"
	"github.com/tunogya/fractal/pkg/model"
)

const upsertCandle = `
	INSERT INTO candles (symbol, timeframe, open_time, close_time, open, high, low, close, volume)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (symbol, timeframe, open_time) DO UPDATE SET
		close_time = EXCLUDED.close_time,
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume
`

const selectCandle = `SELECT symbol, timeframe, open_time, close_time, open, high, low, close, volume FROM candles`

// CandleRepo handles candle data persistence. It serves candles to the engine and point-in-time
// prices to the outcome resolver.
type CandleRepo struct {
	client    *Client
	timeframe string // timeframe used for price lookups; empty matches any
}

// NewCandleRepo creates a new candle repository
func NewCandleRepo(client *Client, priceTimeframe string) *CandleRepo {
	return &CandleRepo{client: client, timeframe: priceTimeframe}
}

var (
	_ data.CandleProvider = (*CandleRepo)(nil)
	_ data.PriceProvider  = (*CandleRepo)(nil)
)

// Insert inserts or revises a single candle
func (r *CandleRepo) Insert(ctx context.Context, c model.Candle) error {
	_, err := r.client.Exec(ctx, upsertCandle, candleArgs(c)...)
	return err
}

// InsertBatch inserts multiple candles in a transaction
func (r *CandleRepo) InsertBatch(ctx context.Context, candles []model.Candle) error {
	tx, err := r.client.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertCandle)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, candleArgs(c)...); err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	return tx.Commit()
}

func candleArgs(c model.Candle) []any {
	return []any{c.Symbol, c.Timeframe, c.OpenTime.UTC(), nullTime(c.CloseTime), c.Open, c.High, c.Low, c.Close, c.Volume}
}

// nullTime binds a zero time as NULL
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// FetchCandles retrieves candles with open time in [start, end]
func (r *CandleRepo) FetchCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]model.Candle, error) {
	query := selectCandle + `
		WHERE symbol = ? AND timeframe = ? AND open_time >= ? AND open_time <= ?
		ORDER BY open_time ASC
	`
	return r.query(ctx, query, symbol, timeframe, start.UTC(), end.UTC())
}

// FetchLatestCandles retrieves the most recent N candles in chronological order
func (r *CandleRepo) FetchLatestCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	query := selectCandle + `
		WHERE symbol = ? AND timeframe = ?
		ORDER BY open_time DESC
		LIMIT ?
	`
	candles, err := r.query(ctx, query, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// PriceAt returns the close of the latest candle whose close (or open) time is at or before t
func (r *CandleRepo) PriceAt(ctx context.Context, symbol string, t time.Time) (float64, error) {
	var price float64
	err := r.client.QueryRow(ctx, `
		SELECT close FROM candles
		WHERE symbol = ? AND (? = '' OR timeframe = ?) AND COALESCE(close_time, open_time) <= ?
		ORDER BY open_time DESC
		LIMIT 1
	`, symbol, r.timeframe, r.timeframe, t.UTC()).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s: no price at or before %s: %w", symbol, t.Format(time.RFC3339), model.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query price: %w", err)
	}
	return price, nil
}

// CloseOn returns the close of the bar opened on the UTC day of day
func (r *CandleRepo) CloseOn(ctx context.Context, symbol string, day time.Time) (float64, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	var price float64
	err := r.client.QueryRow(ctx, `
		SELECT close FROM candles
		WHERE symbol = ? AND (? = '' OR timeframe = ?) AND open_time >= ? AND open_time < ?
		ORDER BY open_time DESC
		LIMIT 1
	`, symbol, r.timeframe, r.timeframe, start, start.Add(24*time.Hour)).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s: no bar on %s: %w", symbol, model.Day(start), model.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query close: %w", err)
	}
	return price, nil
}

// MaxDrawdown returns the adverse excursion of a position held from start to end
func (r *CandleRepo) MaxDrawdown(ctx context.Context, symbol string, start, end time.Time, action model.Action) (float64, error) {
	candles, err := r.query(ctx, selectCandle+`
		WHERE symbol = ? AND (? = '' OR timeframe = ?)
			AND COALESCE(close_time, open_time) >= ? AND COALESCE(close_time, open_time) <= ?
		ORDER BY open_time ASC
	`, symbol, r.timeframe, r.timeframe, start.UTC(), end.UTC())
	if err != nil {
		return 0, err
	}
	return data.MaxAdverseExcursion(candles, action), nil
}

// Count returns the total number of candles for a symbol/timeframe
func (r *CandleRepo) Count(ctx context.Context, symbol, timeframe string) (int64, error) {
	var count int64
	row := r.client.QueryRow(ctx,
		"SELECT COUNT(*) FROM candles WHERE symbol = ? AND timeframe = ?",
		symbol, timeframe,
	)
	err := row.Scan(&count)
	return count, err
}

func (r *CandleRepo) query(ctx context.Context, query string, args ...any) ([]model.Candle, error) {
	rows, err := r.client.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var closeTime sql.NullTime
		var open, high, low, volume sql.NullFloat64

		err := rows.Scan(
			&c.Symbol, &c.Timeframe, &c.OpenTime, &closeTime,
			&open, &high, &low, &c.Close, &volume,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}

		c.OpenTime = c.OpenTime.UTC()
		if closeTime.Valid {
			c.CloseTime = closeTime.Time.UTC()
		}
		c.Open, c.High, c.Low, c.Volume = open.Float64, high.Float64, low.Float64, volume.Float64

		candles = append(candles, c)
	}

	return candles, rows.Err()
}
