package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/window"
)

// WindowRepo tracks the windows already pushed to the vector store so backfills are incremental
type WindowRepo struct {
	client *Client
}

// NewWindowRepo creates a new window repository
func NewWindowRepo(client *Client) *WindowRepo {
	return &WindowRepo{client: client}
}

// InsertBatch records windows of one series in a transaction. Known windows are skipped.
// It returns how many windows were new.
func (r *WindowRepo) InsertBatch(ctx context.Context, symbol, timeframe string, windows []*model.WindowVector) (int, error) {
	tx, err := r.client.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO windows (window_id, symbol, timeframe, length, horizon, start_index, end_index, end_time, forward_return)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (window_id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, w := range windows {
		res, err := stmt.ExecContext(ctx,
			w.ID, symbol, timeframe, w.Length, w.Horizon, w.StartIndex, w.EndIndex, w.EndTime.UTC(), w.ForwardReturn,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert window: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	return inserted, tx.Commit()
}

// Exists checks if a window exists by ID
func (r *WindowRepo) Exists(ctx context.Context, windowID string) (bool, error) {
	var count int
	row := r.client.QueryRow(ctx, "SELECT COUNT(*) FROM windows WHERE window_id = ?", windowID)
	err := row.Scan(&count)
	return count > 0, err
}

// LatestEnd returns the end time of the newest recorded window of a series and spec.
// The zero time means nothing has been recorded yet.
func (r *WindowRepo) LatestEnd(ctx context.Context, symbol, timeframe string, spec window.Spec) (time.Time, error) {
	var end sql.NullTime
	err := r.client.QueryRow(ctx, `
		SELECT MAX(end_time) FROM windows
		WHERE symbol = ? AND timeframe = ? AND length = ? AND horizon = ?
	`, symbol, timeframe, spec.Length, spec.Horizon).Scan(&end)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest window: %w", err)
	}
	if !end.Valid {
		return time.Time{}, nil
	}
	return end.Time.UTC(), nil
}

// Count returns the number of recorded windows of a series and spec
func (r *WindowRepo) Count(ctx context.Context, symbol, timeframe string, spec window.Spec) (int64, error) {
	var count int64
	row := r.client.QueryRow(ctx,
		"SELECT COUNT(*) FROM windows WHERE symbol = ? AND timeframe = ? AND length = ? AND horizon = ?",
		symbol, timeframe, spec.Length, spec.Horizon,
	)
	err := row.Scan(&count)
	return count, err
}
