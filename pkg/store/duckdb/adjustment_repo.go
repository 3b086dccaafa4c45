package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/verdict"
)

// AdjustmentRepo is the audit trail of confidence adjustments applied by verdict hooks
type AdjustmentRepo struct {
	client *Client
}

// NewAdjustmentRepo creates a new adjustment repository
func NewAdjustmentRepo(client *Client) *AdjustmentRepo {
	return &AdjustmentRepo{client: client}
}

var _ verdict.AdjustmentSink = (*AdjustmentRepo)(nil)

// RecordAdjustments inserts adjustments in a transaction
func (r *AdjustmentRepo) RecordAdjustments(ctx context.Context, adjustments []model.VerdictAdjustment) error {
	if len(adjustments) == 0 {
		return nil
	}

	tx, err := r.client.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO verdict_adjustments (id, symbol, horizon, model_id, source, modifier,
			before_confidence, after_confidence, delta, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, a := range adjustments {
		_, err := stmt.ExecContext(ctx,
			a.ID, a.Symbol, a.Horizon, a.ModelID, a.Source, a.Modifier,
			a.Before, a.After, a.Delta, a.Notes, a.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert adjustment %s: %w", a.ID, err)
		}
	}

	return tx.Commit()
}

// List returns the adjustments of a symbol, oldest first
func (r *AdjustmentRepo) List(ctx context.Context, symbol string) ([]model.VerdictAdjustment, error) {
	rows, err := r.client.Query(ctx, `
		SELECT id, symbol, horizon, model_id, source, modifier, before_confidence, after_confidence,
			delta, notes, created_at
		FROM verdict_adjustments
		WHERE symbol = ?
		ORDER BY created_at, id
	`, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjustments: %w", err)
	}
	defer rows.Close()

	var out []model.VerdictAdjustment
	for rows.Next() {
		var a model.VerdictAdjustment
		var notes sql.NullString
		err := rows.Scan(
			&a.ID, &a.Symbol, &a.Horizon, &a.ModelID, &a.Source, &a.Modifier,
			&a.Before, &a.After, &a.Delta, &notes, &a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		a.Notes = notes.String
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
