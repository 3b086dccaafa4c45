package duckdb

import (
	"context"
	"fmt"
	"time"

	"github.com/tunogya/fractal/pkg/drift"
	"github.com/tunogya/fractal/pkg/model"
)

// ConsensusRepo stores daily consensus snapshots. Past days are immutable once written; the
// current day may be rewritten.
type ConsensusRepo struct {
	client *Client
}

// NewConsensusRepo creates a new consensus repository
func NewConsensusRepo(client *Client) *ConsensusRepo {
	return &ConsensusRepo{client: client}
}

var _ drift.ConsensusStore = (*ConsensusRepo)(nil)

const selectConsensus = `
	SELECT symbol, date, source, consensus_index, drift_severity, dominance_tier, vol_regime,
		phase, phase_strength, updated_at
	FROM consensus_history`

// Upsert writes rec following drift.DecideUpsert inside one transaction
func (r *ConsensusRepo) Upsert(ctx context.Context, rec model.ConsensusHistoryRecord, now time.Time) (drift.UpsertResult, error) {
	tx, err := r.client.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM consensus_history WHERE symbol = ? AND date = ? AND source = ?",
		rec.Symbol, rec.Date, rec.Source,
	).Scan(&count)
	if err != nil {
		return "", fmt.Errorf("failed to query consensus: %w", err)
	}

	res, err := drift.DecideUpsert(rec.Date, count > 0, now)
	if err != nil || res == drift.UpsertImmutable {
		return res, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO consensus_history (symbol, date, source, consensus_index, drift_severity,
			dominance_tier, vol_regime, phase, phase_strength, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, date, source) DO UPDATE SET
			consensus_index = EXCLUDED.consensus_index,
			drift_severity = EXCLUDED.drift_severity,
			dominance_tier = EXCLUDED.dominance_tier,
			vol_regime = EXCLUDED.vol_regime,
			phase = EXCLUDED.phase,
			phase_strength = EXCLUDED.phase_strength,
			updated_at = EXCLUDED.updated_at
	`,
		rec.Symbol, rec.Date, rec.Source, rec.ConsensusIndex, rec.DriftSeverity,
		rec.DominanceTier, rec.VolRegime, rec.Phase, rec.PhaseStrength, rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to write consensus: %w", err)
	}
	return res, tx.Commit()
}

// Get returns one record
func (r *ConsensusRepo) Get(ctx context.Context, symbol, date, source string) (model.ConsensusHistoryRecord, error) {
	recs, err := r.query(ctx, selectConsensus+" WHERE symbol = ? AND date = ? AND source = ?", symbol, date, source)
	if err != nil {
		return model.ConsensusHistoryRecord{}, err
	}
	if len(recs) == 0 {
		return model.ConsensusHistoryRecord{}, fmt.Errorf("consensus %s %s %s: %w", symbol, date, source, model.ErrNotFound)
	}
	return recs[0], nil
}

// History returns records of symbol and source with dates in [fromDate, toDate]; empty bounds are open
func (r *ConsensusRepo) History(ctx context.Context, symbol, source, fromDate, toDate string) ([]model.ConsensusHistoryRecord, error) {
	return r.query(ctx, selectConsensus+`
		WHERE symbol = ? AND source = ? AND (? = '' OR date >= ?) AND (? = '' OR date <= ?)
		ORDER BY date
	`, symbol, source, fromDate, fromDate, toDate, toDate)
}

func (r *ConsensusRepo) query(ctx context.Context, query string, args ...any) ([]model.ConsensusHistoryRecord, error) {
	rows, err := r.client.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query consensus: %w", err)
	}
	defer rows.Close()

	var out []model.ConsensusHistoryRecord
	for rows.Next() {
		var rec model.ConsensusHistoryRecord
		err := rows.Scan(
			&rec.Symbol, &rec.Date, &rec.Source, &rec.ConsensusIndex, &rec.DriftSeverity,
			&rec.DominanceTier, &rec.VolRegime, &rec.Phase, &rec.PhaseStrength, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan consensus: %w", err)
		}
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
