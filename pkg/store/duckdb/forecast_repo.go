package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tunogya/fractal/pkg/forecast"
	"github.com/tunogya/fractal/pkg/model"
)

// ForecastRepo stores forecast points and their outcomes. Both tables are append-only:
// a second write for an existing key changes nothing and reports false.
type ForecastRepo struct {
	client *Client
}

// NewForecastRepo creates a new forecast repository
func NewForecastRepo(client *Client) *ForecastRepo {
	return &ForecastRepo{client: client}
}

var _ forecast.Store = (*ForecastRepo)(nil)

const selectPoint = `
	SELECT symbol, model_id, horizon, day, base_price, base_time, expected_move_pct, direction,
		confidence, volatility_pct, prob_up, entropy, samples, insufficient, provenance, created_at
	FROM forecast_points`

// Append inserts p unless its key exists
func (r *ForecastRepo) Append(ctx context.Context, p model.ForecastPoint) (bool, error) {
	n, err := r.client.Exec(ctx, `
		INSERT INTO forecast_points (symbol, model_id, horizon, day, base_price, base_time,
			expected_move_pct, direction, confidence, volatility_pct, prob_up, entropy, samples,
			insufficient, provenance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, model_id, horizon, day) DO NOTHING
	`,
		p.Symbol, p.ModelID, p.Horizon, p.Day, p.BasePrice, nullTime(p.BaseTime),
		p.ExpectedMovePct, string(p.Direction), p.Confidence, p.VolatilityPct, p.ProbUp, p.Entropy, p.Samples,
		p.Insufficient, p.Provenance, p.CreatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert forecast %s: %w", p.Key(), err)
	}
	return n > 0, nil
}

// Get returns the point stored under key
func (r *ForecastRepo) Get(ctx context.Context, key model.ForecastKey) (model.ForecastPoint, error) {
	rows, err := r.client.Query(ctx, selectPoint+`
		WHERE symbol = ? AND model_id = ? AND horizon = ? AND day = ?
	`, key.Symbol, key.ModelID, key.Horizon, key.Day)
	if err != nil {
		return model.ForecastPoint{}, fmt.Errorf("failed to query forecast: %w", err)
	}
	points, err := scanPoints(rows)
	if err != nil {
		return model.ForecastPoint{}, err
	}
	if len(points) == 0 {
		return model.ForecastPoint{}, fmt.Errorf("forecast %s: %w", key, model.ErrNotFound)
	}
	return points[0], nil
}

// ListUnresolved returns points without an outcome whose target bar has closed by now
func (r *ForecastRepo) ListUnresolved(ctx context.Context, now time.Time) ([]model.ForecastPoint, error) {
	rows, err := r.client.Query(ctx, `
		SELECT p.symbol, p.model_id, p.horizon, p.day, p.base_price, p.base_time, p.expected_move_pct,
			p.direction, p.confidence, p.volatility_pct, p.prob_up, p.entropy, p.samples, p.insufficient,
			p.provenance, p.created_at
		FROM forecast_points p
		LEFT JOIN outcomes o
			ON o.symbol = p.symbol AND o.model_id = p.model_id AND o.horizon = p.horizon AND o.day = p.day
		WHERE o.symbol IS NULL
		ORDER BY p.day, p.symbol, p.model_id, p.horizon
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unresolved forecasts: %w", err)
	}
	points, err := scanPoints(rows)
	if err != nil {
		return nil, err
	}

	due := points[:0]
	for _, p := range points {
		dueAt, err := p.DueTime()
		if err != nil || dueAt.After(now) {
			continue
		}
		due = append(due, p)
	}
	return due, nil
}

func scanPoints(rows *sql.Rows) ([]model.ForecastPoint, error) {
	defer rows.Close()

	var points []model.ForecastPoint
	for rows.Next() {
		var p model.ForecastPoint
		var direction string
		var provenance sql.NullString
		var baseTime sql.NullTime
		err := rows.Scan(
			&p.Symbol, &p.ModelID, &p.Horizon, &p.Day, &p.BasePrice, &baseTime, &p.ExpectedMovePct,
			&direction, &p.Confidence, &p.VolatilityPct, &p.ProbUp, &p.Entropy, &p.Samples, &p.Insufficient,
			&provenance, &p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan forecast: %w", err)
		}
		if baseTime.Valid {
			p.BaseTime = baseTime.Time.UTC()
		}
		p.Direction = model.Direction(direction)
		p.Provenance = provenance.String
		p.CreatedAt = p.CreatedAt.UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}

// SaveOutcome inserts o unless an outcome exists for its key
func (r *ForecastRepo) SaveOutcome(ctx context.Context, o model.Outcome) (bool, error) {
	n, err := r.client.Exec(ctx, `
		INSERT INTO outcomes (symbol, model_id, horizon, day, cohort, as_of, direction, confidence,
			expected_return, realized_return, max_drawdown, hit, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, model_id, horizon, day) DO NOTHING
	`,
		o.Key.Symbol, o.Key.ModelID, o.Key.Horizon, o.Key.Day, o.Cohort, o.AsOf.UTC(), string(o.Direction),
		o.Confidence, o.ExpectedReturn, o.RealizedReturn, o.MaxDrawdown, o.Hit, o.ResolvedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert outcome %s: %w", o.Key, err)
	}
	return n > 0, nil
}

// Outcomes returns outcomes of symbol with AsOf in [from, to]; zero bounds are open and an
// empty symbol matches all
func (r *ForecastRepo) Outcomes(ctx context.Context, symbol string, from, to time.Time) ([]model.Outcome, error) {
	query := `
		SELECT symbol, model_id, horizon, day, cohort, as_of, direction, confidence,
			expected_return, realized_return, max_drawdown, hit, resolved_at
		FROM outcomes
		WHERE 1 = 1`
	var args []any
	if symbol != "" {
		query += " AND symbol = ?"
		args = append(args, symbol)
	}
	if !from.IsZero() {
		query += " AND as_of >= ?"
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += " AND as_of <= ?"
		args = append(args, to.UTC())
	}
	query += " ORDER BY as_of, symbol, model_id, horizon, day"

	rows, err := r.client.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var out []model.Outcome
	for rows.Next() {
		var o model.Outcome
		var direction string
		err := rows.Scan(
			&o.Key.Symbol, &o.Key.ModelID, &o.Key.Horizon, &o.Key.Day, &o.Cohort, &o.AsOf, &direction,
			&o.Confidence, &o.ExpectedReturn, &o.RealizedReturn, &o.MaxDrawdown, &o.Hit, &o.ResolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Direction = model.Direction(direction)
		o.Horizon = o.Key.Horizon
		o.AsOf, o.ResolvedAt = o.AsOf.UTC(), o.ResolvedAt.UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

// SaveVintage stores replayed outcomes, skipping keys already present. It returns how many
// were new.
func (r *ForecastRepo) SaveVintage(ctx context.Context, outcomes []model.Outcome) (int, error) {
	inserted := 0
	for _, o := range outcomes {
		if o.Cohort != model.CohortVintage {
			return inserted, fmt.Errorf("outcome %s has cohort %s: %w", o.Key, o.Cohort, model.ErrInvalidConfig)
		}
		ok, err := r.SaveOutcome(ctx, o)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// Vintage returns the VINTAGE outcomes of a symbol
func (r *ForecastRepo) Vintage(ctx context.Context, symbol string) ([]model.Outcome, error) {
	all, err := r.Outcomes(ctx, symbol, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, o := range all {
		if o.Cohort == model.CohortVintage {
			out = append(out, o)
		}
	}
	return out, nil
}
