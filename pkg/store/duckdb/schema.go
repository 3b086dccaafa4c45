package duckdb

import (
	"context"
	"fmt"
)

// CreateCandlesTable creates the candles fact table
const CreateCandlesTable = `
CREATE TABLE IF NOT EXISTS candles (
    symbol VARCHAR NOT NULL,
    timeframe VARCHAR NOT NULL,
    open_time TIMESTAMP NOT NULL,
    close_time TIMESTAMP,
    open DOUBLE,
    high DOUBLE,
    low DOUBLE,
    close DOUBLE NOT NULL,
    volume DOUBLE,
    PRIMARY KEY (symbol, timeframe, open_time)
);
`

// CreateWindowsTable records which windows have been pushed to the vector store
const CreateWindowsTable = `
CREATE TABLE IF NOT EXISTS windows (
    window_id VARCHAR PRIMARY KEY,
    symbol VARCHAR NOT NULL,
    timeframe VARCHAR NOT NULL,
    length INTEGER NOT NULL,
    horizon INTEGER NOT NULL,
    start_index INTEGER NOT NULL,
    end_index INTEGER NOT NULL,
    end_time TIMESTAMP NOT NULL,
    forward_return DOUBLE NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// CreateForecastPointsTable creates the append-only forecast table
const CreateForecastPointsTable = `
CREATE TABLE IF NOT EXISTS forecast_points (
    symbol VARCHAR NOT NULL,
    model_id VARCHAR NOT NULL,
    horizon INTEGER NOT NULL,
    day VARCHAR NOT NULL,
    base_price DOUBLE NOT NULL,
    base_time TIMESTAMP,
    expected_move_pct DOUBLE NOT NULL,
    direction VARCHAR NOT NULL,
    confidence DOUBLE NOT NULL,
    volatility_pct DOUBLE NOT NULL,
    prob_up DOUBLE NOT NULL DEFAULT 0,
    entropy DOUBLE NOT NULL DEFAULT 0,
    samples INTEGER NOT NULL DEFAULT 0,
    insufficient BOOLEAN NOT NULL DEFAULT false,
    provenance VARCHAR,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (symbol, model_id, horizon, day)
);
`

// CreateOutcomesTable creates the resolved outcome table
const CreateOutcomesTable = `
CREATE TABLE IF NOT EXISTS outcomes (
    symbol VARCHAR NOT NULL,
    model_id VARCHAR NOT NULL,
    horizon INTEGER NOT NULL,
    day VARCHAR NOT NULL,
    cohort VARCHAR NOT NULL,
    as_of TIMESTAMP NOT NULL,
    direction VARCHAR NOT NULL,
    confidence DOUBLE NOT NULL,
    expected_return DOUBLE NOT NULL,
    realized_return DOUBLE NOT NULL,
    max_drawdown DOUBLE NOT NULL,
    hit BOOLEAN NOT NULL,
    resolved_at TIMESTAMP NOT NULL,
    PRIMARY KEY (symbol, model_id, horizon, day)
);
`

// CreateConsensusHistoryTable creates the daily consensus snapshot table
const CreateConsensusHistoryTable = `
CREATE TABLE IF NOT EXISTS consensus_history (
    symbol VARCHAR NOT NULL,
    date VARCHAR NOT NULL,
    source VARCHAR NOT NULL,
    consensus_index DOUBLE NOT NULL,
    drift_severity VARCHAR NOT NULL,
    dominance_tier VARCHAR NOT NULL,
    vol_regime VARCHAR NOT NULL,
    phase VARCHAR NOT NULL,
    phase_strength DOUBLE NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (symbol, date, source)
);
`

// CreateVerdictAdjustmentsTable creates the confidence adjustment audit table
const CreateVerdictAdjustmentsTable = `
CREATE TABLE IF NOT EXISTS verdict_adjustments (
    id VARCHAR PRIMARY KEY,
    symbol VARCHAR NOT NULL,
    horizon INTEGER NOT NULL,
    model_id VARCHAR NOT NULL,
    source VARCHAR NOT NULL,
    modifier DOUBLE NOT NULL,
    before_confidence DOUBLE NOT NULL,
    after_confidence DOUBLE NOT NULL,
    delta DOUBLE NOT NULL,
    notes VARCHAR,
    created_at TIMESTAMP NOT NULL
);
`

var tables = []string{
	"verdict_adjustments",
	"consensus_history",
	"outcomes",
	"forecast_points",
	"windows",
	"candles",
}

// InitializeSchema creates all required tables
func InitializeSchema(ctx context.Context, c *Client) error {
	schemas := []string{
		CreateCandlesTable,
		CreateWindowsTable,
		CreateForecastPointsTable,
		CreateOutcomesTable,
		CreateConsensusHistoryTable,
		CreateVerdictAdjustmentsTable,
	}

	for _, schema := range schemas {
		if _, err := c.Exec(ctx, schema); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

// DropAllTables drops all tables (use with caution)
func DropAllTables(ctx context.Context, c *Client) error {
	for _, table := range tables {
		if _, err := c.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}
	return nil
}
