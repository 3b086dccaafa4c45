package model

import "time"

// Action is the decision of a verdict
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Risk is the risk tier of a verdict
type Risk string

const (
	RiskLow    Risk = "LOW"
	RiskMedium Risk = "MEDIUM"
	RiskHigh   Risk = "HIGH"
)

// HorizonCandidate is one horizon's sized proposal inside an ensemble run
type HorizonCandidate struct {
	Horizon         int     `json:"horizon"`
	ModelID         string  `json:"model_id"`
	ExpectedReturn  float64 `json:"expected_return"`
	Confidence      float64 `json:"confidence"`
	RawConfidence   float64 `json:"raw_confidence"`
	Action          Action  `json:"action"`
	Risk            Risk    `json:"risk"`
	PositionSizePct float64 `json:"position_size_pct"`
	Utility         float64 `json:"utility"`
	Degraded        bool    `json:"degraded"`
}

// VerdictAdjustment records a confidence modification applied by a hook
type VerdictAdjustment struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Horizon   int       `json:"horizon"`
	ModelID   string    `json:"model_id"`
	Source    string    `json:"source"`
	Modifier  float64   `json:"modifier"`
	Before    float64   `json:"before"`
	After     float64   `json:"after"`
	Delta     float64   `json:"delta"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Verdict is the final ensemble decision for a symbol
type Verdict struct {
	Symbol          string              `json:"symbol"`
	AsOf            time.Time           `json:"as_of"`
	Action          Action              `json:"action"`
	Confidence      float64             `json:"confidence"`
	Risk            Risk                `json:"risk"`
	PositionSizePct float64             `json:"position_size_pct"`
	Horizon         int                 `json:"horizon"`
	ModelID         string              `json:"model_id"`
	ExpectedReturn  float64             `json:"expected_return"`
	Candidates      []HorizonCandidate  `json:"candidates"`
	Adjustments     []VerdictAdjustment `json:"adjustments,omitempty"`
	Notes           []string            `json:"notes,omitempty"`
	Partial         bool                `json:"partial"`
	Errors          []string            `json:"errors,omitempty"`
}
