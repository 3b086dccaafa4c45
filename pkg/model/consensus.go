package model

import "time"

// ConsensusHistoryRecord is a daily consensus snapshot keyed by (symbol, date, source)
type ConsensusHistoryRecord struct {
	Symbol         string    `json:"symbol"`
	Date           string    `json:"date"`
	Source         string    `json:"source"`
	ConsensusIndex float64   `json:"consensus_index"`
	DriftSeverity  string    `json:"drift_severity"`
	DominanceTier  string    `json:"dominance_tier"`
	VolRegime      string    `json:"vol_regime"`
	Phase          string    `json:"phase"`
	PhaseStrength  float64   `json:"phase_strength"`
	UpdatedAt      time.Time `json:"updated_at"`
}
