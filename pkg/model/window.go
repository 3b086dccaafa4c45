package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Representation names one shape view of a window used by multi-representation scoring
type Representation string

const (
	RepReturns    Representation = "returns"
	RepVolatility Representation = "volatility"
	RepDrawdown   Representation = "drawdown"
	RepMomentum   Representation = "momentum"
)

// AllRepresentations lists the representations in their canonical order
var AllRepresentations = []Representation{RepReturns, RepVolatility, RepDrawdown, RepMomentum}

// WindowVector is a normalized fixed-length window of log returns.
// Index ranges refer to positions in the log-return series: the window spans [StartIndex, EndIndex).
type WindowVector struct {
	ID            string                        `json:"id"`
	Length        int                           `json:"length"`
	Horizon       int                           `json:"horizon"`
	StartIndex    int                           `json:"start_index"`
	EndIndex      int                           `json:"end_index"`
	StartTime     time.Time                     `json:"start_time"`
	EndTime       time.Time                     `json:"end_time"`
	Vector        []float64                     `json:"vector"`
	Norm          float64                       `json:"norm"`
	ForwardReturn float64                       `json:"forward_return"`
	Reps          map[Representation][]float64 `json:"reps,omitempty"`
}

// GenerateWindowID creates a deterministic window ID
// Format: hash(symbol|tf|end|L|H)
func GenerateWindowID(symbol, timeframe string, end time.Time, length, horizon int) string {
	data := fmt.Sprintf("%s|%s|%d|%d|%d", symbol, timeframe, end.Unix(), length, horizon)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16])
}

// Overlaps reports whether the window shares any index with [start, end)
func (w *WindowVector) Overlaps(start, end int) bool {
	return w.StartIndex < end && start < w.EndIndex
}

// MultiRepConfig holds per-representation weights
type MultiRepConfig map[Representation]float64

// DefaultMultiRepConfig weights the returns shape highest
func DefaultMultiRepConfig() MultiRepConfig {
	return MultiRepConfig{
		RepReturns:    0.5,
		RepVolatility: 0.2,
		RepDrawdown:   0.2,
		RepMomentum:   0.1,
	}
}

// Normalized returns a copy whose positive weights sum to 1. Negative weights are dropped.
func (c MultiRepConfig) Normalized() MultiRepConfig {
	total := 0.0
	for _, w := range c {
		if w > 0 {
			total += w
		}
	}
	out := make(MultiRepConfig, len(c))
	if total == 0 {
		return out
	}
	for rep, w := range c {
		if w > 0 {
			out[rep] = w / total
		}
	}
	return out
}

// AnalogMatch is a historical window retrieved for a query, with its realized outcome
type AnalogMatch struct {
	Window        *WindowVector `json:"-"`
	Similarity    float64       `json:"similarity"`
	ForwardReturn float64       `json:"forward_return"`
	EndIndex      int           `json:"end_index"`
	EndTime       time.Time     `json:"end_time"`
	Weight        float64       `json:"weight"`
}
