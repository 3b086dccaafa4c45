package model

import (
	"fmt"
	"time"
)

// Direction is the sign of an expected or realized move
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
	DirectionFlat Direction = "FLAT"
)

// FlatEpsilon is the magnitude below which a return counts as flat
const FlatEpsilon = 1e-12

// DirectionOf classifies a return by sign
func DirectionOf(ret float64) Direction {
	switch {
	case ret > FlatEpsilon:
		return DirectionUp
	case ret < -FlatEpsilon:
		return DirectionDown
	default:
		return DirectionFlat
	}
}

// Sign returns +1, -1 or 0
func (d Direction) Sign() float64 {
	switch d {
	case DirectionUp:
		return 1
	case DirectionDown:
		return -1
	default:
		return 0
	}
}

// DayLayout is the calendar-day format used in record keys
const DayLayout = "2006-01-02"

// Day truncates a timestamp to its UTC calendar day string
func Day(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// ForecastKey identifies a forecast point. At most one point exists per key.
type ForecastKey struct {
	Symbol  string `json:"symbol"`
	ModelID string `json:"model_id"`
	Horizon int    `json:"horizon"`
	Day     string `json:"day"`
}

// String renders the key for logs and coalescing
func (k ForecastKey) String() string {
	return fmt.Sprintf("%s|%s|%d|%s", k.Symbol, k.ModelID, k.Horizon, k.Day)
}

// ForecastPoint is an immutable per-day forecast record
type ForecastPoint struct {
	Symbol          string    `json:"symbol"`
	ModelID         string    `json:"model_id"`
	Horizon         int       `json:"horizon"`
	Day             string    `json:"day"`
	BasePrice       float64   `json:"base_price"`
	BaseTime        time.Time `json:"base_time,omitempty"`
	ExpectedMovePct float64   `json:"expected_move_pct"`
	Direction       Direction `json:"direction"`
	Confidence      float64   `json:"confidence"`
	VolatilityPct   float64   `json:"volatility_pct"`
	ProbUp          float64   `json:"prob_up"`
	Entropy         float64   `json:"entropy"`
	Samples         int       `json:"samples"`
	Insufficient    bool      `json:"insufficient"`
	Provenance      string    `json:"provenance"`
	CreatedAt       time.Time `json:"created_at"`
}

// Key returns the unique key of the point
func (p *ForecastPoint) Key() ForecastKey {
	return ForecastKey{Symbol: p.Symbol, ModelID: p.ModelID, Horizon: p.Horizon, Day: p.Day}
}

// BaseDay returns the UTC day of the bar that priced BasePrice. Points recorded without a
// base bar time fall back to their forecast day.
func (p *ForecastPoint) BaseDay() (time.Time, error) {
	if !p.BaseTime.IsZero() {
		return p.BaseTime.UTC().Truncate(24 * time.Hour), nil
	}
	day, err := time.Parse(DayLayout, p.Day)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid forecast day %q: %w", p.Day, err)
	}
	return day, nil
}

// TargetTime returns the open of the target bar, Horizon daily bars after the base bar
func (p *ForecastPoint) TargetTime() (time.Time, error) {
	base, err := p.BaseDay()
	if err != nil {
		return time.Time{}, err
	}
	return base.AddDate(0, 0, p.Horizon), nil
}

// DueTime returns when the target bar has closed and the point can be resolved
func (p *ForecastPoint) DueTime() (time.Time, error) {
	target, err := p.TargetTime()
	if err != nil {
		return time.Time{}, err
	}
	return target.Add(24 * time.Hour), nil
}

// PredictionRequest is the input handed to every horizon predictor
type PredictionRequest struct {
	Symbol    string
	Timeframe string
	Horizon   int
	AsOf      time.Time
	Candles   []Candle
	Regime    string
}

// HorizonPrediction is the output of one horizon predictor
type HorizonPrediction struct {
	Horizon        int       `json:"horizon"`
	ModelID        string    `json:"model_id"`
	ExpectedReturn float64   `json:"expected_return"`
	Confidence     float64   `json:"confidence"`
	ProbUp         float64   `json:"prob_up"`
	Entropy        float64   `json:"entropy"`
	Samples        int       `json:"samples"`
	Insufficient   bool      `json:"insufficient"`
	Volatility     float64   `json:"volatility"`
	BasePrice      float64   `json:"base_price"`
	BaseTime       time.Time `json:"base_time,omitempty"`
	Notes          []string  `json:"notes,omitempty"`
}

// Outcome cohorts
const (
	CohortLive    = "LIVE"
	CohortVintage = "VINTAGE"
)

// Outcome is the realized result of a live or replayed forecast
type Outcome struct {
	Key            ForecastKey `json:"key"`
	Cohort         string      `json:"cohort"`
	AsOf           time.Time   `json:"as_of"`
	Horizon        int         `json:"horizon"`
	Direction      Direction   `json:"direction"`
	Confidence     float64     `json:"confidence"`
	ExpectedReturn float64     `json:"expected_return"`
	RealizedReturn float64     `json:"realized_return"`
	MaxDrawdown    float64     `json:"max_drawdown"`
	Hit            bool        `json:"hit"`
	ResolvedAt     time.Time   `json:"resolved_at"`
}

// SignedReturn is the realized return in the direction of the call (0 for flat calls)
func (o *Outcome) SignedReturn() float64 {
	return o.Direction.Sign() * o.RealizedReturn
}
