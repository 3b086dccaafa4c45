// Package sweep calibrates the drawdown governor over walk-forward analog backtests.
package sweep

import (
	"fmt"
	"time"

	"github.com/tunogya/fractal/pkg/model"
)

// Params is the search space and acceptance criteria of a sweep
type Params struct {
	FromDate       time.Time `yaml:"from_date"`
	ToDate         time.Time `yaml:"to_date"`
	Iterations     int       `yaml:"iterations" default:"500"`
	WindowLengths  []int     `yaml:"window_lengths"`
	WarnThresholds []float64 `yaml:"warn_thresholds"`
	HardThresholds []float64 `yaml:"hard_thresholds"`
	MinScale       []float64 `yaml:"min_scale"`
	EMASmoothing   []float64 `yaml:"ema_smoothing"`
	MinTrades      int       `yaml:"min_trades" default:"30"`
	MinSharpe      float64   `yaml:"min_sharpe"`
	Horizon        int       `yaml:"horizon" default:"7"`
	TopK           int       `yaml:"top_k" default:"25"`
	MinAnalogs     int       `yaml:"min_analogs" default:"10"`
	Temperature    float64   `yaml:"temperature" default:"0.1"`
	AllowShort     bool      `yaml:"allow_short"`
	Seed           uint64    `yaml:"seed" default:"42"`
}

// DefaultParams returns a small grid around the usual governor settings
func DefaultParams() Params {
	return Params{
		Iterations:     500,
		WindowLengths:  []int{30, 60},
		WarnThresholds: []float64{0.05, 0.10},
		HardThresholds: []float64{0.20, 0.30},
		MinScale:       []float64{0.25, 0.5},
		EMASmoothing:   []float64{0.3, 1.0},
		MinTrades:      30,
		Horizon:        7,
		TopK:           25,
		MinAnalogs:     10,
		Temperature:    0.1,
		Seed:           42,
	}
}

// Validate rejects empty or contradictory parameters before anything runs
func (p Params) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf(format+": %w", append(args, model.ErrInvalidConfig)...)
	}

	if !p.FromDate.IsZero() && !p.ToDate.IsZero() && !p.FromDate.Before(p.ToDate) {
		return invalid("from date %s must be before to date %s", model.Day(p.FromDate), model.Day(p.ToDate))
	}
	if p.Iterations <= 0 {
		return invalid("iterations must be positive, got %d", p.Iterations)
	}
	if p.Horizon <= 0 || p.TopK <= 0 || p.MinAnalogs <= 0 {
		return invalid("horizon, top_k and min_analogs must be positive")
	}
	if p.MinTrades < 0 {
		return invalid("min trades must not be negative")
	}
	if p.Temperature <= 0 {
		return invalid("temperature must be positive")
	}

	switch {
	case len(p.WindowLengths) == 0:
		return invalid("window_lengths is empty")
	case len(p.WarnThresholds) == 0:
		return invalid("warn_thresholds is empty")
	case len(p.HardThresholds) == 0:
		return invalid("hard_thresholds is empty")
	case len(p.MinScale) == 0:
		return invalid("min_scale is empty")
	case len(p.EMASmoothing) == 0:
		return invalid("ema_smoothing is empty")
	}

	for _, l := range p.WindowLengths {
		if l <= 1 {
			return invalid("window length %d is too short", l)
		}
	}
	for _, w := range p.WarnThresholds {
		if w <= 0 || w >= 1 {
			return invalid("warn threshold %g must be in (0,1)", w)
		}
		for _, h := range p.HardThresholds {
			if w >= h {
				return invalid("warn threshold %g is not below hard threshold %g", w, h)
			}
		}
	}
	for _, h := range p.HardThresholds {
		if h <= 0 || h >= 1 {
			return invalid("hard threshold %g must be in (0,1)", h)
		}
	}
	for _, s := range p.MinScale {
		if s < 0 || s > 1 {
			return invalid("min scale %g must be in [0,1]", s)
		}
	}
	for _, a := range p.EMASmoothing {
		if a <= 0 || a > 1 {
			return invalid("ema smoothing %g must be in (0,1]", a)
		}
	}
	return nil
}

// Governor scales exposure down as drawdown grows from Warn to Hard
type Governor struct {
	Warn         float64 `json:"warn"`
	Hard         float64 `json:"hard"`
	MinScale     float64 `json:"min_scale"`
	EMASmoothing float64 `json:"ema_smoothing"`
}

// Target returns the exposure wanted at a drawdown: 1 below Warn, MinScale from Hard on,
// linear in between
func (g Governor) Target(drawdown float64) float64 {
	switch {
	case drawdown <= g.Warn:
		return 1
	case drawdown >= g.Hard:
		return g.MinScale
	default:
		frac := (drawdown - g.Warn) / (g.Hard - g.Warn)
		return 1 - frac*(1-g.MinScale)
	}
}

// grid enumerates every governor of the parameter space
func (p Params) grid() []Governor {
	var out []Governor
	for _, w := range p.WarnThresholds {
		for _, h := range p.HardThresholds {
			for _, s := range p.MinScale {
				for _, a := range p.EMASmoothing {
					out = append(out, Governor{Warn: w, Hard: h, MinScale: s, EMASmoothing: a})
				}
			}
		}
	}
	return out
}
