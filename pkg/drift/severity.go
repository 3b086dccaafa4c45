package drift

import (
	"fmt"
	"strings"

	"github.com/tunogya/fractal/pkg/model"
)

// Severity is the drift state. Levels are ordered: OK < WATCH < WARN < CRITICAL.
type Severity int

const (
	SeverityOK Severity = iota
	SeverityWatch
	SeverityWarn
	SeverityCritical
)

var severityNames = [...]string{"OK", "WATCH", "WARN", "CRITICAL"}

// String returns the name of the severity
func (s Severity) String() string {
	if s < SeverityOK || s > SeverityCritical {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// MarshalText implements encoding.TextMarshaler
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSeverity parses a severity name
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if strings.EqualFold(n, name) {
			return Severity(i), nil
		}
	}
	return SeverityOK, fmt.Errorf("unknown drift severity %q: %w", name, model.ErrInvalidConfig)
}

// Escalate returns the more severe of s and to. Severity never moves down.
func (s Severity) Escalate(to Severity) Severity {
	if to > s {
		return to
	}
	return s
}

// Penalty is the share of the consensus index removed at this severity
func (s Severity) Penalty() float64 {
	switch s {
	case SeverityWatch:
		return 0.10
	case SeverityWarn:
		return 0.25
	case SeverityCritical:
		return 0.50
	default:
		return 0
	}
}

// Grade is the confidence in a drift evaluation, derived from sample sufficiency
type Grade string

const (
	GradeLow    Grade = "LOW"
	GradeMedium Grade = "MEDIUM"
	GradeHigh   Grade = "HIGH"
)

// Sample sufficiency levels
const (
	HighGradeSamples   = 100
	MediumGradeSamples = 30
)

// GradeFor grades an evaluation by the smaller of its live and vintage sample counts
func GradeFor(liveSamples, vintageSamples int) Grade {
	n := min(liveSamples, vintageSamples)
	switch {
	case n >= HighGradeSamples:
		return GradeHigh
	case n >= MediumGradeSamples:
		return GradeMedium
	default:
		return GradeLow
	}
}

// Level holds the degradation that must be reached on each dimension to enter a severity.
// Drops are vintage minus live; DrawdownRise is live minus vintage. Zero disables a dimension.
type Level struct {
	HitRateDrop    float64 `yaml:"hit_rate_drop" validate:"gte=0"`
	ExpectancyDrop float64 `yaml:"expectancy_drop" validate:"gte=0"`
	SharpeDrop     float64 `yaml:"sharpe_drop" validate:"gte=0"`
	DrawdownRise   float64 `yaml:"drawdown_rise" validate:"gte=0"`
}

// Thresholds configures severity escalation
type Thresholds struct {
	Watch          Level `yaml:"watch"`
	Warn           Level `yaml:"warn"`
	Critical       Level `yaml:"critical"`
	MinLiveSamples int   `yaml:"min_live_samples" default:"20" validate:"gt=0"`
}

// DefaultThresholds returns the default escalation thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		Watch:          Level{HitRateDrop: 0.05, ExpectancyDrop: 0.001, SharpeDrop: 0.10, DrawdownRise: 0.05},
		Warn:           Level{HitRateDrop: 0.10, ExpectancyDrop: 0.003, SharpeDrop: 0.25, DrawdownRise: 0.10},
		Critical:       Level{HitRateDrop: 0.15, ExpectancyDrop: 0.006, SharpeDrop: 0.50, DrawdownRise: 0.20},
		MinLiveSamples: 20,
	}
}

// Validate rejects negative thresholds and levels that are not ordered WATCH <= WARN <= CRITICAL
func (t Thresholds) Validate() error {
	if t.MinLiveSamples <= 0 {
		return fmt.Errorf("min live samples must be positive: %w", model.ErrInvalidConfig)
	}
	dims := []struct {
		name                  string
		watch, warn, critical float64
	}{
		{"hit_rate_drop", t.Watch.HitRateDrop, t.Warn.HitRateDrop, t.Critical.HitRateDrop},
		{"expectancy_drop", t.Watch.ExpectancyDrop, t.Warn.ExpectancyDrop, t.Critical.ExpectancyDrop},
		{"sharpe_drop", t.Watch.SharpeDrop, t.Warn.SharpeDrop, t.Critical.SharpeDrop},
		{"drawdown_rise", t.Watch.DrawdownRise, t.Warn.DrawdownRise, t.Critical.DrawdownRise},
	}
	enabled := false
	for _, d := range dims {
		if d.watch < 0 || d.warn < 0 || d.critical < 0 {
			return fmt.Errorf("%s thresholds must be non-negative: %w", d.name, model.ErrInvalidConfig)
		}
		if ordered(d.watch, d.warn) && ordered(d.warn, d.critical) && ordered(d.watch, d.critical) {
			enabled = enabled || d.watch > 0 || d.warn > 0 || d.critical > 0
			continue
		}
		return fmt.Errorf("%s thresholds must satisfy watch <= warn <= critical, got %g/%g/%g: %w",
			d.name, d.watch, d.warn, d.critical, model.ErrInvalidConfig)
	}
	if !enabled {
		return fmt.Errorf("every drift threshold is disabled: %w", model.ErrInvalidConfig)
	}
	return nil
}

// ordered compares two enabled thresholds; a disabled (zero) level does not constrain the other
func ordered(lower, upper float64) bool {
	return lower == 0 || upper == 0 || lower <= upper
}

// Classify returns the severity reached by a delta and the breaches that caused it
func (t Thresholds) Classify(d Delta) (Severity, []string) {
	sev := SeverityOK
	var breaches []string

	check := func(name string, degradation float64, pick func(Level) float64) {
		levels := []struct {
			sev Severity
			lvl Level
		}{
			{SeverityCritical, t.Critical},
			{SeverityWarn, t.Warn},
			{SeverityWatch, t.Watch},
		}
		for _, l := range levels {
			limit := pick(l.lvl)
			if limit > 0 && degradation >= limit {
				sev = sev.Escalate(l.sev)
				breaches = append(breaches, fmt.Sprintf("%s %.4f >= %s %.4f", name, degradation, l.sev, limit))
				return
			}
		}
	}

	check("hit_rate_drop", -d.HitRate, func(l Level) float64 { return l.HitRateDrop })
	check("expectancy_drop", -d.Expectancy, func(l Level) float64 { return l.ExpectancyDrop })
	check("sharpe_drop", -d.Sharpe, func(l Level) float64 { return l.SharpeDrop })
	check("drawdown_rise", d.MaxDrawdown, func(l Level) float64 { return l.DrawdownRise })

	return sev, breaches
}
