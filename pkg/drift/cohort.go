package drift

import (
	"fmt"
	"time"

	"github.com/tunogya/fractal/pkg/model"
)

// Cohort is a vintage band of calendar years, inclusive on both ends
type Cohort struct {
	Name     string `yaml:"name"`
	FromYear int    `yaml:"from_year" validate:"gt=0"`
	ToYear   int    `yaml:"to_year" validate:"gtefield=FromYear"`
}

// DefaultCohorts returns the standard three-year vintage bands
func DefaultCohorts() []Cohort {
	return []Cohort{
		{Name: "V2014_2016", FromYear: 2014, ToYear: 2016},
		{Name: "V2017_2019", FromYear: 2017, ToYear: 2019},
		{Name: "V2020_2022", FromYear: 2020, ToYear: 2022},
		{Name: "V2023_2025", FromYear: 2023, ToYear: 2025},
	}
}

// Contains reports whether t falls into the cohort's years
func (c Cohort) Contains(t time.Time) bool {
	y := t.UTC().Year()
	return y >= c.FromYear && y <= c.ToYear
}

// ValidateCohorts rejects empty, inverted or duplicate bands
func ValidateCohorts(cohorts []Cohort) error {
	if len(cohorts) == 0 {
		return fmt.Errorf("at least one vintage cohort is required: %w", model.ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(cohorts))
	for _, c := range cohorts {
		if c.Name == "" {
			return fmt.Errorf("cohort %d-%d has no name: %w", c.FromYear, c.ToYear, model.ErrInvalidConfig)
		}
		if c.FromYear > c.ToYear {
			return fmt.Errorf("cohort %s starts after it ends: %w", c.Name, model.ErrInvalidConfig)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("duplicate cohort %s: %w", c.Name, model.ErrInvalidConfig)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// SplitVintage assigns vintage outcomes to cohorts by the year of their AsOf.
// Outcomes outside every band are dropped; overlapping bands share outcomes.
func SplitVintage(outcomes []model.Outcome, cohorts []Cohort) map[string][]model.Outcome {
	out := make(map[string][]model.Outcome, len(cohorts))
	for _, o := range outcomes {
		for _, c := range cohorts {
			if c.Contains(o.AsOf) {
				out[c.Name] = append(out[c.Name], o)
			}
		}
	}
	return out
}
