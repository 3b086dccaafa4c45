// Package drift compares live forecast performance against historical vintage cohorts and
// keeps the daily consensus log.
package drift

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunogya/fractal/pkg/metrics"
	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/verdict"
)

// DefaultLiveCapacity is the number of live outcomes kept per symbol
const DefaultLiveCapacity = 500

// CohortReport is the comparison of live metrics with one vintage cohort
type CohortReport struct {
	Cohort   Cohort   `json:"cohort"`
	Metrics  Metrics  `json:"metrics"`
	Delta    Delta    `json:"delta"`
	Severity Severity `json:"severity"`
	Breaches []string `json:"breaches,omitempty"`
}

// IntelReport is a drift evaluation of one symbol
type IntelReport struct {
	Symbol       string         `json:"symbol"`
	AsOf         time.Time      `json:"as_of"`
	Live         Metrics        `json:"live"`
	Cohorts      []CohortReport `json:"cohorts"`
	Severity     Severity       `json:"severity"`
	Grade        Grade          `json:"grade"`
	Insufficient bool           `json:"insufficient"`
	Notes        []string       `json:"notes,omitempty"`
}

// Monitor keeps a rolling buffer of live outcomes per symbol and evaluates drift against vintage
type Monitor struct {
	thresholds Thresholds
	cohorts    []Cohort
	capacity   int
	metrics    *metrics.Recorder
	now        func() time.Time
	log        zerolog.Logger

	mu      sync.RWMutex
	live    map[string]*RingBuffer
	reports map[string]IntelReport
	streaks map[string]int
}

// NewMonitor validates the configuration and creates a monitor
func NewMonitor(thresholds Thresholds, cohorts []Cohort, capacity int, rec *metrics.Recorder, log zerolog.Logger) (*Monitor, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateCohorts(cohorts); err != nil {
		return nil, err
	}
	if capacity <= 0 {
		capacity = DefaultLiveCapacity
	}
	return &Monitor{
		thresholds: thresholds,
		cohorts:    cohorts,
		capacity:   capacity,
		metrics:    rec,
		now:        time.Now,
		log:        log.With().Str("component", "drift").Logger(),
		live:       make(map[string]*RingBuffer),
		reports:    make(map[string]IntelReport),
		streaks:    make(map[string]int),
	}, nil
}

// Observe adds a resolved live outcome
func (m *Monitor) Observe(o model.Outcome) {
	m.mu.Lock()
	buf, ok := m.live[o.Key.Symbol]
	if !ok {
		buf = NewRingBuffer(m.capacity)
		m.live[o.Key.Symbol] = buf
	}
	m.mu.Unlock()

	buf.Push(o)
}

// Reset drops the buffered live outcomes of a symbol
func (m *Monitor) Reset(symbol string) {
	m.mu.RLock()
	buf, ok := m.live[symbol]
	m.mu.RUnlock()
	if ok {
		buf.Clear()
	}
}

// Live returns the buffered live outcomes of a symbol, oldest first
func (m *Monitor) Live(symbol string) []model.Outcome {
	m.mu.RLock()
	buf, ok := m.live[symbol]
	m.mu.RUnlock()
	if !ok || buf.Size() == 0 {
		return nil
	}
	return buf.ToSlice()
}

// Evaluate compares the live buffer of symbol with the vintage outcomes split into cohorts.
// Severity escalates across dimensions and cohorts and never moves down within one evaluation.
func (m *Monitor) Evaluate(symbol string, vintage []model.Outcome) IntelReport {
	live := m.Live(symbol)
	report := IntelReport{
		Symbol:   symbol,
		AsOf:     m.now(),
		Live:     ComputeMetrics(live),
		Severity: SeverityOK,
	}

	byCohort := SplitVintage(vintage, m.cohorts)
	vintageSamples := 0
	for _, c := range m.cohorts {
		outcomes := byCohort[c.Name]
		if len(outcomes) == 0 {
			report.Notes = append(report.Notes, fmt.Sprintf("cohort %s has no vintage outcomes", c.Name))
			continue
		}
		vm := ComputeMetrics(outcomes)
		vintageSamples += vm.Samples

		cr := CohortReport{Cohort: c, Metrics: vm, Delta: report.Live.Sub(vm)}
		if vm.Samples > 0 && report.Live.Samples > 0 {
			cr.Severity, cr.Breaches = m.thresholds.Classify(cr.Delta)
		}
		report.Severity = report.Severity.Escalate(cr.Severity)
		report.Cohorts = append(report.Cohorts, cr)
	}

	if report.Live.Samples < m.thresholds.MinLiveSamples {
		report.Insufficient = true
		if report.Severity > SeverityWatch {
			report.Notes = append(report.Notes, fmt.Sprintf("severity %s capped at WATCH: %d live samples < %d",
				report.Severity, report.Live.Samples, m.thresholds.MinLiveSamples))
			report.Severity = SeverityWatch
		}
	}
	report.Grade = GradeFor(report.Live.Samples, vintageSamples)

	m.mu.Lock()
	if report.Severity == SeverityCritical {
		m.streaks[symbol]++
	} else {
		m.streaks[symbol] = 0
	}
	m.reports[symbol] = report
	m.mu.Unlock()

	m.metrics.RecordDrift(symbol, int(report.Severity))
	m.log.Info().
		Str("symbol", symbol).
		Str("severity", report.Severity.String()).
		Str("grade", string(report.Grade)).
		Int("live_samples", report.Live.Samples).
		Int("vintage_samples", vintageSamples).
		Msg("Drift evaluated")

	return report
}

// Report returns the latest evaluation of a symbol
func (m *Monitor) Report(symbol string) (IntelReport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[symbol]
	return r, ok
}

// HealthModifier implements verdict.HealthProvider from the latest drift evaluation.
// Symbols that were never evaluated are healthy.
func (m *Monitor) HealthModifier(_ context.Context, q verdict.HealthQuery) (verdict.HealthModifier, error) {
	m.mu.RLock()
	report, ok := m.reports[q.Symbol]
	streak := m.streaks[q.Symbol]
	m.mu.RUnlock()
	if !ok {
		return verdict.HealthModifier{State: verdict.HealthHealthy}, nil
	}

	h := verdict.HealthModifier{
		State:            HealthState(report.Severity),
		CalibrationError: calibrationError(m.Live(q.Symbol)),
		CriticalStreak:   streak,
		Notes:            fmt.Sprintf("drift %s grade %s", report.Severity, report.Grade),
	}
	for _, c := range report.Cohorts {
		h.Divergence = math.Max(h.Divergence, math.Abs(c.Delta.HitRate))
	}
	return h, nil
}

// HealthState maps drift severity onto model health
func HealthState(s Severity) verdict.HealthState {
	switch s {
	case SeverityCritical:
		return verdict.HealthCritical
	case SeverityWarn:
		return verdict.HealthDegraded
	default:
		return verdict.HealthHealthy
	}
}

// calibrationError is the gap between mean stated confidence and realized hit rate
func calibrationError(outcomes []model.Outcome) float64 {
	m := ComputeMetrics(outcomes)
	if m.Samples == 0 {
		return 0
	}
	sum := 0.0
	n := 0
	for _, o := range outcomes {
		if o.Direction == model.DirectionFlat || o.Direction == "" {
			continue
		}
		sum += o.Confidence
		n++
	}
	return math.Abs(sum/float64(n) - m.HitRate)
}
