// Package metrics records engine activity as Prometheus metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes the engine's Prometheus metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	predictions       *prometheus.CounterVec
	predictionLatency *prometheus.HistogramVec
	verdicts          *prometheus.CounterVec
	adjustments       *prometheus.CounterVec
	forecastWrites    *prometheus.CounterVec
	coalesced         prometheus.Counter
	resolverRuns      *prometheus.CounterVec
	resolverItems     *prometheus.CounterVec
	driftSeverity     *prometheus.GaugeVec
	consensusIndex    *prometheus.GaugeVec
	errorsTotal       *prometheus.CounterVec
}

// New creates a recorder registered on reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fractal_predictions_total",
				Help: "Total number of horizon predictions by outcome",
			},
			[]string{"horizon", "status"},
		),
		predictionLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fractal_prediction_duration_seconds",
				Help:    "Duration of horizon predictions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"horizon"},
		),
		verdicts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fractal_verdicts_total",
				Help: "Total number of verdicts by action",
			},
			[]string{"symbol", "action"},
		),
		adjustments: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fractal_confidence_adjustments_total",
				Help: "Total number of recorded confidence adjustments",
			},
			[]string{"source"},
		),
		forecastWrites: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fractal_forecast_writes_total",
				Help: "Forecast point writes by result",
			},
			[]string{"result"},
		),
		coalesced: f.NewCounter(
			prometheus.CounterOpts{
				Name: "fractal_forecast_coalesced_total",
				Help: "Forecast requests served by an in-flight computation",
			},
		),
		resolverRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fractal_resolver_runs_total",
				Help: "Outcome resolver runs by status",
			},
			[]string{"status"},
		),
		resolverItems: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fractal_resolver_items_total",
				Help: "Outcome resolver items by result",
			},
			[]string{"result"},
		),
		driftSeverity: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fractal_drift_severity",
				Help: "Drift severity level (0 OK, 1 WATCH, 2 WARN, 3 CRITICAL)",
			},
			[]string{"symbol"},
		),
		consensusIndex: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fractal_consensus_index",
				Help: "Latest consensus index per symbol",
			},
			[]string{"symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fractal_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
	}
}

// RecordPrediction records one horizon prediction and its latency.
func (r *Recorder) RecordPrediction(horizon int, status string, d time.Duration) {
	if r == nil {
		return
	}
	h := strconv.Itoa(horizon)
	r.predictions.WithLabelValues(h, status).Inc()
	r.predictionLatency.WithLabelValues(h).Observe(d.Seconds())
}

// RecordVerdict records a final verdict.
func (r *Recorder) RecordVerdict(symbol, action string) {
	if r == nil {
		return
	}
	r.verdicts.WithLabelValues(symbol, action).Inc()
}

// RecordAdjustment records a confidence adjustment.
func (r *Recorder) RecordAdjustment(source string) {
	if r == nil {
		return
	}
	r.adjustments.WithLabelValues(source).Inc()
}

// RecordForecastWrite records a forecast append as inserted or duplicate.
func (r *Recorder) RecordForecastWrite(inserted bool) {
	if r == nil {
		return
	}
	result := "duplicate"
	if inserted {
		result = "inserted"
	}
	r.forecastWrites.WithLabelValues(result).Inc()
}

// RecordCoalesced records a request that shared an in-flight computation.
func (r *Recorder) RecordCoalesced() {
	if r == nil {
		return
	}
	r.coalesced.Inc()
}

// RecordResolverRun records a resolver run and its per-item counts.
func (r *Recorder) RecordResolverRun(status string, resolved, failed int) {
	if r == nil {
		return
	}
	r.resolverRuns.WithLabelValues(status).Inc()
	r.resolverItems.WithLabelValues("resolved").Add(float64(resolved))
	r.resolverItems.WithLabelValues("failed").Add(float64(failed))
}

// RecordDrift records the drift severity level of a symbol.
func (r *Recorder) RecordDrift(symbol string, level int) {
	if r == nil {
		return
	}
	r.driftSeverity.WithLabelValues(symbol).Set(float64(level))
}

// RecordConsensus records the latest consensus index of a symbol.
func (r *Recorder) RecordConsensus(symbol string, index float64) {
	if r == nil {
		return
	}
	r.consensusIndex.WithLabelValues(symbol).Set(index)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	if r == nil {
		return
	}
	r.errorsTotal.WithLabelValues(kind).Inc()
}
