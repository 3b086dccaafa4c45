package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder_CountsOnIsolatedRegistry(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordPrediction(7, "ok", 10*time.Millisecond)
	r.RecordPrediction(7, "ok", 20*time.Millisecond)
	r.RecordForecastWrite(true)
	r.RecordForecastWrite(false)
	r.RecordForecastWrite(false)
	r.RecordResolverRun("completed", 4, 1)
	r.RecordConsensus("BTC", 62.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.predictions.WithLabelValues("7", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.forecastWrites.WithLabelValues("duplicate")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.resolverItems.WithLabelValues("resolved")))
	assert.Equal(t, 62.5, testutil.ToFloat64(r.consensusIndex.WithLabelValues("BTC")))

	// a second recorder on its own registry does not collide
	assert.NotPanics(t, func() { New(prometheus.NewRegistry()) })
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RecordPrediction(1, "error", time.Second)
		r.RecordVerdict("BTC", "HOLD")
		r.RecordAdjustment("health")
		r.RecordCoalesced()
		r.RecordDrift("BTC", 3)
		r.RecordError("x")
	})
}
