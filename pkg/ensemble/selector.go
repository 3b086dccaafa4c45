package ensemble

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tunogya/fractal/pkg/metrics"
	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/verdict"
)

// utilityTolerance is the utility difference below which candidates tie
const utilityTolerance = 1e-12

// RiskPenalty discounts utility by risk tier
func RiskPenalty(risk model.Risk) float64 {
	switch risk {
	case model.RiskLow:
		return 1.0
	case model.RiskMedium:
		return 0.85
	default:
		return 0.70
	}
}

// SizeBoost rewards larger positions relative to the maximum
func SizeBoost(sizePct, maxPct float64) float64 {
	ratio := 0.0
	if maxPct > 0 {
		ratio = verdict.Clamp(sizePct/maxPct, 0, 1)
	}
	return 0.8 + 0.2*ratio
}

// Utility scores a candidate. HOLD candidates always score -1.
func Utility(c model.HorizonCandidate, maxPct float64) float64 {
	if c.Action == model.ActionHold {
		return -1
	}
	return math.Abs(c.ExpectedReturn) * c.Confidence * RiskPenalty(c.Risk) * SizeBoost(c.PositionSizePct, maxPct)
}

// Best returns the index of the highest-utility candidate. Candidates must be ordered by
// ascending horizon; equal utilities keep the earlier, shorter horizon.
func Best(candidates []model.HorizonCandidate) int {
	best := -1
	for i, c := range candidates {
		if best < 0 || c.Utility > candidates[best].Utility+utilityTolerance {
			best = i
		}
	}
	return best
}

// Selector runs every registered horizon and picks the verdict
type Selector struct {
	registry *Registry
	engine   *verdict.Engine
	sink     verdict.AdjustmentSink
	metrics  *metrics.Recorder
	log      zerolog.Logger
}

// NewSelector creates a selector. A nil sink discards adjustments.
func NewSelector(registry *Registry, engine *verdict.Engine, sink verdict.AdjustmentSink, rec *metrics.Recorder, log zerolog.Logger) *Selector {
	if sink == nil {
		sink = verdict.DiscardSink{}
	}
	return &Selector{
		registry: registry,
		engine:   engine,
		sink:     sink,
		metrics:  rec,
		log:      log.With().Str("component", "ensemble").Logger(),
	}
}

type horizonResult struct {
	candidate   model.HorizonCandidate
	adjustments []model.VerdictAdjustment
	notes       []string
	err         error
}

// Select predicts every horizon in parallel, waits for all of them and returns the verdict of
// the best candidate. A failing horizon degrades to a HOLD candidate and marks the verdict partial.
func (s *Selector) Select(ctx context.Context, req model.PredictionRequest) (model.Verdict, error) {
	entries := s.registry.Entries()
	if len(entries) == 0 {
		return model.Verdict{}, fmt.Errorf("no horizons registered: %w", model.ErrInvalidConfig)
	}

	results := make([]horizonResult, len(entries))
	var g errgroup.Group
	for i, entry := range entries {
		g.Go(func() error {
			results[i] = s.runHorizon(ctx, req, entry)
			return nil
		})
	}
	_ = g.Wait()

	v := model.Verdict{
		Symbol: req.Symbol,
		AsOf:   req.AsOf,
	}
	maxPct := s.engine.Config().MaxPositionPct
	for _, r := range results {
		c := r.candidate
		c.Utility = Utility(c, maxPct)
		v.Candidates = append(v.Candidates, c)
		v.Adjustments = append(v.Adjustments, r.adjustments...)
		v.Notes = append(v.Notes, r.notes...)
		if r.err != nil {
			v.Partial = true
			v.Errors = append(v.Errors, fmt.Sprintf("horizon %d (%s): %v", c.Horizon, c.ModelID, r.err))
		}
	}

	winner := v.Candidates[Best(v.Candidates)]
	v.Action = winner.Action
	v.Confidence = winner.Confidence
	v.Risk = winner.Risk
	v.PositionSizePct = winner.PositionSizePct
	v.Horizon = winner.Horizon
	v.ModelID = winner.ModelID
	v.ExpectedReturn = winner.ExpectedReturn

	if len(v.Adjustments) > 0 {
		if err := s.sink.RecordAdjustments(ctx, v.Adjustments); err != nil {
			v.Notes = append(v.Notes, fmt.Sprintf("adjustment audit failed: %v", err))
			s.log.Warn().Err(err).Str("symbol", req.Symbol).Msg("Failed to record adjustments")
			s.metrics.RecordError("adjustment_sink")
		}
		for _, a := range v.Adjustments {
			s.metrics.RecordAdjustment(a.Source)
		}
	}
	s.metrics.RecordVerdict(v.Symbol, string(v.Action))

	s.log.Info().
		Str("symbol", v.Symbol).
		Str("action", string(v.Action)).
		Int("horizon", v.Horizon).
		Float64("confidence", v.Confidence).
		Float64("size_pct", v.PositionSizePct).
		Bool("partial", v.Partial).
		Msg("Verdict selected")

	return v, nil
}

func (s *Selector) runHorizon(ctx context.Context, req model.PredictionRequest, entry Entry) horizonResult {
	hreq := req
	hreq.Horizon = entry.Spec.Horizon
	start := time.Now()

	pred, err := entry.Predictor.Predict(ctx, hreq)
	if err != nil {
		s.metrics.RecordPrediction(entry.Spec.Horizon, "error", time.Since(start))
		s.log.Warn().Err(err).Str("symbol", req.Symbol).Int("horizon", entry.Spec.Horizon).Msg("Horizon prediction failed")
		return horizonResult{candidate: degraded(entry.Spec), err: err}
	}
	s.metrics.RecordPrediction(entry.Spec.Horizon, "ok", time.Since(start))

	if pred.Horizon == 0 {
		pred.Horizon = entry.Spec.Horizon
	}
	if entry.Spec.ModelID != "" {
		pred.ModelID = entry.Spec.ModelID
	}

	c, adjustments, notes := s.engine.Candidate(ctx, hreq, pred)
	notes = append(append([]string{}, pred.Notes...), notes...)
	return horizonResult{candidate: c, adjustments: adjustments, notes: notes}
}

// degraded is the sentinel candidate of a failed horizon
func degraded(spec HorizonSpec) model.HorizonCandidate {
	return model.HorizonCandidate{
		Horizon:  spec.Horizon,
		ModelID:  spec.ModelID,
		Action:   model.ActionHold,
		Risk:     model.RiskHigh,
		Degraded: true,
	}
}
