package drift

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunogya/fractal/pkg/feature"
	"github.com/tunogya/fractal/pkg/metrics"
	"github.com/tunogya/fractal/pkg/model"
)

// Dominance tiers by winning horizon
const (
	TierTiming    = "TIMING"
	TierTactical  = "TACTICAL"
	TierStructure = "STRUCTURE"
)

// Volatility regimes
const (
	VolLow     = "LOW"
	VolNormal  = "NORMAL"
	VolHigh    = "HIGH"
	VolExtreme = "EXTREME"
)

// Market phases
const (
	PhaseMarkup       = "MARKUP"
	PhaseMarkdown     = "MARKDOWN"
	PhaseAccumulation = "ACCUMULATION"
	PhaseDistribution = "DISTRIBUTION"
)

const (
	recentVolBars     = 30
	shortMomentumBars = 20
	longMomentumBars  = 90
)

// UpsertResult tells what a consensus upsert did
type UpsertResult string

const (
	UpsertInserted  UpsertResult = "inserted"
	UpsertUpdated   UpsertResult = "updated"
	UpsertImmutable UpsertResult = "immutable" // past record kept as it was
)

// DecideUpsert applies the consensus write rules: a past date may only be inserted once,
// the current day may be rewritten, a future date is rejected.
func DecideUpsert(date string, exists bool, now time.Time) (UpsertResult, error) {
	today := model.Day(now)
	switch {
	case date > today:
		return "", fmt.Errorf("consensus date %s is after %s: %w", date, today, model.ErrInvalidConfig)
	case !exists:
		return UpsertInserted, nil
	case date == today:
		return UpsertUpdated, nil
	default:
		return UpsertImmutable, nil
	}
}

// ConsensusStore persists daily consensus records, unique on (symbol, date, source)
type ConsensusStore interface {
	Upsert(ctx context.Context, rec model.ConsensusHistoryRecord, now time.Time) (UpsertResult, error)
	Get(ctx context.Context, symbol, date, source string) (model.ConsensusHistoryRecord, error)
	History(ctx context.Context, symbol, source, fromDate, toDate string) ([]model.ConsensusHistoryRecord, error)
}

type consensusKey struct {
	symbol, date, source string
}

// MemoryConsensusStore is an in-process ConsensusStore
type MemoryConsensusStore struct {
	mu      sync.RWMutex
	records map[consensusKey]model.ConsensusHistoryRecord
}

// NewMemoryConsensusStore creates an empty store
func NewMemoryConsensusStore() *MemoryConsensusStore {
	return &MemoryConsensusStore{records: make(map[consensusKey]model.ConsensusHistoryRecord)}
}

// Upsert writes rec following DecideUpsert
func (s *MemoryConsensusStore) Upsert(_ context.Context, rec model.ConsensusHistoryRecord, now time.Time) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := consensusKey{rec.Symbol, rec.Date, rec.Source}
	_, exists := s.records[key]
	res, err := DecideUpsert(rec.Date, exists, now)
	if err != nil || res == UpsertImmutable {
		return res, err
	}
	s.records[key] = rec
	return res, nil
}

// Get returns one record
func (s *MemoryConsensusStore) Get(_ context.Context, symbol, date, source string) (model.ConsensusHistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[consensusKey{symbol, date, source}]
	if !ok {
		return model.ConsensusHistoryRecord{}, model.ErrNotFound
	}
	return rec, nil
}

// History returns records of symbol and source with dates in [fromDate, toDate]; empty bounds are open
func (s *MemoryConsensusStore) History(_ context.Context, symbol, source, fromDate, toDate string) ([]model.ConsensusHistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.ConsensusHistoryRecord
	for k, rec := range s.records {
		if k.symbol != symbol || k.source != source {
			continue
		}
		if (fromDate != "" && k.date < fromDate) || (toDate != "" && k.date > toDate) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// ConsensusPublisher announces written consensus records
type ConsensusPublisher interface {
	PublishConsensus(ctx context.Context, rec model.ConsensusHistoryRecord) error
}

// ConsensusService builds and stores the daily consensus snapshot
type ConsensusService struct {
	store     ConsensusStore
	publisher ConsensusPublisher
	metrics   *metrics.Recorder
	log       zerolog.Logger
}

// NewConsensusService creates a consensus service. publisher may be nil.
func NewConsensusService(store ConsensusStore, publisher ConsensusPublisher, rec *metrics.Recorder, log zerolog.Logger) *ConsensusService {
	return &ConsensusService{
		store:     store,
		publisher: publisher,
		metrics:   rec,
		log:       log.With().Str("component", "consensus").Logger(),
	}
}

// Snapshot computes today's consensus record from a verdict, a drift report and the price series,
// and writes it. A record for a past day is never rewritten.
func (s *ConsensusService) Snapshot(ctx context.Context, symbol, source string, v model.Verdict, report IntelReport, candles []model.Candle, now time.Time) (model.ConsensusHistoryRecord, UpsertResult, error) {
	phase, strength := Phase(model.Closes(candles))
	rec := model.ConsensusHistoryRecord{
		Symbol:         symbol,
		Date:           model.Day(now),
		Source:         source,
		ConsensusIndex: ConsensusIndex(v.Candidates, report.Severity),
		DriftSeverity:  report.Severity.String(),
		DominanceTier:  DominanceTier(v.Horizon),
		VolRegime:      VolRegime(model.Closes(candles)),
		Phase:          phase,
		PhaseStrength:  strength,
		UpdatedAt:      now,
	}

	res, err := s.store.Upsert(ctx, rec, now)
	if err != nil {
		s.metrics.RecordError("consensus_upsert")
		return rec, res, fmt.Errorf("upsert consensus %s %s: %w", symbol, rec.Date, err)
	}
	s.metrics.RecordConsensus(symbol, rec.ConsensusIndex)

	if res != UpsertImmutable && s.publisher != nil {
		if err := s.publisher.PublishConsensus(ctx, rec); err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to publish consensus")
			s.metrics.RecordError("consensus_publish")
		}
	}

	s.log.Info().
		Str("symbol", symbol).
		Str("date", rec.Date).
		Str("result", string(res)).
		Float64("consensus_index", rec.ConsensusIndex).
		Str("phase", rec.Phase).
		Msg("Consensus snapshot written")

	return rec, res, nil
}

// ConsensusIndex measures directional agreement between horizon candidates in [0,100]:
// 100·|Σ sign·confidence| / Σ confidence, discounted by the drift penalty.
func ConsensusIndex(candidates []model.HorizonCandidate, severity Severity) float64 {
	num, den := 0.0, 0.0
	for _, c := range candidates {
		if c.Degraded {
			continue
		}
		num += actionSign(c.Action) * c.Confidence
		den += c.Confidence
	}
	if den <= 0 {
		return 0
	}
	return 100 * math.Abs(num) / den * (1 - severity.Penalty())
}

func actionSign(a model.Action) float64 {
	switch a {
	case model.ActionBuy:
		return 1
	case model.ActionSell:
		return -1
	default:
		return 0
	}
}

// DominanceTier classifies the winning horizon in days
func DominanceTier(horizon int) string {
	switch {
	case horizon <= 1:
		return TierTiming
	case horizon <= 7:
		return TierTactical
	default:
		return TierStructure
	}
}

// VolRegime compares recent realized volatility with the volatility of the whole series
func VolRegime(closes []float64) string {
	returns := feature.LogReturns(closes)
	if len(returns) < 2 {
		return VolNormal
	}
	recent := returns
	if len(returns) > recentVolBars {
		recent = returns[len(returns)-recentVolBars:]
	}
	base := feature.RealizedVolatility(returns)
	if base == 0 {
		return VolLow
	}
	ratio := feature.RealizedVolatility(recent) / base
	switch {
	case ratio < 0.75:
		return VolLow
	case ratio < 1.25:
		return VolNormal
	case ratio < 2:
		return VolHigh
	default:
		return VolExtreme
	}
}

// Phase classifies the market phase from long and short momentum. Strength is in [0,1).
func Phase(closes []float64) (string, float64) {
	if len(closes) < 2 {
		return PhaseAccumulation, 0
	}
	long := momentum(closes, longMomentumBars)
	short := momentum(closes, shortMomentumBars)

	var phase string
	switch {
	case long >= 0 && short >= 0:
		phase = PhaseMarkup
	case long < 0 && short < 0:
		phase = PhaseMarkdown
	case long < 0:
		phase = PhaseAccumulation
	default:
		phase = PhaseDistribution
	}

	returns := feature.LogReturns(closes)
	vol := feature.RealizedVolatility(returns) * math.Sqrt(shortMomentumBars)
	if vol == 0 {
		return phase, 0
	}
	return phase, math.Tanh(math.Abs(short) / vol)
}

func momentum(closes []float64, bars int) float64 {
	last := closes[len(closes)-1]
	i := len(closes) - 1 - bars
	if i < 0 {
		i = 0
	}
	if closes[i] <= 0 {
		return 0
	}
	return last/closes[i] - 1
}
