package forecast

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tunogya/fractal/pkg/model"
)

// Store persists forecast points and their outcomes. Points are append-only and unique on
// (symbol, model, horizon, day); appending an existing key is a no-op that reports false.
type Store interface {
	Append(ctx context.Context, p model.ForecastPoint) (bool, error)
	Get(ctx context.Context, key model.ForecastKey) (model.ForecastPoint, error)
	ListUnresolved(ctx context.Context, now time.Time) ([]model.ForecastPoint, error)
	SaveOutcome(ctx context.Context, o model.Outcome) (bool, error)
	Outcomes(ctx context.Context, symbol string, from, to time.Time) ([]model.Outcome, error)
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu       sync.RWMutex
	points   map[model.ForecastKey]model.ForecastPoint
	outcomes map[model.ForecastKey]model.Outcome
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		points:   make(map[model.ForecastKey]model.ForecastPoint),
		outcomes: make(map[model.ForecastKey]model.Outcome),
	}
}

// Append stores p unless its key exists
func (s *MemoryStore) Append(_ context.Context, p model.ForecastPoint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := p.Key()
	if _, ok := s.points[key]; ok {
		return false, nil
	}
	s.points[key] = p
	return true, nil
}

// Get returns the point stored under key
func (s *MemoryStore) Get(_ context.Context, key model.ForecastKey) (model.ForecastPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.points[key]
	if !ok {
		return model.ForecastPoint{}, model.ErrNotFound
	}
	return p, nil
}

// ListUnresolved returns points whose target bar has closed by now and that have no outcome yet
func (s *MemoryStore) ListUnresolved(_ context.Context, now time.Time) ([]model.ForecastPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.ForecastPoint
	for key, p := range s.points {
		if _, done := s.outcomes[key]; done {
			continue
		}
		dueAt, err := p.DueTime()
		if err != nil || dueAt.After(now) {
			continue
		}
		out = append(out, p)
	}
	sortPoints(out)
	return out, nil
}

// SaveOutcome stores an outcome unless one exists for its key
func (s *MemoryStore) SaveOutcome(_ context.Context, o model.Outcome) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outcomes[o.Key]; ok {
		return false, nil
	}
	s.outcomes[o.Key] = o
	return true, nil
}

// Outcomes returns outcomes of symbol with AsOf in [from, to]; an empty symbol matches all
func (s *MemoryStore) Outcomes(_ context.Context, symbol string, from, to time.Time) ([]model.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Outcome
	for _, o := range s.outcomes {
		if symbol != "" && o.Key.Symbol != symbol {
			continue
		}
		if (!from.IsZero() && o.AsOf.Before(from)) || (!to.IsZero() && o.AsOf.After(to)) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AsOf.Equal(out[j].AsOf) {
			return out[i].AsOf.Before(out[j].AsOf)
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out, nil
}

// Len returns the number of stored points
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

func sortPoints(points []model.ForecastPoint) {
	sort.Slice(points, func(i, j int) bool {
		if points[i].Day != points[j].Day {
			return points[i].Day < points[j].Day
		}
		return points[i].Key().String() < points[j].Key().String()
	})
}
