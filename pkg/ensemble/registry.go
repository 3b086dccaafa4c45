// Package ensemble runs one predictor per horizon and selects the verdict with the best utility.
package ensemble

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tunogya/fractal/pkg/model"
)

// Predictor produces a forecast for one horizon
type Predictor interface {
	Predict(ctx context.Context, req model.PredictionRequest) (model.HorizonPrediction, error)
}

// PredictorFunc adapts a function to a Predictor
type PredictorFunc func(ctx context.Context, req model.PredictionRequest) (model.HorizonPrediction, error)

// Predict calls f
func (f PredictorFunc) Predict(ctx context.Context, req model.PredictionRequest) (model.HorizonPrediction, error) {
	return f(ctx, req)
}

// HorizonSpec describes a registered horizon
type HorizonSpec struct {
	Horizon      int    `yaml:"horizon" validate:"gt=0"`
	WindowLength int    `yaml:"window_length" validate:"gt=0"`
	ModelID      string `yaml:"model_id"`
}

// Entry pairs a horizon spec with its predictor
type Entry struct {
	Spec      HorizonSpec
	Predictor Predictor
}

// Registry holds at most one predictor per horizon
type Registry struct {
	mu      sync.RWMutex
	entries map[int]Entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int]Entry)}
}

// Register adds a predictor for a horizon. Registering a horizon twice is a configuration error.
func (r *Registry) Register(spec HorizonSpec, p Predictor) error {
	if spec.Horizon <= 0 {
		return fmt.Errorf("horizon must be positive, got %d: %w", spec.Horizon, model.ErrInvalidConfig)
	}
	if p == nil {
		return fmt.Errorf("nil predictor for horizon %d: %w", spec.Horizon, model.ErrInvalidConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[spec.Horizon]; ok {
		return fmt.Errorf("horizon %d already registered: %w", spec.Horizon, model.ErrInvalidConfig)
	}
	r.entries[spec.Horizon] = Entry{Spec: spec, Predictor: p}
	return nil
}

// Entries returns the registered entries ordered by horizon
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Spec.Horizon < out[j].Spec.Horizon })
	return out
}

// Specs returns the registered horizon specs ordered by horizon
func (r *Registry) Specs() []HorizonSpec {
	entries := r.Entries()
	specs := make([]HorizonSpec, len(entries))
	for i, e := range entries {
		specs[i] = e.Spec
	}
	return specs
}

// Get returns the entry for a horizon
func (r *Registry) Get(horizon int) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[horizon]
	return e, ok
}

// Len returns the number of registered horizons
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
