package window

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tunogya/fractal/pkg/model"
)

// Key identifies the series an IndexSet was built from
type Key struct {
	Symbol    string
	Timeframe string
}

// IndexSet holds the indexes of one series for every requested spec
type IndexSet struct {
	Key         Key
	Fingerprint string
	BuiltAt     time.Time
	indexes     map[Spec]*Index
}

// Index returns the index built for spec
func (s *IndexSet) Index(spec Spec) (*Index, bool) {
	idx, ok := s.indexes[spec]
	return idx, ok
}

// Specs returns the specs present in the set
func (s *IndexSet) Specs() []Spec {
	specs := make([]Spec, 0, len(s.indexes))
	for spec := range s.indexes {
		specs = append(specs, spec)
	}
	return specs
}

func (s *IndexSet) covers(specs []Spec) bool {
	for _, spec := range specs {
		if _, ok := s.indexes[spec]; !ok {
			return false
		}
	}
	return true
}

// Fingerprint summarizes a series so that any appended or revised bar changes it
func Fingerprint(candles []model.Candle) string {
	if len(candles) == 0 {
		return "empty"
	}
	first, last := candles[0], candles[len(candles)-1]
	return fmt.Sprintf("%d|%d|%d|%g", len(candles), first.Timestamp().UnixNano(), last.Timestamp().UnixNano(), last.Close)
}

type snapshot map[Key]*IndexSet

// Cache owns the window indexes of every series. Sets are rebuilt wholesale into new
// structures and published with an atomic pointer swap, so readers never observe a
// partially built index. Writers are serialized.
type Cache struct {
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	current atomic.Pointer[snapshot]
	builds  atomic.Int64
}

// NewCache creates an empty index cache
func NewCache(opts Options, log zerolog.Logger) *Cache {
	c := &Cache{
		opts: opts,
		log:  log.With().Str("component", "window_cache").Logger(),
	}
	empty := snapshot{}
	c.current.Store(&empty)
	return c
}

// Options returns the build options shared by every index in the cache
func (c *Cache) Options() Options {
	return c.opts
}

// Get returns an IndexSet covering specs for the given series, rebuilding it when the series
// changed or a spec is missing
func (c *Cache) Get(key Key, candles []model.Candle, specs []Spec) *IndexSet {
	fp := Fingerprint(candles)
	if set, ok := (*c.current.Load())[key]; ok && set.Fingerprint == fp && set.covers(specs) {
		return set
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	snap := *c.current.Load()
	old, ok := snap[key]
	if ok && old.Fingerprint == fp && old.covers(specs) {
		return old
	}

	wanted := make(map[Spec]struct{}, len(specs))
	for _, spec := range specs {
		wanted[spec] = struct{}{}
	}
	if ok && old.Fingerprint == fp {
		for spec := range old.indexes {
			wanted[spec] = struct{}{}
		}
	}

	set := &IndexSet{
		Key:         key,
		Fingerprint: fp,
		BuiltAt:     time.Now(),
		indexes:     make(map[Spec]*Index, len(wanted)),
	}
	for spec := range wanted {
		set.indexes[spec] = Build(key.Symbol, key.Timeframe, candles, spec, c.opts)
	}
	c.builds.Add(1)

	next := make(snapshot, len(snap)+1)
	for k, v := range snap {
		next[k] = v
	}
	next[key] = set
	c.current.Store(&next)

	c.log.Debug().
		Str("symbol", key.Symbol).
		Str("timeframe", key.Timeframe).
		Int("specs", len(set.indexes)).
		Int("candles", len(candles)).
		Msg("Window index rebuilt")

	return set
}

// Peek returns the current set for key without rebuilding
func (c *Cache) Peek(key Key) (*IndexSet, bool) {
	set, ok := (*c.current.Load())[key]
	return set, ok
}

// Invalidate drops the set of one series
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := *c.current.Load()
	if _, ok := snap[key]; !ok {
		return
	}
	next := make(snapshot, len(snap))
	for k, v := range snap {
		if k != key {
			next[k] = v
		}
	}
	c.current.Store(&next)
}

// Clear invalidates every index
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	empty := snapshot{}
	c.current.Store(&empty)
}

// Builds returns how many set rebuilds have happened
func (c *Cache) Builds() int64 {
	return c.builds.Load()
}
