// Package pubcache implements the publication cache: a bounded,
// per-key ring of recently published samples that answers history
// fetches from catch-up subscribers.
//
// Each cached key retains its most recent H samples ordered by identity
// ascending. When a ring is full the lowest identity is evicted first.
// Eviction is normal operation; replies whose requested range was eaten
// by eviction carry a truncated flag instead of an error.
package pubcache

import (
	"sort"
	"sync"

	"github.com/c360/catchup/errors"
	"github.com/c360/catchup/fetch"
	"github.com/c360/catchup/keys"
	"github.com/c360/catchup/metric"
	"github.com/c360/catchup/sample"
)

// DefaultHistory is the per-key retention depth when none is configured.
const DefaultHistory = 64

// keyRing holds the retained samples of one key, ascending by the
// global sample order. Rings never shrink below their own mutex scope;
// readers always see a consistent snapshot.
type keyRing struct {
	mu        sync.Mutex
	samples   []sample.Sample
	evictions uint64
	// lastEvicted is the highest wall timestamp among evicted samples,
	// used to decide whether a since-bound reply lost history.
	lastEvictedMS int64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheMetrics exposes cache counters as Prometheus metrics.
func WithCacheMetrics(registry *metric.Registry, component string) CacheOption {
	return func(c *Cache) {
		c.registry = registry
		c.component = component
	}
}

// Cache is the concurrent per-key sample store.
type Cache struct {
	history int

	mu    sync.RWMutex
	rings map[keys.Key]*keyRing

	registry  *metric.Registry
	component string
	metrics   *cacheMetrics
}

// NewCache creates a cache retaining history samples per key.
func NewCache(history int, opts ...CacheOption) (*Cache, error) {
	if history <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Cache", "NewCache", "history depth must be positive")
	}

	c := &Cache{
		history: history,
		rings:   make(map[keys.Key]*keyRing),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.registry != nil && c.component != "" {
		m, err := newCacheMetrics(c.registry, c.component)
		if err != nil {
			return nil, err
		}
		c.metrics = m
	}
	return c, nil
}

// History returns the per-key retention depth.
func (c *Cache) History() int {
	return c.history
}

// Keys returns the number of distinct cached keys.
func (c *Cache) Keys() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rings)
}

func (c *Cache) ring(key keys.Key) *keyRing {
	c.mu.RLock()
	r, ok := c.rings[key]
	c.mu.RUnlock()
	if ok {
		return r
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.rings[key]; ok {
		return r
	}
	r = &keyRing{}
	c.rings[key] = r
	if c.metrics != nil {
		c.metrics.setKeys(len(c.rings))
	}
	return r
}

// Ingest stores a sample. Duplicate identities are ignored; a full ring
// evicts its lowest identity. The critical section is per key.
func (c *Cache) Ingest(s sample.Sample) error {
	if err := s.Validate(); err != nil {
		return err
	}

	r := c.ring(s.Key)
	r.mu.Lock()
	defer r.mu.Unlock()

	// Binary search for the insertion point in the global sample order.
	idx := sort.Search(len(r.samples), func(i int) bool {
		return sample.Compare(r.samples[i], s) >= 0
	})
	if idx < len(r.samples) && r.samples[idx].Identity.Equal(s.Identity) {
		return nil // duplicate publication
	}

	r.samples = append(r.samples, sample.Sample{})
	copy(r.samples[idx+1:], r.samples[idx:])
	r.samples[idx] = s

	if c.metrics != nil {
		c.metrics.recordIngest()
	}

	if len(r.samples) > c.history {
		evicted := r.samples[0]
		copy(r.samples, r.samples[1:])
		r.samples[len(r.samples)-1] = sample.Sample{}
		r.samples = r.samples[:len(r.samples)-1]

		r.evictions++
		if evicted.Timestamp.WallMS > r.lastEvictedMS {
			r.lastEvictedMS = evicted.Timestamp.WallMS
		}
		if c.metrics != nil {
			c.metrics.recordEviction()
		}
	}
	return nil
}

// Replay returns the retained history of one concrete key, ascending.
// Keys never published through this cache report ErrKeyNotFound.
func (c *Cache) Replay(key keys.Key) (fetch.KeyReplay, error) {
	c.mu.RLock()
	r, ok := c.rings[key]
	c.mu.RUnlock()
	if !ok {
		return fetch.KeyReplay{}, errors.WrapInvalid(errors.ErrKeyNotFound,
			"Cache", "Replay", string(key))
	}
	return c.answerKey(key, r, 0, 0), nil
}

// Answer returns the retained history of every key matching pattern,
// ascending per key. maxSamples limits to the most recent n samples;
// sinceMS filters to samples at or after that wall time; zero values
// mean unbounded. Each replay's Truncated flag reports whether eviction
// removed samples the bound would have covered.
func (c *Cache) Answer(pattern keys.Pattern, maxSamples int, sinceMS int64) []fetch.KeyReplay {
	c.mu.RLock()
	matched := make([]*keyRing, 0)
	matchedKeys := make([]keys.Key, 0)
	for key, r := range c.rings {
		if pattern.Matches(key) {
			matched = append(matched, r)
			matchedKeys = append(matchedKeys, key)
		}
	}
	c.mu.RUnlock()

	entries := make([]fetch.KeyReplay, 0, len(matched))
	for i, r := range matched {
		replay := c.answerKey(matchedKeys[i], r, maxSamples, sinceMS)
		if len(replay.Samples) > 0 || replay.Truncated {
			entries = append(entries, replay)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	if c.metrics != nil {
		c.metrics.recordAnswer(entries)
	}
	return entries
}

func (c *Cache) answerKey(key keys.Key, r *keyRing, maxSamples int, sinceMS int64) fetch.KeyReplay {
	r.mu.Lock()
	defer r.mu.Unlock()

	selected := r.samples
	truncated := false

	switch {
	case sinceMS > 0:
		// Identity order is not timestamp order across publishers, so
		// filter rather than slice.
		filtered := make([]sample.Sample, 0, len(selected))
		for _, s := range selected {
			if s.Timestamp.WallMS >= sinceMS {
				filtered = append(filtered, s)
			}
		}
		selected = filtered
		truncated = r.evictions > 0 && r.lastEvictedMS >= sinceMS

	case maxSamples > 0:
		if len(selected) > maxSamples {
			selected = selected[len(selected)-maxSamples:]
		} else {
			truncated = r.evictions > 0 && len(selected) < maxSamples
		}

	default:
		truncated = r.evictions > 0
	}

	// Copy out so callers never alias the ring's backing array.
	out := make([]sample.Sample, len(selected))
	copy(out, selected)

	return fetch.KeyReplay{Key: key, Samples: out, Truncated: truncated}
}
