// Package memtier implements the in-process memory tier: a key to entry
// map bounded by an estimated byte budget, with least-recently-used
// eviction and an expiry sweep.
package memtier

import (
	"sync"

	"github.com/discochess/tiercache/clock"
	"github.com/discochess/tiercache/internal/cachestrategy"
	"github.com/discochess/tiercache/internal/cachestrategy/lru"
	"github.com/discochess/tiercache/internal/entry"
)

// Tier is a byte-budgeted memory store. A single mutex guards the entry
// mapping and the usage counter. Tier is safe for concurrent use.
type Tier[V any] struct {
	budget int64
	clock  clock.Clock

	mu      sync.Mutex
	entries cachestrategy.Strategy[string, *entry.Entry[V]]
	usage   int64
}

// New creates a tier with the given budget in bytes. If strategy is nil,
// LRU ordering is used.
func New[V any](budget int64, clk clock.Clock, strategy cachestrategy.Strategy[string, *entry.Entry[V]]) *Tier[V] {
	if clk == nil {
		clk = clock.New()
	}
	if strategy == nil {
		strategy = lru.New[string, *entry.Entry[V]]()
	}
	return &Tier[V]{
		budget:  budget,
		clock:   clk,
		entries: strategy,
	}
}

// Set stores e under key and returns the keys evicted to make room, in
// eviction order. Replacing a key first releases the old entry's bytes.
//
// The budget is advisory: when the tier is empty and e alone exceeds it,
// e is stored anyway.
func (t *Tier[V]) Set(key string, e entry.Entry[V]) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.entries.Peek(key); ok {
		t.entries.Remove(key)
		t.usage -= old.SizeBytes
	}

	var evicted []string
	for t.usage+e.SizeBytes > t.budget && t.entries.Len() > 0 {
		k, old, ok := t.entries.RemoveOldest()
		if !ok {
			break
		}
		t.usage -= old.SizeBytes
		evicted = append(evicted, k)
	}

	stored := e
	t.entries.Add(key, &stored)
	t.usage += e.SizeBytes
	return evicted
}

// Get returns the entry for key and records the access. It does not check
// expiry.
func (t *Tier[V]) Get(key string) (entry.Entry[V], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries.Get(key)
	if !ok {
		return entry.Entry[V]{}, false
	}
	e.AccessCount++
	e.LastAccessedAt = t.clock.Now()
	return *e, true
}

// Peek returns the entry for key without recording an access.
func (t *Tier[V]) Peek(key string) (entry.Entry[V], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries.Peek(key)
	if !ok {
		return entry.Entry[V]{}, false
	}
	return *e, true
}

// Contains reports whether key is present, expired or not.
func (t *Tier[V]) Contains(key string) bool {
	_, ok := t.Peek(key)
	return ok
}

// Remove deletes key and reports whether it was present.
func (t *Tier[V]) Remove(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries.Peek(key)
	if !ok {
		return false
	}
	t.entries.Remove(key)
	t.usage -= e.SizeBytes
	return true
}

// RemoveExpired deletes every entry that has expired at the current time
// and returns the removed keys.
func (t *Tier[V]) RemoveExpired() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	var removed []string
	for _, key := range t.entries.Keys() {
		e, ok := t.entries.Peek(key)
		if !ok || !e.Expired(now) {
			continue
		}
		t.entries.Remove(key)
		t.usage -= e.SizeBytes
		removed = append(removed, key)
	}
	return removed
}

// Usage returns the estimated bytes held.
func (t *Tier[V]) Usage() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

// Budget returns the configured byte budget.
func (t *Tier[V]) Budget() int64 {
	return t.budget
}

// Len returns the number of entries.
func (t *Tier[V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries.Len()
}

// Keys returns the keys from least to most recently used.
func (t *Tier[V]) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries.Keys()
}

// Clear removes every entry.
func (t *Tier[V]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Purge()
	t.usage = 0
}
