// Package lru implements an LRU cache eviction strategy.
package lru

import (
	"math"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/discochess/tiercache/internal/cachestrategy"
)

// Compile-time check that Strategy implements cachestrategy.Strategy.
var _ cachestrategy.Strategy[string, int] = (*Strategy[string, int])(nil)

// Strategy implements LRU ordering. It never evicts on its own: the entry
// count is unbounded so that the owner can enforce a byte budget instead.
type Strategy[K comparable, V any] struct {
	list *simplelru.LRU[K, V]
}

// New creates a new LRU strategy.
func New[K comparable, V any]() *Strategy[K, V] {
	// NewLRU only fails for a non-positive size.
	l, _ := simplelru.NewLRU[K, V](math.MaxInt, nil)
	return &Strategy[K, V]{list: l}
}

// Get retrieves a value and marks it most recently used.
func (s *Strategy[K, V]) Get(key K) (V, bool) {
	return s.list.Get(key)
}

// Peek retrieves a value without changing its recency.
func (s *Strategy[K, V]) Peek(key K) (V, bool) {
	return s.list.Peek(key)
}

// Add inserts or replaces a value and marks it most recently used.
func (s *Strategy[K, V]) Add(key K, value V) {
	s.list.Add(key, value)
}

// Remove deletes key, reporting whether it was present.
func (s *Strategy[K, V]) Remove(key K) bool {
	return s.list.Remove(key)
}

// RemoveOldest removes the least recently used entry.
func (s *Strategy[K, V]) RemoveOldest() (K, V, bool) {
	return s.list.RemoveOldest()
}

// Keys returns keys from least to most recently used.
func (s *Strategy[K, V]) Keys() []K {
	return s.list.Keys()
}

// Len returns the number of items.
func (s *Strategy[K, V]) Len() int {
	return s.list.Len()
}

// Purge removes all items.
func (s *Strategy[K, V]) Purge() {
	s.list.Purge()
}
