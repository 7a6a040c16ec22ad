// Package cachestrategy defines the recency order used for eviction.
package cachestrategy

// Strategy orders keys for eviction. Get marks a key as used; Peek does not.
// Implementations are not safe for concurrent use; callers hold their own lock.
type Strategy[K comparable, V any] interface {
	Get(key K) (V, bool)
	Peek(key K) (V, bool)
	Add(key K, value V)
	Remove(key K) bool
	// RemoveOldest removes and returns the entry that would be evicted next.
	RemoveOldest() (K, V, bool)
	// Keys returns keys from the next to be evicted to the most recently used.
	Keys() []K
	Len() int
	Purge()
}
