// Package entry defines the cache entry shared by all tiers.
package entry

import "time"

// Entry is a cached value with its bookkeeping.
// Invariants: ExpiresAt is after CreatedAt and SizeBytes >= 0.
type Entry[V any] struct {
	Value          V
	CreatedAt      time.Time
	ExpiresAt      time.Time
	SizeBytes      int64
	AccessCount    int64
	LastAccessedAt time.Time
}

// New returns an entry created at now that expires after ttl.
func New[V any](value V, now time.Time, ttl time.Duration, size int64) Entry[V] {
	if size < 0 {
		size = 0
	}
	return Entry[V]{
		Value:          value,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		SizeBytes:      size,
		LastAccessedAt: now,
	}
}

// Expired reports whether the entry is past its time-to-live at now.
// An entry expires at ExpiresAt, not after it.
func (e Entry[V]) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TTL returns the entry's full lifetime.
func (e Entry[V]) TTL() time.Duration {
	return e.ExpiresAt.Sub(e.CreatedAt)
}
