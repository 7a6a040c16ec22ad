// Package memstore provides a quota-limited in-memory store. It models
// session-scoped browser storage: it lives as long as the process and
// rejects writes beyond its quota.
package memstore

import (
	"context"
	"sync"

	"github.com/discochess/tiercache/internal/store"
)

// DefaultQuota is the default size limit, matching common session storage quotas.
const DefaultQuota = 5 << 20

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store is an in-memory store with a byte quota over keys plus values.
type Store struct {
	quota int64

	mu    sync.RWMutex
	items map[string][]byte
	used  int64
}

// Option configures a Store.
type Option func(*Store)

// WithQuota sets the size limit in bytes. A quota <= 0 disables the limit.
func WithQuota(bytes int64) Option {
	return func(s *Store) {
		s.quota = bytes
	}
}

// New creates a new in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		quota: DefaultQuota,
		items: make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read returns a copy of the data stored under key.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.items[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Write stores a copy of data under key.
// The data is copied to prevent caller mutations from affecting the store.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.used + itemSize(key, data)
	if old, ok := s.items[key]; ok {
		used -= itemSize(key, old)
	}
	if s.quota > 0 && used > s.quota {
		return store.ErrQuotaExceeded
	}

	s.items[key] = append([]byte(nil), data...)
	s.used = used
	return nil
}

// Remove deletes key.
func (s *Store) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.items[key]; ok {
		s.used -= itemSize(key, old)
		delete(s.items, key)
	}
	return nil
}

// Used returns the bytes currently counted against the quota.
func (s *Store) Used() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Close is a no-op for the memory store.
func (s *Store) Close() error {
	return nil
}

func itemSize(key string, data []byte) int64 {
	return int64(len(key) + len(data))
}
