// Package store defines the persistent key-value store behind the
// persistent cache tier.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key does not exist in the store.
	ErrNotFound = errors.New("store: key not found")

	// ErrQuotaExceeded is returned when a write would exceed the store's size limit.
	ErrQuotaExceeded = errors.New("store: quota exceeded")
)

// Store defines the interface for persistent storage backends.
// Failures are ordinary error returns; implementations must not panic.
type Store interface {
	// Read returns the bytes stored under key, or ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores data under key, replacing any previous value.
	// Returns ErrQuotaExceeded when the store is full.
	Write(ctx context.Context, key string, data []byte) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}
