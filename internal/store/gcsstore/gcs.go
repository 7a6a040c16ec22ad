// Package gcsstore implements a Google Cloud Storage backend.
package gcsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/discochess/tiercache/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store is a Google Cloud Storage backend.
type Store struct {
	client        *storage.Client
	bucket        *storage.BucketHandle
	prefix        string
	maxObjectSize int64
}

// New creates a new GCS store.
// The bucket must already exist.
func New(ctx context.Context, bucketName string, opts ...Option) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	s := &Store{
		client: client,
		bucket: client.Bucket(bucketName),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets a key prefix for all operations.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = strings.TrimSuffix(prefix, "/")
		if s.prefix != "" {
			s.prefix += "/"
		}
	}
}

// WithMaxObjectSize rejects writes larger than n bytes with store.ErrQuotaExceeded.
func WithMaxObjectSize(n int64) Option {
	return func(s *Store) {
		s.maxObjectSize = n
	}
}

// Read reads the object stored under key.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.bucket.Object(s.objectKey(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("creating reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading object: %w", err)
	}
	return data, nil
}

// Write uploads data under key.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	if err := s.checkSize(data); err != nil {
		return err
	}

	w := s.bucket.Object(s.objectKey(key)).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("writing object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing object: %w", err)
	}
	return nil
}

// Remove deletes the object stored under key.
func (s *Store) Remove(ctx context.Context, key string) error {
	err := s.bucket.Object(s.objectKey(key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}

// Purge deletes every entry under the store's prefix and returns the count.
func (s *Store) Purge(ctx context.Context) (int, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.prefix + "entries/"})
	var n int
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("listing objects: %w", err)
		}
		if err := s.bucket.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return n, fmt.Errorf("deleting %s: %w", attrs.Name, err)
		}
		n++
	}
}

// Close releases resources.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) checkSize(data []byte) error {
	if s.maxObjectSize > 0 && int64(len(data)) > s.maxObjectSize {
		return store.ErrQuotaExceeded
	}
	return nil
}

// objectKey returns the full object key for a cache key.
func (s *Store) objectKey(key string) string {
	return s.prefix + "entries/" + url.PathEscape(key)
}
