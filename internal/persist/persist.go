// Package persist adapts a store.Store into the persistent cache tier.
//
// Entries are written as a JSON envelope holding the value and its
// bookkeeping, passed through a codec. The adapter never returns errors:
// a failed write leaves the entry memory-only and a failed or corrupt read
// is a miss.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/discochess/tiercache/internal/codec"
	"github.com/discochess/tiercache/internal/codec/noopcodec"
	"github.com/discochess/tiercache/internal/entry"
	"github.com/discochess/tiercache/internal/serialize"
	"github.com/discochess/tiercache/internal/stats"
	"github.com/discochess/tiercache/internal/store"
)

// DefaultKeyPrefix namespaces cache entries inside a shared store.
const DefaultKeyPrefix = "tiercache_"

// envelope is the persisted form of an entry.
type envelope struct {
	Key            string          `json:"key"`
	Codec          string          `json:"codec"`
	Value          json.RawMessage `json:"value"`
	CreatedAt      time.Time       `json:"createdAt"`
	ExpiresAt      time.Time       `json:"expiresAt"`
	SizeBytes      int64           `json:"sizeBytes"`
	AccessCount    int64           `json:"accessCount"`
	LastAccessedAt time.Time       `json:"lastAccessedAt"`
}

// Adapter is the persistent tier for values of type V.
type Adapter[V any] struct {
	store  store.Store
	codec  codec.Codec
	prefix string
	logger *zap.Logger
	stats  stats.Collector
}

// Option configures an Adapter.
type Option func(*settings)

type settings struct {
	codec  codec.Codec
	prefix string
	logger *zap.Logger
	stats  stats.Collector
}

// WithCodec sets the codec applied to encoded envelopes.
func WithCodec(c codec.Codec) Option {
	return func(s *settings) { s.codec = c }
}

// WithKeyPrefix sets the prefix added to every store key.
func WithKeyPrefix(prefix string) Option {
	return func(s *settings) { s.prefix = prefix }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithStats sets the metrics collector.
func WithStats(c stats.Collector) Option {
	return func(s *settings) { s.stats = c }
}

// New returns an adapter over st.
func New[V any](st store.Store, opts ...Option) *Adapter[V] {
	s := settings{
		codec:  noopcodec.New(),
		prefix: DefaultKeyPrefix,
		logger: zap.NewNop(),
		stats:  stats.NewNoop(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &Adapter[V]{
		store:  st,
		codec:  s.codec,
		prefix: s.prefix,
		logger: s.logger,
		stats:  s.stats,
	}
}

// Write persists e under key and reports whether it succeeded. On failure
// any older copy is removed so a later read cannot return it.
func (a *Adapter[V]) Write(ctx context.Context, key string, e entry.Entry[V]) bool {
	data, err := a.encode(key, e)
	if err == nil {
		err = a.store.Write(ctx, a.prefix+key, data)
	}
	if err == nil {
		return true
	}

	a.stats.IncCounter(stats.MetricPersistWriteFailures, 1)
	a.logger.Debug("persistent write failed, keeping entry in memory only",
		zap.String("key", key),
		zap.Bool("quotaExceeded", errors.Is(err, store.ErrQuotaExceeded)),
		zap.Error(err),
	)
	if rmErr := a.store.Remove(ctx, a.prefix+key); rmErr != nil {
		a.logger.Debug("removing stale persistent entry failed", zap.String("key", key), zap.Error(rmErr))
	}
	return false
}

// Read returns the entry stored under key. Missing, unreadable and
// undecodable entries all read as absent; undecodable ones are removed.
func (a *Adapter[V]) Read(ctx context.Context, key string) (entry.Entry[V], bool) {
	data, err := a.store.Read(ctx, a.prefix+key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.stats.IncCounter(stats.MetricPersistReadFailures, 1)
			a.logger.Debug("persistent read failed", zap.String("key", key), zap.Error(err))
		}
		return entry.Entry[V]{}, false
	}

	e, err := a.decode(key, data)
	if err != nil {
		a.stats.IncCounter(stats.MetricPersistReadFailures, 1)
		a.logger.Debug("discarding corrupt persistent entry", zap.String("key", key), zap.Error(err))
		_ = a.store.Remove(ctx, a.prefix+key)
		return entry.Entry[V]{}, false
	}
	return e, true
}

// Remove deletes key from the store.
func (a *Adapter[V]) Remove(ctx context.Context, key string) {
	if err := a.store.Remove(ctx, a.prefix+key); err != nil {
		a.logger.Debug("persistent remove failed", zap.String("key", key), zap.Error(err))
	}
}

// Close closes the underlying store.
func (a *Adapter[V]) Close() error {
	return a.store.Close()
}

func (a *Adapter[V]) encode(key string, e entry.Entry[V]) ([]byte, error) {
	value, err := serialize.Marshal(e.Value)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(envelope{
		Key:            key,
		Codec:          a.codec.Name(),
		Value:          value,
		CreatedAt:      e.CreatedAt,
		ExpiresAt:      e.ExpiresAt,
		SizeBytes:      e.SizeBytes,
		AccessCount:    e.AccessCount,
		LastAccessedAt: e.LastAccessedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	data, err := a.codec.Encode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s encode: %w", a.codec.Name(), err)
	}
	return data, nil
}

func (a *Adapter[V]) decode(key string, data []byte) (entry.Entry[V], error) {
	raw, err := a.codec.Decode(data)
	if err != nil {
		return entry.Entry[V]{}, fmt.Errorf("%s decode: %w", a.codec.Name(), err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return entry.Entry[V]{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Codec != a.codec.Name() {
		return entry.Entry[V]{}, fmt.Errorf("entry written with codec %q", env.Codec)
	}
	if env.Key != key {
		return entry.Entry[V]{}, fmt.Errorf("entry belongs to key %q", env.Key)
	}
	var v V
	if err := json.Unmarshal(env.Value, &v); err != nil {
		return entry.Entry[V]{}, fmt.Errorf("decoding value: %w", err)
	}
	return entry.Entry[V]{
		Value:          v,
		CreatedAt:      env.CreatedAt,
		ExpiresAt:      env.ExpiresAt,
		SizeBytes:      env.SizeBytes,
		AccessCount:    env.AccessCount,
		LastAccessedAt: env.LastAccessedAt,
	}, nil
}
