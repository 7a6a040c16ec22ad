package tiercache

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/discochess/tiercache/clock"
	"github.com/discochess/tiercache/connectivity"
	"github.com/discochess/tiercache/internal/codec"
	"github.com/discochess/tiercache/internal/codec/noopcodec"
	"github.com/discochess/tiercache/internal/memtier"
	"github.com/discochess/tiercache/internal/persist"
	"github.com/discochess/tiercache/internal/prefetch"
	"github.com/discochess/tiercache/internal/serialize"
	"github.com/discochess/tiercache/internal/stats"
	"github.com/discochess/tiercache/internal/store"
)

// Defaults.
const (
	DefaultBudget             = 10 << 20
	DefaultTTL                = 5 * time.Minute
	DefaultOfflineFallbackTTL = 24 * time.Hour
	DefaultMetricsInterval    = time.Minute
)

// Tiers selects which tiers Set writes to.
type Tiers int

const (
	// Hybrid writes to memory and to the persistent store.
	Hybrid Tiers = iota
	// MemoryOnly never touches the persistent store.
	MemoryOnly
	// PersistentOnly writes to the persistent store. Memory holds entries
	// promoted by reads, and entries whose persistent write failed.
	PersistentOnly
)

// String returns the tier mode name.
func (t Tiers) String() string {
	switch t {
	case Hybrid:
		return "hybrid"
	case MemoryOnly:
		return "memory"
	case PersistentOnly:
		return "persistent"
	default:
		return "unknown"
	}
}

// Option configures a Cache.
type Option interface {
	apply(*options)
}

// options holds the cache configuration.
type options struct {
	budget             int64
	tiers              Tiers
	store              store.Store
	codec              codec.Codec
	keyPrefix          string
	defaultTTL         time.Duration
	offlineFallbackTTL time.Duration
	staleWhileReval    bool
	source             connectivity.Source
	offlineMode        bool
	prefetch           bool
	prefetchWorkers    int
	prefetchQueue      int
	prefetchLimit      rate.Limit
	prefetchBurst      int
	metrics            bool
	metricsInterval    time.Duration
	sweepInterval      time.Duration
	fallbackSize       int64
	clock              clock.Clock
	logger             *zap.Logger
	stats              stats.Collector
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		budget:             DefaultBudget,
		tiers:              Hybrid,
		codec:              noopcodec.New(),
		keyPrefix:          persist.DefaultKeyPrefix,
		defaultTTL:         DefaultTTL,
		offlineFallbackTTL: DefaultOfflineFallbackTTL,
		staleWhileReval:    true,
		offlineMode:        true,
		prefetch:           true,
		prefetchWorkers:    prefetch.DefaultWorkers,
		prefetchQueue:      prefetch.DefaultQueueSize,
		prefetchLimit:      rate.Inf,
		prefetchBurst:      1,
		metrics:            true,
		metricsInterval:    DefaultMetricsInterval,
		sweepInterval:      memtier.DefaultSweepInterval,
		fallbackSize:       serialize.DefaultFallbackSize,
		clock:              clock.New(),
		logger:             zap.NewNop(),
		stats:              stats.NewNoop(),
	}
}

// optionFunc wraps a function to implement Option.
type optionFunc func(*options)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(o *options) { f(o) }

// WithBudget sets the memory tier's byte budget.
// Default is 10 MiB.
func WithBudget(bytes int64) Option {
	return optionFunc(func(o *options) {
		o.budget = bytes
	})
}

// WithTiers selects the tiers written by Set.
// Default is Hybrid.
func WithTiers(t Tiers) Option {
	return optionFunc(func(o *options) {
		o.tiers = t
	})
}

// WithStore sets the persistent store. The cache closes it on Close.
// If not set, a 5 MiB in-process session store is used.
func WithStore(s store.Store) Option {
	return optionFunc(func(o *options) {
		o.store = s
	})
}

// WithCodec sets the codec applied to persisted entries.
func WithCodec(c codec.Codec) Option {
	return optionFunc(func(o *options) {
		o.codec = c
	})
}

// WithKeyPrefix sets the prefix of persistent store keys.
func WithKeyPrefix(prefix string) Option {
	return optionFunc(func(o *options) {
		o.keyPrefix = prefix
	})
}

// WithDefaultTTL sets the TTL used when Set gets ttl <= 0.
func WithDefaultTTL(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.defaultTTL = d
	})
}

// WithOfflineFallbackTTL sets the TTL of entries saved with
// SaveOfflineFallback. Default is 24 hours.
func WithOfflineFallbackTTL(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.offlineFallbackTTL = d
	})
}

// WithStaleWhileRevalidate sets whether GetCached serves expired memory
// entries while refreshing them in the background. Default is true.
func WithStaleWhileRevalidate(enabled bool) Option {
	return optionFunc(func(o *options) {
		o.staleWhileReval = enabled
	})
}

// WithConnectivity sets the connectivity source.
// If not set, the cache assumes it is always online.
func WithConnectivity(s connectivity.Source) Option {
	return optionFunc(func(o *options) {
		o.source = s
	})
}

// WithOfflineMode sets whether connectivity is tracked at all. When
// disabled the cache behaves as if always online.
func WithOfflineMode(enabled bool) Option {
	return optionFunc(func(o *options) {
		o.offlineMode = enabled
	})
}

// WithPrefetch enables or disables Prefetch.
func WithPrefetch(enabled bool) Option {
	return optionFunc(func(o *options) {
		o.prefetch = enabled
	})
}

// WithPrefetchWorkers sets how many prefetches may run at once.
// Default is 1.
func WithPrefetchWorkers(n int) Option {
	return optionFunc(func(o *options) {
		o.prefetchWorkers = n
	})
}

// WithPrefetchQueue sets how many prefetches may wait before new ones
// are dropped. Default is 256.
func WithPrefetchQueue(n int) Option {
	return optionFunc(func(o *options) {
		o.prefetchQueue = n
	})
}

// WithPrefetchRate limits how often prefetches start.
// Default is unlimited.
func WithPrefetchRate(limit rate.Limit, burst int) Option {
	return optionFunc(func(o *options) {
		o.prefetchLimit = limit
		o.prefetchBurst = burst
	})
}

// WithMetrics enables or disables the periodic metrics report.
func WithMetrics(enabled bool) Option {
	return optionFunc(func(o *options) {
		o.metrics = enabled
	})
}

// WithMetricsInterval sets how often metrics are reported.
// Default is one minute.
func WithMetricsInterval(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.metricsInterval = d
	})
}

// WithSweepInterval sets how often expired memory entries are removed.
// Default is five minutes.
func WithSweepInterval(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.sweepInterval = d
	})
}

// WithFallbackSize sets the size assumed for values that cannot be
// measured. Default is 1 KiB.
func WithFallbackSize(bytes int64) Option {
	return optionFunc(func(o *options) {
		o.fallbackSize = bytes
	})
}

// WithClock sets the clock. Intended for tests.
func WithClock(c clock.Clock) Option {
	return optionFunc(func(o *options) {
		o.clock = c
	})
}

// WithStats sets the stats collector.
// If not set, a no-op collector is used.
func WithStats(c stats.Collector) Option {
	return optionFunc(func(o *options) {
		o.stats = c
	})
}

// WithLogger sets the logger.
// If not set, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = l
	})
}

// GetOption configures a single GetCached or Prefetch call.
type GetOption func(*getOptions)

type getOptions struct {
	ttl time.Duration
	swr *bool
}

// WithTTL sets the TTL of values fetched by this call.
func WithTTL(d time.Duration) GetOption {
	return func(o *getOptions) {
		o.ttl = d
	}
}

// WithSWR overrides the cache's stale-while-revalidate setting for this
// call.
func WithSWR(enabled bool) GetOption {
	return func(o *getOptions) {
		o.swr = &enabled
	}
}

func (c *Cache[V]) getOptions(opts []GetOption) getOptions {
	o := getOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.swr == nil {
		o.swr = &c.cfg.staleWhileReval
	}
	return o
}
