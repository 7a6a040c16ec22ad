// Package tiercache provides a multi-tier cache for data from a source of
// uncertain availability.
//
// Lookups go to an in-process memory tier bounded by a byte budget, then
// to a persistent store, then to a caller-supplied Fetcher. Expired values
// are served while a background refresh runs, and while offline any cached
// value is better than none.
//
// Example usage:
//
//	cache, err := tiercache.New[Profile](
//	    tiercache.WithBudget(4<<20),
//	    tiercache.WithLogger(logger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cache.Close()
//
//	p, err := cache.GetCached(ctx, "user/42", fetchProfile, tiercache.WithTTL(time.Minute))
//	if errors.Is(err, tiercache.ErrNotAvailable) {
//	    // Offline with nothing cached, or the fetch failed with nothing cached.
//	}
package tiercache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/discochess/tiercache/clock"
	"github.com/discochess/tiercache/connectivity"
	"github.com/discochess/tiercache/internal/entry"
	"github.com/discochess/tiercache/internal/memtier"
	"github.com/discochess/tiercache/internal/metrics"
	"github.com/discochess/tiercache/internal/persist"
	"github.com/discochess/tiercache/internal/prefetch"
	"github.com/discochess/tiercache/internal/serialize"
	"github.com/discochess/tiercache/internal/store/memstore"
)

// Sentinel errors for well-defined error conditions.
var (
	// ErrNotAvailable indicates no value could be produced for a key: it
	// is not cached and the fetch failed or could not be attempted.
	ErrNotAvailable = errors.New("tiercache: not available")

	// ErrClosed indicates the cache has been closed.
	ErrClosed = errors.New("tiercache: cache closed")

	// ErrInvalidBudget indicates a non-positive memory budget.
	ErrInvalidBudget = errors.New("tiercache: budget must be positive")

	// ErrInvalidWorkers indicates a non-positive prefetch worker count.
	ErrInvalidWorkers = errors.New("tiercache: prefetch workers must be positive")
)

// Fetcher produces the value for key from the source of truth. It may be
// called more than once for the same key and must be safe to repeat.
type Fetcher[V any] func(ctx context.Context, key string) (V, error)

// Cache is a multi-tier cache of values of type V.
// A Cache is safe for concurrent use by multiple goroutines.
type Cache[V any] struct {
	cfg        options
	clock      clock.Clock
	logger     *zap.Logger
	mem        *memtier.Tier[V]
	persist    *persist.Adapter[V]
	sweeper    *memtier.Sweeper
	monitor    *connectivity.Monitor
	prefetcher *prefetch.Scheduler
	metrics    *metrics.Recorder

	group      singleflight.Group
	foreground atomic.Int64

	revalMu      sync.Mutex
	revalidating map[string]struct{}
	draining     bool // no new revalidations; guarded by revalMu
	bg           sync.WaitGroup

	reportStop chan struct{}
	reportDone chan struct{}
	closed     atomic.Bool
}

// New creates a cache and starts its background work: the expiry sweeper,
// the connectivity monitor, the prefetch workers and the metrics report.
// Close stops all of it.
func New[V any](opts ...Option) (*Cache[V], error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	if cfg.budget <= 0 {
		return nil, ErrInvalidBudget
	}
	if cfg.prefetch && cfg.prefetchWorkers <= 0 {
		return nil, ErrInvalidWorkers
	}
	if cfg.defaultTTL <= 0 {
		cfg.defaultTTL = DefaultTTL
	}
	if cfg.offlineFallbackTTL <= 0 {
		cfg.offlineFallbackTTL = DefaultOfflineFallbackTTL
	}
	if cfg.metricsInterval <= 0 {
		cfg.metricsInterval = DefaultMetricsInterval
	}
	if cfg.fallbackSize <= 0 {
		cfg.fallbackSize = serialize.DefaultFallbackSize
	}

	c := &Cache[V]{
		cfg:          cfg,
		clock:        cfg.clock,
		logger:       cfg.logger,
		mem:          memtier.New[V](cfg.budget, cfg.clock, nil),
		metrics:      metrics.New(cfg.stats, 0),
		revalidating: make(map[string]struct{}),
	}

	if cfg.tiers != MemoryOnly {
		st := cfg.store
		if st == nil {
			st = memstore.New()
		}
		c.persist = persist.New[V](st,
			persist.WithCodec(cfg.codec),
			persist.WithKeyPrefix(cfg.keyPrefix),
			persist.WithLogger(cfg.logger.Named("persist")),
			persist.WithStats(cfg.stats),
		)
	}

	c.sweeper = memtier.NewSweeper(c.mem, c.clock, cfg.sweepInterval, cfg.logger.Named("sweeper"), func(removed []string) {
		c.metrics.Expired(len(removed))
		c.metrics.Memory(c.mem.Usage(), c.mem.Len())
	})
	c.sweeper.Start()

	if cfg.offlineMode {
		source := cfg.source
		if source == nil {
			source = connectivity.NewStatic(true)
		}
		c.monitor = connectivity.NewMonitor(source, c.clock, c.connectivityChanged)
		c.monitor.Start()
		c.metrics.Connectivity(c.monitor.Online())
	}

	if cfg.prefetch {
		c.prefetcher = prefetch.New(
			prefetch.WithWorkers(cfg.prefetchWorkers),
			prefetch.WithQueueSize(cfg.prefetchQueue),
			prefetch.WithRate(cfg.prefetchLimit, cfg.prefetchBurst),
			prefetch.WithIdle(func() bool { return c.foreground.Load() > 0 }, 0, 0),
			prefetch.WithLogger(cfg.logger.Named("prefetch")),
		)
	}

	if cfg.metrics {
		c.reportStop = make(chan struct{})
		c.reportDone = make(chan struct{})
		go c.reportLoop(c.clock.NewTicker(cfg.metricsInterval))
	}

	c.logger.Debug("cache initialized",
		zap.Int64("budgetBytes", cfg.budget),
		zap.Stringer("tiers", cfg.tiers),
		zap.Bool("staleWhileRevalidate", cfg.staleWhileReval),
		zap.Bool("offlineMode", cfg.offlineMode),
		zap.Bool("prefetch", cfg.prefetch),
	)

	return c, nil
}

// Set stores value under key for ttl. A ttl <= 0 uses the default TTL.
// Set never fails: if the persistent write fails the value is kept in
// memory only.
func (c *Cache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) {
	if c.closed.Load() {
		return
	}
	if ttl <= 0 {
		ttl = c.cfg.defaultTTL
	}
	size := serialize.EstimateSize(value, c.cfg.fallbackSize)
	e := entry.New(value, c.clock.Now(), ttl, size)

	switch c.cfg.tiers {
	case MemoryOnly:
		c.setMemory(key, e)
	case Hybrid:
		c.setMemory(key, e)
		c.persist.Write(ctx, key, e)
	case PersistentOnly:
		if c.persist.Write(ctx, key, e) {
			// Drop any promoted copy so reads see the new value.
			c.mem.Remove(key)
		} else {
			c.setMemory(key, e)
		}
	}

	c.logger.Debug("cache set",
		zap.String("event", "cache_set"),
		zap.String("key", key),
		zap.Int64("sizeBytes", size),
		zap.Duration("ttl", ttl),
	)
}

// GetCached returns the value for key, resolving in order:
//
//  1. a fresh memory entry;
//  2. an expired memory entry, when stale-while-revalidate applies and
//     the cache is online, while one background refresh runs;
//  3. a fresh persistent entry, promoted into memory;
//  4. fetch, when online, whose result is stored;
//  5. any expired cached value, when offline or when fetch failed.
//
// Otherwise it returns an error matching ErrNotAvailable, joined with the
// fetch error if there was one. fetch may be nil.
func (c *Cache[V]) GetCached(ctx context.Context, key string, fetch Fetcher[V], opts ...GetOption) (V, error) {
	var zero V
	if c.closed.Load() {
		return zero, ErrClosed
	}
	o := c.getOptions(opts)
	online := c.Online()
	now := c.clock.Now()

	stale, cached := c.mem.Get(key)
	if cached {
		if !stale.Expired(now) {
			c.hit(key, "cache_hit", "memory")
			return stale.Value, nil
		}
		if *o.swr && fetch != nil && online {
			c.revalidate(ctx, key, fetch, o.ttl)
			c.hit(key, "cache_hit_stale", "memory")
			return stale.Value, nil
		}
	} else if c.persist != nil {
		if pe, ok := c.persist.Read(ctx, key); ok {
			if !pe.Expired(now) {
				c.promote(key, pe, now)
				c.hit(key, "cache_hit", "persistent")
				return pe.Value, nil
			}
			stale, cached = pe, true
		}
	}

	var fetchErr error
	if fetch != nil && online {
		start := c.clock.Now()
		v, err := c.fetchAndStore(ctx, key, fetch, o.ttl)
		if err == nil {
			elapsed := c.clock.Now().Sub(start)
			c.metrics.Miss()
			c.metrics.ObserveLoad(elapsed)
			c.logger.Debug("cache miss, fetched",
				zap.String("event", "cache_miss_fresh"),
				zap.String("key", key),
				zap.Duration("loadTime", elapsed),
			)
			return v, nil
		}
		fetchErr = err
		c.logger.Warn("fetch failed",
			zap.String("key", key),
			zap.Error(err),
		)
		if cached {
			c.hit(key, "cache_hit_fallback", "fetch_failed")
			return stale.Value, nil
		}
	}

	if cached {
		if !online {
			c.metrics.OfflineServed()
			c.hit(key, "cache_hit_offline", "offline")
			return stale.Value, nil
		}
		// Online without a fetcher: stale data beats none.
		c.hit(key, "cache_hit_fallback", "no_fetcher")
		return stale.Value, nil
	}

	c.metrics.Miss()
	c.logger.Debug("cache miss, nothing to fall back on",
		zap.String("event", "cache_miss_no_fallback"),
		zap.String("key", key),
		zap.Bool("online", online),
	)
	if fetchErr != nil {
		return zero, fmt.Errorf("%w: %w", ErrNotAvailable, fetchErr)
	}
	return zero, ErrNotAvailable
}

// Online reports whether the cache currently considers the data source
// reachable. It is always true when offline mode is disabled.
func (c *Cache[V]) Online() bool {
	if c.monitor == nil {
		return true
	}
	return c.monitor.Online()
}

// Metrics returns the current metrics.
func (c *Cache[V]) Metrics() Metrics {
	return newMetrics(c.metrics.Snapshot(c.mem.Usage()), c.mem.Len(), c.Online())
}

// Close stops background work, reports final metrics, clears the memory
// tier and closes the persistent store. Fetches and revalidations already
// running are allowed to finish first.
func (c *Cache[V]) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	if c.reportStop != nil {
		close(c.reportStop)
		<-c.reportDone
	}
	c.sweeper.Stop()
	if c.monitor != nil {
		c.monitor.Stop()
	}
	if c.prefetcher != nil {
		c.prefetcher.Stop()
	}

	c.revalMu.Lock()
	c.draining = true
	c.revalMu.Unlock()
	c.bg.Wait()

	if c.cfg.metrics {
		c.report()
	}
	c.mem.Clear()

	if c.persist != nil {
		if err := c.persist.Close(); err != nil {
			return fmt.Errorf("closing store: %w", err)
		}
	}

	c.logger.Debug("cache closed")
	return nil
}

// fetchAndStore runs fetch once per key across concurrent callers and
// stores the result.
func (c *Cache[V]) fetchAndStore(ctx context.Context, key string, fetch Fetcher[V], ttl time.Duration) (V, error) {
	c.foreground.Add(1)
	defer c.foreground.Add(-1)

	ch := c.group.DoChan(key, func() (any, error) {
		if !c.track() {
			return nil, ErrClosed
		}
		defer c.bg.Done()

		fctx := context.WithoutCancel(ctx)
		v, err := safeFetch(fctx, key, fetch)
		if err != nil {
			return nil, err
		}
		c.Set(fctx, key, v, ttl)
		return v, nil
	})

	var zero V
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// track registers background work with Close. It reports false once Close
// has started waiting; callers that get true must call c.bg.Done.
func (c *Cache[V]) track() bool {
	c.revalMu.Lock()
	defer c.revalMu.Unlock()
	if c.draining {
		return false
	}
	c.bg.Add(1)
	return true
}

func (c *Cache[V]) setMemory(key string, e entry.Entry[V]) {
	evicted := c.mem.Set(key, e)
	if len(evicted) > 0 {
		c.metrics.Evicted(len(evicted))
		c.logger.Debug("entries evicted",
			zap.String("event", "cache_eviction"),
			zap.Int("count", len(evicted)),
			zap.Int64("requiredBytes", e.SizeBytes),
			zap.Int64("usageBytes", c.mem.Usage()),
		)
	}
	c.metrics.Memory(c.mem.Usage(), c.mem.Len())
}

// promote copies a persistent entry into memory as a fresh access.
func (c *Cache[V]) promote(key string, e entry.Entry[V], now time.Time) {
	e.AccessCount++
	e.LastAccessedAt = now
	c.setMemory(key, e)
}

func (c *Cache[V]) hit(key, event, from string) {
	c.metrics.Hit()
	c.logger.Debug("cache hit",
		zap.String("event", event),
		zap.String("key", key),
		zap.String("from", from),
	)
}

func (c *Cache[V]) connectivityChanged(online bool) {
	c.metrics.Connectivity(online)
	if online {
		c.logger.Info("connection restored", zap.String("event", "connection_restored"))
		return
	}
	c.logger.Warn("connection lost", zap.String("event", "connection_lost"))
}

// safeFetch calls fetch, turning a panic into an error.
func safeFetch[V any](ctx context.Context, key string, fetch Fetcher[V]) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetching %q: panic: %v", key, r)
		}
	}()
	return fetch(ctx, key)
}
