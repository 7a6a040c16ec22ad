package tiercache

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Prefetch queues background fetches for the keys that have no fresh
// cached value, and returns how many were queued. It does nothing while
// offline or when prefetching is disabled. Queued fetches wait for
// foreground fetches to finish; failures are logged and never returned.
//
// ctx only bounds the presence checks made before queueing.
func (c *Cache[V]) Prefetch(ctx context.Context, keys []string, fetch Fetcher[V], opts ...GetOption) int {
	if c.closed.Load() || c.prefetcher == nil || fetch == nil || !c.Online() {
		return 0
	}
	o := c.getOptions(opts)

	queued := 0
	for _, key := range keys {
		if c.fresh(ctx, key) {
			continue
		}
		if !c.prefetcher.Submit(key, c.prefetchJob(key, fetch, o)) {
			c.metrics.PrefetchDropped()
			c.logger.Debug("prefetch dropped, queue full", zap.String("key", key))
			continue
		}
		queued++
	}
	return queued
}

func (c *Cache[V]) prefetchJob(key string, fetch Fetcher[V], o getOptions) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		// The key may have been fetched, or the source lost, while queued.
		if c.closed.Load() || !c.Online() || c.fresh(ctx, key) {
			return nil
		}
		c.metrics.PrefetchAttempt()
		v, err := safeFetch(ctx, key, fetch)
		if err != nil {
			return fmt.Errorf("prefetching %q: %w", key, err)
		}
		c.Set(ctx, key, v, o.ttl)
		c.metrics.PrefetchSuccess()
		return nil
	}
}

// fresh reports whether key has an unexpired value in any tier.
func (c *Cache[V]) fresh(ctx context.Context, key string) bool {
	now := c.clock.Now()
	if e, ok := c.mem.Peek(key); ok && !e.Expired(now) {
		return true
	}
	if c.persist == nil {
		return false
	}
	e, ok := c.persist.Read(ctx, key)
	return ok && !e.Expired(now)
}
