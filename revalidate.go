package tiercache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// revalidate refreshes key in the background unless a refresh for key is
// already running. It never blocks on fetch.
func (c *Cache[V]) revalidate(ctx context.Context, key string, fetch Fetcher[V], ttl time.Duration) bool {
	c.revalMu.Lock()
	if _, running := c.revalidating[key]; running || c.draining {
		c.revalMu.Unlock()
		return false
	}
	c.revalidating[key] = struct{}{}
	c.bg.Add(1)
	c.revalMu.Unlock()

	// The refresh outlives the request that triggered it.
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		defer c.bg.Done()
		defer c.endRevalidation(key)

		v, err := safeFetch(bgCtx, key, fetch)
		if err != nil {
			c.metrics.RevalidationFailed()
			c.logger.Warn("background revalidation failed",
				zap.String("event", "cache_revalidation_failed"),
				zap.String("key", key),
				zap.Error(err),
			)
			return
		}
		c.Set(bgCtx, key, v, ttl)
		c.metrics.Revalidated()
		c.logger.Debug("entry revalidated",
			zap.String("event", "cache_revalidated"),
			zap.String("key", key),
		)
	}()
	return true
}

func (c *Cache[V]) endRevalidation(key string) {
	c.revalMu.Lock()
	defer c.revalMu.Unlock()
	delete(c.revalidating, key)
}

// Revalidating reports whether a background refresh of key is running.
func (c *Cache[V]) Revalidating(key string) bool {
	c.revalMu.Lock()
	defer c.revalMu.Unlock()
	_, ok := c.revalidating[key]
	return ok
}
