package tiercache

import (
	"context"

	"go.uber.org/zap"
)

// offlineFallbackPrefix keeps offline fallback entries apart from normal
// entries with the same key.
const offlineFallbackPrefix = "offline_fallback_"

// SaveOfflineFallback stores value as the last-resort copy for key, with
// the offline fallback TTL.
func (c *Cache[V]) SaveOfflineFallback(ctx context.Context, key string, value V) {
	if c.closed.Load() {
		return
	}
	c.Set(ctx, offlineFallbackPrefix+key, value, c.cfg.offlineFallbackTTL)
	c.logger.Debug("offline fallback saved",
		zap.String("event", "offline_fallback_saved"),
		zap.String("key", key),
	)
}

// GetOfflineFallback returns the last-resort copy saved for key, from
// memory or else from the persistent store. Expiry is not checked.
func (c *Cache[V]) GetOfflineFallback(ctx context.Context, key string) (V, bool) {
	var zero V
	if c.closed.Load() {
		return zero, false
	}
	fk := offlineFallbackPrefix + key

	if e, ok := c.mem.Get(fk); ok {
		c.logger.Debug("offline fallback used",
			zap.String("event", "offline_fallback_used"),
			zap.String("key", key),
			zap.String("from", "memory"),
		)
		return e.Value, true
	}
	if c.persist == nil {
		return zero, false
	}
	e, ok := c.persist.Read(ctx, fk)
	if !ok {
		return zero, false
	}
	c.logger.Debug("offline fallback used",
		zap.String("event", "offline_fallback_used"),
		zap.String("key", key),
		zap.String("from", "persistent"),
	)
	return e.Value, true
}
