package tiercache

import (
	"time"

	"go.uber.org/zap"

	"github.com/discochess/tiercache/clock"
	"github.com/discochess/tiercache/internal/metrics"
)

// Metrics is a snapshot of cache activity since the cache was created.
// Load times cover the fetches since the last periodic report.
type Metrics struct {
	Hits          int64
	Misses        int64
	HitRate       float64 // hits / (hits + misses)
	Evictions     int64
	Expirations   int64
	OfflineServed int64 // lookups answered from cache while offline
	OfflineUsage  int64 // transitions to offline

	Revalidations        int64
	RevalidationFailures int64

	PrefetchAttempts    int64
	PrefetchSuccesses   int64
	PrefetchDropped     int64
	PrefetchSuccessRate float64

	AvgLoadTime time.Duration
	P95LoadTime time.Duration

	MemoryUsageBytes int64
	Entries          int
	Online           bool
}

func newMetrics(s metrics.Snapshot, entries int, online bool) Metrics {
	return Metrics{
		Hits:                 s.Hits,
		Misses:               s.Misses,
		HitRate:              s.HitRate,
		Evictions:            s.Evictions,
		Expirations:          s.Expirations,
		OfflineServed:        s.OfflineServed,
		OfflineUsage:         s.OfflineTransitions,
		Revalidations:        s.Revalidations,
		RevalidationFailures: s.RevalidationFailures,
		PrefetchAttempts:     s.PrefetchAttempts,
		PrefetchSuccesses:    s.PrefetchSuccesses,
		PrefetchDropped:      s.PrefetchDropped,
		PrefetchSuccessRate:  s.PrefetchSuccessRate,
		AvgLoadTime:          s.AvgLoadTime,
		P95LoadTime:          s.P95LoadTime,
		MemoryUsageBytes:     s.MemoryUsageBytes,
		Entries:              entries,
		Online:               online,
	}
}

func (c *Cache[V]) reportLoop(ticker clock.Ticker) {
	defer close(c.reportDone)
	defer ticker.Stop()

	for {
		select {
		case <-c.reportStop:
			return
		case <-ticker.C():
			c.report()
		}
	}
}

// report logs and publishes the current metrics, then starts a new
// load-time window.
func (c *Cache[V]) report() {
	s := c.metrics.Snapshot(c.mem.Usage())
	c.metrics.Publish(s)
	c.metrics.ResetWindow()

	c.logger.Info("performance metrics",
		zap.String("event", "performance_metrics"),
		zap.Float64("hitRate", s.HitRate),
		zap.Duration("avgLoadTime", s.AvgLoadTime),
		zap.Duration("p95LoadTime", s.P95LoadTime),
		zap.Int64("offlineUsage", s.OfflineTransitions),
		zap.Float64("prefetchSuccess", s.PrefetchSuccessRate),
		zap.Int64("memoryUsageBytes", s.MemoryUsageBytes),
	)
}
