// Package stats provides a unified interface for collecting metrics.
package stats

// Metric names used throughout the library.
const (
	// Lookup metrics.
	MetricHits          = "tiercache_hits_total"
	MetricMisses        = "tiercache_misses_total"
	MetricOfflineServed = "tiercache_offline_served_total"
	MetricLoadSeconds   = "tiercache_load_seconds"

	// Memory tier metrics.
	MetricEvictions   = "tiercache_evictions_total"
	MetricExpirations = "tiercache_expirations_total"
	MetricMemoryBytes = "tiercache_memory_bytes"
	MetricEntries     = "tiercache_memory_entries"

	// Persistent tier metrics.
	MetricPersistWriteFailures = "tiercache_persist_write_failures_total"
	MetricPersistReadFailures  = "tiercache_persist_read_failures_total"

	// Background work metrics.
	MetricRevalidations      = "tiercache_revalidations_total"
	MetricRevalidationErrors = "tiercache_revalidation_failures_total"
	MetricPrefetchAttempts   = "tiercache_prefetch_attempts_total"
	MetricPrefetchSuccesses  = "tiercache_prefetch_successes_total"
	MetricPrefetchDropped    = "tiercache_prefetch_dropped_total"

	// Connectivity metrics.
	MetricOnline             = "tiercache_online"
	MetricOfflineTransitions = "tiercache_offline_transitions_total"

	// Periodic report gauges, in parts per thousand.
	MetricHitRatePermille         = "tiercache_hit_rate_permille"
	MetricPrefetchSuccessPermille = "tiercache_prefetch_success_permille"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64)
}
