// Package prometheus provides a Prometheus-based stats collector.
package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/discochess/tiercache/internal/stats"
)

// Compile-time check that Collector implements stats.Collector.
var _ stats.Collector = (*Collector)(nil)

// help describes the metrics the cache emits. Unknown names use the name itself.
var help = map[string]string{
	stats.MetricHits:                 "Lookups answered from a cache tier, fresh or stale.",
	stats.MetricMisses:               "Lookups that went to the fetcher or found nothing.",
	stats.MetricOfflineServed:        "Lookups answered with cached data while offline.",
	stats.MetricLoadSeconds:          "Duration of foreground fetches on a cache miss.",
	stats.MetricEvictions:            "Memory tier entries evicted to stay within the byte budget.",
	stats.MetricExpirations:          "Memory tier entries removed by the expiry sweeper.",
	stats.MetricMemoryBytes:          "Estimated bytes held by the memory tier.",
	stats.MetricEntries:              "Entries held by the memory tier.",
	stats.MetricPersistWriteFailures: "Persistent tier writes that failed and degraded to memory only.",
	stats.MetricPersistReadFailures:  "Persistent tier reads that failed or could not be decoded.",
	stats.MetricRevalidations:        "Background revalidations started for stale entries.",
	stats.MetricRevalidationErrors:   "Background revalidations whose fetch failed.",
	stats.MetricPrefetchAttempts:     "Prefetch fetches attempted.",
	stats.MetricPrefetchSuccesses:    "Prefetch fetches that populated the cache.",
	stats.MetricPrefetchDropped:      "Prefetch jobs dropped because the queue was full.",
	stats.MetricOnline:               "1 when the connectivity source reports online.",
	stats.MetricOfflineTransitions:   "Transitions from online to offline.",
}

// Collector implements stats.Collector using Prometheus metrics.
// Metrics are created and registered lazily on first use.
type Collector struct {
	registry prometheus.Registerer
	buckets  []float64

	mu         sync.RWMutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

// Option configures a Collector.
type Option func(*Collector)

// WithBuckets sets the histogram buckets. The default spans 1ms to ~16s,
// which covers fetcher latencies from a local store to a slow network.
func WithBuckets(buckets []float64) Option {
	return func(c *Collector) {
		c.buckets = buckets
	}
}

// New creates a new Prometheus collector.
// If registry is nil, prometheus.DefaultRegisterer is used.
func New(registry prometheus.Registerer, opts ...Option) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	c := &Collector{
		registry:   registry,
		buckets:    prometheus.ExponentialBuckets(0.001, 2, 15),
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IncCounter increments a counter metric.
func (c *Collector) IncCounter(name string, delta int64) {
	counter := getOrRegister(c, c.counters, name, func() prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: helpFor(name)})
	})
	counter.Add(float64(delta))
}

// SetGauge sets a gauge metric.
func (c *Collector) SetGauge(name string, value int64) {
	gauge := getOrRegister(c, c.gauges, name, func() prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: helpFor(name)})
	})
	gauge.Set(float64(value))
}

// ObserveHistogram records a value in a histogram.
func (c *Collector) ObserveHistogram(name string, value float64) {
	histogram := getOrRegister(c, c.histograms, name, func() prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    name,
			Help:    helpFor(name),
			Buckets: c.buckets,
		})
	})
	histogram.Observe(value)
}

func helpFor(name string) string {
	if h, ok := help[name]; ok {
		return h
	}
	return name
}

// getOrRegister returns the metric cached under name, creating and registering
// it on first use. A metric already present in the registry is adopted.
func getOrRegister[M prometheus.Collector](c *Collector, cache map[string]M, name string, create func() M) M {
	c.mu.RLock()
	m, ok := cache[name]
	c.mu.RUnlock()
	if ok {
		return m
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok = cache[name]; ok {
		return m
	}

	m = create()
	if err := c.registry.Register(m); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(M); ok {
				m = existing
			}
		}
		// Any other registration error leaves an unregistered but usable metric.
	}
	cache[name] = m
	return m
}
