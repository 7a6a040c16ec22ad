// Package metrics counts cache events and derives the reported rates.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/discochess/tiercache/internal/stats"
)

// DefaultWindow is the number of load-time samples kept between resets.
const DefaultWindow = 1024

// Snapshot is a point-in-time view of the counters and derived rates.
type Snapshot struct {
	Hits                 int64
	Misses               int64
	Evictions            int64
	Expirations          int64
	OfflineServed        int64
	OfflineTransitions   int64
	Revalidations        int64
	RevalidationFailures int64
	PrefetchAttempts     int64
	PrefetchSuccesses    int64
	PrefetchDropped      int64

	// HitRate is hits / (hits + misses), or 0 before any lookup.
	HitRate float64
	// PrefetchSuccessRate is successes / attempts, or 0 before any attempt.
	PrefetchSuccessRate float64

	AvgLoadTime time.Duration
	P95LoadTime time.Duration
	LoadSamples int

	MemoryUsageBytes int64
}

// Recorder holds the counters. Counting never blocks on anything but a
// short mutex for load-time samples, and never fails.
type Recorder struct {
	stats stats.Collector

	hits                 atomic.Int64
	misses               atomic.Int64
	evictions            atomic.Int64
	expirations          atomic.Int64
	offlineServed        atomic.Int64
	offlineTransitions   atomic.Int64
	revalidations        atomic.Int64
	revalidationFailures atomic.Int64
	prefetchAttempts     atomic.Int64
	prefetchSuccesses    atomic.Int64
	prefetchDropped      atomic.Int64

	mu      sync.Mutex
	window  int
	samples []float64 // seconds, ring buffer once full
	next    int
}

// New returns a recorder that mirrors every event to collector. A window
// <= 0 uses DefaultWindow.
func New(collector stats.Collector, window int) *Recorder {
	if collector == nil {
		collector = stats.NewNoop()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Recorder{
		stats:   collector,
		window:  window,
		samples: make([]float64, 0, window),
	}
}

func (r *Recorder) Hit() {
	r.hits.Add(1)
	r.stats.IncCounter(stats.MetricHits, 1)
}

func (r *Recorder) Miss() {
	r.misses.Add(1)
	r.stats.IncCounter(stats.MetricMisses, 1)
}

func (r *Recorder) Evicted(n int) {
	if n <= 0 {
		return
	}
	r.evictions.Add(int64(n))
	r.stats.IncCounter(stats.MetricEvictions, int64(n))
}

func (r *Recorder) Expired(n int) {
	if n <= 0 {
		return
	}
	r.expirations.Add(int64(n))
	r.stats.IncCounter(stats.MetricExpirations, int64(n))
}

// OfflineServed counts a lookup answered from cache while offline.
func (r *Recorder) OfflineServed() {
	r.offlineServed.Add(1)
	r.stats.IncCounter(stats.MetricOfflineServed, 1)
}

// Connectivity records the current state; going offline counts as a
// transition.
func (r *Recorder) Connectivity(online bool) {
	if online {
		r.stats.SetGauge(stats.MetricOnline, 1)
		return
	}
	r.offlineTransitions.Add(1)
	r.stats.IncCounter(stats.MetricOfflineTransitions, 1)
	r.stats.SetGauge(stats.MetricOnline, 0)
}

func (r *Recorder) Revalidated() {
	r.revalidations.Add(1)
	r.stats.IncCounter(stats.MetricRevalidations, 1)
}

func (r *Recorder) RevalidationFailed() {
	r.revalidationFailures.Add(1)
	r.stats.IncCounter(stats.MetricRevalidationErrors, 1)
}

func (r *Recorder) PrefetchAttempt() {
	r.prefetchAttempts.Add(1)
	r.stats.IncCounter(stats.MetricPrefetchAttempts, 1)
}

func (r *Recorder) PrefetchSuccess() {
	r.prefetchSuccesses.Add(1)
	r.stats.IncCounter(stats.MetricPrefetchSuccesses, 1)
}

func (r *Recorder) PrefetchDropped() {
	r.prefetchDropped.Add(1)
	r.stats.IncCounter(stats.MetricPrefetchDropped, 1)
}

// ObserveLoad records how long a foreground fetch took. Once the window
// is full the oldest sample is overwritten.
func (r *Recorder) ObserveLoad(d time.Duration) {
	sec := d.Seconds()
	r.stats.ObserveHistogram(stats.MetricLoadSeconds, sec)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) < r.window {
		r.samples = append(r.samples, sec)
		return
	}
	r.samples[r.next] = sec
	r.next = (r.next + 1) % r.window
}

// Memory publishes the memory tier's size.
func (r *Recorder) Memory(usageBytes int64, entries int) {
	r.stats.SetGauge(stats.MetricMemoryBytes, usageBytes)
	r.stats.SetGauge(stats.MetricEntries, int64(entries))
}

// Snapshot computes the current metrics. usageBytes is reported as
// MemoryUsageBytes.
func (r *Recorder) Snapshot(usageBytes int64) Snapshot {
	s := Snapshot{
		Hits:                 r.hits.Load(),
		Misses:               r.misses.Load(),
		Evictions:            r.evictions.Load(),
		Expirations:          r.expirations.Load(),
		OfflineServed:        r.offlineServed.Load(),
		OfflineTransitions:   r.offlineTransitions.Load(),
		Revalidations:        r.revalidations.Load(),
		RevalidationFailures: r.revalidationFailures.Load(),
		PrefetchAttempts:     r.prefetchAttempts.Load(),
		PrefetchSuccesses:    r.prefetchSuccesses.Load(),
		PrefetchDropped:      r.prefetchDropped.Load(),
		MemoryUsageBytes:     usageBytes,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	if s.PrefetchAttempts > 0 {
		s.PrefetchSuccessRate = float64(s.PrefetchSuccesses) / float64(s.PrefetchAttempts)
	}

	r.mu.Lock()
	sorted := append([]float64(nil), r.samples...)
	r.mu.Unlock()

	if len(sorted) > 0 {
		sort.Float64s(sorted)
		s.LoadSamples = len(sorted)
		s.AvgLoadTime = seconds(stat.Mean(sorted, nil))
		s.P95LoadTime = seconds(stat.Quantile(0.95, stat.Empirical, sorted, nil))
	}
	return s
}

// ResetWindow discards the load-time samples. Counters are cumulative and
// are not reset.
func (r *Recorder) ResetWindow() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = r.samples[:0]
	r.next = 0
}

// Publish pushes the derived rates of s as gauges.
func (r *Recorder) Publish(s Snapshot) {
	r.stats.SetGauge(stats.MetricHitRatePermille, int64(s.HitRate*1000))
	r.stats.SetGauge(stats.MetricPrefetchSuccessPermille, int64(s.PrefetchSuccessRate*1000))
	r.stats.SetGauge(stats.MetricMemoryBytes, s.MemoryUsageBytes)
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
