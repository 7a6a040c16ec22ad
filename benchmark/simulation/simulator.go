// Package simulation replays workloads against cache configurations.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/discochess/tiercache"
	"github.com/discochess/tiercache/benchmark/workload"
	"github.com/discochess/tiercache/clock"
	"github.com/discochess/tiercache/connectivity"
	"github.com/discochess/tiercache/internal/store/memstore"
)

// Config is one cache configuration under test.
type Config struct {
	Name         string
	Budget       int64
	Tiers        tiercache.Tiers
	PersistQuota int64 // Bytes; <= 0 uses the memstore default.
	TTL          time.Duration
}

// Simulator replays sessions against each configuration on a fake clock,
// so results are reproducible and independent of wall time.
type Simulator struct {
	configs      []Config
	think        time.Duration
	offlineEvery int
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithThinkTime sets the simulated time between two requests.
func WithThinkTime(d time.Duration) Option {
	return func(s *Simulator) {
		s.think = d
	}
}

// WithOfflineEvery takes every nth session offline. Zero keeps every
// session online.
func WithOfflineEvery(n int) Option {
	return func(s *Simulator) {
		s.offlineEvery = n
	}
}

// NewSimulator creates a Simulator for the given configurations.
func NewSimulator(configs []Config, opts ...Option) *Simulator {
	s := &Simulator{
		configs: configs,
		think:   time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AggregateResult contains the outcome of one configuration across all sessions.
type AggregateResult struct {
	ConfigName       string
	TotalRequests    int
	Hits             int
	Misses           int
	Unavailable      int   // Requests answered with an error.
	OfflineServed    int64 // Hits served while offline.
	Evictions        int64
	FetchedBytes     int64
	KeyHits          map[string]int // Key -> requests.
	MissesPerSession []int          // Misses per session for statistical analysis.
}

// HitRate returns hits as a percentage of all requests.
func (a *AggregateResult) HitRate() float64 {
	if a.TotalRequests == 0 {
		return 0
	}
	return float64(a.Hits) / float64(a.TotalRequests) * 100
}

// Run replays sessions against every configuration. Results are keyed by
// configuration name.
func (s *Simulator) Run(ctx context.Context, sessions []workload.Session) (map[string]*AggregateResult, error) {
	results := make(map[string]*AggregateResult, len(s.configs))
	for _, cfg := range s.configs {
		if _, ok := results[cfg.Name]; ok {
			return nil, fmt.Errorf("duplicate config name %q", cfg.Name)
		}
		res, err := s.runConfig(ctx, cfg, sessions)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.Name, err)
		}
		results[cfg.Name] = res
	}
	return results, nil
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func (s *Simulator) runConfig(ctx context.Context, cfg Config, sessions []workload.Session) (*AggregateResult, error) {
	clk := clock.NewFake(epoch)
	network := connectivity.NewStatic(true)

	var storeOpts []memstore.Option
	if cfg.PersistQuota > 0 {
		storeOpts = append(storeOpts, memstore.WithQuota(cfg.PersistQuota))
	}

	cache, err := tiercache.New[[]byte](
		tiercache.WithBudget(cfg.Budget),
		tiercache.WithTiers(cfg.Tiers),
		tiercache.WithStore(memstore.New(storeOpts...)),
		tiercache.WithDefaultTTL(cfg.TTL),
		tiercache.WithStaleWhileRevalidate(false),
		tiercache.WithPrefetch(false),
		tiercache.WithMetrics(false),
		tiercache.WithSweepInterval(365*24*time.Hour),
		tiercache.WithConnectivity(network),
		tiercache.WithClock(clk),
	)
	if err != nil {
		return nil, err
	}
	defer cache.Close()

	res := &AggregateResult{
		ConfigName:       cfg.Name,
		KeyHits:          make(map[string]int),
		MissesPerSession: make([]int, 0, len(sessions)),
	}

	var fetches int
	var size int
	fetch := func(context.Context, string) ([]byte, error) {
		fetches++
		res.FetchedBytes += int64(size)
		return make([]byte, size), nil
	}

	for i, session := range sessions {
		offline := s.offlineEvery > 0 && i%s.offlineEvery == s.offlineEvery-1
		network.SetOnline(!offline)

		var misses int
		for _, req := range session {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			res.TotalRequests++
			res.KeyHits[req.Key]++

			before := fetches
			size = req.Size
			_, err := cache.GetCached(ctx, req.Key, fetch)
			switch {
			case errors.Is(err, tiercache.ErrNotAvailable):
				res.Unavailable++
				misses++
			case err != nil:
				return nil, err
			case fetches == before:
				res.Hits++
			default:
				res.Misses++
				misses++
			}
			clk.Advance(s.think)
		}
		res.MissesPerSession = append(res.MissesPerSession, misses)
	}

	m := cache.Metrics()
	res.OfflineServed = m.OfflineServed
	res.Evictions = m.Evictions
	return res, nil
}
