package simulation

import (
	"context"
	"testing"
	"time"

	"github.com/discochess/tiercache"
	"github.com/discochess/tiercache/benchmark/workload"
)

func req(key string) workload.Request {
	return workload.Request{Key: key, Size: 100}
}

func run(t *testing.T, cfg Config, sessions []workload.Session, opts ...Option) *AggregateResult {
	t.Helper()
	results, err := NewSimulator([]Config{cfg}, opts...).Run(context.Background(), sessions)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return results[cfg.Name]
}

func TestSimulator_HitsAndMisses(t *testing.T) {
	cfg := Config{Name: "mem", Budget: 1 << 20, Tiers: tiercache.MemoryOnly, TTL: time.Hour}
	res := run(t, cfg, []workload.Session{{req("a"), req("a"), req("b"), req("a")}})

	if res.TotalRequests != 4 || res.Hits != 2 || res.Misses != 2 {
		t.Errorf("requests/hits/misses = %d/%d/%d, want 4/2/2", res.TotalRequests, res.Hits, res.Misses)
	}
	if len(res.MissesPerSession) != 1 || res.MissesPerSession[0] != 2 {
		t.Errorf("MissesPerSession = %v, want [2]", res.MissesPerSession)
	}
	if res.FetchedBytes != 200 {
		t.Errorf("FetchedBytes = %d, want 200", res.FetchedBytes)
	}
	if res.KeyHits["a"] != 3 || res.KeyHits["b"] != 1 {
		t.Errorf("KeyHits = %v, want a:3 b:1", res.KeyHits)
	}
	if got := res.HitRate(); got != 50 {
		t.Errorf("HitRate() = %v, want 50", got)
	}
}

func TestSimulator_Expiry(t *testing.T) {
	cfg := Config{Name: "short", Budget: 1 << 20, Tiers: tiercache.Hybrid, TTL: time.Second}
	res := run(t, cfg, []workload.Session{{req("a"), req("a")}}, WithThinkTime(time.Second))

	if res.Misses != 2 {
		t.Errorf("Misses = %d, want 2", res.Misses)
	}
}

func TestSimulator_Offline(t *testing.T) {
	// Entries expire before the offline session reads them.
	cfg := Config{Name: "hybrid", Budget: 1 << 20, Tiers: tiercache.Hybrid, TTL: time.Second}
	sessions := []workload.Session{{req("a")}, {req("a"), req("b")}, {req("b")}}
	res := run(t, cfg, sessions, WithOfflineEvery(2))

	if res.Hits != 1 || res.Misses != 2 || res.Unavailable != 1 {
		t.Errorf("hits/misses/unavailable = %d/%d/%d, want 1/2/1", res.Hits, res.Misses, res.Unavailable)
	}
	if res.OfflineServed != 1 {
		t.Errorf("OfflineServed = %d, want 1", res.OfflineServed)
	}
	if len(res.MissesPerSession) != 3 {
		t.Fatalf("MissesPerSession = %v, want 3 sessions", res.MissesPerSession)
	}
	for i, n := range res.MissesPerSession {
		if n != 1 {
			t.Errorf("MissesPerSession[%d] = %d, want 1", i, n)
		}
	}
}

func TestSimulator_PersistentTierAbsorbsEvictions(t *testing.T) {
	// Each 100-byte value estimates at 138 bytes, so the budget fits one.
	configs := []Config{
		{Name: "memory", Budget: 200, Tiers: tiercache.MemoryOnly, TTL: time.Hour},
		{Name: "hybrid", Budget: 200, Tiers: tiercache.Hybrid, TTL: time.Hour},
	}
	sessions := []workload.Session{{req("a"), req("b"), req("a")}}

	results, err := NewSimulator(configs).Run(context.Background(), sessions)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := results["memory"].Misses; got != 3 {
		t.Errorf("memory Misses = %d, want 3", got)
	}
	if got := results["memory"].Evictions; got < 1 {
		t.Errorf("memory Evictions = %d, want >= 1", got)
	}
	if got := results["hybrid"].Hits; got != 1 {
		t.Errorf("hybrid Hits = %d, want 1", got)
	}
}

func TestSimulator_DuplicateNames(t *testing.T) {
	cfg := Config{Name: "x", Budget: 1 << 20, TTL: time.Hour}
	if _, err := NewSimulator([]Config{cfg, cfg}).Run(context.Background(), nil); err == nil {
		t.Error("Run() with duplicate names error = nil, want error")
	}
}

func TestMetrics_Computation(t *testing.T) {
	result := &AggregateResult{
		ConfigName:       "test",
		TotalRequests:    100,
		Hits:             80,
		Misses:           20,
		FetchedBytes:     2000,
		KeyHits:          map[string]int{"a": 30, "b": 25, "c": 20, "d": 15, "e": 10},
		MissesPerSession: []int{8, 12, 10},
	}

	m := ComputeMetrics(result)

	if m.TotalRequests != 100 {
		t.Errorf("TotalRequests = %d, want 100", m.TotalRequests)
	}
	if m.HitRate != 80 {
		t.Errorf("HitRate = %v, want 80", m.HitRate)
	}
	if m.MinMissesPerSession != 8 || m.MaxMissesPerSession != 12 {
		t.Errorf("Min/Max = %d/%d, want 8/12", m.MinMissesPerSession, m.MaxMissesPerSession)
	}
	if m.MedianMissesPerSession != 10 {
		t.Errorf("MedianMissesPerSession = %v, want 10", m.MedianMissesPerSession)
	}
	if m.AvgMissesPerSession != 10 {
		t.Errorf("AvgMissesPerSession = %v, want 10", m.AvgMissesPerSession)
	}
	if m.BytesFetchedPerReq != 20 {
		t.Errorf("BytesFetchedPerReq = %v, want 20", m.BytesFetchedPerReq)
	}
	if m.UniqueKeys != 5 {
		t.Errorf("UniqueKeys = %d, want 5", m.UniqueKeys)
	}
	// Top 10% of five keys rounds up to the single hottest key.
	if m.TopKeyPct != 30 {
		t.Errorf("TopKeyPct = %v, want 30", m.TopKeyPct)
	}
	if m.KeyConcentration <= 0 || m.KeyConcentration >= 1 {
		t.Errorf("KeyConcentration = %v, want in (0, 1)", m.KeyConcentration)
	}
}

func TestCompare(t *testing.T) {
	m1 := &Metrics{HitRate: 90, AvgMissesPerSession: 5, BytesFetchedPerReq: 100}
	m2 := &Metrics{HitRate: 80, AvgMissesPerSession: 10, BytesFetchedPerReq: 200}

	c := Compare(m1, m2, "big", "small")
	if c.HitRateDiff != 10 || c.MissesDiff != -5 || c.MissesDiffPct != -50 || c.FetchedBytesPct != -50 {
		t.Errorf("Compare() = %+v", c)
	}
}
