package simulation

import (
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Metrics contains computed metrics from simulation results.
type Metrics struct {
	// Core metrics.
	TotalRequests       int
	HitRate             float64
	AvgMissesPerSession float64
	UniqueKeys          int
	BytesFetchedPerReq  float64

	// Distribution metrics.
	MedianMissesPerSession float64
	P90MissesPerSession    float64
	P99MissesPerSession    float64
	MinMissesPerSession    int
	MaxMissesPerSession    int

	// Locality metrics.
	KeyConcentration float64 // Gini coefficient of key popularity.
	TopKeyPct        float64 // Percentage of requests for the top 10% of keys.
}

// ComputeMetrics computes detailed metrics from aggregate results.
func ComputeMetrics(result *AggregateResult) *Metrics {
	m := &Metrics{
		TotalRequests: result.TotalRequests,
		HitRate:       result.HitRate(),
		UniqueKeys:    len(result.KeyHits),
	}
	if result.TotalRequests > 0 {
		m.BytesFetchedPerReq = float64(result.FetchedBytes) / float64(result.TotalRequests)
	}

	if n := len(result.MissesPerSession); n > 0 {
		sorted := make([]float64, n)
		for i, v := range result.MissesPerSession {
			sorted[i] = float64(v)
		}
		sort.Float64s(sorted)

		m.AvgMissesPerSession = stat.Mean(sorted, nil)
		m.MinMissesPerSession = int(sorted[0])
		m.MaxMissesPerSession = int(sorted[n-1])
		m.MedianMissesPerSession = stat.Quantile(0.5, stat.Empirical, sorted, nil)
		m.P90MissesPerSession = stat.Quantile(0.9, stat.Empirical, sorted, nil)
		m.P99MissesPerSession = stat.Quantile(0.99, stat.Empirical, sorted, nil)
	}

	if len(result.KeyHits) > 0 {
		counts := make([]int, 0, len(result.KeyHits))
		for _, c := range result.KeyHits {
			counts = append(counts, c)
		}
		slices.Sort(counts)
		m.KeyConcentration = computeGini(counts)
		m.TopKeyPct = computeTopKeyPct(counts, result.TotalRequests, 0.1)
	}

	return m
}

// computeGini expects counts in ascending order.
func computeGini(counts []int) float64 {
	n := float64(len(counts))
	var sum, cumulativeSum float64
	for i, v := range counts {
		sum += float64(v)
		cumulativeSum += float64(i+1) * float64(v)
	}
	if sum == 0 {
		return 0
	}
	return (2*cumulativeSum)/(n*sum) - (n+1)/n
}

// computeTopKeyPct expects counts in ascending order.
func computeTopKeyPct(counts []int, total int, topFraction float64) float64 {
	if total == 0 || len(counts) == 0 {
		return 0
	}
	topCount := int(float64(len(counts)) * topFraction)
	if topCount < 1 {
		topCount = 1
	}

	var topHits int
	for _, c := range counts[len(counts)-topCount:] {
		topHits += c
	}
	return float64(topHits) / float64(total) * 100
}

// MetricsComparison holds the differences between two configurations.
type MetricsComparison struct {
	Config1 string
	Config2 string

	HitRateDiff     float64 // Positive means Config1 hits more often.
	MissesDiff      float64 // Positive means Config1 misses more per session.
	MissesDiffPct   float64
	FetchedBytesPct float64
}

// Compare compares two metrics and returns the differences.
func Compare(m1, m2 *Metrics, name1, name2 string) *MetricsComparison {
	return &MetricsComparison{
		Config1:         name1,
		Config2:         name2,
		HitRateDiff:     m1.HitRate - m2.HitRate,
		MissesDiff:      m1.AvgMissesPerSession - m2.AvgMissesPerSession,
		MissesDiffPct:   safeDiffPct(m1.AvgMissesPerSession, m2.AvgMissesPerSession),
		FetchedBytesPct: safeDiffPct(m1.BytesFetchedPerReq, m2.BytesFetchedPerReq),
	}
}

func safeDiffPct(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return (a - b) / b * 100
}
