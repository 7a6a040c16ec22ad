// Package analysis provides statistical analysis for benchmark results.
package analysis

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// MannWhitneyResult contains the result of a Mann-Whitney U test.
type MannWhitneyResult struct {
	U           float64 // U statistic.
	Z           float64 // Z score (normal approximation).
	PValue      float64 // Two-tailed p-value.
	Significant bool    // True if p < 0.05.
}

// MannWhitneyU performs the Mann-Whitney U test on two samples.
// This is a non-parametric test to determine if two samples come from
// different distributions.
func MannWhitneyU(sample1, sample2 []float64) *MannWhitneyResult {
	n1 := float64(len(sample1))
	n2 := float64(len(sample2))

	if n1 == 0 || n2 == 0 {
		return &MannWhitneyResult{}
	}

	type rankedValue struct {
		value  float64
		sample int // 1 or 2
	}

	combined := make([]rankedValue, 0, int(n1+n2))
	for _, v := range sample1 {
		combined = append(combined, rankedValue{value: v, sample: 1})
	}
	for _, v := range sample2 {
		combined = append(combined, rankedValue{value: v, sample: 2})
	}

	sort.Slice(combined, func(i, j int) bool {
		return combined[i].value < combined[j].value
	})

	// Assign ranks, averaging ties.
	ranks := make([]float64, len(combined))
	i := 0
	for i < len(combined) {
		j := i
		for j < len(combined) && combined[j].value == combined[i].value {
			j++
		}
		avgRank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[k] = avgRank
		}
		i = j
	}

	var r1 float64
	for i, rv := range combined {
		if rv.sample == 1 {
			r1 += ranks[i]
		}
	}

	u1 := r1 - n1*(n1+1)/2
	u2 := n1*n2 - u1
	u := math.Min(u1, u2)

	// Normal approximation.
	mu := n1 * n2 / 2
	sigma := math.Sqrt(n1 * n2 * (n1 + n2 + 1) / 12)

	z := 0.0
	if sigma > 0 {
		z = (u - mu) / sigma
	}

	pValue := 2 * distuv.UnitNormal.CDF(-math.Abs(z))

	return &MannWhitneyResult{
		U:           u,
		Z:           z,
		PValue:      pValue,
		Significant: pValue < 0.05,
	}
}

// EffectSize contains effect size metrics.
type EffectSize struct {
	CohensD        float64 // Cohen's d: (mean1 - mean2) / pooled_std.
	Interpretation string  // "negligible", "small", "medium", "large".
}

// ComputeEffectSize computes Cohen's d effect size.
func ComputeEffectSize(sample1, sample2 []float64) *EffectSize {
	if len(sample1) == 0 || len(sample2) == 0 {
		return &EffectSize{Interpretation: "undefined"}
	}

	mean1, std1 := meanStdDev(sample1)
	mean2, std2 := meanStdDev(sample2)

	n1 := float64(len(sample1))
	n2 := float64(len(sample2))
	var pooledStd float64
	if n1+n2 > 2 {
		pooledVar := ((n1-1)*std1*std1 + (n2-1)*std2*std2) / (n1 + n2 - 2)
		pooledStd = math.Sqrt(pooledVar)
	}

	var d float64
	if pooledStd > 0 {
		d = (mean1 - mean2) / pooledStd
	}

	return &EffectSize{
		CohensD:        d,
		Interpretation: interpretCohensD(math.Abs(d)),
	}
}

func interpretCohensD(d float64) string {
	switch {
	case d < 0.2:
		return "negligible"
	case d < 0.5:
		return "small"
	case d < 0.8:
		return "medium"
	default:
		return "large"
	}
}

// BootstrapResult is a bootstrap confidence interval for the mean difference.
type BootstrapResult struct {
	MeanDiff   float64
	LowerBound float64
	UpperBound float64
	Confidence float64 // e.g., 0.95 for 95% CI.
}

// BootstrapConfidenceInterval computes a percentile bootstrap interval.
// Resampling is seeded so repeated runs agree.
func BootstrapConfidenceInterval(sample1, sample2 []float64, iterations int, confidence float64) *BootstrapResult {
	if len(sample1) == 0 || len(sample2) == 0 || iterations <= 0 {
		return &BootstrapResult{Confidence: confidence}
	}

	actualDiff := stat.Mean(sample1, nil) - stat.Mean(sample2, nil)

	r := rand.New(rand.NewPCG(1, 2))
	buf1 := make([]float64, len(sample1))
	buf2 := make([]float64, len(sample2))
	diffs := make([]float64, iterations)
	for i := range diffs {
		resample(r, sample1, buf1)
		resample(r, sample2, buf2)
		diffs[i] = stat.Mean(buf1, nil) - stat.Mean(buf2, nil)
	}
	sort.Float64s(diffs)

	alpha := 1 - confidence
	return &BootstrapResult{
		MeanDiff:   actualDiff,
		LowerBound: stat.Quantile(alpha/2, stat.Empirical, diffs, nil),
		UpperBound: stat.Quantile(1-alpha/2, stat.Empirical, diffs, nil),
		Confidence: confidence,
	}
}

// resample fills dst by drawing from sample with replacement.
func resample(r *rand.Rand, sample, dst []float64) {
	for i := range dst {
		dst[i] = sample[r.IntN(len(sample))]
	}
}

// DescriptiveStats contains basic descriptive statistics.
type DescriptiveStats struct {
	N      int
	Mean   float64
	Median float64
	StdDev float64
	Min    float64
	Max    float64
	P25    float64
	P75    float64
}

// Describe computes descriptive statistics for a sample.
func Describe(sample []float64) *DescriptiveStats {
	if len(sample) == 0 {
		return &DescriptiveStats{}
	}

	sorted := make([]float64, len(sample))
	copy(sorted, sample)
	sort.Float64s(sorted)

	mean, std := meanStdDev(sorted)
	return &DescriptiveStats{
		N:      len(sorted),
		Mean:   mean,
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		StdDev: std,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		P25:    stat.Quantile(0.25, stat.Empirical, sorted, nil),
		P75:    stat.Quantile(0.75, stat.Empirical, sorted, nil),
	}
}

// meanStdDev is stat.MeanStdDev with a zero deviation for single values.
func meanStdDev(x []float64) (float64, float64) {
	if len(x) == 1 {
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}
