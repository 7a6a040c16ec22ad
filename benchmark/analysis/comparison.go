package analysis

import (
	"fmt"
	"sort"

	"github.com/discochess/tiercache/benchmark/simulation"
)

// ConfigComparison contains a full statistical comparison between two
// cache configurations, based on misses per session.
type ConfigComparison struct {
	Config1         string
	Config2         string
	Stats1          *DescriptiveStats
	Stats2          *DescriptiveStats
	MannWhitney     *MannWhitneyResult
	EffectSize      *EffectSize
	BootstrapCI     *BootstrapResult
	Winner          string // Name of the configuration with fewer misses, or "tie".
	WinnerConfident bool   // True if statistically significant.
}

// CompareConfigs performs a full statistical comparison between two configurations.
func CompareConfigs(
	result1, result2 *simulation.AggregateResult,
	bootstrapIterations int,
	confidence float64,
) *ConfigComparison {
	sample1 := intsToFloats(result1.MissesPerSession)
	sample2 := intsToFloats(result2.MissesPerSession)

	mw := MannWhitneyU(sample1, sample2)
	stats1 := Describe(sample1)
	stats2 := Describe(sample2)

	winner, confident := "tie", false
	switch {
	case stats1.Mean < stats2.Mean:
		winner, confident = result1.ConfigName, mw.Significant
	case stats2.Mean < stats1.Mean:
		winner, confident = result2.ConfigName, mw.Significant
	}

	return &ConfigComparison{
		Config1:         result1.ConfigName,
		Config2:         result2.ConfigName,
		Stats1:          stats1,
		Stats2:          stats2,
		MannWhitney:     mw,
		EffectSize:      ComputeEffectSize(sample1, sample2),
		BootstrapCI:     BootstrapConfidenceInterval(sample1, sample2, bootstrapIterations, confidence),
		Winner:          winner,
		WinnerConfident: confident,
	}
}

// Summary returns a human-readable summary of the comparison.
func (c *ConfigComparison) Summary() string {
	sig := "not statistically significant"
	if c.MannWhitney.Significant {
		sig = fmt.Sprintf("statistically significant (p=%.4f)", c.MannWhitney.PValue)
	}

	return fmt.Sprintf(
		"%s vs %s:\n"+
			"  %s: mean=%.2f, median=%.2f, std=%.2f\n"+
			"  %s: mean=%.2f, median=%.2f, std=%.2f\n"+
			"  Difference: %.2f misses/session (%.1f%%)\n"+
			"  Effect size: %.2f (%s)\n"+
			"  Result: %s, %s",
		c.Config1, c.Config2,
		c.Config1, c.Stats1.Mean, c.Stats1.Median, c.Stats1.StdDev,
		c.Config2, c.Stats2.Mean, c.Stats2.Median, c.Stats2.StdDev,
		c.Stats1.Mean-c.Stats2.Mean,
		safePctDiff(c.Stats1.Mean, c.Stats2.Mean),
		c.EffectSize.CohensD, c.EffectSize.Interpretation,
		c.Winner, sig,
	)
}

func intsToFloats(ints []int) []float64 {
	floats := make([]float64, len(ints))
	for i, v := range ints {
		floats[i] = float64(v)
	}
	return floats
}

func safePctDiff(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return (a - b) / b * 100
}

// MultiConfigComparison compares several configurations against a baseline.
type MultiConfigComparison struct {
	Baseline    string
	Comparisons []*ConfigComparison
}

// CompareAll compares every configuration against baseline, in name order.
// It returns nil if baseline is not in results.
func CompareAll(
	results map[string]*simulation.AggregateResult,
	baseline string,
	bootstrapIterations int,
	confidence float64,
) *MultiConfigComparison {
	baseResult, ok := results[baseline]
	if !ok {
		return nil
	}

	names := make([]string, 0, len(results))
	for name := range results {
		if name != baseline {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	multi := &MultiConfigComparison{Baseline: baseline}
	for _, name := range names {
		multi.Comparisons = append(multi.Comparisons,
			CompareConfigs(baseResult, results[name], bootstrapIterations, confidence))
	}
	return multi
}
