// Package reporting provides report generation for benchmark results.
package reporting

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/discochess/tiercache/benchmark/analysis"
	"github.com/discochess/tiercache/benchmark/simulation"
)

// MarkdownReport generates benchmark reports in Markdown format.
type MarkdownReport struct {
	w   io.Writer
	now func() time.Time
}

// NewMarkdownReport creates a new Markdown report writer.
func NewMarkdownReport(w io.Writer) *MarkdownReport {
	return &MarkdownReport{w: w, now: time.Now}
}

// WriteHeader writes the report header.
func (r *MarkdownReport) WriteHeader(title string) {
	fmt.Fprintf(r.w, "# %s\n\n", title)
	fmt.Fprintf(r.w, "Generated: %s\n\n", r.now().Format(time.RFC3339))
}

// WriteMethodology writes the methodology section.
func (r *MarkdownReport) WriteMethodology(sessions, requests int, think time.Duration) {
	fmt.Fprintln(r.w, "## Methodology")
	fmt.Fprintln(r.w)
	fmt.Fprintf(r.w, "- **Sessions replayed:** %d\n", sessions)
	fmt.Fprintf(r.w, "- **Requests:** %d\n", requests)
	fmt.Fprintf(r.w, "- **Simulated time between requests:** %s\n", think)
	fmt.Fprintln(r.w, "- **Metric:** Misses per session (lower is better)")
	fmt.Fprintln(r.w, "- **Statistical tests:** Mann-Whitney U (non-parametric), Cohen's d effect size")
	fmt.Fprintln(r.w)
}

// WriteSummaryTable writes one row per configuration, in name order.
func (r *MarkdownReport) WriteSummaryTable(results map[string]*simulation.AggregateResult) {
	fmt.Fprintln(r.w, "## Summary")
	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w, "| Config | Hit Rate | Avg Misses | Median | P90 | Evictions | Offline Served | Unavailable | Fetched/Req |")
	fmt.Fprintln(r.w, "|--------|----------|------------|--------|-----|-----------|----------------|-------------|-------------|")

	for _, name := range sortedNames(results) {
		res := results[name]
		m := simulation.ComputeMetrics(res)
		fmt.Fprintf(r.w, "| %s | %.1f%% | %.2f | %.0f | %.0f | %d | %d | %d | %.0f B |\n",
			name, m.HitRate, m.AvgMissesPerSession, m.MedianMissesPerSession, m.P90MissesPerSession,
			res.Evictions, res.OfflineServed, res.Unavailable, m.BytesFetchedPerReq)
	}
	fmt.Fprintln(r.w)
}

// WriteComparison writes a detailed comparison section.
func (r *MarkdownReport) WriteComparison(comp *analysis.ConfigComparison) {
	fmt.Fprintf(r.w, "## %s vs %s\n\n", comp.Config1, comp.Config2)

	fmt.Fprintln(r.w, "### Descriptive Statistics")
	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w, "| Metric | "+comp.Config1+" | "+comp.Config2+" |")
	fmt.Fprintln(r.w, "|--------|"+strings.Repeat("-", len(comp.Config1)+2)+"|"+strings.Repeat("-", len(comp.Config2)+2)+"|")
	fmt.Fprintf(r.w, "| Mean | %.2f | %.2f |\n", comp.Stats1.Mean, comp.Stats2.Mean)
	fmt.Fprintf(r.w, "| Median | %.2f | %.2f |\n", comp.Stats1.Median, comp.Stats2.Median)
	fmt.Fprintf(r.w, "| Std Dev | %.2f | %.2f |\n", comp.Stats1.StdDev, comp.Stats2.StdDev)
	fmt.Fprintf(r.w, "| Min | %.0f | %.0f |\n", comp.Stats1.Min, comp.Stats2.Min)
	fmt.Fprintf(r.w, "| Max | %.0f | %.0f |\n", comp.Stats1.Max, comp.Stats2.Max)
	fmt.Fprintln(r.w)

	fmt.Fprintln(r.w, "### Statistical Analysis")
	fmt.Fprintln(r.w)
	fmt.Fprintf(r.w, "- **Mann-Whitney U:** %.2f (z=%.2f, p=%.4f)\n",
		comp.MannWhitney.U, comp.MannWhitney.Z, comp.MannWhitney.PValue)
	fmt.Fprintf(r.w, "- **Effect size (Cohen's d):** %.2f (%s)\n",
		comp.EffectSize.CohensD, comp.EffectSize.Interpretation)
	fmt.Fprintf(r.w, "- **%.0f%% CI for mean difference:** [%.2f, %.2f]\n",
		comp.BootstrapCI.Confidence*100, comp.BootstrapCI.LowerBound, comp.BootstrapCI.UpperBound)
	fmt.Fprintln(r.w)

	fmt.Fprintln(r.w, "### Conclusion")
	fmt.Fprintln(r.w)
	if comp.WinnerConfident {
		fmt.Fprintf(r.w, "**%s** misses significantly less often than %s ",
			comp.Winner, otherConfig(comp.Winner, comp.Config1, comp.Config2))
		fmt.Fprintf(r.w, "(p < 0.05, effect size: %s).\n", comp.EffectSize.Interpretation)
	} else {
		fmt.Fprintln(r.w, "No statistically significant difference detected between configurations (p >= 0.05).")
	}
	fmt.Fprintln(r.w)
}

func otherConfig(winner, c1, c2 string) string {
	if winner == c1 {
		return c2
	}
	return c1
}

// WriteDistributionChart writes an ASCII histogram of misses per session.
func (r *MarkdownReport) WriteDistributionChart(name string, data []int) {
	fmt.Fprintf(r.w, "### %s Distribution\n\n", name)
	fmt.Fprintln(r.w, "```")

	hist, lo, width := makeHistogram(data, 10)
	maxCount := 0
	for _, count := range hist {
		maxCount = max(maxCount, count)
	}

	const barWidth = 40
	for i, count := range hist {
		barLen := 0
		if maxCount > 0 {
			barLen = count * barWidth / maxCount
		}
		from := lo + int(float64(i)*width)
		to := lo + int(float64(i+1)*width) - 1
		fmt.Fprintf(r.w, "%3d-%3d │ %s %d\n", from, max(from, to), strings.Repeat("█", barLen), count)
	}

	fmt.Fprintln(r.w, "```")
	fmt.Fprintln(r.w)
}

// makeHistogram buckets data and returns the counts, the lowest value and
// the bucket width.
func makeHistogram(data []int, buckets int) ([]int, int, float64) {
	hist := make([]int, buckets)
	if len(data) == 0 {
		return hist, 0, 1
	}

	lo, hi := data[0], data[0]
	for _, v := range data {
		lo = min(lo, v)
		hi = max(hi, v)
	}

	width := float64(hi-lo+1) / float64(buckets)
	for _, v := range data {
		bucket := int(float64(v-lo) / width)
		if bucket >= buckets {
			bucket = buckets - 1
		}
		hist[bucket]++
	}
	return hist, lo, width
}

// WriteFooter writes the report footer.
func (r *MarkdownReport) WriteFooter() {
	fmt.Fprintln(r.w, "---")
	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w, "*Report generated by tiercache-bench*")
}

func sortedNames(results map[string]*simulation.AggregateResult) []string {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
