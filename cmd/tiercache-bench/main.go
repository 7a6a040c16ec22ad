// Package main provides the tiercache-bench CLI tool for comparing cache
// configurations against recorded or synthetic workloads.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/discochess/tiercache"
	"github.com/discochess/tiercache/benchmark/analysis"
	"github.com/discochess/tiercache/benchmark/reporting"
	"github.com/discochess/tiercache/benchmark/simulation"
	"github.com/discochess/tiercache/benchmark/workload"
)

var (
	traceFile    string
	tierNames    []string
	budgets      []int64
	persistQuota int64
	ttl          time.Duration
	think        time.Duration
	offlineEvery int
	outputFormat string
	outputFile   string
	verbose      bool
	genCfg       = workload.DefaultConfig()
)

var rootCmd = &cobra.Command{
	Use:   "tiercache-bench",
	Short: "Benchmark cache configurations",
	Long: `tiercache-bench replays a request workload against several cache
configurations on a simulated clock and compares their miss rates.

The workload is either read from a trace file or generated from a Zipf
distribution.

Examples:
  # Compare memory-only and hybrid caches on a synthetic workload
  tiercache-bench run --tiers memory,hybrid --budgets 262144,1048576

  # Replay a recorded trace
  tiercache-bench run --trace requests.txt.zst

  # Output as markdown report
  tiercache-bench run --format markdown --output report.md`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the benchmark simulation",
	Args:  cobra.NoArgs,
	RunE:  runBenchmark,
}

func init() {
	runCmd.Flags().StringVarP(&traceFile, "trace", "t", "", "trace file of keys and sizes (supports .zst); generated when empty")
	runCmd.Flags().StringSliceVar(&tierNames, "tiers", []string{"memory", "hybrid"}, "tier modes to compare: memory, hybrid, persistent")
	runCmd.Flags().Int64SliceVar(&budgets, "budgets", []int64{256 << 10, 1 << 20}, "memory budgets in bytes")
	runCmd.Flags().Int64Var(&persistQuota, "persist-quota", 16<<20, "persistent tier quota in bytes")
	runCmd.Flags().DurationVar(&ttl, "ttl", 5*time.Minute, "entry TTL")
	runCmd.Flags().DurationVar(&think, "think", 2*time.Second, "simulated time between requests")
	runCmd.Flags().IntVar(&offlineEvery, "offline-every", 0, "take every nth session offline (0 disables)")
	runCmd.Flags().IntVar(&genCfg.Sessions, "sessions", genCfg.Sessions, "generated sessions")
	runCmd.Flags().IntVar(&genCfg.RequestsPerSession, "requests", genCfg.RequestsPerSession, "generated requests per session")
	runCmd.Flags().IntVar(&genCfg.Keys, "keys", genCfg.Keys, "generated key space size")
	runCmd.Flags().Float64Var(&genCfg.Skew, "skew", genCfg.Skew, "Zipf exponent for generated keys (> 1)")
	runCmd.Flags().IntVar(&genCfg.MinSize, "min-size", genCfg.MinSize, "smallest generated value in bytes")
	runCmd.Flags().IntVar(&genCfg.MaxSize, "max-size", genCfg.MaxSize, "largest generated value in bytes")
	runCmd.Flags().Uint64Var(&genCfg.Seed, "seed", genCfg.Seed, "workload seed")
	runCmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "output format: text, markdown")
	runCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (default: stdout)")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	sessions, err := loadSessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return fmt.Errorf("workload has no sessions")
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "Loaded %d requests in %d sessions\n", workload.Requests(sessions), len(sessions))
	}

	configs, err := buildConfigs(tierNames, budgets, persistQuota, ttl)
	if err != nil {
		return err
	}

	if verbose {
		fmt.Fprintln(os.Stderr, "Running simulation...")
	}
	sim := simulation.NewSimulator(configs,
		simulation.WithThinkTime(think),
		simulation.WithOfflineEvery(offlineEvery),
	)
	results, err := sim.Run(cmd.Context(), sessions)
	if err != nil {
		return fmt.Errorf("running simulation: %w", err)
	}

	comparison := analysis.CompareAll(results, configs[0].Name, 10000, 0.95)

	var output io.Writer = cmd.OutOrStdout()
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	switch outputFormat {
	case "markdown":
		return writeMarkdownReport(output, sessions, configs, results, comparison)
	case "text":
		return writeTextReport(output, sessions, configs, results, comparison)
	default:
		return fmt.Errorf("unknown format %q", outputFormat)
	}
}

func loadSessions() ([]workload.Session, error) {
	if traceFile == "" {
		return workload.Generate(genCfg)
	}

	file, err := os.Open(traceFile)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	defer file.Close()

	var reader io.Reader = file
	if strings.HasSuffix(traceFile, ".zst") {
		decoder, err := zstd.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		defer decoder.Close()
		reader = decoder
	}

	sessions, err := workload.Read(reader, genCfg.MinSize)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", traceFile, err)
	}
	return sessions, nil
}

func parseTiers(name string) (tiercache.Tiers, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "memory":
		return tiercache.MemoryOnly, nil
	case "hybrid":
		return tiercache.Hybrid, nil
	case "persistent":
		return tiercache.PersistentOnly, nil
	default:
		return 0, fmt.Errorf("unknown tier mode: %s", name)
	}
}

// buildConfigs returns the cross product of tier modes and budgets.
func buildConfigs(tiers []string, budgets []int64, quota int64, ttl time.Duration) ([]simulation.Config, error) {
	if len(tiers) == 0 || len(budgets) == 0 {
		return nil, fmt.Errorf("need at least one tier mode and one budget")
	}
	var configs []simulation.Config
	for _, name := range tiers {
		t, err := parseTiers(name)
		if err != nil {
			return nil, err
		}
		for _, b := range budgets {
			if b <= 0 {
				return nil, fmt.Errorf("budget must be positive, got %d", b)
			}
			configs = append(configs, simulation.Config{
				Name:         fmt.Sprintf("%s-%s", strings.ToLower(strings.TrimSpace(name)), formatBudget(b)),
				Budget:       b,
				Tiers:        t,
				PersistQuota: quota,
				TTL:          ttl,
			})
		}
	}
	return configs, nil
}

func formatBudget(b int64) string {
	switch {
	case b >= 1<<20 && b%(1<<20) == 0:
		return fmt.Sprintf("%dM", b>>20)
	case b >= 1<<10 && b%(1<<10) == 0:
		return fmt.Sprintf("%dK", b>>10)
	default:
		return fmt.Sprintf("%dB", b)
	}
}

func writeTextReport(w io.Writer, sessions []workload.Session, configs []simulation.Config, results map[string]*simulation.AggregateResult, comp *analysis.MultiConfigComparison) error {
	fmt.Fprintf(w, "Tiercache Configuration Benchmark\n")
	fmt.Fprintf(w, "=================================\n\n")
	fmt.Fprintf(w, "Sessions: %d\n", len(sessions))
	fmt.Fprintf(w, "Requests: %d\n", workload.Requests(sessions))
	fmt.Fprintf(w, "Think time: %s\n\n", think)

	fmt.Fprintf(w, "Results:\n")
	fmt.Fprintf(w, "--------\n\n")

	for _, cfg := range configs {
		res := results[cfg.Name]
		m := simulation.ComputeMetrics(res)
		fmt.Fprintf(w, "%s:\n", cfg.Name)
		fmt.Fprintf(w, "  Hit rate:            %.1f%%\n", m.HitRate)
		fmt.Fprintf(w, "  Avg misses/session:  %.2f\n", m.AvgMissesPerSession)
		fmt.Fprintf(w, "  Median misses:       %.0f\n", m.MedianMissesPerSession)
		fmt.Fprintf(w, "  P90 misses:          %.0f\n", m.P90MissesPerSession)
		fmt.Fprintf(w, "  Evictions:           %d\n", res.Evictions)
		if offlineEvery > 0 {
			fmt.Fprintf(w, "  Served offline:      %d\n", res.OfflineServed)
			fmt.Fprintf(w, "  Unavailable:         %d\n", res.Unavailable)
		}
		fmt.Fprintf(w, "  Fetched per request: %.0f B\n\n", m.BytesFetchedPerReq)
	}

	if comp != nil && len(comp.Comparisons) > 0 {
		fmt.Fprintf(w, "Statistical Analysis:\n")
		fmt.Fprintf(w, "---------------------\n\n")
		for _, c := range comp.Comparisons {
			fmt.Fprintln(w, c.Summary())
			fmt.Fprintln(w)
		}
	}

	return nil
}

func writeMarkdownReport(w io.Writer, sessions []workload.Session, configs []simulation.Config, results map[string]*simulation.AggregateResult, comp *analysis.MultiConfigComparison) error {
	report := reporting.NewMarkdownReport(w)
	report.WriteHeader("Tiercache Configuration Benchmark")
	report.WriteMethodology(len(sessions), workload.Requests(sessions), think)
	report.WriteSummaryTable(results)

	if comp != nil {
		for _, c := range comp.Comparisons {
			report.WriteComparison(c)
		}
	}
	for _, cfg := range configs {
		report.WriteDistributionChart(cfg.Name, results[cfg.Name].MissesPerSession)
	}

	report.WriteFooter()
	return nil
}
