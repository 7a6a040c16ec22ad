package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/discochess/tiercache"
	"github.com/discochess/tiercache/connectivity"
	"github.com/discochess/tiercache/internal/httpfetch"
	"github.com/discochess/tiercache/internal/store/diskstore"
)

var getCmd = &cobra.Command{
	Use:   "get URL...",
	Short: "Fetch URLs through the cache",
	Long: `Fetch one or more URLs through the cache.

Fresh cached responses are returned without touching the network. When the
network is unreachable, or a fetch fails, the most recent cached response
is returned even if it has expired.

Examples:
  # Cache for an hour and print the body
  tiercache get --ttl 1h --body https://example.com/feed.json

  # Treat the network as down
  tiercache get --offline https://example.com/feed.json

  # Detect connectivity by dialing a host
  tiercache get --probe example.com:443 https://example.com/feed.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGet,
}

var (
	getTTL     time.Duration
	getSession string
	getCodec   string
	getBudget  int64
	getQuota   int64
	getOffline bool
	getProbe   string
	getSWR     bool
	getJSON    bool
	getBody    bool
	getRemote  remoteFlags
)

func init() {
	getCmd.Flags().DurationVar(&getTTL, "ttl", tiercache.DefaultTTL, "how long fetched responses stay fresh")
	getCmd.Flags().StringVar(&getSession, "session", "default", "disk session to read and write")
	getCmd.Flags().StringVar(&getCodec, "codec", "zstd", "compression for persisted entries (none, gzip, zstd)")
	getCmd.Flags().Int64Var(&getBudget, "budget", tiercache.DefaultBudget, "memory tier budget in bytes")
	getCmd.Flags().Int64Var(&getQuota, "quota", 0, "disk session quota in bytes (0 for the default)")
	getCmd.Flags().BoolVar(&getOffline, "offline", false, "never touch the network")
	getCmd.Flags().StringVar(&getProbe, "probe", "", "host:port dialed to detect connectivity")
	getCmd.Flags().BoolVar(&getSWR, "swr", false, "serve expired responses while refetching them")
	getCmd.Flags().BoolVar(&getJSON, "json", false, "output results as JSON lines")
	getCmd.Flags().BoolVar(&getBody, "body", false, "write response bodies to stdout")
	getCmd.MarkFlagsMutuallyExclusive("offline", "probe")
	getCmd.MarkFlagsMutuallyExclusive("json", "body")
	getRemote.register(getCmd)
	rootCmd.AddCommand(getCmd)
}

type getResult struct {
	URL         string    `json:"url"`
	Status      int       `json:"status,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	Bytes       int       `json:"bytes"`
	FetchedAt   time.Time `json:"fetchedAt,omitzero"`
	ElapsedMS   int64     `json:"elapsedMs"`
	Error       string    `json:"error,omitempty"`
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	c, err := codecByName(getCodec)
	if err != nil {
		return err
	}
	quota := getQuota
	if quota <= 0 {
		quota = diskstore.DefaultQuota
	}
	st, err := openStore(ctx, &getRemote, getSession, quota)
	if err != nil {
		return err
	}

	opts := []tiercache.Option{
		tiercache.WithBudget(getBudget),
		tiercache.WithStore(st),
		tiercache.WithCodec(c),
		tiercache.WithDefaultTTL(getTTL),
		tiercache.WithStaleWhileRevalidate(getSWR),
		tiercache.WithLogger(logger),
	}
	switch {
	case getOffline:
		opts = append(opts, tiercache.WithConnectivity(connectivity.NewStatic(false)))
	case getProbe != "":
		probe := connectivity.NewProbe(getProbe, connectivity.WithProbeLogger(logger.Named("probe")))
		probe.Check(ctx)
		opts = append(opts, tiercache.WithConnectivity(probe))
	}

	cache, err := tiercache.New[httpfetch.Document](opts...)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("creating cache: %w", err)
	}

	client := httpfetch.New(httpfetch.WithUserAgent("tiercache-cli"))
	out := cmd.OutOrStdout()

	var failed int
	for _, url := range args {
		start := time.Now()
		doc, err := cache.GetCached(ctx, url, client.Fetch)
		res := getResult{URL: url, ElapsedMS: time.Since(start).Milliseconds()}
		if err != nil {
			failed++
			res.Error = err.Error()
			logger.Debug("get failed", zap.String("url", url), zap.Error(err))
		} else {
			res.Status = doc.StatusCode
			res.ContentType = doc.ContentType
			res.Bytes = len(doc.Body)
			res.FetchedAt = doc.FetchedAt
		}
		if err := printGetResult(out, res, doc); err != nil {
			return err
		}
	}

	m := cache.Metrics()
	if err := cache.Close(); err != nil {
		return fmt.Errorf("closing cache: %w", err)
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "hits=%d misses=%d offline=%d online=%t\n", m.Hits, m.Misses, m.OfflineServed, m.Online)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d URLs not available", failed, len(args))
	}
	return nil
}

func printGetResult(w io.Writer, res getResult, doc httpfetch.Document) error {
	switch {
	case getJSON:
		return json.NewEncoder(w).Encode(res)
	case getBody:
		if res.Error != "" {
			fmt.Fprintf(os.Stderr, "%s: %s\n", res.URL, res.Error)
			return nil
		}
		_, err := w.Write(doc.Body)
		return err
	case res.Error != "":
		_, err := fmt.Fprintf(w, "%s\tERROR\t%s\n", res.URL, res.Error)
		return err
	default:
		age := time.Since(res.FetchedAt).Truncate(time.Second)
		_, err := fmt.Fprintf(w, "%s\t%d\t%s\t%s\tage %s\n", res.URL, res.Status, formatBytes(int64(res.Bytes)), res.ContentType, age)
		return err
	}
}
