package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/discochess/tiercache/internal/codec"
	"github.com/discochess/tiercache/internal/codec/gzipcodec"
	"github.com/discochess/tiercache/internal/codec/noopcodec"
	"github.com/discochess/tiercache/internal/codec/zstdcodec"
	"github.com/discochess/tiercache/internal/store"
	"github.com/discochess/tiercache/internal/store/diskstore"
	"github.com/discochess/tiercache/internal/store/gcsstore"
	"github.com/discochess/tiercache/internal/store/s3store"
)

var (
	// Global flags.
	cacheDir string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "tiercache",
	Short: "Fetch URLs through a persistent, offline-capable cache",
	Long: `tiercache fetches HTTP resources through a two-tier cache: a
size-bounded memory tier in front of a persistent tier on local disk,
Google Cloud Storage or S3.

Cached responses are served when the network is unreachable, and
expired responses can be served while a fresh copy is fetched.

Examples:
  # Fetch a URL, caching it for ten minutes
  tiercache get --ttl 10m https://example.com/feed.json

  # Serve from the cache only
  tiercache get --offline https://example.com/feed.json

  # Show what is stored on disk
  tiercache stats`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cacheDir, "dir", "d", "./cache", "directory holding cache sessions")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

func newLogger() (*zap.Logger, error) {
	if !verbose {
		return zap.NewNop(), nil
	}
	return zap.NewDevelopment()
}

// codecByName returns the codec registered under name.
func codecByName(name string) (codec.Codec, error) {
	switch name {
	case "", "none":
		return noopcodec.New(), nil
	case "gzip":
		return gzipcodec.New(), nil
	case "zstd":
		return zstdcodec.New(), nil
	default:
		return nil, fmt.Errorf("unknown codec %q (want none, gzip or zstd)", name)
	}
}

// remoteFlags selects a bucket-backed persistent tier.
type remoteFlags struct {
	gcsBucket  string
	s3Bucket   string
	s3Region   string
	s3Endpoint string
	prefix     string
}

func (f *remoteFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.gcsBucket, "gcs-bucket", "", "use a Google Cloud Storage bucket as the persistent tier")
	cmd.Flags().StringVar(&f.s3Bucket, "s3-bucket", "", "use an S3 bucket as the persistent tier")
	cmd.Flags().StringVar(&f.s3Region, "s3-region", "", "AWS region for --s3-bucket")
	cmd.Flags().StringVar(&f.s3Endpoint, "s3-endpoint", "", "custom endpoint for S3-compatible services")
	cmd.Flags().StringVar(&f.prefix, "prefix", "tiercache", "object key prefix within the bucket")
	cmd.MarkFlagsMutuallyExclusive("gcs-bucket", "s3-bucket")
}

func (f *remoteFlags) enabled() bool {
	return f.gcsBucket != "" || f.s3Bucket != ""
}

// purger is implemented by the bucket-backed stores.
type purger interface {
	store.Store
	Purge(ctx context.Context) (int, error)
}

// open returns the configured bucket store. It must only be called when
// enabled reports true.
func (f *remoteFlags) open(ctx context.Context) (purger, error) {
	if f.gcsBucket != "" {
		st, err := gcsstore.New(ctx, f.gcsBucket, gcsstore.WithPrefix(f.prefix))
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	opts := []s3store.Option{s3store.WithPrefix(f.prefix)}
	if f.s3Region != "" {
		opts = append(opts, s3store.WithRegion(f.s3Region))
	}
	if f.s3Endpoint != "" {
		opts = append(opts, s3store.WithEndpoint(f.s3Endpoint))
	}
	st, err := s3store.New(ctx, f.s3Bucket, opts...)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// openStore opens the remote store when one is configured and the local
// disk session otherwise.
func openStore(ctx context.Context, remote *remoteFlags, session string, quota int64) (store.Store, error) {
	if remote.enabled() {
		st, err := remote.open(ctx)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	st, err := diskstore.Open(cacheDir, diskstore.WithSession(session), diskstore.WithQuota(quota))
	if err != nil {
		return nil, fmt.Errorf("opening session %q: %w", session, err)
	}
	return st, nil
}
