// Package disktiercachefx provides an fx module for a cache whose
// persistent tier is a session directory on local disk.
package disktiercachefx

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/discochess/tiercache"
	"github.com/discochess/tiercache/internal/codec/zstdcodec"
	"github.com/discochess/tiercache/internal/stats"
	"github.com/discochess/tiercache/internal/stats/logger"
	promstats "github.com/discochess/tiercache/internal/stats/prometheus"
	"github.com/discochess/tiercache/internal/store/diskstore"
)

// Config holds configuration for the disk-backed cache.
type Config struct {
	// Dir is the root directory holding session directories.
	Dir string

	// Session names the session directory to reuse. If empty a new
	// session is created and removed again on stop.
	Session string

	// BudgetBytes is the memory tier budget.
	// Default is tiercache.DefaultBudget.
	BudgetBytes int64

	// QuotaBytes limits the session directory.
	// Default is diskstore.DefaultQuota.
	QuotaBytes int64
}

// Module provides a *tiercache.Cache[V] backed by a disk session.
// Requires a Config and a *zap.Logger to be provided. If a
// prometheus.Registerer is provided, metrics are exported to it;
// otherwise they are logged. Extra cache options may be supplied in the
// "tiercache.options" value group.
func Module[V any]() fx.Option {
	return fx.Module("disktiercache",
		fx.Provide(
			newStatsCollector,
			newCache[V],
		),
	)
}

// StatsParams holds dependencies for choosing the stats collector.
type StatsParams struct {
	fx.In

	Logger     *zap.Logger
	Registerer prometheus.Registerer `optional:"true"`
}

func newStatsCollector(p StatsParams) stats.Collector {
	if p.Registerer != nil {
		return promstats.New(p.Registerer)
	}
	return logger.New(p.Logger.Named("tiercache.stats"))
}

// Params holds dependencies for creating the cache.
type Params struct {
	fx.In

	Config    Config
	Logger    *zap.Logger
	Collector stats.Collector
	Options   []tiercache.Option `group:"tiercache.options"`
	Lifecycle fx.Lifecycle
}

func newCache[V any](p Params) (*tiercache.Cache[V], error) {
	storeOpts := []diskstore.Option{}
	if p.Config.QuotaBytes > 0 {
		storeOpts = append(storeOpts, diskstore.WithQuota(p.Config.QuotaBytes))
	}
	if p.Config.Session != "" {
		storeOpts = append(storeOpts, diskstore.WithSession(p.Config.Session))
	} else {
		storeOpts = append(storeOpts, diskstore.WithRemoveOnClose())
	}

	st, err := diskstore.Open(p.Config.Dir, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	opts := []tiercache.Option{
		tiercache.WithStore(st),
		tiercache.WithCodec(zstdcodec.New()),
		tiercache.WithStats(p.Collector),
		tiercache.WithLogger(p.Logger.Named("tiercache")),
	}
	if p.Config.BudgetBytes > 0 {
		opts = append(opts, tiercache.WithBudget(p.Config.BudgetBytes))
	}
	opts = append(opts, p.Options...)

	cache, err := tiercache.New[V](opts...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	p.Logger.Debug("disk session opened",
		zap.String("session", st.Session()),
		zap.String("dir", st.Dir()),
	)

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return cache.Close()
		},
	})

	return cache, nil
}
