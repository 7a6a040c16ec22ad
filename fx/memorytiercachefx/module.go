// Package memorytiercachefx provides an fx module for a cache whose
// persistent tier is an in-process session store.
// Useful for testing.
package memorytiercachefx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/discochess/tiercache"
	"github.com/discochess/tiercache/internal/stats"
	"github.com/discochess/tiercache/internal/stats/logger"
	"github.com/discochess/tiercache/internal/store/memstore"
)

// Module provides a *tiercache.Cache[V] backed by memory only.
// Requires a *zap.Logger to be provided. Extra cache options may be
// supplied in the "tiercache.options" value group.
func Module[V any]() fx.Option {
	return fx.Module("memorytiercache",
		fx.Provide(
			newStatsCollector,
			newMemStore,
			newCache[V],
		),
	)
}

func newStatsCollector(log *zap.Logger) stats.Collector {
	return logger.New(log.Named("tiercache.stats"))
}

func newMemStore() *memstore.Store {
	return memstore.New()
}

// Params holds dependencies for creating the cache.
type Params struct {
	fx.In

	Logger    *zap.Logger
	Collector stats.Collector
	Store     *memstore.Store
	Options   []tiercache.Option `group:"tiercache.options"`
	Lifecycle fx.Lifecycle
}

func newCache[V any](p Params) (*tiercache.Cache[V], error) {
	opts := append([]tiercache.Option{
		tiercache.WithStore(p.Store),
		tiercache.WithStats(p.Collector),
		tiercache.WithLogger(p.Logger.Named("tiercache")),
	}, p.Options...)

	cache, err := tiercache.New[V](opts...)
	if err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return cache.Close()
		},
	})

	return cache, nil
}
