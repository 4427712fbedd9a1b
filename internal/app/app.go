// Package app assembles molcache from a Configuration: tiers, origin,
// orchestrator, strategy, warmer, profiler, quality controller and API.
package app

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/labviz/molcache/internal/api"
	"github.com/labviz/molcache/internal/cache"
	"github.com/labviz/molcache/internal/config"
	"github.com/labviz/molcache/internal/metrics"
	"github.com/labviz/molcache/internal/orchestrator"
	"github.com/labviz/molcache/internal/profiler"
	"github.com/labviz/molcache/internal/quality"
	"github.com/labviz/molcache/internal/strategy"
	"github.com/labviz/molcache/internal/warmer"
	"github.com/labviz/molcache/pkg/errors"
	"github.com/labviz/molcache/pkg/health"
	"github.com/labviz/molcache/pkg/types"
)

// purgeInterval is how often expired sqlite rows are deleted.
const purgeInterval = time.Hour

// Option customises New.
type Option func(*options)

type options struct {
	origin   types.OriginFetcher
	registry *prometheus.Registry
}

// WithOrigin replaces the configured origin.
func WithOrigin(o types.OriginFetcher) Option {
	return func(opts *options) { opts.origin = o }
}

// WithRegistry registers metrics with reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(opts *options) { opts.registry = reg }
}

// App is the assembled process.
type App struct {
	Config       *config.Configuration
	Logger       *zap.Logger
	Metrics      *metrics.Collector
	Health       *health.Tracker
	Orchestrator *orchestrator.Orchestrator
	Engine       *strategy.Engine
	Warmer       *warmer.Warmer
	Profiler     *profiler.Profiler
	Quality      *quality.Controller
	Server       *api.Server

	durable types.TierBackend
}

// New validates cfg and builds every component. Close releases them.
func New(ctx context.Context, cfg *config.Configuration, logger *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger}

	if cfg.Metrics.Enabled {
		reg := o.registry
		if reg == nil {
			reg = prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		}
		collector, err := metrics.NewCollector(&metrics.Config{
			Enabled:   true,
			Namespace: cfg.Metrics.Namespace,
			Path:      cfg.Metrics.Path,
		}, reg)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternalError, "failed to register metrics", err)
		}
		a.Metrics = collector
	}

	healthLog := logger.Named("health")
	a.Health = health.NewTracker(health.DefaultConfig(), func(component string, from, to health.State, err error) {
		healthLog.Warn("component health changed",
			zap.String("component", component),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
			zap.Error(err))
	})

	engine, err := strategy.NewEngine(cfg.Tunables.Strategy)
	if err != nil {
		return nil, err
	}
	a.Engine = engine

	originFetcher := o.origin
	if originFetcher == nil {
		originFetcher, err = buildOrigin(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	tiers, err := buildTiers(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.durable = tiers.Durable

	oc := cfg.Orchestrator
	a.Orchestrator, err = orchestrator.New(orchestrator.Config{
		PrefetchConcurrency: oc.PrefetchConcurrency,
		OriginTimeout:       oc.OriginTimeout,
		HitRateWindow:       oc.HitRateWindow,
		HitRateBuckets:      oc.HitRateBuckets,
		MaxTrackedEntries:   oc.MaxTrackedEntries,
		TTL:                 tierTTLs(cfg),
	}, tiers, originFetcher,
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(a.Metrics),
		orchestrator.WithHealth(a.Health),
		// a.Warmer is set below, before any fetch can run.
		orchestrator.WithObserver(orchestrator.AccessObserverFunc(func(key string) {
			a.Warmer.RecordAccess(key)
		})),
	)
	if err != nil {
		closeTiers(tiers)
		return nil, err
	}

	var catalogue warmer.CatalogueProvider = warmer.StaticCatalogue{}
	if cfg.Warmer.CatalogueFile != "" {
		catalogue = warmer.FileCatalogue{Path: cfg.Warmer.CatalogueFile}
	}
	a.Warmer = warmer.New(engine, a.Orchestrator, catalogue, warmer.Config{
		Interval:      cfg.Warmer.Interval,
		TargetHitRate: cfg.Warmer.TargetHitRate,
	}, logger, warmer.WithMetrics(a.Metrics))

	a.Profiler, err = profiler.New(cfg.Tunables.Profiler,
		profiler.WithLogger(logger), profiler.WithMetrics(a.Metrics))
	if err != nil {
		_ = a.Orchestrator.Close()
		return nil, err
	}

	a.Quality, err = quality.NewController(cfg.Tunables.Quality,
		quality.WithLogger(logger), quality.WithMetrics(a.Metrics))
	if err != nil {
		_ = a.Orchestrator.Close()
		return nil, err
	}

	sc := cfg.Server
	a.Server = api.NewServer(api.Config{
		Address:      sc.Address,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
	}, api.Deps{
		Cache:    a.Orchestrator,
		Profiler: a.Profiler,
		Quality:  a.Quality,
		Health:   a.Health,
		Metrics:  a.Metrics,
		Memory:   profiler.NewRuntimeSampler(time.Second),
		Logger:   logger,
	})

	logger.Info("molcache assembled",
		zap.Bool("fast", tiers.Fast != nil),
		zap.Bool("edge", tiers.Edge != nil),
		zap.Bool("durable", tiers.Durable != nil),
		zap.String("origin", cfg.Origin.Kind),
		zap.Bool("warmer", cfg.Warmer.Enabled),
		zap.Bool("metrics", a.Metrics != nil))
	return a, nil
}

// Run serves the API, and runs the warmer when enabled, until ctx is done.
// The server then gets ShutdownTimeout to drain.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(a.Server.Start)
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Server.ShutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(sctx)
	})
	if a.Config.Warmer.Enabled {
		g.Go(func() error { return a.Warmer.Run(gctx) })
	}
	if st, ok := a.durable.(*cache.SQLiteTier); ok {
		g.Go(func() error {
			a.purgeLoop(gctx, st)
			return nil
		})
	}
	return g.Wait()
}

func (a *App) purgeLoop(ctx context.Context, st *cache.SQLiteTier) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.Purge(ctx)
			if err != nil && ctx.Err() == nil {
				a.Logger.Warn("sqlite purge failed", zap.Error(err))
				continue
			}
			a.Logger.Debug("purged expired sqlite rows", zap.Int64("rows", n))
		}
	}
}

// Close stops event delivery and closes every tier.
func (a *App) Close() error {
	return stderrors.Join(a.Quality.Close(), a.Orchestrator.Close())
}
