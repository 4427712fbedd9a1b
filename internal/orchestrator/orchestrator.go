// Package orchestrator resolves asset keys through the Fast, Edge and
// Durable tiers and falls back to the origin on a total miss.
package orchestrator

import (
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/labviz/molcache/internal/metrics"
	"github.com/labviz/molcache/pkg/errors"
	"github.com/labviz/molcache/pkg/health"
	"github.com/labviz/molcache/pkg/types"
)

// Config configures the orchestrator
type Config struct {
	// PrefetchConcurrency bounds the number of concurrent prefetch fetches.
	PrefetchConcurrency int
	// OriginTimeout bounds a single coalesced origin call.
	OriginTimeout time.Duration
	// HitRateWindow is split into HitRateBuckets for the rolling hit rate.
	HitRateWindow  time.Duration
	HitRateBuckets int
	// TTL per tier; zero leaves expiry to the tier's own default.
	TTL map[types.Tier]time.Duration
	// MaxTrackedEntries bounds the entry metadata kept per tier.
	MaxTrackedEntries int
}

// DefaultConfig returns the defaults used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		PrefetchConcurrency: 6,
		OriginTimeout:       30 * time.Second,
		HitRateWindow:       time.Minute,
		HitRateBuckets:      6,
		MaxTrackedEntries:   100000,
	}
}

// Tiers holds the backends in lookup order. A nil tier is disabled.
type Tiers struct {
	Fast    types.TierBackend
	Edge    types.TierBackend
	Durable types.TierBackend
}

func (t Tiers) get(tier types.Tier) types.TierBackend {
	switch tier {
	case types.TierFast:
		return t.Fast
	case types.TierEdge:
		return t.Edge
	case types.TierDurable:
		return t.Durable
	}
	return nil
}

// AccessObserver is told about every caller-initiated fetch.
type AccessObserver interface {
	RecordAccess(key string)
}

// AccessObserverFunc adapts a function to AccessObserver.
type AccessObserverFunc func(key string)

// RecordAccess calls f.
func (f AccessObserverFunc) RecordAccess(key string) { f(key) }

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = c }
}

// WithObserver registers the access observer.
func WithObserver(obs AccessObserver) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithHealth records tier and origin outcomes in tracker.
func WithHealth(tracker *health.Tracker) Option {
	return func(o *Orchestrator) { o.health = tracker }
}

// Orchestrator is the single entry point for reading assets. Construct one
// per process and pass it to every consumer.
type Orchestrator struct {
	config Config
	tiers  Tiers
	origin types.OriginFetcher

	logger   *zap.Logger
	metrics  *metrics.Collector
	health   *health.Tracker
	observer AccessObserver
	now      func() time.Time

	flight   singleflight.Group
	inFlight atomic.Int64
	window   *rollingCounter

	originFetches  atomic.Uint64
	originFailures atomic.Uint64

	metaMu sync.Mutex
	meta   map[types.Tier]*metaIndex

	gens generations
}

// New builds an orchestrator. origin is required; any tier may be nil.
func New(config Config, tiers Tiers, origin types.OriginFetcher, opts ...Option) (*Orchestrator, error) {
	if origin == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "origin fetcher is required").
			WithComponent("orchestrator")
	}
	def := DefaultConfig()
	if config.PrefetchConcurrency <= 0 {
		config.PrefetchConcurrency = def.PrefetchConcurrency
	}
	if config.OriginTimeout <= 0 {
		config.OriginTimeout = def.OriginTimeout
	}
	if config.HitRateWindow <= 0 {
		config.HitRateWindow = def.HitRateWindow
	}
	if config.HitRateBuckets <= 0 {
		config.HitRateBuckets = def.HitRateBuckets
	}
	if config.MaxTrackedEntries <= 0 {
		config.MaxTrackedEntries = def.MaxTrackedEntries
	}

	o := &Orchestrator{
		config: config,
		tiers:  tiers,
		origin: origin,
		logger: zap.NewNop(),
		now:    time.Now,
		meta:   make(map[types.Tier]*metaIndex),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("orchestrator")
	o.window = newRollingCounter(config.HitRateWindow, config.HitRateBuckets, o.now)

	for _, tier := range types.CacheTiers {
		o.meta[tier] = newMetaIndex(config.MaxTrackedEntries)
		backend := o.tiers.get(tier)
		if backend == nil {
			continue
		}
		if n, ok := backend.(types.EvictionNotifier); ok {
			n.OnEvict(func(key string) { o.dropMeta(tier, key) })
		}
		if o.health != nil {
			o.health.Register(componentName(tier))
		}
	}
	if o.health != nil {
		o.health.Register(componentName(types.TierOrigin))
	}
	return o, nil
}

// Close closes every tier that holds resources.
func (o *Orchestrator) Close() error {
	var errs []error
	for _, tier := range types.CacheTiers {
		if c, ok := o.tiers.get(tier).(types.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return stderrors.Join(errs...)
}

func componentName(tier types.Tier) string {
	if tier == types.TierOrigin {
		return "origin"
	}
	return "tier:" + tier.String()
}

func (o *Orchestrator) ttlFor(tier types.Tier) time.Duration {
	return o.config.TTL[tier]
}
