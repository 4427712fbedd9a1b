// Package warmer runs the periodic warming loop: load the catalogue, pick a
// budget-bounded subset with the strategy engine, prefetch it, then nudge
// the strategy weights toward the target hit rate.
package warmer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/labviz/molcache/internal/metrics"
	"github.com/labviz/molcache/internal/orchestrator"
	"github.com/labviz/molcache/internal/strategy"
	"github.com/labviz/molcache/pkg/errors"
)

// Cache is the part of the orchestrator the warmer drives.
type Cache interface {
	Prefetch(ctx context.Context, keys []string) orchestrator.PrefetchReport
	Stats() orchestrator.Stats
}

// Config configures the loop.
type Config struct {
	Interval      time.Duration
	TargetHitRate float64
}

// Option configures a Warmer.
type Option func(*Warmer)

// WithMetrics records cycles and weights.
func WithMetrics(c *metrics.Collector) Option {
	return func(w *Warmer) { w.metrics = c }
}

// Cycle describes one completed warming pass.
type Cycle struct {
	Started    time.Time                   `json:"started"`
	Duration   time.Duration               `json:"duration"`
	Candidates int                         `json:"candidates"`
	Selection  strategy.SelectResult       `json:"selection"`
	Report     orchestrator.PrefetchReport `json:"report"`
	HitRate    float64                     `json:"hit_rate"`
	// Adapted is false when the hit-rate window held no lookups.
	Adapted bool             `json:"adapted"`
	Weights strategy.Weights `json:"weights"`
}

// Warmer owns the strategy engine and serializes every call into it. It
// also implements orchestrator.AccessObserver so live traffic feeds the
// engine's history and popularity.
type Warmer struct {
	config    Config
	cache     Cache
	catalogue CatalogueProvider
	logger    *zap.Logger
	metrics   *metrics.Collector

	mu     sync.Mutex
	engine *strategy.Engine
	last   *Cycle
}

// New creates a warmer.
func New(engine *strategy.Engine, cache Cache, catalogue CatalogueProvider, config Config, logger *zap.Logger, opts ...Option) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	w := &Warmer{
		config:    config,
		cache:     cache,
		catalogue: catalogue,
		engine:    engine,
		logger:    logger.Named("warmer"),
	}
	for _, opt := range opts {
		opt(w)
	}
	weights := engine.Weights()
	w.metrics.SetStrategyWeights(weights.Popularity, weights.Recency, weights.Relevance)
	return w
}

// RecordAccess implements orchestrator.AccessObserver.
func (w *Warmer) RecordAccess(key string) {
	w.mu.Lock()
	w.engine.RecordAccess(key)
	w.mu.Unlock()
}

// Weights returns the engine's current weights.
func (w *Warmer) Weights() strategy.Weights {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.engine.Weights()
}

// LastCycle returns the most recent completed cycle.
func (w *Warmer) LastCycle() (Cycle, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return Cycle{}, false
	}
	return *w.last, true
}

// RunOnce performs a single warming cycle.
func (w *Warmer) RunOnce(ctx context.Context) (Cycle, error) {
	cycle := Cycle{Started: time.Now()}

	candidates, err := w.catalogue.Catalogue(ctx)
	if err != nil {
		w.metrics.WarmCycle("error")
		return cycle, err
	}
	cycle.Candidates = len(candidates)

	w.mu.Lock()
	for _, c := range candidates {
		if c.Family != "" {
			w.engine.RegisterFamily(c.ID, c.Family)
		}
		if c.Complex != "" {
			w.engine.RegisterComplex(c.ID, c.Complex)
		}
	}
	cycle.Selection = w.engine.Select(candidates)
	w.mu.Unlock()

	if cycle.Selection.Truncated {
		w.logger.Debug("selection truncated",
			zap.String("status", string(errors.ErrCodeBudgetExceeded)),
			zap.Int("skipped", len(cycle.Selection.Skipped)))
	}

	if ids := cycle.Selection.IDs(); len(ids) > 0 {
		cycle.Report = w.cache.Prefetch(ctx, ids)
	}

	stats := w.cache.Stats()
	cycle.HitRate = stats.HitRate

	w.mu.Lock()
	if stats.Hits+stats.Misses > 0 {
		cycle.Weights = w.engine.AdaptWeights(stats.HitRate, w.config.TargetHitRate)
		cycle.Adapted = true
	} else {
		cycle.Weights = w.engine.Weights()
	}
	cycle.Duration = time.Since(cycle.Started)
	last := cycle
	w.last = &last
	w.mu.Unlock()

	w.metrics.SetStrategyWeights(cycle.Weights.Popularity, cycle.Weights.Recency, cycle.Weights.Relevance)
	w.metrics.WarmCycle("success")

	w.logger.Info("warming cycle finished",
		zap.Int("candidates", cycle.Candidates),
		zap.Int("selected", len(cycle.Selection.Selected)),
		zap.Int64("selected_bytes", cycle.Selection.TotalBytes),
		zap.Int("fetched", cycle.Report.Completed),
		zap.Int("failed", cycle.Report.Failed),
		zap.Float64("hit_rate", cycle.HitRate),
		zap.Bool("adapted", cycle.Adapted),
		zap.Duration("duration", cycle.Duration))
	return cycle, ctx.Err()
}

// Run repeats RunOnce every Interval until ctx is done. Cycle errors are
// logged and the loop continues.
func (w *Warmer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("warming cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
