package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// Bottleneck resources reported by SetBottleneck.
var bottleneckResources = []string{"compute", "render", "memory", "balanced"}

// Collector owns the Prometheus metrics of every molcache component. All
// methods are safe to call on a nil *Collector.
type Collector struct {
	config   *Config
	gatherer prometheus.Gatherer

	tierLookups        *prometheus.CounterVec
	tierBytes          *prometheus.GaugeVec
	metadataForgotten  *prometheus.CounterVec
	originFetches      *prometheus.CounterVec
	originDuration     prometheus.Histogram
	originInFlight     prometheus.Gauge
	coalescedWaiters   prometheus.Counter
	prefetchItems      *prometheus.CounterVec
	hitRate            prometheus.Gauge
	qualityLevel       prometheus.Gauge
	qualityTransitions *prometheus.CounterVec
	frameTime          prometheus.Histogram
	bottleneck         *prometheus.GaugeVec
	strategyWeight     *prometheus.GaugeVec
	warmCycles         *prometheus.CounterVec
}

// NewCollector creates the metrics and registers them with reg. A nil reg
// gets a private registry. A disabled config returns a nil collector.
func NewCollector(config *Config, reg prometheus.Registerer) (*Collector, error) {
	if config == nil {
		config = &Config{Enabled: true, Path: "/metrics", Namespace: "molcache"}
	}
	if !config.Enabled {
		return nil, nil
	}

	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{config: config, gatherer: gatherer}
	c.initMetrics()

	for _, m := range []prometheus.Collector{
		c.tierLookups, c.tierBytes, c.metadataForgotten, c.originFetches, c.originDuration, c.originInFlight,
		c.coalescedWaiters, c.prefetchItems, c.hitRate, c.qualityLevel, c.qualityTransitions,
		c.frameTime, c.bottleneck, c.strategyWeight, c.warmCycles,
	} {
		if err := reg.Register(m); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return c, nil
}

// Handler serves the registered metrics in OpenMetrics format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Path returns the configured scrape path.
func (c *Collector) Path() string {
	if c == nil || c.config.Path == "" {
		return "/metrics"
	}
	return c.config.Path
}

// TierLookup counts one tier read. result is hit, miss, expired or error.
func (c *Collector) TierLookup(tier, result string) {
	if c == nil {
		return
	}
	c.tierLookups.WithLabelValues(tier, result).Inc()
}

// SetTierBytes records the bytes held by a tier.
func (c *Collector) SetTierBytes(tier string, bytes int64) {
	if c == nil {
		return
	}
	c.tierBytes.WithLabelValues(tier).Set(float64(bytes))
}

// MetadataForgotten counts entry metadata dropped to keep a tier's index
// within its limit.
func (c *Collector) MetadataForgotten(tier string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.metadataForgotten.WithLabelValues(tier).Add(float64(n))
}

// OriginFetch records one origin call. result is success, not_found or error.
func (c *Collector) OriginFetch(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.originFetches.WithLabelValues(result).Inc()
	c.originDuration.Observe(d.Seconds())
}

// OriginInFlight adjusts the number of running origin calls.
func (c *Collector) OriginInFlight(delta float64) {
	if c == nil {
		return
	}
	c.originInFlight.Add(delta)
}

// CoalescedWaiter counts a caller that joined an in-flight origin fetch.
func (c *Collector) CoalescedWaiter() {
	if c == nil {
		return
	}
	c.coalescedWaiters.Inc()
}

// PrefetchItem counts one prefetch outcome.
func (c *Collector) PrefetchItem(status string) {
	if c == nil {
		return
	}
	c.prefetchItems.WithLabelValues(status).Inc()
}

// SetHitRate records the rolling hit rate.
func (c *Collector) SetHitRate(rate float64) {
	if c == nil {
		return
	}
	c.hitRate.Set(rate)
}

// SetQualityLevel records the active level as 0 (low) to 2 (high).
func (c *Collector) SetQualityLevel(level int) {
	if c == nil {
		return
	}
	c.qualityLevel.Set(float64(level))
}

// QualityTransition counts a level change.
func (c *Collector) QualityTransition(from, to string) {
	if c == nil {
		return
	}
	c.qualityTransitions.WithLabelValues(from, to).Inc()
}

// ObserveFrame records one frame time.
func (c *Collector) ObserveFrame(ms float64) {
	if c == nil {
		return
	}
	c.frameTime.Observe(ms)
}

// SetBottleneck sets the dominant resource to 1 and the others to 0.
func (c *Collector) SetBottleneck(resource string) {
	if c == nil {
		return
	}
	for _, r := range bottleneckResources {
		v := 0.0
		if r == resource {
			v = 1
		}
		c.bottleneck.WithLabelValues(r).Set(v)
	}
}

// SetStrategyWeights records the strategy engine weights.
func (c *Collector) SetStrategyWeights(popularity, recency, relevance float64) {
	if c == nil {
		return
	}
	c.strategyWeight.WithLabelValues("popularity").Set(popularity)
	c.strategyWeight.WithLabelValues("recency").Set(recency)
	c.strategyWeight.WithLabelValues("relevance").Set(relevance)
}

// WarmCycle counts a warmer cycle. result is success or error.
func (c *Collector) WarmCycle(result string) {
	if c == nil {
		return
	}
	c.warmCycles.WithLabelValues(result).Inc()
}

func (c *Collector) initMetrics() {
	ns, sub := c.config.Namespace, c.config.Subsystem

	c.tierLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "tier_lookups_total",
		Help: "Tier reads by tier and result",
	}, []string{"tier", "result"})

	c.tierBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub,
		Name: "tier_size_bytes",
		Help: "Bytes held per tier as tracked by the orchestrator",
	}, []string{"tier"})

	c.metadataForgotten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "tier_metadata_forgotten_total",
		Help: "Entry metadata dropped to bound the per-tier index",
	}, []string{"tier"})

	c.originFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "origin_fetches_total",
		Help: "Origin fetches by result",
	}, []string{"result"})

	c.originDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub,
		Name:    "origin_fetch_duration_seconds",
		Help:    "Duration of origin fetches in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
	})

	c.originInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub,
		Name: "origin_inflight",
		Help: "Origin fetches currently running",
	})

	c.coalescedWaiters = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "coalesced_waiters_total",
		Help: "Fetches that joined an in-flight origin fetch",
	})

	c.prefetchItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "prefetch_items_total",
		Help: "Prefetch items by status",
	}, []string{"status"})

	c.hitRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub,
		Name: "hit_rate",
		Help: "Rolling cache hit rate",
	})

	c.qualityLevel = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub,
		Name: "quality_level",
		Help: "Active quality level (0 low, 1 medium, 2 high)",
	})

	c.qualityTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "quality_transitions_total",
		Help: "Quality level transitions",
	}, []string{"from", "to"})

	c.frameTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub,
		Name:    "frame_time_ms",
		Help:    "Frame time in milliseconds",
		Buckets: []float64{4, 8, 12, 16.67, 20, 25, 33.3, 50, 66.7, 100, 200},
	})

	c.bottleneck = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub,
		Name: "bottleneck",
		Help: "1 for the dominant resource of the last analysis",
	}, []string{"resource"})

	c.strategyWeight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub,
		Name: "strategy_weight",
		Help: "Strategy engine scoring weights",
	}, []string{"weight"})

	c.warmCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "warm_cycles_total",
		Help: "Warmer cycles by result",
	}, []string{"result"})
}
