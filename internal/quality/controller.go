// Package quality owns the rendering detail level and moves it up or down
// from measured throughput, with hysteresis so the level does not flap.
package quality

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/labviz/molcache/internal/metrics"
	"github.com/labviz/molcache/internal/profiler"
	"github.com/labviz/molcache/internal/tuning"
	"github.com/labviz/molcache/pkg/errors"
)

// Decision reasons.
const (
	ReasonInsufficientSamples = "insufficient_samples"
	ReasonDwell               = "dwell"
	ReasonSteady              = "steady"
	ReasonDowngrade           = "downgrade"
	ReasonUpgrade             = "upgrade"
	ReasonIgnored             = "ignored"
)

// Decision is the outcome of evaluating one sample.
type Decision struct {
	Transitioned  bool    `json:"transitioned"`
	From          Level   `json:"from"`
	To            Level   `json:"to"`
	AvgThroughput float64 `json:"avg_throughput"`
	Samples       int     `json:"samples"`
	Reason        string  `json:"reason"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithProbe picks the initial level from device detection. A probe error
// falls back to medium.
func WithProbe(p CapabilityProbe) Option {
	return func(c *Controller) { c.probe = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSettings replaces the per-level bundles. Levels missing from s keep
// their defaults.
func WithSettings(s map[Level]Settings) Option {
	return func(c *Controller) {
		for l, v := range s {
			c.settings[l] = v
		}
	}
}

// WithMetrics exports the level and transitions.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller is the single source of truth for the quality level. It is
// fed from the render loop; reads and Observe are safe from any goroutine.
type Controller struct {
	config   tuning.Quality
	settings map[Level]Settings
	probe    CapabilityProbe
	logger   *zap.Logger
	metrics  *metrics.Collector
	now      func() time.Time

	mu             sync.Mutex
	level          Level
	window         []float64
	next, count    int
	sum            float64
	lastTransition time.Time
	capability     Capability

	events *eventQueue
}

// NewController validates config, picks the initial level and starts
// event delivery. Close stops it.
func NewController(config tuning.Quality, opts ...Option) (*Controller, error) {
	switch {
	case config.Window < 1:
		return nil, invalid("window must hold at least one sample")
	case config.MinSamples < 1 || config.MinSamples > config.Window:
		return nil, invalid("min samples must be within [1, window]")
	case config.DowngradeBelow <= 0 || config.UpgradeAbove <= 0:
		return nil, invalid("thresholds must be positive")
	case config.DowngradeBelow >= config.UpgradeAbove:
		return nil, invalid("downgrade threshold must be below upgrade threshold")
	case config.UpgradeDwell < 0 || config.DowngradeDwell < 0:
		return nil, invalid("dwell times must be non-negative")
	}
	initial, err := ParseLevel(config.InitialLevel)
	if err != nil {
		return nil, invalid(err.Error())
	}

	c := &Controller{
		config:   config,
		settings: DefaultSettings(),
		logger:   zap.NewNop(),
		now:      time.Now,
		window:   make([]float64, config.Window),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("quality")

	c.capability = Capability{Level: initial, Reason: "configured"}
	if c.probe != nil {
		capability, err := c.probe.Probe(context.Background())
		if err != nil {
			c.logger.Warn("capability probe failed, starting at medium", zap.Error(err))
			capability = Capability{Level: LevelMedium, Reason: "probe failed: " + err.Error()}
		}
		c.capability = capability
	}
	c.level = c.capability.Level
	c.lastTransition = c.now()
	c.events = newEventQueue(config.EventBuffer)

	c.metrics.SetQualityLevel(int(c.level))
	c.logger.Info("quality controller started",
		zap.Stringer("level", c.level), zap.String("reason", c.capability.Reason))
	return c, nil
}

func invalid(msg string) error {
	return errors.NewError(errors.ErrCodeInvalidConfig, msg).WithComponent("quality")
}

// Observe adds one throughput sample, in frames per second, and applies at
// most one level change.
func (c *Controller) Observe(fps float64) Decision {
	c.mu.Lock()
	if fps <= 0 {
		d := Decision{From: c.level, To: c.level, Samples: c.count, Reason: ReasonIgnored}
		c.mu.Unlock()
		return d
	}

	c.push(fps)
	now := c.now()
	d := Decision{From: c.level, To: c.level, Samples: c.count, AvgThroughput: c.sum / float64(c.count)}

	switch {
	case c.count < c.config.MinSamples:
		d.Reason = ReasonInsufficientSamples
	case d.AvgThroughput < c.config.DowngradeBelow && c.level > LevelLow:
		d.To, d.Reason = c.level-1, ReasonDowngrade
		if now.Sub(c.lastTransition) < c.config.DowngradeDwell {
			d.To, d.Reason = c.level, ReasonDwell
		}
	case d.AvgThroughput > c.config.UpgradeAbove && c.level < LevelHigh:
		d.To, d.Reason = c.level+1, ReasonUpgrade
		if now.Sub(c.lastTransition) < c.config.UpgradeDwell {
			d.To, d.Reason = c.level, ReasonDwell
		}
	default:
		d.Reason = ReasonSteady
	}

	var change Change
	if d.To != d.From {
		d.Transitioned = true
		c.level = d.To
		c.lastTransition = now
		c.clearWindow()
		change = Change{
			From:               d.From,
			To:                 d.To,
			ObservedThroughput: d.AvgThroughput,
			At:                 now,
			Settings:           c.settings[d.To],
		}
		c.events.push(change)
	}
	c.mu.Unlock()

	if d.Transitioned {
		c.metrics.SetQualityLevel(int(d.To))
		c.metrics.QualityTransition(d.From.String(), d.To.String())
		c.logger.Info("quality level changed",
			zap.Stringer("from", d.From),
			zap.Stringer("to", d.To),
			zap.Float64("avg_fps", d.AvgThroughput),
			zap.String("representation", change.Settings.Representation))
	}
	return d
}

// ObserveProfile feeds the throughput implied by a recorded frame.
func (c *Controller) ObserveProfile(p profiler.PerformanceProfile) Decision {
	return c.Observe(p.FPS())
}

func (c *Controller) push(v float64) {
	if c.count == len(c.window) {
		c.sum -= c.window[c.next]
	} else {
		c.count++
	}
	c.window[c.next] = v
	c.sum += v
	c.next = (c.next + 1) % len(c.window)

	// Re-add from scratch once per lap so rounding error cannot accumulate.
	if c.next == 0 {
		c.sum = 0
		for _, x := range c.window[:c.count] {
			c.sum += x
		}
	}
}

func (c *Controller) clearWindow() {
	c.next, c.count, c.sum = 0, 0, 0
}

// Level returns the current level.
func (c *Controller) Level() Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// Settings returns the bundle for the current level.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings[c.level]
}

// SettingsFor returns the bundle for l.
func (c *Controller) SettingsFor(l Level) Settings {
	return c.settings[l]
}

// State is a snapshot for status endpoints.
type State struct {
	Level          Level      `json:"level"`
	Settings       Settings   `json:"settings"`
	Samples        int        `json:"samples"`
	AvgThroughput  float64    `json:"avg_throughput"`
	LastTransition time.Time  `json:"last_transition"`
	Capability     Capability `json:"capability"`
	PendingEvents  int        `json:"pending_events"`
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	c.mu.Lock()
	s := State{
		Level:          c.level,
		Settings:       c.settings[c.level],
		Samples:        c.count,
		LastTransition: c.lastTransition,
		Capability:     c.capability,
	}
	if c.count > 0 {
		s.AvgThroughput = c.sum / float64(c.count)
	}
	c.mu.Unlock()
	s.PendingEvents = c.events.len()
	return s
}

// Events delivers each level change once, in order, to whichever goroutine
// receives it. Use a single listener. The channel is closed by Close.
func (c *Controller) Events() <-chan Change {
	return c.events.out
}

// Requeue puts a change received from Events back at the head of the
// queue, for a listener that could not pass it on. It is delivered again
// before any later change.
func (c *Controller) Requeue(change Change) {
	c.events.pushFront(change)
}

// Close stops event delivery. Undelivered changes are discarded.
func (c *Controller) Close() error {
	c.events.close()
	return nil
}
