// Package profiler records per-frame cost and classifies the resource that
// keeps frames over budget.
package profiler

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/labviz/molcache/internal/metrics"
	"github.com/labviz/molcache/internal/tuning"
	"github.com/labviz/molcache/pkg/errors"
)

// Sample is the measured cost of one rendered frame.
type Sample struct {
	ComputeMs   float64 `json:"compute_ms"`
	RenderMs    float64 `json:"render_ms"`
	MemoryBytes int64   `json:"memory_bytes"`
	DrawCalls   int     `json:"draw_calls"`
	Primitives  int     `json:"primitives"`
}

// PerformanceProfile is one recorded frame. Profiles are immutable once recorded.
type PerformanceProfile struct {
	Timestamp      time.Time `json:"timestamp"`
	FrameTimeMs    float64   `json:"frame_time_ms"`
	ComputeTimeMs  float64   `json:"compute_time_ms"`
	RenderTimeMs   float64   `json:"render_time_ms"`
	MemoryBytes    int64     `json:"memory_bytes"`
	DrawCalls      int       `json:"draw_calls"`
	PrimitiveCount int       `json:"primitive_count"`
	// RenderEstimated marks render time derived from frame time rather
	// than measured.
	RenderEstimated bool `json:"render_estimated,omitempty"`
}

// FPS is the throughput implied by the frame time.
func (p PerformanceProfile) FPS() float64 {
	if p.FrameTimeMs <= 0 {
		return 0
	}
	return 1000 / p.FrameTimeMs
}

// Option configures a Profiler.
type Option func(*Profiler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Profiler) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Profiler) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics exports frame times and bottleneck classifications.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Profiler) { p.metrics = c }
}

// Profiler keeps the most recent MaxProfiles frames in a ring buffer.
// Recording is meant for a single producer; analysis may run concurrently
// and always works on a copy.
type Profiler struct {
	config  tuning.Profiler
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Collector

	mu    sync.RWMutex
	ring  []PerformanceProfile
	next  int
	count int
}

// New validates config and allocates the ring buffer.
func New(config tuning.Profiler, opts ...Option) (*Profiler, error) {
	switch {
	case config.MaxProfiles < 1:
		return nil, invalid("max profiles must be at least 1")
	case config.TargetFrameMs <= 0:
		return nil, invalid("target frame time must be positive")
	case config.MemoryBudgetBytes <= 0:
		return nil, invalid("memory budget must be positive")
	case config.UtilizationThreshold <= 0 || config.CriticalUtilization <= 0:
		return nil, invalid("utilization thresholds must be positive")
	case config.EstimatedRenderFraction < 0 || config.EstimatedRenderFraction > 1:
		return nil, invalid("estimated render fraction must be within [0,1]")
	}
	def := tuning.DefaultProfiler()
	if config.AnalysisWindow <= 0 {
		config.AnalysisWindow = def.AnalysisWindow
	}
	if config.DominanceRatio < 1 {
		config.DominanceRatio = def.DominanceRatio
	}
	if config.OverBudgetSevere < 1 {
		config.OverBudgetSevere = def.OverBudgetSevere
	}
	if config.DroppedFrameFactor < 1 {
		config.DroppedFrameFactor = def.DroppedFrameFactor
	}

	p := &Profiler{
		config: config,
		now:    time.Now,
		logger: zap.NewNop(),
		ring:   make([]PerformanceProfile, config.MaxProfiles),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("profiler")
	return p, nil
}

func invalid(msg string) error {
	return errors.NewError(errors.ErrCodeInvalidConfig, msg).WithComponent("profiler")
}

// Config returns the profiler configuration.
func (p *Profiler) Config() tuning.Profiler {
	return p.config
}

// RecordSample stores one measured frame, overwriting the oldest when the
// buffer is full.
func (p *Profiler) RecordSample(s Sample) PerformanceProfile {
	return p.record(PerformanceProfile{
		FrameTimeMs:    s.ComputeMs + s.RenderMs,
		ComputeTimeMs:  s.ComputeMs,
		RenderTimeMs:   s.RenderMs,
		MemoryBytes:    s.MemoryBytes,
		DrawCalls:      s.DrawCalls,
		PrimitiveCount: s.Primitives,
	})
}

// RecordFrame stores a frame for renderers that only know the total frame
// time. Render time is taken as EstimatedRenderFraction of the frame and
// the profile is flagged so reports can say how much data is estimated.
func (p *Profiler) RecordFrame(frameMs float64, memoryBytes int64, drawCalls, primitives int) PerformanceProfile {
	render := frameMs * p.config.EstimatedRenderFraction
	return p.record(PerformanceProfile{
		FrameTimeMs:     frameMs,
		ComputeTimeMs:   frameMs - render,
		RenderTimeMs:    render,
		MemoryBytes:     memoryBytes,
		DrawCalls:       drawCalls,
		PrimitiveCount:  primitives,
		RenderEstimated: true,
	})
}

func (p *Profiler) record(profile PerformanceProfile) PerformanceProfile {
	profile.Timestamp = p.now()

	p.mu.Lock()
	p.ring[p.next] = profile
	p.next = (p.next + 1) % len(p.ring)
	if p.count < len(p.ring) {
		p.count++
	}
	p.mu.Unlock()

	p.metrics.ObserveFrame(profile.FrameTimeMs)
	return profile
}

// Len returns the number of stored profiles.
func (p *Profiler) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.count
}

// Snapshot copies the stored profiles, oldest first.
func (p *Profiler) Snapshot() []PerformanceProfile {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]PerformanceProfile, 0, p.count)
	start := (p.next - p.count + len(p.ring)) % len(p.ring)
	for i := 0; i < p.count; i++ {
		out = append(out, p.ring[(start+i)%len(p.ring)])
	}
	return out
}

// Reset discards every stored profile.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next, p.count = 0, 0
}
