package profiler

import (
	"fmt"
	"time"
)

// Resource is the resource limiting frame time.
type Resource int

const (
	ResourceBalanced Resource = iota
	ResourceCompute
	ResourceRender
	ResourceMemory
)

func (r Resource) String() string {
	switch r {
	case ResourceCompute:
		return "compute"
	case ResourceRender:
		return "render"
	case ResourceMemory:
		return "memory"
	default:
		return "balanced"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Resource) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Severity grades how far frames are from budget.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "low"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BottleneckAnalysis is derived from a window of profiles. Utilizations are
// percentages of the frame budget (compute, render) or memory budget.
type BottleneckAnalysis struct {
	Dominant           Resource `json:"dominant"`
	Severity           Severity `json:"severity"`
	ComputeUtilization float64  `json:"compute_utilization_pct"`
	RenderUtilization  float64  `json:"render_utilization_pct"`
	MemoryUtilization  float64  `json:"memory_utilization_pct"`
	AvgFrameTimeMs     float64  `json:"avg_frame_time_ms"`
	Samples            int      `json:"samples"`
	Recommendation     string   `json:"recommendation"`
}

// AnalyzeBottleneck classifies the profiles recorded within window. Zero
// uses the configured window; a negative window uses every stored profile.
func (p *Profiler) AnalyzeBottleneck(window time.Duration) BottleneckAnalysis {
	if window == 0 {
		window = p.config.AnalysisWindow
	}
	profiles := p.Snapshot()
	if window > 0 {
		cutoff := p.now().Add(-window)
		i := 0
		for i < len(profiles) && profiles[i].Timestamp.Before(cutoff) {
			i++
		}
		profiles = profiles[i:]
	}

	a := p.analyze(profiles)
	p.metrics.SetBottleneck(a.Dominant.String())
	return a
}

// analyze applies the classification rules in priority order: memory,
// compute, render, then overall frame time.
func (p *Profiler) analyze(profiles []PerformanceProfile) BottleneckAnalysis {
	if len(profiles) == 0 {
		return BottleneckAnalysis{
			Dominant:       ResourceBalanced,
			Severity:       SeverityLow,
			Recommendation: "No samples recorded yet; gather frame samples before tuning.",
		}
	}

	var compute, render, frame, memory float64
	for _, pr := range profiles {
		compute += pr.ComputeTimeMs
		render += pr.RenderTimeMs
		frame += pr.FrameTimeMs
		memory += float64(pr.MemoryBytes)
	}
	n := float64(len(profiles))
	compute, render, frame, memory = compute/n, render/n, frame/n, memory/n

	c := p.config
	computeUtil := compute / c.TargetFrameMs
	renderUtil := render / c.TargetFrameMs
	memoryUtil := memory / float64(c.MemoryBudgetBytes)

	a := BottleneckAnalysis{
		ComputeUtilization: computeUtil * 100,
		RenderUtilization:  renderUtil * 100,
		MemoryUtilization:  memoryUtil * 100,
		AvgFrameTimeMs:     frame,
		Samples:            len(profiles),
	}

	switch {
	case memoryUtil > c.UtilizationThreshold:
		a.Dominant, a.Severity = ResourceMemory, SeverityCritical
		a.Recommendation = fmt.Sprintf("Memory at %.0f%% of budget; drop detail levels and evict unused structures.", a.MemoryUtilization)
	case computeUtil > c.UtilizationThreshold && compute > c.DominanceRatio*render:
		a.Dominant, a.Severity = ResourceCompute, p.busySeverity(computeUtil)
		a.Recommendation = fmt.Sprintf("Compute at %.0f%% of frame budget; batch work or move it off the render loop.", a.ComputeUtilization)
	case renderUtil > c.UtilizationThreshold && render > c.DominanceRatio*compute:
		a.Dominant, a.Severity = ResourceRender, p.busySeverity(renderUtil)
		a.Recommendation = fmt.Sprintf("Render at %.0f%% of frame budget; reduce primitive count or resolution.", a.RenderUtilization)
	case frame > c.OverBudgetSevere*c.TargetFrameMs:
		a.Dominant, a.Severity = ResourceBalanced, SeverityHigh
		a.Recommendation = fmt.Sprintf("Frames average %.1fms with no single dominant resource; lower overall quality.", frame)
	case frame > c.TargetFrameMs:
		a.Dominant, a.Severity = ResourceBalanced, SeverityMedium
		a.Recommendation = fmt.Sprintf("Frames average %.1fms, slightly over the %.2fms budget.", frame, c.TargetFrameMs)
	default:
		a.Dominant, a.Severity = ResourceBalanced, SeverityLow
		a.Recommendation = "Within budget."
	}
	return a
}

func (p *Profiler) busySeverity(util float64) Severity {
	if util > p.config.CriticalUtilization {
		return SeverityCritical
	}
	return SeverityHigh
}
