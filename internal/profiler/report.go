package profiler

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Suggestion is a remediation hint. Lower Priority values come first.
type Suggestion struct {
	Priority int      `json:"priority"`
	Resource Resource `json:"resource"`
	Text     string   `json:"text"`
}

// PerformanceReport summarizes every stored profile.
type PerformanceReport struct {
	GeneratedAt      time.Time          `json:"generated_at"`
	Samples          int                `json:"samples"`
	AvgFPS           float64            `json:"avg_fps"`
	MinFPS           float64            `json:"min_fps"`
	MaxFPS           float64            `json:"max_fps"`
	AvgFrameTimeMs   float64            `json:"avg_frame_time_ms"`
	MinFrameTimeMs   float64            `json:"min_frame_time_ms"`
	MaxFrameTimeMs   float64            `json:"max_frame_time_ms"`
	AvgDrawCalls     float64            `json:"avg_draw_calls"`
	AvgPrimitives    float64            `json:"avg_primitives"`
	PeakMemoryBytes  int64              `json:"peak_memory_bytes"`
	DroppedFrames    int                `json:"dropped_frames"`
	EstimatedSamples int                `json:"estimated_samples"`
	Analysis         BottleneckAnalysis `json:"analysis"`
	Suggestions      []Suggestion       `json:"suggestions"`
}

// GenerateReport aggregates the stored profiles. A frame counts as dropped
// when it takes longer than DroppedFrameFactor times the budget.
func (p *Profiler) GenerateReport() PerformanceReport {
	profiles := p.Snapshot()
	r := PerformanceReport{
		GeneratedAt: p.now(),
		Samples:     len(profiles),
		Analysis:    p.analyze(profiles),
	}

	if len(profiles) > 0 {
		r.MinFrameTimeMs = math.Inf(1)
		var frames, fps, draws, prims float64
		for _, pr := range profiles {
			frames += pr.FrameTimeMs
			fps += pr.FPS()
			draws += float64(pr.DrawCalls)
			prims += float64(pr.PrimitiveCount)
			r.MinFrameTimeMs = math.Min(r.MinFrameTimeMs, pr.FrameTimeMs)
			r.MaxFrameTimeMs = math.Max(r.MaxFrameTimeMs, pr.FrameTimeMs)
			if pr.MemoryBytes > r.PeakMemoryBytes {
				r.PeakMemoryBytes = pr.MemoryBytes
			}
			if pr.FrameTimeMs > p.config.DroppedFrameFactor*p.config.TargetFrameMs {
				r.DroppedFrames++
			}
			if pr.RenderEstimated {
				r.EstimatedSamples++
			}
		}
		n := float64(len(profiles))
		r.AvgFrameTimeMs = frames / n
		r.AvgFPS = fps / n
		r.AvgDrawCalls = draws / n
		r.AvgPrimitives = prims / n
		if r.MaxFrameTimeMs > 0 {
			r.MinFPS = 1000 / r.MaxFrameTimeMs
		}
		if r.MinFrameTimeMs > 0 {
			r.MaxFPS = 1000 / r.MinFrameTimeMs
		}
	}

	r.Suggestions = p.suggest(r)
	return r
}

func (p *Profiler) suggest(r PerformanceReport) []Suggestion {
	var out []Suggestion
	switch r.Analysis.Dominant {
	case ResourceMemory:
		out = append(out,
			Suggestion{1, ResourceMemory, "Switch to a lower detail level to shrink geometry buffers."},
			Suggestion{2, ResourceMemory, "Evict structures that are no longer on screen."},
			Suggestion{3, ResourceMemory, "Stream large assemblies instead of loading them whole."})
	case ResourceCompute:
		out = append(out,
			Suggestion{1, ResourceCompute, "Batch per-atom work instead of processing atoms one by one."},
			Suggestion{2, ResourceCompute, "Move geometry generation off the render loop."},
			Suggestion{3, ResourceCompute, "Cache derived geometry between frames."})
	case ResourceRender:
		out = append(out,
			Suggestion{1, ResourceRender, "Reduce primitive count with a coarser representation."},
			Suggestion{2, ResourceRender, "Lower sphere segments or render resolution."},
			Suggestion{3, ResourceRender, "Disable ambient occlusion and shadows."})
	default:
		if r.Analysis.Severity >= SeverityMedium {
			out = append(out, Suggestion{2, ResourceBalanced, "Lower the overall quality level."})
		}
	}
	if r.DroppedFrames > 0 {
		out = append(out, Suggestion{4, ResourceBalanced,
			fmt.Sprintf("%d frames exceeded %.0fx the budget; look for periodic stalls.", r.DroppedFrames, p.config.DroppedFrameFactor)})
	}
	if r.EstimatedSamples > 0 {
		out = append(out, Suggestion{5, ResourceRender,
			"Render time is estimated for some samples; enable GPU timer queries for measured values."})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// String renders the report as text.
func (r PerformanceReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Performance report (%s)\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "  samples:     %d (%d with estimated render time)\n", r.Samples, r.EstimatedSamples)
	fmt.Fprintf(&b, "  fps:         avg %.1f  min %.1f  max %.1f\n", r.AvgFPS, r.MinFPS, r.MaxFPS)
	fmt.Fprintf(&b, "  frame time:  avg %.2fms  min %.2fms  max %.2fms\n", r.AvgFrameTimeMs, r.MinFrameTimeMs, r.MaxFrameTimeMs)
	fmt.Fprintf(&b, "  draw calls:  %.0f  primitives: %.0f\n", r.AvgDrawCalls, r.AvgPrimitives)
	fmt.Fprintf(&b, "  peak memory: %s\n", humanize.IBytes(uint64(max(r.PeakMemoryBytes, 0))))
	fmt.Fprintf(&b, "  dropped:     %d\n", r.DroppedFrames)
	fmt.Fprintf(&b, "Bottleneck: %s (%s)\n", r.Analysis.Dominant, r.Analysis.Severity)
	fmt.Fprintf(&b, "  compute %.0f%%  render %.0f%%  memory %.0f%%\n",
		r.Analysis.ComputeUtilization, r.Analysis.RenderUtilization, r.Analysis.MemoryUtilization)
	fmt.Fprintf(&b, "  %s\n", r.Analysis.Recommendation)
	if len(r.Suggestions) > 0 {
		b.WriteString("Suggestions:\n")
		for i, s := range r.Suggestions {
			fmt.Fprintf(&b, "  %d. [%s] %s\n", i+1, s.Resource, s.Text)
		}
	}
	return b.String()
}
