// Package tuning holds every numeric constant of the warming, profiling and
// quality control loops in one place so their sensitivity can be reviewed
// and tested apart from the logic that uses them.
package tuning

import "time"

// Tunables groups the per-component sections.
type Tunables struct {
	Strategy Strategy `yaml:"strategy"`
	Profiler Profiler `yaml:"profiler"`
	Quality  Quality  `yaml:"quality"`
}

// Strategy tunes the admission scoring engine.
type Strategy struct {
	MaxBudgetBytes   int64   `yaml:"max_budget_bytes" validate:"gte=0"`
	PopularityWeight float64 `yaml:"popularity_weight" validate:"gte=0"`
	RecencyWeight    float64 `yaml:"recency_weight" validate:"gte=0"`
	RelevanceWeight  float64 `yaml:"relevance_weight" validate:"gte=0"`
	MinScore         float64 `yaml:"min_score" validate:"gte=0,lte=1"`
	MaxCandidates    int     `yaml:"max_candidates" validate:"gte=1"`

	HistorySize    int     `yaml:"history_size" validate:"gte=1"`
	RecencyDecay   float64 `yaml:"recency_decay" validate:"gt=0"`
	PopularityStep float64 `yaml:"popularity_step" validate:"gt=0,lte=1"`
	FamilyBonus    float64 `yaml:"family_bonus" validate:"gte=0,lte=1"`
	ComplexBonus   float64 `yaml:"complex_bonus" validate:"gte=0,lte=1"`

	// Weight rebalancing.
	PopularityShift float64 `yaml:"popularity_shift" validate:"gte=0"`
	RecencyShift    float64 `yaml:"recency_shift" validate:"gte=0"`
	WeightFloor     float64 `yaml:"weight_floor" validate:"gte=0"`
	WeightCeiling   float64 `yaml:"weight_ceiling" validate:"gt=0,lte=1"`
	HitRateSlack    float64 `yaml:"hit_rate_slack" validate:"gte=0"`
}

// Profiler tunes bottleneck classification.
type Profiler struct {
	MaxProfiles       int           `yaml:"max_profiles" validate:"gte=1"`
	TargetFrameMs     float64       `yaml:"target_frame_ms" validate:"gt=0"`
	AnalysisWindow    time.Duration `yaml:"analysis_window" validate:"gt=0"`
	MemoryBudgetBytes int64         `yaml:"memory_budget_bytes" validate:"gt=0"`

	UtilizationThreshold float64 `yaml:"utilization_threshold" validate:"gt=0"`
	DominanceRatio       float64 `yaml:"dominance_ratio" validate:"gte=1"`
	CriticalUtilization  float64 `yaml:"critical_utilization" validate:"gt=0"`
	OverBudgetSevere     float64 `yaml:"over_budget_severe" validate:"gte=1"`
	DroppedFrameFactor   float64 `yaml:"dropped_frame_factor" validate:"gte=1"`

	// EstimatedRenderFraction is used only by RecordFrame, for renderers that
	// cannot measure GPU time. Samples derived this way are flagged.
	EstimatedRenderFraction float64 `yaml:"estimated_render_fraction" validate:"gte=0,lte=1"`
}

// Quality tunes the hysteresis state machine.
type Quality struct {
	Window         int           `yaml:"window" validate:"gte=1"`
	MinSamples     int           `yaml:"min_samples" validate:"gte=1"`
	DowngradeBelow float64       `yaml:"downgrade_below" validate:"gt=0"`
	UpgradeAbove   float64       `yaml:"upgrade_above" validate:"gt=0"`
	UpgradeDwell   time.Duration `yaml:"upgrade_dwell" validate:"gte=0"`
	DowngradeDwell time.Duration `yaml:"downgrade_dwell" validate:"gte=0"`
	InitialLevel   string        `yaml:"initial_level" validate:"omitempty,oneof=low medium high"`
	EventBuffer    int           `yaml:"event_buffer" validate:"gte=0"`
}

// TargetFPS is the throughput implied by the frame budget.
func (p Profiler) TargetFPS() float64 {
	return 1000 / p.TargetFrameMs
}

// Default returns the reference tunables.
func Default() Tunables {
	return Tunables{
		Strategy: DefaultStrategy(),
		Profiler: DefaultProfiler(),
		Quality:  DefaultQuality(),
	}
}

// DefaultStrategy returns the reference strategy tunables.
func DefaultStrategy() Strategy {
	return Strategy{
		MaxBudgetBytes:   256 << 20,
		PopularityWeight: 0.4,
		RecencyWeight:    0.3,
		RelevanceWeight:  0.3,
		MinScore:         0.05,
		MaxCandidates:    30,
		HistorySize:      20,
		RecencyDecay:     3,
		PopularityStep:   0.1,
		FamilyBonus:      0.5,
		ComplexBonus:     0.5,
		PopularityShift:  0.1,
		RecencyShift:     0.05,
		WeightFloor:      0.05,
		WeightCeiling:    0.9,
		HitRateSlack:     0.1,
	}
}

// DefaultProfiler returns the reference profiler tunables: a 60 fps budget
// and a two second analysis window.
func DefaultProfiler() Profiler {
	return Profiler{
		MaxProfiles:             1000,
		TargetFrameMs:           16.67,
		AnalysisWindow:          2 * time.Second,
		MemoryBudgetBytes:       512 << 20,
		UtilizationThreshold:    0.80,
		DominanceRatio:          1.5,
		CriticalUtilization:     0.95,
		OverBudgetSevere:        2.0,
		DroppedFrameFactor:      2.0,
		EstimatedRenderFraction: 0.7,
	}
}

// DefaultQuality returns the reference quality tunables.
func DefaultQuality() Quality {
	return Quality{
		Window:         60,
		MinSamples:     30,
		DowngradeBelow: 30,
		UpgradeAbove:   55,
		UpgradeDwell:   3 * time.Second,
		DowngradeDwell: 0,
		InitialLevel:   "medium",
		EventBuffer:    16,
	}
}
