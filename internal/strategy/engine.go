// Package strategy decides which assets are worth warming. It scores
// candidates by popularity, recency and relevance to recent traffic and
// picks a ranked subset that fits a byte budget.
//
// An Engine is not safe for concurrent use. Callers serialize access or
// wrap it with a lock, as the warmer does.
package strategy

import (
	"math"

	"github.com/labviz/molcache/internal/tuning"
	"github.com/labviz/molcache/pkg/errors"
)

// Weights are the composite score coefficients. They always sum to 1.
type Weights struct {
	Popularity float64 `json:"popularity"`
	Recency    float64 `json:"recency"`
	Relevance  float64 `json:"relevance"`
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.Popularity + w.Recency + w.Relevance
}

func (w Weights) normalized() Weights {
	sum := w.Sum()
	if sum <= 0 {
		return w
	}
	return Weights{
		Popularity: w.Popularity / sum,
		Recency:    w.Recency / sum,
		Relevance:  w.Relevance / sum,
	}
}

// Engine holds the scoring configuration and the running access state.
type Engine struct {
	config  tuning.Strategy
	weights Weights

	popularity map[string]float64
	history    []string // most recent first
	families   map[string]string
	complexes  map[string]string
}

// NewEngine validates config and normalizes its weights.
func NewEngine(config tuning.Strategy) (*Engine, error) {
	w := Weights{
		Popularity: config.PopularityWeight,
		Recency:    config.RecencyWeight,
		Relevance:  config.RelevanceWeight,
	}
	switch {
	case w.Popularity < 0 || w.Recency < 0 || w.Relevance < 0:
		return nil, invalid("weights must be non-negative")
	case w.Sum() <= 0 || math.IsNaN(w.Sum()) || math.IsInf(w.Sum(), 0):
		return nil, invalid("weights cannot be normalized")
	case config.MaxBudgetBytes < 0:
		return nil, invalid("budget must be non-negative")
	case config.MaxCandidates < 1:
		return nil, invalid("max candidates must be at least 1")
	}

	def := tuning.DefaultStrategy()
	if config.HistorySize <= 0 {
		config.HistorySize = def.HistorySize
	}
	if config.RecencyDecay <= 0 {
		config.RecencyDecay = def.RecencyDecay
	}
	if config.PopularityStep <= 0 {
		config.PopularityStep = def.PopularityStep
	}
	if config.WeightCeiling <= 0 {
		config.WeightCeiling = def.WeightCeiling
	}

	return &Engine{
		config:     config,
		weights:    w.normalized(),
		popularity: make(map[string]float64),
		families:   make(map[string]string),
		complexes:  make(map[string]string),
	}, nil
}

func invalid(msg string) error {
	return errors.NewError(errors.ErrCodeInvalidConfig, msg).WithComponent("strategy")
}

// Weights returns the current weights.
func (e *Engine) Weights() Weights {
	return e.weights
}

// Config returns the configuration with the current weights folded in.
func (e *Engine) Config() tuning.Strategy {
	c := e.config
	c.PopularityWeight = e.weights.Popularity
	c.RecencyWeight = e.weights.Recency
	c.RelevanceWeight = e.weights.Relevance
	return c
}

// RegisterFamily records that id belongs to family. An empty family
// removes the membership.
func (e *Engine) RegisterFamily(id, family string) {
	if family == "" {
		delete(e.families, id)
		return
	}
	e.families[id] = family
}

// RegisterComplex records that id is part of the complex named group.
func (e *Engine) RegisterComplex(id, group string) {
	if group == "" {
		delete(e.complexes, id)
		return
	}
	e.complexes[id] = group
}

// UpdateHistory moves id to the front of the recent-access history.
func (e *Engine) UpdateHistory(id string) {
	for i, h := range e.history {
		if h == id {
			e.history = append(e.history[:i], e.history[i+1:]...)
			break
		}
	}
	e.history = append([]string{id}, e.history...)
	if len(e.history) > e.config.HistorySize {
		e.history = e.history[:e.config.HistorySize]
	}
}

// UpdatePopularity bumps id's running popularity by one step, capped at 1.
func (e *Engine) UpdatePopularity(id string) {
	e.popularity[id] = math.Min(1, e.popularity[id]+e.config.PopularityStep)
}

// RecordAccess updates both history and popularity.
func (e *Engine) RecordAccess(id string) {
	e.UpdateHistory(id)
	e.UpdatePopularity(id)
}

// History returns a copy of the recent-access history, most recent first.
func (e *Engine) History() []string {
	return append([]string(nil), e.history...)
}

// Popularity returns id's running popularity score.
func (e *Engine) Popularity(id string) float64 {
	return e.popularity[id]
}

// AdaptWeights moves weight toward popularity when the observed hit rate
// is below target, and back toward recency when it beats the target by
// more than the slack. It returns the new weights.
func (e *Engine) AdaptWeights(observedHitRate, targetHitRate float64) Weights {
	w := e.weights
	switch {
	case observedHitRate < targetHitRate:
		w.Popularity += e.config.PopularityShift
		w.Recency -= e.config.RecencyShift
	case observedHitRate > targetHitRate+e.config.HitRateSlack:
		w.Popularity -= e.config.PopularityShift
		w.Recency += e.config.RecencyShift
	default:
		return e.weights
	}

	w.Popularity = clamp(w.Popularity, e.config.WeightFloor, e.config.WeightCeiling)
	w.Recency = clamp(w.Recency, e.config.WeightFloor, e.config.WeightCeiling)
	w.Relevance = clamp(w.Relevance, 0, e.config.WeightCeiling)
	e.weights = w.normalized()
	return e.weights
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
