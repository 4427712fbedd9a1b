package strategy

import (
	"math"
	"sort"
)

// Candidate is one catalogue entry offered for warming.
type Candidate struct {
	ID             string  `yaml:"id" json:"id"`
	SizeBytes      int64   `yaml:"size_bytes" json:"size_bytes"`
	PopularityHint float64 `yaml:"popularity_hint" json:"popularity_hint"`
	Family         string  `yaml:"family,omitempty" json:"family,omitempty"`
	Complex        string  `yaml:"complex,omitempty" json:"complex,omitempty"`
}

// StructureScore is a candidate's score for one selection pass.
type StructureScore struct {
	ID         string  `json:"id"`
	SizeBytes  int64   `json:"size_bytes"`
	Popularity float64 `json:"popularity"`
	Recency    float64 `json:"recency"`
	Relevance  float64 `json:"relevance"`
	Composite  float64 `json:"composite"`
}

// Skip reasons.
const (
	SkipBelowMinScore = "below_min_score"
	SkipOverBudget    = "over_budget"
	SkipOverCap       = "over_cap"
	SkipInvalidSize   = "invalid_size"
)

// Skipped is a candidate left out of a selection.
type Skipped struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// SelectResult is the outcome of Select.
type SelectResult struct {
	Selected []StructureScore `json:"selected"`
	Skipped  []Skipped        `json:"skipped,omitempty"`
	// Truncated is set when the budget or the candidate cap excluded an
	// item that met the minimum score.
	Truncated  bool  `json:"truncated"`
	TotalBytes int64 `json:"total_bytes"`
}

// IDs returns the selected ids in rank order.
func (r SelectResult) IDs() []string {
	ids := make([]string, len(r.Selected))
	for i, s := range r.Selected {
		ids[i] = s.ID
	}
	return ids
}

// Score scores id against recent, which is ordered most recent first.
func (e *Engine) Score(id string, recent []string) StructureScore {
	return e.score(Candidate{ID: id}, recent)
}

func (e *Engine) score(c Candidate, recent []string) StructureScore {
	s := StructureScore{
		ID:         c.ID,
		SizeBytes:  c.SizeBytes,
		Popularity: math.Max(e.popularity[c.ID], clamp(c.PopularityHint, 0, 1)),
		Recency:    e.recency(c.ID, recent),
		Relevance:  e.relevance(c.ID, recent),
	}
	s.Composite = e.weights.Popularity*s.Popularity +
		e.weights.Recency*s.Recency +
		e.weights.Relevance*s.Relevance
	return s
}

// recency decays exponentially with rank; rank 0 scores 1.
func (e *Engine) recency(id string, recent []string) float64 {
	for rank, r := range recent {
		if r == id {
			return math.Exp(-float64(rank) / e.config.RecencyDecay)
		}
	}
	return 0
}

// relevance averages the family and complex bonuses over the other recent ids.
func (e *Engine) relevance(id string, recent []string) float64 {
	family, group := e.families[id], e.complexes[id]
	var total float64
	n := 0
	for _, r := range recent {
		if r == id {
			continue
		}
		n++
		if family != "" && e.families[r] == family {
			total += e.config.FamilyBonus
		}
		if group != "" && e.complexes[r] == group {
			total += e.config.ComplexBonus
		}
	}
	if n == 0 {
		return 0
	}
	return math.Min(1, total/float64(n))
}

// Select ranks the catalogue and greedily fills the byte budget in rank
// order, skipping items that do not fit and continuing with smaller ones.
// This is first-fit over a ranking, not an optimal knapsack: a better
// packing may exist. The result never exceeds MaxCandidates items.
func (e *Engine) Select(catalogue []Candidate) SelectResult {
	var res SelectResult
	scored := make([]StructureScore, 0, len(catalogue))
	for _, c := range catalogue {
		if c.SizeBytes < 0 {
			res.Skipped = append(res.Skipped, Skipped{ID: c.ID, Reason: SkipInvalidSize})
			continue
		}
		s := e.score(c, e.history)
		if s.Composite < e.config.MinScore {
			res.Skipped = append(res.Skipped, Skipped{ID: c.ID, Reason: SkipBelowMinScore})
			continue
		}
		scored = append(scored, s)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Composite > scored[j].Composite
	})

	for _, s := range scored {
		if len(res.Selected) >= e.config.MaxCandidates {
			res.Skipped = append(res.Skipped, Skipped{ID: s.ID, Reason: SkipOverCap})
			res.Truncated = true
			continue
		}
		// Compared against the remaining budget so huge sizes cannot overflow.
		if s.SizeBytes > e.config.MaxBudgetBytes-res.TotalBytes {
			res.Skipped = append(res.Skipped, Skipped{ID: s.ID, Reason: SkipOverBudget})
			res.Truncated = true
			continue
		}
		res.Selected = append(res.Selected, s)
		res.TotalBytes += s.SizeBytes
	}
	return res
}
