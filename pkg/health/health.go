// Package health tracks the health of cache tiers and the origin from the
// outcome of the calls the orchestrator makes against them.
package health

import (
	"sort"
	"sync"
	"time"
)

// State represents the health state of a component
type State int

const (
	StateHealthy State = iota
	StateDegraded
	StateUnavailable
)

// String returns the string representation of a health state
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ComponentHealth is a point-in-time view of one component.
type ComponentHealth struct {
	Name              string    `json:"name"`
	State             State     `json:"state"`
	LastStateChange   time.Time `json:"last_state_change"`
	LastCheck         time.Time `json:"last_check"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	TotalErrors       int64     `json:"total_errors"`
	LastErrorMessage  string    `json:"last_error_message,omitempty"`
}

// Config configures health tracking behavior
type Config struct {
	// ErrorThreshold consecutive errors mark a component degraded.
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`
	// UnavailableThreshold consecutive errors mark it unavailable.
	UnavailableThreshold int `yaml:"unavailable_threshold" json:"unavailable_threshold"`
}

// DefaultConfig returns a default tracker configuration
func DefaultConfig() Config {
	return Config{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
	}
}

// StateChangeFunc is called, outside the tracker lock, when a component changes state.
type StateChangeFunc func(component string, from, to State, err error)

// Tracker tracks the health of multiple components
type Tracker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	config     Config
	onChange   StateChangeFunc
	now        func() time.Time
}

// NewTracker creates a new health tracker
func NewTracker(config Config, onChange StateChangeFunc) *Tracker {
	def := DefaultConfig()
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = def.ErrorThreshold
	}
	if config.UnavailableThreshold < config.ErrorThreshold {
		config.UnavailableThreshold = config.ErrorThreshold
	}
	return &Tracker{
		components: make(map[string]*ComponentHealth),
		config:     config,
		onChange:   onChange,
		now:        time.Now,
	}
}

// Register adds a component in the healthy state. Registering twice is a no-op.
func (t *Tracker) Register(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.components[name]; !ok {
		now := t.now()
		t.components[name] = &ComponentHealth{Name: name, LastStateChange: now, LastCheck: now}
	}
}

// RecordSuccess records a successful call. Each success pays back one
// consecutive error; the component is healthy again once none remain.
func (t *Tracker) RecordSuccess(component string) {
	t.record(component, nil)
}

// RecordError records a failed call.
func (t *Tracker) RecordError(component string, err error) {
	if err == nil {
		return
	}
	t.record(component, err)
}

func (t *Tracker) record(component string, err error) {
	t.mu.Lock()
	h, ok := t.components[component]
	if !ok {
		t.mu.Unlock()
		return
	}

	now := t.now()
	h.LastCheck = now
	from := h.State

	if err == nil {
		if h.ConsecutiveErrors > 0 {
			h.ConsecutiveErrors--
		}
		if h.ConsecutiveErrors == 0 {
			h.State = StateHealthy
		}
	} else {
		h.ConsecutiveErrors++
		h.TotalErrors++
		h.LastErrorMessage = err.Error()
		switch {
		case h.ConsecutiveErrors >= t.config.UnavailableThreshold:
			h.State = StateUnavailable
		case h.ConsecutiveErrors >= t.config.ErrorThreshold && h.State == StateHealthy:
			h.State = StateDegraded
		}
	}

	to := h.State
	if from != to {
		h.LastStateChange = now
	}
	t.mu.Unlock()

	if from != to && t.onChange != nil {
		t.onChange(component, from, to, err)
	}
}

// Component returns a copy of one component's health.
func (t *Tracker) Component(name string) (ComponentHealth, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.components[name]
	if !ok {
		return ComponentHealth{}, false
	}
	return *h, true
}

// Summary is the overall view served by the health endpoint.
type Summary struct {
	State      State             `json:"state"`
	Components []ComponentHealth `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// Summary returns all components sorted by name. The overall state is the
// worst component state.
func (t *Tracker) Summary() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Summary{State: StateHealthy, CheckedAt: t.now()}
	for _, h := range t.components {
		s.Components = append(s.Components, *h)
		if h.State > s.State {
			s.State = h.State
		}
	}
	sort.Slice(s.Components, func(i, j int) bool {
		return s.Components[i].Name < s.Components[j].Name
	})
	return s
}
