package quality

import (
	"context"
	stderr "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/labviz/molcache/internal/profiler"
	"github.com/labviz/molcache/internal/tuning"
	"github.com/labviz/molcache/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const frameStep = 20 * time.Millisecond

func newTestController(t *testing.T, mutate func(*tuning.Quality), opts ...Option) (*Controller, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	config := tuning.DefaultQuality()
	if mutate != nil {
		mutate(&config)
	}
	c, err := NewController(config, append([]Option{WithClock(clock.Now)}, opts...)...)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, clock
}

// feed observes fps n times, advancing the clock one frame step before
// each sample, and returns the index (1-based) of every transition.
func feed(c *Controller, clock *fakeClock, fps float64, n int) []int {
	var at []int
	for i := 1; i <= n; i++ {
		clock.Advance(frameStep)
		if d := c.Observe(fps); d.Transitioned {
			at = append(at, i)
		}
	}
	return at
}

type failingProbe struct{}

func (failingProbe) Probe(context.Context) (Capability, error) {
	return Capability{}, fmt.Errorf("no GL context")
}

func TestNewController_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*tuning.Quality)
	}{
		{"empty window", func(c *tuning.Quality) { c.Window = 0 }},
		{"min samples above window", func(c *tuning.Quality) { c.MinSamples = 61 }},
		{"inverted thresholds", func(c *tuning.Quality) { c.DowngradeBelow = 60 }},
		{"negative dwell", func(c *tuning.Quality) { c.UpgradeDwell = -time.Second }},
		{"unknown level", func(c *tuning.Quality) { c.InitialLevel = "ultra" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			config := tuning.DefaultQuality()
			tt.mutate(&config)
			if _, err := NewController(config); !stderr.Is(err, errors.ErrInvalidConfig) {
				t.Errorf("NewController() error = %v, want INVALID_CONFIG", err)
			}
		})
	}
}

func TestNewController_InitialLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*tuning.Quality)
		opts   []Option
		want   Level
	}{
		{"default is medium", nil, nil, LevelMedium},
		{"configured", func(c *tuning.Quality) { c.InitialLevel = "high" }, nil, LevelHigh},
		{"probe wins", nil, []Option{WithProbe(RendererProbe{Renderer: "Google SwiftShader"})}, LevelLow},
		{"probe failure falls back", func(c *tuning.Quality) { c.InitialLevel = "low" },
			[]Option{WithProbe(failingProbe{})}, LevelMedium},
		{"static probe", nil, []Option{WithProbe(StaticProbe(LevelHigh))}, LevelHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, _ := newTestController(t, tt.mutate, tt.opts...)
			if c.Level() != tt.want {
				t.Errorf("Level() = %v, want %v", c.Level(), tt.want)
			}
		})
	}
}

func TestController_InsufficientSamples(t *testing.T) {
	t.Parallel()

	c, clock := newTestController(t, nil)
	for i := 0; i < 29; i++ {
		clock.Advance(time.Second)
		d := c.Observe(5)
		if d.Transitioned || d.Reason != ReasonInsufficientSamples {
			t.Fatalf("sample %d: %+v", i, d)
		}
	}
	if d := c.Observe(5); d.Reason != ReasonDowngrade {
		t.Errorf("30th sample reason = %q, want downgrade", d.Reason)
	}
}

func TestController_DowngradeWithoutDwellByDefault(t *testing.T) {
	t.Parallel()

	c, clock := newTestController(t, nil)
	at := feed(c, clock, 20, 100)

	// Downgrades need only a full evidence window.
	if len(at) != 1 || at[0] != 30 {
		t.Fatalf("transitions at %v, want [30]", at)
	}
	if c.Level() != LevelLow {
		t.Errorf("Level() = %v, want low", c.Level())
	}
}

func TestController_DowngradeWaitsForDwell(t *testing.T) {
	t.Parallel()

	c, clock := newTestController(t, func(q *tuning.Quality) { q.DowngradeDwell = time.Second })
	at := feed(c, clock, 20, 100)

	// 50 steps of 20ms reach the one second downgrade dwell.
	if len(at) != 1 || at[0] != 50 {
		t.Fatalf("transitions at %v, want [50]", at)
	}
	if c.Level() != LevelLow {
		t.Errorf("Level() = %v, want low", c.Level())
	}
}

func TestController_UpgradeWaitsForDwell(t *testing.T) {
	t.Parallel()

	c, clock := newTestController(t, nil)
	at := feed(c, clock, 60, 200)

	if len(at) != 1 || at[0] != 150 {
		t.Fatalf("transitions at %v, want [150]", at)
	}
	if c.Level() != LevelHigh {
		t.Errorf("Level() = %v, want high", c.Level())
	}
}

func TestController_WindowClearedAfterTransition(t *testing.T) {
	t.Parallel()

	c, clock := newTestController(t, func(q *tuning.Quality) { q.DowngradeDwell = 0 })
	feed(c, clock, 10, 30)
	if c.Level() != LevelLow {
		t.Fatalf("Level() = %v, want low", c.Level())
	}

	clock.Advance(frameStep)
	d := c.Observe(10)
	if d.Reason != ReasonInsufficientSamples || d.Samples != 1 {
		t.Errorf("first sample after transition = %+v", d)
	}
}

func TestController_StaysWithinBounds(t *testing.T) {
	t.Parallel()

	low, clock := newTestController(t, func(q *tuning.Quality) { q.InitialLevel = "low" })
	if at := feed(low, clock, 5, 300); len(at) != 0 {
		t.Errorf("downgraded below low at %v", at)
	}

	high, clock := newTestController(t, func(q *tuning.Quality) { q.InitialLevel = "high" })
	if at := feed(high, clock, 120, 300); len(at) != 0 {
		t.Errorf("upgraded above high at %v", at)
	}
	clock.Advance(frameStep)
	if d := high.Observe(120); d.Reason != ReasonSteady {
		t.Errorf("reason = %q, want steady", d.Reason)
	}
}

func TestController_OscillationDoesNotFlap(t *testing.T) {
	t.Parallel()

	c, clock := newTestController(t, nil)
	for i := 0; i < 1000; i++ {
		clock.Advance(frameStep)
		fps := 29.0
		if i%2 == 1 {
			fps = 56
		}
		if d := c.Observe(fps); d.Transitioned {
			t.Fatalf("sample %d transitioned %v -> %v", i, d.From, d.To)
		}
	}
}

func TestController_AtMostOneTransitionPerDwell(t *testing.T) {
	t.Parallel()

	c, clock := newTestController(t, func(q *tuning.Quality) { q.DowngradeDwell = time.Second })
	var last time.Time
	transitions := 0
	for i := 0; i < 3000; i++ {
		clock.Advance(frameStep)
		fps := 20.0
		if (i/100)%2 == 1 {
			fps = 70
		}
		if d := c.Observe(fps); d.Transitioned {
			now := clock.Now()
			if !last.IsZero() && now.Sub(last) < time.Second {
				t.Fatalf("transitions %v apart", now.Sub(last))
			}
			last = now
			transitions++
		}
	}
	if transitions == 0 {
		t.Error("expected the square wave to move the level at least once")
	}
}

func TestController_EventsQueueUntilReceived(t *testing.T) {
	t.Parallel()

	c, clock := newTestController(t, func(q *tuning.Quality) {
		q.InitialLevel = "high"
		q.DowngradeDwell = 0
	})
	feed(c, clock, 10, 30)
	feed(c, clock, 10, 30)
	if c.Level() != LevelLow {
		t.Fatalf("Level() = %v, want low", c.Level())
	}

	want := []Change{{From: LevelHigh, To: LevelMedium}, {From: LevelMedium, To: LevelLow}}
	for i, w := range want {
		select {
		case got := <-c.Events():
			if got.From != w.From || got.To != w.To {
				t.Errorf("event %d = %v->%v, want %v->%v", i, got.From, got.To, w.From, w.To)
			}
			if got.ObservedThroughput != 10 {
				t.Errorf("event %d throughput = %v, want 10", i, got.ObservedThroughput)
			}
			if got.Settings != c.SettingsFor(w.To) {
				t.Errorf("event %d settings = %+v", i, got.Settings)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestController_RequeuedChangeComesFirst(t *testing.T) {
	t.Parallel()

	c, clock := newTestController(t, func(q *tuning.Quality) {
		q.InitialLevel = "high"
		q.DowngradeDwell = 0
	})
	feed(c, clock, 10, 30)
	feed(c, clock, 10, 30)

	receive := func() Change {
		t.Helper()
		select {
		case got := <-c.Events():
			return got
		case <-time.After(time.Second):
			t.Fatal("no event delivered")
		}
		return Change{}
	}

	first := receive()
	if first.To != LevelMedium {
		t.Fatalf("first event to = %v, want medium", first.To)
	}
	c.Requeue(first)

	for i, want := range []Level{LevelMedium, LevelLow} {
		if got := receive(); got.To != want {
			t.Errorf("event %d to = %v, want %v", i, got.To, want)
		}
	}
}

func TestController_CloseClosesEvents(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t, nil)
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case _, ok := <-c.Events():
		if ok {
			t.Error("received an event after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("Events() not closed")
	}
	_ = c.Close()
}

func TestController_ObserveProfile(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t, nil)
	d := c.ObserveProfile(profiler.PerformanceProfile{FrameTimeMs: 50})
	if d.AvgThroughput != 20 {
		t.Errorf("AvgThroughput = %v, want 20", d.AvgThroughput)
	}
	if d := c.ObserveProfile(profiler.PerformanceProfile{}); d.Reason != ReasonIgnored {
		t.Errorf("zero frame time reason = %q, want ignored", d.Reason)
	}
}

func TestController_SettingsFollowLevel(t *testing.T) {
	t.Parallel()

	c, clock := newTestController(t, func(q *tuning.Quality) { q.DowngradeDwell = 0 })
	if s := c.Settings(); s.Representation != "cartoon" || !s.Shadows || s.AmbientOcclusion {
		t.Errorf("medium settings = %+v", s)
	}
	feed(c, clock, 10, 30)
	if s := c.Settings(); s.Representation != "backbone" || s.Shadows || s.AmbientOcclusion {
		t.Errorf("low settings = %+v", s)
	}

	custom, _ := newTestController(t, nil, WithSettings(map[Level]Settings{
		LevelMedium: {Representation: "surface"},
	}))
	if got := custom.Settings().Representation; got != "surface" {
		t.Errorf("custom medium representation = %q", got)
	}
	if got := custom.SettingsFor(LevelHigh).Representation; got != "ball-and-stick" {
		t.Errorf("high representation = %q, want default", got)
	}
}

func TestController_State(t *testing.T) {
	t.Parallel()

	c, clock := newTestController(t, nil)
	feed(c, clock, 40, 10)
	s := c.State()
	if s.Level != LevelMedium || s.Samples != 10 || s.AvgThroughput != 40 {
		t.Errorf("State() = %+v", s)
	}
}
