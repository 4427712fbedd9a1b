package profiler

import (
	"runtime"
	"sync"
	"time"
)

// MemorySampler supplies a memory figure for callers that do not track
// their own.
type MemorySampler interface {
	MemoryBytes() int64
}

// RuntimeSampler reports the Go heap in use. runtime.ReadMemStats stops the
// world, so a reading is reused for MinInterval.
type RuntimeSampler struct {
	MinInterval time.Duration

	mu   sync.Mutex
	last time.Time
	heap int64
}

// NewRuntimeSampler returns a sampler that refreshes at most once per interval.
func NewRuntimeSampler(interval time.Duration) *RuntimeSampler {
	return &RuntimeSampler{MinInterval: interval}
}

// MemoryBytes returns HeapAlloc from the most recent reading.
func (s *RuntimeSampler) MemoryBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.last.IsZero() || now.Sub(s.last) >= s.MinInterval {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		s.heap = int64(ms.HeapAlloc)
		s.last = now
	}
	return s.heap
}
