package orchestrator

import (
	"sync"
	"time"
)

// rollingCounter counts hits and misses over the last n buckets of width
// each, so the hit rate reflects recent traffic only.
type rollingCounter struct {
	mu      sync.Mutex
	width   time.Duration
	buckets []counterBucket
	now     func() time.Time
}

type counterBucket struct {
	epoch  int64
	hits   uint64
	misses uint64
}

func newRollingCounter(window time.Duration, n int, now func() time.Time) *rollingCounter {
	if n < 1 {
		n = 1
	}
	width := window / time.Duration(n)
	if width <= 0 {
		width = time.Second
	}
	return &rollingCounter{width: width, buckets: make([]counterBucket, n), now: now}
}

func (r *rollingCounter) record(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	epoch := r.now().UnixNano() / int64(r.width)
	b := &r.buckets[epoch%int64(len(r.buckets))]
	if b.epoch != epoch {
		*b = counterBucket{epoch: epoch}
	}
	if hit {
		b.hits++
	} else {
		b.misses++
	}
}

// totals sums the buckets still inside the window.
func (r *rollingCounter) totals() (hits, misses uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.now().UnixNano() / int64(r.width)
	oldest := current - int64(len(r.buckets)) + 1
	for _, b := range r.buckets {
		if b.epoch >= oldest && b.epoch <= current {
			hits += b.hits
			misses += b.misses
		}
	}
	return hits, misses
}

func hitRate(hits, misses uint64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}
