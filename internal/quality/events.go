package quality

import (
	"sync"
	"time"
)

// Change is emitted once per level transition.
type Change struct {
	From               Level     `json:"from"`
	To                 Level     `json:"to"`
	ObservedThroughput float64   `json:"observed_throughput"`
	At                 time.Time `json:"at"`
	Settings           Settings  `json:"settings"`
}

// eventQueue hands changes to a single listener in order. Pushing never
// blocks and nothing is discarded while the queue is open; changes wait
// until the listener receives them.
type eventQueue struct {
	mu      sync.Mutex
	pending []Change
	// requeued counts pushFront calls, so the pump can find the change it
	// sent even if others were put in front of it meanwhile.
	requeued uint64

	notify chan struct{}
	out    chan Change
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func newEventQueue(capacity int) *eventQueue {
	q := &eventQueue{
		pending: make([]Change, 0, capacity),
		notify:  make(chan struct{}, 1),
		out:     make(chan Change),
		done:    make(chan struct{}),
	}
	q.wg.Add(1)
	go q.pump()
	return q
}

func (q *eventQueue) push(c Change) {
	q.mu.Lock()
	q.pending = append(q.pending, c)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pushFront puts c back at the head of the queue.
func (q *eventQueue) pushFront(c Change) {
	q.mu.Lock()
	q.pending = append([]Change{c}, q.pending...)
	q.requeued++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *eventQueue) pump() {
	defer q.wg.Done()
	defer close(q.out)

	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			select {
			case <-q.notify:
				continue
			case <-q.done:
				return
			}
		}
		next := q.pending[0]
		requeued := q.requeued
		q.mu.Unlock()

		select {
		case q.out <- next:
			q.mu.Lock()
			i := int(q.requeued - requeued)
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.mu.Unlock()
		case <-q.notify:
			// The head may have changed; offer it again.
		case <-q.done:
			return
		}
	}
}

func (q *eventQueue) close() {
	q.once.Do(func() {
		close(q.done)
		q.wg.Wait()
	})
}
