package telemetry

import (
	"log/slog"
	"sync"
)

// QueueMaxSize bounds the cross-process event queue. Enqueue never
// blocks: once full, new events are dropped and logged rather than
// applying backpressure to a worker's dispatch loop.
const QueueMaxSize = 1024

// Queue is a bounded, non-blocking many-writers-single-reader event
// channel. It is safe for concurrent Enqueue calls from many goroutines
// (standing in for the source's many OS worker processes sharing one
// parent-owned queue).
type Queue struct {
	ch       chan Event
	mu       sync.Mutex
	dropped  int
	closed   bool
}

// NewQueue constructs a Queue with the standard bound.
func NewQueue() *Queue {
	return &Queue{ch: make(chan Event, QueueMaxSize)}
}

// Enqueue attempts a non-blocking send. On a full queue the event is
// dropped and a warning logged; the caller is never blocked.
func (q *Queue) Enqueue(ev Event) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return
	}
	select {
	case q.ch <- ev:
	default:
		q.mu.Lock()
		q.dropped++
		n := q.dropped
		q.mu.Unlock()
		slog.Warn("telemetry queue full, dropping event", "kind", ev.Kind, "run_id", ev.RunID, "total_dropped", n)
	}
}

// Dropped returns the number of events dropped so far due to a full queue.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Events exposes the receive side for the background writer.
func (q *Queue) Events() <-chan Event {
	return q.ch
}

// Close signals no further events will be enqueued and closes the
// channel so a ranging writer drains what remains and then exits.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
