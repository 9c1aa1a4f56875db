// Package dispatch implements the telemetry dispatch pipeline: four bounded
// queues (default, properties, settings, events), one batching drain loop
// per queue, and the router that feeds normalized notification records into
// them.
package dispatch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/opcbridge/opcbridge/internal/publisher"
)

// overflowLogInterval rate-limits queue-full logging under sustained
// backpressure.
const overflowLogInterval = 10000

// Queue is a bounded FIFO between notification callbacks and one drain
// loop. Producers never block: when the queue is full the message is
// dropped and counted.
type Queue struct {
	kind   publisher.QueueKind
	ch     chan *publisher.MessageData
	closed atomic.Bool

	dropped atomic.Uint64

	logger *slog.Logger
}

// NewQueue creates a queue with the given capacity.
func NewQueue(kind publisher.QueueKind, capacity int, logger *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = 8192
	}
	return &Queue{
		kind:   kind,
		ch:     make(chan *publisher.MessageData, capacity),
		logger: logger.With("component", "dispatch_queue", "queue", kind.String()),
	}
}

// TryEnqueue adds a message without blocking. Returns false when the queue
// is full or complete-for-adding; drops are counted and logged only every
// overflowLogInterval-th occurrence.
func (q *Queue) TryEnqueue(msg *publisher.MessageData) bool {
	if q.closed.Load() {
		q.dropped.Add(1)
		return false
	}
	select {
	case q.ch <- msg:
		return true
	default:
		n := q.dropped.Add(1)
		if n%overflowLogInterval == 1 {
			q.logger.Warn("queue full, dropping messages", "dropped_total", n)
		}
		return false
	}
}

// TryDequeue removes a message without waiting.
func (q *Queue) TryDequeue() (*publisher.MessageData, bool) {
	select {
	case msg := <-q.ch:
		return msg, true
	default:
		return nil, false
	}
}

// DequeueTimeout removes a message, waiting up to d. A non-positive d
// degrades to a non-waiting attempt.
func (q *Queue) DequeueTimeout(ctx context.Context, d time.Duration) (*publisher.MessageData, bool) {
	if d <= 0 {
		return q.TryDequeue()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case msg := <-q.ch:
		return msg, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// DequeueWait removes a message, waiting until one arrives or the context
// is cancelled.
func (q *Queue) DequeueWait(ctx context.Context) (*publisher.MessageData, bool) {
	select {
	case msg := <-q.ch:
		return msg, true
	case <-ctx.Done():
		return nil, false
	}
}

// CompleteAdding permanently rejects further enqueues. Called by the drain
// loop on shutdown before its final drain.
func (q *Queue) CompleteAdding() {
	q.closed.Store(true)
}

// Len reports the number of queued messages.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Dropped reports the total messages dropped on enqueue.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
