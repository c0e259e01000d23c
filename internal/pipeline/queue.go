package pipeline

import (
	"context"
	"strconv"
	"sync"
	"time"

	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
)

// taskQueue is a bounded FIFO work queue. Enqueue never blocks: a full
// queue is backpressure reported to the caller, not absorbed here.
// Retries re-enter through EnqueueDelayed so backoff does not occupy a
// worker.
type taskQueue struct {
	ch chan *Task

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}
}

func newTaskQueue(capacity int) *taskQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &taskQueue{
		ch:     make(chan *Task, capacity),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Enqueue adds a task or reports that the queue is full. The full
// condition is retryable from the caller's side.
func (q *taskQueue) Enqueue(t *Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return vitrineerrors.New(vitrineerrors.ErrCodeStoreBusy, "task queue is shut down", nil)
	}
	q.mu.Unlock()

	select {
	case q.ch <- t:
		return nil
	default:
		return vitrineerrors.New(vitrineerrors.ErrCodeStoreBusy, "task queue is full", nil).
			WithDetail("capacity", strconv.Itoa(cap(q.ch))).
			WithSuggestion("wait for in-flight tasks to drain and resubmit")
	}
}

// EnqueueDelayed re-enqueues after the given delay. Used for retry
// backoff. If the queue shuts down before the timer fires, or is full
// when it does, the task is dropped; reconciliation picks the item up
// again later.
func (q *taskQueue) EnqueueDelayed(t *Task, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		select {
		case q.ch <- t:
		default:
		}
	})
	q.timers[timer] = struct{}{}
}

// Dequeue blocks for the next task. Returns false when ctx is done.
// The channel itself is never closed: pending delayed timers may still
// fire after shutdown, and sends to a closed channel panic.
func (q *taskQueue) Dequeue(ctx context.Context) (*Task, bool) {
	select {
	case t := <-q.ch:
		return t, true
	case <-ctx.Done():
		return nil, false
	}
}

// Len reports tasks currently buffered, excluding delayed ones whose
// timers have not fired.
func (q *taskQueue) Len() int {
	return len(q.ch)
}

// Close stops accepting tasks and cancels pending delayed requeues.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = nil
}
