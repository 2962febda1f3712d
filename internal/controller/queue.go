package controller

import (
	"context"
	"errors"
	"sync"

	"github.com/dokzlo13/keylightctl/internal/actions"
)

// ErrQueueClosed is returned by Pop once the queue is closed and drained
var ErrQueueClosed = errors.New("action queue closed")

// Queue is an unbounded FIFO of jobs with a single consumer.
// Push never blocks, so it is safe to call from input callbacks.
type Queue struct {
	mu     sync.Mutex
	items  []actions.Job
	closed bool

	// notify wakes the consumer; one pending signal is enough
	notify chan struct{}
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
	}
}

// Push appends a job. Returns false if the queue is closed.
func (q *Queue) Push(job actions.Job) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, job)
	q.mu.Unlock()

	q.wake()
	return true
}

// Pop blocks until a job is available, the queue is closed and empty, or ctx is done.
func (q *Queue) Pop(ctx context.Context) (actions.Job, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			job := q.items[0]
			q.items[0] = actions.Job{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return job, nil
		}
		if q.closed {
			q.mu.Unlock()
			return actions.Job{}, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return actions.Job{}, ctx.Err()
		}
	}
}

// Close rejects further pushes and returns the jobs that were still pending
func (q *Queue) Close() []actions.Job {
	q.mu.Lock()
	q.closed = true
	pending := q.items
	q.items = nil
	q.mu.Unlock()

	q.wake()
	return pending
}

// Len returns the number of pending jobs
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
