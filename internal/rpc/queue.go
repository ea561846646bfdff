package rpc

import (
	"context"
	"sync"
)

// Queue counts in-flight asynchronous calls and lets callers wait for it to
// drain.
type Queue struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

// NewQueue returns an empty, drained queue.
func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) add() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		q.idle = make(chan struct{})
	}
	q.n++
}

func (q *Queue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.n--
	if q.n == 0 {
		close(q.idle)
	}
}

// Pending returns the number of in-flight calls.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Wait returns once no calls are in flight.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if q.n == 0 {
		q.mu.Unlock()
		return nil
	}
	ch := q.idle
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
