// Package dispatch hands work from background goroutines to the single
// consumer goroutine that owns rig and animation state.
//
// Producers call Push/Enqueue from any goroutine. The consumer calls
// Drain/DrainAll once per tick. The lock is held only long enough to swap the
// pending slice out, so a slow consumer never blocks the receive loop.
package dispatch

import "sync"

// Queue is an unbounded FIFO safe for concurrent Push and Drain.
type Queue[T any] struct {
	mu      sync.Mutex
	pending []T
	spare   []T
}

// NewQueue returns an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends v to the queue.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.pending = append(q.pending, v)
	q.mu.Unlock()
}

// Len returns the number of items waiting to be drained.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain hands every queued item to fn in FIFO order and returns how many were
// handled. Items pushed while fn runs are left for the next Drain.
func (q *Queue[T]) Drain(fn func(T)) int {
	q.mu.Lock()
	batch := q.pending
	q.pending = q.spare[:0]
	q.spare = nil
	q.mu.Unlock()

	for i := range batch {
		fn(batch[i])
	}

	// Zero the batch so it doesn't pin payloads, then keep it for reuse.
	var zero T
	for i := range batch {
		batch[i] = zero
	}
	q.mu.Lock()
	if q.spare == nil {
		q.spare = batch[:0]
	}
	q.mu.Unlock()

	return len(batch)
}
