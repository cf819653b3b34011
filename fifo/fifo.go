// Package fifo provides the shared pool of pending seeds.
//
// The queue is filled once, up front, and then drained concurrently by the
// post-processing goroutines of every device. Count is the only progress
// signal the rest of the program uses.
package fifo

import (
	"sync"
	"sync/atomic"
)

// Queue is a fixed, pre-populated FIFO safe for concurrent Pop calls.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	next  int

	// count mirrors next so progress readers never take the lock.
	count atomic.Int64
	total int64
}

// New creates a queue holding every item in order. The slice is owned by the
// queue afterwards.
func New[T any](items []T) *Queue[T] {
	return &Queue[T]{
		items: items,
		total: int64(len(items)),
	}
}

// Pop removes and returns the oldest item. It reports false once the queue is
// exhausted; that is steady-state depletion, not an error.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	q.mu.Lock()
	if q.next >= len(q.items) {
		q.mu.Unlock()
		return zero, false
	}
	v := q.items[q.next]
	q.items[q.next] = zero // drop reference for GC
	q.next++
	q.count.Store(int64(q.next))
	q.mu.Unlock()
	return v, true
}

// Count returns the number of items removed so far. It never decreases.
func (q *Queue[T]) Count() int64 {
	return q.count.Load()
}

// Total returns the number of items the queue was created with.
func (q *Queue[T]) Total() int64 {
	return q.total
}

// Remaining returns the number of items not yet removed.
func (q *Queue[T]) Remaining() int64 {
	return q.total - q.count.Load()
}

// Empty reports whether every item has been removed.
func (q *Queue[T]) Empty() bool {
	return q.Remaining() == 0
}
