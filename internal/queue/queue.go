// Package queue holds the buffers shared between sensor callback goroutines
// and the goroutine that consumes them: a FIFO drained in batches and a
// bounded ring of the most recent records.
package queue

import (
	"sync"
)

// Queue is a FIFO filled by any number of goroutines and emptied in one batch
// by a single consumer. A bounded queue refuses items past its limit and
// counts them as dropped.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	limit   int
	dropped uint64
}

// New creates an unbounded queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// NewBounded creates a queue holding at most limit items. A limit below one
// means unbounded.
func NewBounded[T any](limit int) *Queue[T] {
	return &Queue[T]{limit: max(limit, 0)}
}

// Push appends items in order and returns how many were accepted.
func (q *Queue[T]) Push(items ...T) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(items)
	if q.limit > 0 {
		n = min(n, q.limit-len(q.items))
		q.dropped += uint64(len(items) - n)
	}
	q.items = append(q.items, items[:n]...)
	return n
}

// Requeue puts a batch taken by Drain back in front of anything pushed since,
// so a failed consumer retries in the original order. The limit does not apply.
func (q *Queue[T]) Requeue(items []T) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(items[:len(items):len(items)], q.items...)
}

// Drain returns every queued item, oldest first, and empties the queue.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the number of items refused since the queue was created.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear discards every queued item.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
