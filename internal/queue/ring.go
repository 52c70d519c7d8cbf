package queue

import "sync"

// Ring is a thread-safe bounded buffer that overwrites its oldest item once full.
type Ring[T any] struct {
	mu    sync.Mutex
	items []T
	start int
	count int
}

// NewRing creates a ring holding at most capacity items. Capacity below one is
// raised to one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends items, evicting the oldest ones when the ring is full.
func (r *Ring[T]) Push(items ...T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		end := (r.start + r.count) % len(r.items)
		r.items[end] = item
		if r.count == len(r.items) {
			r.start = (r.start + 1) % len(r.items)
		} else {
			r.count++
		}
	}
}

// Len returns the number of items held.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the maximum number of items held.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Snapshot returns the held items, oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, r.count)
	for i := range r.count {
		out[i] = r.items[(r.start+i)%len(r.items)]
	}
	return out
}

// Clear removes all items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.start = 0
	r.count = 0
}
