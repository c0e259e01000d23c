package telemetry

import "sync"

// Ring is a fixed-capacity FIFO buffer that evicts the oldest entry
// once full.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int // next write position
	size  int
}

// NewRing creates a ring holding at most capacity entries.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends an entry, evicting the oldest when the ring is full.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	if r.size < len(r.items) {
		r.size++
	}
}

// Items returns the entries oldest first. The result is always
// non-nil so callers can serialize it directly.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, r.size)
	if r.size < len(r.items) {
		copy(out, r.items[:r.size])
		return out
	}
	// Full ring: the oldest entry sits at the write position.
	copy(out, r.items[r.head:])
	copy(out[len(r.items)-r.head:], r.items[:r.head])
	return out
}

// Len returns how many entries the ring currently holds.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}
