// Package dedupe tracks ids that were already processed, such as finished
// game ids, so repeated reports are applied at most once.
package dedupe

import (
	"context"
	"sync"
)

const defaultMaxSize = 50000

// Deduper records seen ids to ensure at-most-once processing.
type Deduper[K comparable] interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// It returns true if id was already seen.
	SeenAndRecord(ctx context.Context, id K) bool

	// Unrecord forgets id so a failed attempt can be retried.
	Unrecord(ctx context.Context, id K)

	Size() int64
}

// inMemoryDeduper keeps ids in a map and, when bounded, a ring of insertion
// order used for eviction.
type inMemoryDeduper[K comparable] struct {
	mu      sync.Mutex
	seen    map[K]int // id -> ring slot, -1 when unbounded
	ring    []K
	used    []bool
	next    int
	maxSize int
}

// NewInMemoryDeduper creates a deduper with configuration options.
func NewInMemoryDeduper[K comparable](opts ...Option) Deduper[K] {
	s := settings{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(&s)
	}
	d := &inMemoryDeduper[K]{
		seen:    make(map[K]int),
		maxSize: s.maxSize,
	}
	if d.maxSize > 0 {
		d.ring = make([]K, d.maxSize)
		d.used = make([]bool, d.maxSize)
	}
	return d
}

func (d *inMemoryDeduper[K]) SeenAndRecord(_ context.Context, id K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[id]; exists {
		return true
	}
	if d.maxSize <= 0 {
		d.seen[id] = -1
		return false
	}

	// The slot about to be reused holds the oldest live id, if any.
	if d.used[d.next] {
		delete(d.seen, d.ring[d.next])
	}
	d.ring[d.next] = id
	d.used[d.next] = true
	d.seen[id] = d.next
	d.next = (d.next + 1) % d.maxSize
	return false
}

func (d *inMemoryDeduper[K]) Unrecord(_ context.Context, id K) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot, exists := d.seen[id]
	if !exists {
		return
	}
	delete(d.seen, id)
	if slot >= 0 {
		var zero K
		d.ring[slot] = zero
		d.used[slot] = false
	}
}

func (d *inMemoryDeduper[K]) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
