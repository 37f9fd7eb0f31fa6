// Package pool provides the typed object pool and the size-bucketed buffer
// pool that back every hot-path allocation in the transport.
//
// Pools are explicit dependencies: callers construct them and pass them down.
// All operations are safe for concurrent use.
package pool

import "sync"

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Available     int
	TotalCreated  uint64
	TotalRented   uint64
	TotalReturned uint64
}

// Leaks returns the number of created objects currently outside the pool.
// A value that grows without bound under steady load means a Rent is missing
// its Return.
func (s Stats) Leaks() uint64 {
	return s.TotalCreated - uint64(s.Available)
}

// Pool is a typed object pool with leak accounting.
// Rent выдаёт объект из freelist либо аллоцирует новый; Return прогоняет
// reset-хук и кладёт объект обратно, пока не превышен максимум.
type Pool[T any] struct {
	mu            sync.Mutex
	free          []T
	max           int
	newFn         func() T
	resetFn       func(T)
	totalCreated  uint64
	totalRented   uint64
	totalReturned uint64
}

// New creates a pool pre-filled with initial elements and retaining at most
// max. newFn allocates a fresh element; resetFn clears one before it goes back
// on the freelist and may be nil.
func New[T any](initial, max int, newFn func() T, resetFn func(T)) *Pool[T] {
	if max < initial {
		max = initial
	}
	p := &Pool[T]{
		free:    make([]T, 0, max),
		max:     max,
		newFn:   newFn,
		resetFn: resetFn,
	}
	for range initial {
		p.free = append(p.free, newFn())
	}
	p.totalCreated = uint64(initial)
	return p
}

// Rent takes an element from the pool, allocating a fresh one when the pool
// is empty. Exhaustion is never an error.
func (p *Pool[T]) Rent() T {
	p.mu.Lock()
	p.totalRented++
	if n := len(p.free); n > 0 {
		v := p.free[n-1]
		var zero T
		p.free[n-1] = zero
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return v
	}
	p.totalCreated++
	p.mu.Unlock()
	return p.newFn()
}

// Return resets the element and places it back on the freelist. When the pool
// is already at capacity the element is dropped for the GC.
func (p *Pool[T]) Return(v T) {
	if p.resetFn != nil {
		p.resetFn(v)
	}
	p.mu.Lock()
	p.totalReturned++
	if len(p.free) < p.max {
		p.free = append(p.free, v)
	}
	p.mu.Unlock()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Available:     len(p.free),
		TotalCreated:  p.totalCreated,
		TotalRented:   p.totalRented,
		TotalReturned: p.totalReturned,
	}
}
