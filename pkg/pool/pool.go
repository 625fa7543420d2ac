// Package pool provides type-safe object pooling with usage statistics.
//
//	batches := pool.New(
//	    func() *[]interface{} { s := make([]interface{}, 0, 1000); return &s },
//	    func(s *[]interface{}) { clear(*s); *s = (*s)[:0] },
//	)
//	b := batches.Get()
//	defer batches.Put(b)
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool wraps sync.Pool with a typed API, a reset hook and counters. It is
// safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated atomic.Int64
		inUse     atomic.Int64
		gets      atomic.Int64
	}
}

// New creates a pool. newFn builds an object when the pool is empty; reset,
// if not nil, clears an object as it is returned.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		p.stats.allocated.Add(1)
		return newFn()
	}
	return p
}

// Get takes an object from the pool, allocating one if needed.
func (p *Pool[T]) Get() T {
	p.stats.gets.Add(1)
	p.stats.inUse.Add(1)
	return p.pool.Get().(T)
}

// Put resets obj and returns it to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	p.stats.inUse.Add(-1)
	p.pool.Put(obj)
}

// Stats reports objects allocated, currently checked out, and Get calls
// served from the pool rather than by allocation.
func (p *Pool[T]) Stats() (allocated, inUse, hits int64) {
	allocated = p.stats.allocated.Load()
	gets := p.stats.gets.Load()
	hits = gets - allocated
	if hits < 0 {
		hits = 0
	}
	return allocated, p.stats.inUse.Load(), hits
}

// SlicePool pools slices by pointer so Put does not allocate.
type SlicePool[E any] struct {
	*Pool[*[]E]
}

// NewSlicePool creates a pool of slices with capacity hint capacity. Slices
// are cleared on Put so pooled elements can be collected.
func NewSlicePool[E any](capacity int) *SlicePool[E] {
	return &SlicePool[E]{New(
		func() *[]E {
			s := make([]E, 0, capacity)
			return &s
		},
		func(s *[]E) {
			clear(*s)
			*s = (*s)[:0]
		},
	)}
}
