// Package pool provides bounded object and slice pooling to keep allocation
// churn flat under sustained event load.
package pool

import (
	"sync"
)

// Stats is a point-in-time view of pool occupancy.
type Stats struct {
	Free     int `json:"free"`
	InUse    int `json:"in_use"`
	Capacity int `json:"capacity"`
}

// ObjectPool hands out reusable instances from a bounded free list. Release
// resets the instance and returns it to the free list; once the free list is
// at capacity, or when the instance was never acquired here, Release is a
// no-op.
type ObjectPool[T any] struct {
	mu      sync.Mutex
	free    []*T
	inUse   map[*T]struct{}
	maxSize int
	newFn   func() *T
	resetFn func(*T)
}

func NewObjectPool[T any](maxSize int, newFn func() *T, resetFn func(*T)) *ObjectPool[T] {
	if maxSize <= 0 {
		maxSize = 64
	}
	if newFn == nil {
		newFn = func() *T { return new(T) }
	}
	return &ObjectPool[T]{
		inUse:   make(map[*T]struct{}),
		maxSize: maxSize,
		newFn:   newFn,
		resetFn: resetFn,
	}
}

func (p *ObjectPool[T]) Acquire() *T {
	p.mu.Lock()
	defer p.mu.Unlock()
	var obj *T
	if n := len(p.free); n > 0 {
		obj = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		obj = p.newFn()
	}
	p.inUse[obj] = struct{}{}
	return obj
}

func (p *ObjectPool[T]) Release(obj *T) {
	if obj == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, tracked := p.inUse[obj]; !tracked {
		return
	}
	delete(p.inUse, obj)
	if len(p.free) >= p.maxSize {
		return
	}
	if p.resetFn != nil {
		p.resetFn(obj)
	}
	p.free = append(p.free, obj)
}

func (p *ObjectPool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Free: len(p.free), InUse: len(p.inUse), Capacity: p.maxSize}
}

// SlicePool recycles slices keyed by capacity. Acquire returns a
// previously-released slice of the requested capacity truncated to length
// zero, or a freshly allocated one.
type SlicePool[T any] struct {
	mu      sync.Mutex
	bySize  map[int][][]T
	maxSize int
	held    int
	out     int
}

func NewSlicePool[T any](maxSize int) *SlicePool[T] {
	if maxSize <= 0 {
		maxSize = 64
	}
	return &SlicePool[T]{bySize: make(map[int][][]T), maxSize: maxSize}
}

func (p *SlicePool[T]) Acquire(size int) []T {
	if size <= 0 {
		size = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out++
	if list := p.bySize[size]; len(list) > 0 {
		s := list[len(list)-1]
		p.bySize[size] = list[:len(list)-1]
		p.held--
		return s[:0]
	}
	return make([]T, 0, size)
}

func (p *SlicePool[T]) Release(s []T) {
	c := cap(s)
	if c == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out > 0 {
		p.out--
	}
	if p.held >= p.maxSize {
		return
	}
	p.bySize[c] = append(p.bySize[c], s[:0])
	p.held++
}

func (p *SlicePool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Free: p.held, InUse: p.out, Capacity: p.maxSize}
}
