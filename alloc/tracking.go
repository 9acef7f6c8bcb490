package alloc

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"
)

// Stats is a snapshot of the accounting kept by Tracking.
type Stats struct {
	Allocations   int64 // Successful Allocate calls.
	Deallocations int64 // Deallocate calls for live storage.
	Failures      int64 // Allocate calls that returned nil.
	LiveBytes     int64 // Bytes currently allocated.
	PeakBytes     int64 // High-water mark of LiveBytes.
}

// Live returns the number of allocations not yet released.
func (s Stats) Live() int64 {
	return s.Allocations - s.Deallocations
}

type allocation struct {
	t reflect.Type
	n int
}

// Tracking wraps an allocator and records every live allocation.
//
// Releasing storage that is not live (double free, or a pointer that never
// came from this allocator) panics, so tests built on Tracking observe
// "reclaimed exactly once" directly.
//
// Thread Safety: Safe for concurrent use.
type Tracking struct {
	parent Allocator

	mu     sync.Mutex
	live   map[unsafe.Pointer]allocation
	stats  Stats
	byType map[reflect.Type]int64
	onFree func(t reflect.Type)
}

// NewTracking creates a Tracking allocator over parent (Default when nil).
func NewTracking(parent Allocator) *Tracking {
	if parent == nil {
		parent = Default
	}
	return &Tracking{
		parent: parent,
		live:   make(map[unsafe.Pointer]allocation),
		byType: make(map[reflect.Type]int64),
	}
}

// OnFree installs a hook called after storage of type t is released.
func (a *Tracking) OnFree(fn func(t reflect.Type)) {
	a.mu.Lock()
	a.onFree = fn
	a.mu.Unlock()
}

// Allocate implements Allocator.
func (a *Tracking) Allocate(t reflect.Type, n int) unsafe.Pointer {
	p := a.parent.Allocate(t, n)

	a.mu.Lock()
	defer a.mu.Unlock()

	if p == nil {
		a.stats.Failures++
		return nil
	}
	a.live[p] = allocation{t: t, n: n}
	a.byType[t]++
	a.stats.Allocations++
	a.stats.LiveBytes += int64(SizeOf(t, n))
	if a.stats.LiveBytes > a.stats.PeakBytes {
		a.stats.PeakBytes = a.stats.LiveBytes
	}
	return p
}

// Deallocate implements Allocator.
func (a *Tracking) Deallocate(p unsafe.Pointer, t reflect.Type, n int) {
	if p == nil {
		return
	}

	a.mu.Lock()
	rec, ok := a.live[p]
	if !ok {
		a.mu.Unlock()
		panic(fmt.Sprintf("alloc: deallocate of %v at %p that is not live", t, p))
	}
	if rec.t != t || rec.n != n {
		a.mu.Unlock()
		panic(fmt.Sprintf("alloc: deallocate of %p as %dx%v, allocated as %dx%v", p, n, t, rec.n, rec.t))
	}
	delete(a.live, p)
	a.byType[t]--
	a.stats.Deallocations++
	a.stats.LiveBytes -= int64(SizeOf(t, n))
	hook := a.onFree
	a.mu.Unlock()

	a.parent.Deallocate(p, t, n)
	if hook != nil {
		hook(t)
	}
}

// Stats returns a snapshot of the counters.
func (a *Tracking) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// LiveOf returns the number of live allocations of type t.
func (a *Tracking) LiveOf(t reflect.Type) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.byType[t]
}

// Limited wraps an allocator with a byte budget. Allocations that would
// exceed the budget fail with a nil pointer.
//
// Thread Safety: Safe for concurrent use.
type Limited struct {
	parent Allocator

	mu    sync.Mutex
	limit uintptr
	used  uintptr
}

// NewLimited creates a Limited allocator over parent (Default when nil).
func NewLimited(parent Allocator, limit uintptr) *Limited {
	if parent == nil {
		parent = Default
	}
	return &Limited{parent: parent, limit: limit}
}

// Allocate implements Allocator.
func (a *Limited) Allocate(t reflect.Type, n int) unsafe.Pointer {
	size := SizeOf(t, n)

	a.mu.Lock()
	if a.used+size > a.limit {
		a.mu.Unlock()
		return nil
	}
	a.used += size
	a.mu.Unlock()

	p := a.parent.Allocate(t, n)
	if p == nil {
		a.mu.Lock()
		a.used -= size
		a.mu.Unlock()
	}
	return p
}

// Deallocate implements Allocator.
func (a *Limited) Deallocate(p unsafe.Pointer, t reflect.Type, n int) {
	if p == nil {
		return
	}
	a.parent.Deallocate(p, t, n)

	a.mu.Lock()
	a.used -= SizeOf(t, n)
	a.mu.Unlock()
}

// Used returns the bytes currently charged against the budget.
func (a *Limited) Used() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

// Remaining returns the bytes still available.
func (a *Limited) Remaining() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limit - a.used
}
