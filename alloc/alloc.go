// Package alloc defines the allocation protocol used by shared handles to place
// managed objects and their control blocks.
//
// The protocol is type-erased: an Allocator hands out storage for n values of
// a reflect.Type, so one allocator value can serve the managed element, the
// control block and any other type. Rebind produces the typed view used by
// callers that know the element type at compile time.
//
// Storage returned by an Allocator must be visible to the garbage collector
// with the correct pointer layout for the requested type. Heap satisfies this
// by allocating through reflect; wrappers (Tracking, Limited) add accounting
// and delegate the storage itself to a parent allocator.
//
// Failure is signalled by a nil pointer, never by a panic.
package alloc

import (
	"errors"
	"io"
	"reflect"
	"unsafe"
)

// ErrOutOfMemory is the error callers report when an Allocator returns nil.
var ErrOutOfMemory = errors.New("alloc: out of memory")

// Allocator acquires and releases storage for values of a given type.
//
// Allocate returns storage for n contiguous values of type t, zeroed, or nil
// when the storage cannot be obtained. Deallocate releases storage previously
// returned by Allocate with the same t and n; Deallocate(nil, ...) is a no-op.
type Allocator interface {
	Allocate(t reflect.Type, n int) unsafe.Pointer
	Deallocate(p unsafe.Pointer, t reflect.Type, n int)
}

// Default is the allocator used when a caller supplies none.
var Default Allocator = Heap{}

// Heap allocates from the Go heap.
//
// Deallocate zeroes the storage so references held by a released value do not
// keep other objects reachable; the memory itself is reclaimed by the GC.
type Heap struct{}

// Allocate implements Allocator.
func (Heap) Allocate(t reflect.Type, n int) unsafe.Pointer {
	if t == nil || n <= 0 {
		return nil
	}
	return reflect.New(storageType(t, n)).UnsafePointer()
}

// Deallocate implements Allocator.
func (Heap) Deallocate(p unsafe.Pointer, t reflect.Type, n int) {
	if p == nil || t == nil || n <= 0 {
		return
	}
	reflect.NewAt(storageType(t, n), p).Elem().SetZero()
}

// SizeOf returns the number of bytes n values of type t occupy.
func SizeOf(t reflect.Type, n int) uintptr {
	if t == nil || n <= 0 {
		return 0
	}
	return t.Size() * uintptr(n)
}

func storageType(t reflect.Type, n int) reflect.Type {
	if n == 1 {
		return t
	}
	return reflect.ArrayOf(n, t)
}

// Typed is an Allocator rebound to element type T.
type Typed[T any] struct {
	a Allocator
}

// Rebind returns the typed view of a for element type T.
// A nil allocator rebinds Default.
func Rebind[T any](a Allocator) Typed[T] {
	if a == nil {
		a = Default
	}
	return Typed[T]{a: a}
}

// Allocator returns the underlying type-erased allocator.
func (t Typed[T]) Allocator() Allocator {
	return t.a
}

// New allocates zeroed storage for one T. Returns nil on failure.
func (t Typed[T]) New() *T {
	return (*T)(t.a.Allocate(reflect.TypeOf((*T)(nil)).Elem(), 1))
}

// Free releases storage obtained from New.
func (t Typed[T]) Free(p *T) {
	if p == nil {
		return
	}
	t.a.Deallocate(unsafe.Pointer(p), reflect.TypeOf((*T)(nil)).Elem(), 1)
}

// Destroyer is implemented by values that release resources when destroyed
// in place.
type Destroyer interface {
	Destroy()
}

// Construct stores v into the storage at p and returns p.
func Construct[T any](p *T, v T) *T {
	*p = v
	return p
}

// ConstructFunc initializes the storage at p in place. On error the storage
// is left zeroed.
func ConstructFunc[T any](p *T, init func(*T) error) error {
	if init == nil {
		return nil
	}
	if err := init(p); err != nil {
		var zero T
		*p = zero
		return err
	}
	return nil
}

// Destroy destroys the value at p in place: it runs the value's release hook
// (Destroy, or Close for io.Closer values) and then zeroes the storage.
// Returns the error reported by Close, if any.
func Destroy[T any](p *T) error {
	if p == nil {
		return nil
	}
	var err error
	switch v := any(p).(type) {
	case Destroyer:
		v.Destroy()
	case io.Closer:
		err = v.Close()
	}
	var zero T
	*p = zero
	return err
}
