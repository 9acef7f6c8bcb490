package control

import (
	"go.uber.org/zap"

	"github.com/kolkov/sharedptr/alloc"
	"github.com/kolkov/sharedptr/internal/logging"
	"github.com/kolkov/sharedptr/internal/rc/counter"
)

// Deleter releases an element handed to a PtrBlock.
type Deleter[T any] func(*T)

// DestroyDeleter returns the deleter used when the caller supplies none: it
// destroys the element in place (Destroy/Close hook, then zero). Close
// errors are logged at warn level.
func DestroyDeleter[T any]() Deleter[T] {
	return func(p *T) {
		if err := alloc.Destroy(p); err != nil {
			logging.L().Warn("element close failed",
				zap.String("type", typeName[T]()), zap.Error(err))
		}
	}
}

// PtrBlock manages an element allocated outside the block.
//
// Layout:
//   - Header: counts, leak id, type name
//   - elem: the caller's pointer
//   - del: copy of the caller's deleter
//   - alloc: allocator that provided this block's storage (not the element's)
type PtrBlock[T any] struct {
	Header
	elem  *T
	del   Deleter[T]
	alloc alloc.Allocator
}

// NewPtrBlock allocates a block managing p through a (Default when nil).
// Returns nil when the allocator cannot provide the block; p is untouched
// and still owned by the caller in that case.
func NewPtrBlock[T any](p *T, del Deleter[T], a alloc.Allocator, mode counter.Mode) *PtrBlock[T] {
	typed := alloc.Rebind[PtrBlock[T]](a)
	b := typed.New()
	if b == nil {
		return nil
	}
	if del == nil {
		del = DestroyDeleter[T]()
	}
	b.elem = p
	b.del = del
	b.alloc = typed.Allocator()
	b.init(mode, typeName[T]())
	return b
}

// Element returns the managed pointer, nil once it has been released.
func (b *PtrBlock[T]) Element() *T {
	return b.elem
}

// FreeElement implements Block by running the deleter on the stored pointer.
func (b *PtrBlock[T]) FreeElement() {
	p := b.elem
	b.elem = nil
	b.del(p)
}

// FreeControlBlock implements Block by returning the block to its allocator.
func (b *PtrBlock[T]) FreeControlBlock() {
	a := b.alloc
	b.retire()
	alloc.Rebind[PtrBlock[T]](a).Free(b)
}
