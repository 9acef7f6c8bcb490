package control

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kolkov/sharedptr/alloc"
	"github.com/kolkov/sharedptr/internal/logging"
	"github.com/kolkov/sharedptr/internal/rc/counter"
)

// InlineBlock stores the element inside the block, so the element and its
// counts share one allocation.
//
// Layout:
//   - Header: counts, leak id, type name
//   - value: the element, constructed in place
//   - alloc: allocator that provided this block
type InlineBlock[T any] struct {
	Header
	value T
	alloc alloc.Allocator
}

// NewInlineBlock allocates a block through a (Default when nil) and
// constructs the element in place with init (zero value when nil).
//
// Returns alloc.ErrOutOfMemory when the block cannot be allocated, or the
// error from init; in both cases nothing stays allocated.
func NewInlineBlock[T any](a alloc.Allocator, mode counter.Mode, init func(*T) error) (*InlineBlock[T], error) {
	typed := alloc.Rebind[InlineBlock[T]](a)
	b := typed.New()
	if b == nil {
		return nil, alloc.ErrOutOfMemory
	}
	if err := alloc.ConstructFunc(&b.value, init); err != nil {
		typed.Free(b)
		return nil, fmt.Errorf("construct %s in place: %w", typeName[T](), err)
	}
	b.alloc = typed.Allocator()
	b.init(mode, typeName[T]())
	return b, nil
}

// Element returns the address of the in-place element.
func (b *InlineBlock[T]) Element() *T {
	return &b.value
}

// FreeElement implements Block by destroying the element in place.
func (b *InlineBlock[T]) FreeElement() {
	if err := alloc.Destroy(&b.value); err != nil {
		logging.L().Warn("element close failed",
			zap.String("type", b.typ), zap.Error(err))
	}
}

// FreeControlBlock implements Block by returning the block to its allocator.
func (b *InlineBlock[T]) FreeControlBlock() {
	a := b.alloc
	b.retire()
	alloc.Rebind[InlineBlock[T]](a).Free(b)
}
