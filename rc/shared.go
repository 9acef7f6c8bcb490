package rc

import (
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/kolkov/sharedptr/alloc"
	"github.com/kolkov/sharedptr/internal/logging"
	"github.com/kolkov/sharedptr/internal/rc/control"
)

// ErrAllocFailed is returned (wrapped) when a control block or inline
// storage cannot be obtained. The returned handle is empty.
var ErrAllocFailed = errors.New("rc: allocation failed")

// Deleter releases an element handed to New. It must be safe to copy.
type Deleter[T any] func(*T)

// DefaultDeleter returns the deleter used by New: it calls Destroy() or
// Close() on the element when implemented and then zeroes it.
func DefaultDeleter[T any]() Deleter[T] {
	return Deleter[T](control.DestroyDeleter[T]())
}

// Shared is an owning handle to an element shared by reference counting.
//
// The zero value is an empty handle. A non-empty handle holds one strong
// reference on its control block; copying the struct does NOT add a
// reference, use Clone. Every non-empty handle must be released exactly once
// with Release (or moved away with Move).
//
// Layout:
//   - ctrl: the control block shared by every handle of the same owner
//   - elem: the addressed element; may differ from the owner's object for
//     handles built with Alias or Convert
type Shared[T any] struct {
	ctrl control.Block
	elem *T
}

// New takes ownership of p. When the last Shared handle is released the
// default deleter runs on p.
//
// A nil p yields an empty handle and no error.
//
// On allocation failure the returned handle is empty, the error wraps
// ErrAllocFailed, and p is NOT released: it remains owned by the caller.
func New[T any](p *T, opts ...Option) (Shared[T], error) {
	return NewWithDeleter(p, nil, opts...)
}

// NewWithDeleter is New with a caller-supplied deleter (default when nil).
func NewWithDeleter[T any](p *T, del Deleter[T], opts ...Option) (Shared[T], error) {
	if p == nil {
		return Shared[T]{}, nil
	}
	o := buildOptions(opts)
	b := control.NewPtrBlock(p, control.Deleter[T](del), o.allocator, o.mode)
	if b == nil {
		return Shared[T]{}, allocFailed[T]("control block", alloc.ErrOutOfMemory)
	}
	return Shared[T]{ctrl: b, elem: p}, nil
}

// NewWithAllocator is NewWithDeleter with the control block placed through a.
func NewWithAllocator[T any](p *T, a alloc.Allocator, del Deleter[T], opts ...Option) (Shared[T], error) {
	return NewWithDeleter(p, del, append(opts[:len(opts):len(opts)], WithAllocator(a))...)
}

// Make stores v inside a new control block (one allocation for element and
// counts). When the last Shared handle is released the element is destroyed
// in place.
func Make[T any](v T, opts ...Option) (Shared[T], error) {
	return MakeFunc(func(p *T) error {
		alloc.Construct(p, v)
		return nil
	}, opts...)
}

// MakeFunc is Make with the element initialized in place by init.
// An init error is returned as is and nothing stays allocated.
func MakeFunc[T any](init func(*T) error, opts ...Option) (Shared[T], error) {
	o := buildOptions(opts)
	b, err := control.NewInlineBlock(o.allocator, o.mode, init)
	if err != nil {
		if errors.Is(err, alloc.ErrOutOfMemory) {
			return Shared[T]{}, allocFailed[T]("inline block", err)
		}
		return Shared[T]{}, err
	}
	return Shared[T]{ctrl: b, elem: b.Element()}, nil
}

func allocFailed[T any](what string, cause error) error {
	typ := reflect.TypeOf((*T)(nil)).Elem().String()
	logging.L().Warn("handle allocation failed", zap.String("type", typ), zap.String("what", what))
	return fmt.Errorf("%w: %s for %s: %w", ErrAllocFailed, what, typ, cause)
}

// Alias returns a handle that shares owner's control block but addresses p,
// typically a field of owner's element. Releasing it never releases p
// directly; only the owner's element is released, when the last handle of
// the block goes.
//
// An empty owner or nil p yields an empty handle.
func Alias[T, U any](owner Shared[U], p *T) Shared[T] {
	if owner.ctrl == nil || p == nil {
		return Shared[T]{}
	}
	control.IncReference(owner.ctrl)
	return Shared[T]{ctrl: owner.ctrl, elem: p}
}

// Convert returns a handle to conv(s.Get()) sharing s's control block; it is
// how a handle moves between related element types (embedded structs,
// interface views). An empty s, or a nil conversion result, yields an empty
// handle.
func Convert[T, U any](s Shared[U], conv func(*U) *T) Shared[T] {
	if s.ctrl == nil {
		return Shared[T]{}
	}
	return Alias(s, conv(s.elem))
}

// Clone returns a new strong handle to the same element.
func (s Shared[T]) Clone() Shared[T] {
	if s.ctrl != nil {
		control.IncReference(s.ctrl)
	}
	return s
}

// Move transfers the reference out of s, leaving s empty. Counts are unchanged.
func (s *Shared[T]) Move() Shared[T] {
	out := *s
	*s = Shared[T]{}
	return out
}

// Assign makes s share src's element. The previous content of s is released
// only after the new reference has been taken (copy-and-swap), so
// s.Assign(s) is safe.
func (s *Shared[T]) Assign(src Shared[T]) {
	tmp := src.Clone()
	s.Swap(&tmp)
	tmp.Release()
}

// AssignMove moves src into s, leaving src empty.
func (s *Shared[T]) AssignMove(src *Shared[T]) {
	if s == src {
		return
	}
	tmp := src.Move()
	s.Swap(&tmp)
	tmp.Release()
}

// Swap exchanges the contents of s and other. Counts are unchanged.
func (s *Shared[T]) Swap(other *Shared[T]) {
	*s, *other = *other, *s
}

// Release drops this handle's reference and empties the handle. Releasing
// an empty handle is a no-op.
func (s *Shared[T]) Release() {
	if s.ctrl == nil {
		return
	}
	b := s.ctrl
	*s = Shared[T]{}
	control.ReleaseReference(b)
}

// Reset is Release.
func (s *Shared[T]) Reset() {
	s.Release()
}

// ResetTo replaces the content of s with a new owner of p. If the new
// control block cannot be allocated, s is left unchanged and p stays owned
// by the caller.
func (s *Shared[T]) ResetTo(p *T, del Deleter[T], opts ...Option) error {
	tmp, err := NewWithDeleter(p, del, opts...)
	if err != nil {
		return err
	}
	s.Swap(&tmp)
	tmp.Release()
	return nil
}

// Get returns the addressed element, nil for an empty handle.
func (s Shared[T]) Get() *T {
	return s.elem
}

// Value returns the addressed element. It panics on an empty handle; check
// Valid first.
func (s Shared[T]) Value() *T {
	if s.elem == nil {
		panic("rc: Value called on empty Shared")
	}
	return s.elem
}

// Valid reports whether the handle is non-empty.
func (s Shared[T]) Valid() bool {
	return s.ctrl != nil
}

// UseCount returns the number of strong handles sharing the control block,
// 0 for an empty handle.
func (s Shared[T]) UseCount() int32 {
	if s.ctrl == nil {
		return 0
	}
	return control.RefCount(s.ctrl)
}

// WeakCount returns the weak count of the control block (strong handles
// plus weak handles), 0 for an empty handle.
func (s Shared[T]) WeakCount() int32 {
	if s.ctrl == nil {
		return 0
	}
	return control.WeakCount(s.ctrl)
}

// Unique reports whether s is the only strong handle.
func (s Shared[T]) Unique() bool {
	return s.UseCount() == 1
}

// Downgrade returns a weak handle observing s's element.
func (s Shared[T]) Downgrade() Weak[T] {
	if s.ctrl == nil {
		return Weak[T]{}
	}
	control.IncWeakReference(s.ctrl)
	return Weak[T]{ctrl: s.ctrl, elem: s.elem}
}

// String formats the handle for debugging.
func (s Shared[T]) String() string {
	if s.ctrl == nil {
		return fmt.Sprintf("Shared[%s](nil)", reflect.TypeOf((*T)(nil)).Elem())
	}
	return fmt.Sprintf("Shared[%s](%p, use_count=%d)", reflect.TypeOf((*T)(nil)).Elem(), s.elem, s.UseCount())
}

// Equal reports whether a and b address the same element.
func Equal[T any](a, b Shared[T]) bool {
	return a.elem == b.elem
}

// SameOwner reports whether a and b share one control block, regardless of
// the elements they address.
func SameOwner[T, U any](a Shared[T], b Shared[U]) bool {
	return a.ctrl != nil && a.ctrl == b.ctrl
}
