package rc

import (
	"fmt"
	"reflect"

	"github.com/kolkov/sharedptr/internal/rc/control"
)

// Weak observes an element owned by Shared handles without keeping it alive.
//
// A weak handle keeps the control block readable, so Expired and Lock stay
// valid after the element has been released. The element address is kept
// only to be handed out by a successful Lock; Weak never dereferences it.
//
// The zero value is an empty (always expired) handle. Like Shared, copying
// the struct does not add a reference; use Clone, and Release every
// non-empty handle exactly once.
type Weak[T any] struct {
	ctrl control.Block
	elem *T
}

// NewWeak returns a weak handle observing s's element. Same as s.Downgrade().
func NewWeak[T any](s Shared[T]) Weak[T] {
	return s.Downgrade()
}

// Lock upgrades w to a strong handle. It returns an empty handle when the
// element has already been released; it never returns a dangling one.
func (w Weak[T]) Lock() Shared[T] {
	if w.ctrl == nil || !control.TryUpgrade(w.ctrl) {
		return Shared[T]{}
	}
	return Shared[T]{ctrl: w.ctrl, elem: w.elem}
}

// Expired reports whether the observed element has been released.
// Once true it stays true.
func (w Weak[T]) Expired() bool {
	return w.ctrl == nil || control.RefCount(w.ctrl) == 0
}

// UseCount returns the number of strong handles of the observed element.
func (w Weak[T]) UseCount() int32 {
	if w.ctrl == nil {
		return 0
	}
	return control.RefCount(w.ctrl)
}

// WeakCount returns the weak count of the observed control block.
func (w Weak[T]) WeakCount() int32 {
	if w.ctrl == nil {
		return 0
	}
	return control.WeakCount(w.ctrl)
}

// Clone returns a new weak handle observing the same element.
func (w Weak[T]) Clone() Weak[T] {
	if w.ctrl != nil {
		control.IncWeakReference(w.ctrl)
	}
	return w
}

// Assign makes w observe src's element, releasing w's previous reference
// after the new one has been taken.
func (w *Weak[T]) Assign(src Weak[T]) {
	tmp := src.Clone()
	w.Swap(&tmp)
	tmp.Release()
}

// Swap exchanges the contents of w and other.
func (w *Weak[T]) Swap(other *Weak[T]) {
	*w, *other = *other, *w
}

// Release drops this handle's weak reference and empties the handle.
// Releasing an empty handle is a no-op.
func (w *Weak[T]) Release() {
	if w.ctrl == nil {
		return
	}
	b := w.ctrl
	*w = Weak[T]{}
	control.ReleaseWeakReference(b)
}

// Reset is Release.
func (w *Weak[T]) Reset() {
	w.Release()
}

// String formats the handle for debugging.
func (w Weak[T]) String() string {
	if w.ctrl == nil {
		return fmt.Sprintf("Weak[%s](nil)", reflect.TypeOf((*T)(nil)).Elem())
	}
	return fmt.Sprintf("Weak[%s](use_count=%d, expired=%t)", reflect.TypeOf((*T)(nil)).Elem(), w.UseCount(), w.Expired())
}

// OwnedBy reports whether w observes the control block of s.
func OwnedBy[T, U any](w Weak[T], s Shared[U]) bool {
	return w.ctrl != nil && w.ctrl == s.ctrl
}
