package control

import (
	"reflect"

	"go.uber.org/zap"

	"github.com/kolkov/sharedptr/internal/logging"
	"github.com/kolkov/sharedptr/internal/rc/counter"
	"github.com/kolkov/sharedptr/internal/rc/leakcheck"
)

// Block is a control block of any shape.
type Block interface {
	base() *Header

	// FreeElement releases the managed element. Called exactly once, when
	// the strong count reaches zero.
	FreeElement()

	// FreeControlBlock releases the block's own storage. Called exactly
	// once, when the weak count reaches zero, always after FreeElement.
	FreeControlBlock()
}

// Header is the part common to every block shape.
type Header struct {
	counts counter.Counts
	leakID uint64
	typ    string
}

func (h *Header) base() *Header { return h }

// Strong returns the strong count.
func (h *Header) Strong() int32 { return h.counts.Strong() }

// Weak returns the weak count.
func (h *Header) Weak() int32 { return h.counts.Weak() }

// TypeName returns the managed element type.
func (h *Header) TypeName() string { return h.typ }

func (h *Header) init(mode counter.Mode, typ string) {
	h.counts.Init(mode)
	h.typ = typ
	// Skip init and the block constructor.
	h.leakID = leakcheck.Default.Register(typ, h, 2)
}

func (h *Header) retire() {
	leakcheck.Default.Unregister(h.leakID)
	h.leakID = 0
}

func typeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}

// IncReference adds a strong reference. The caller must hold one already.
func IncReference(b Block) {
	b.base().counts.IncStrong()
}

// IncWeakReference adds a weak reference. The caller must hold a strong or
// weak reference already.
func IncWeakReference(b Block) {
	b.base().counts.IncWeak()
}

// TryUpgrade adds a strong reference if the element is still alive.
// The caller must hold a weak reference.
func TryUpgrade(b Block) bool {
	return b.base().counts.TryIncStrong()
}

// ReleaseReference drops a strong reference, releasing the element when it
// was the last one and the block when no references of any kind remain.
func ReleaseReference(b Block) {
	h := b.base()
	if h.counts.DecStrong() == 0 {
		b.FreeElement()
		if ce := logging.L().Check(zap.DebugLevel, "element released"); ce != nil {
			ce.Write(zap.String("type", h.typ))
		}
	}
	// A concurrent last-strong release may have run FreeElement between
	// our DecStrong and this DecWeak, so the block can hit zero here too.
	if h.counts.DecWeak() == 0 {
		releaseBlock(b, h)
	}
}

// ReleaseWeakReference drops a weak reference, releasing the block when no
// references of any kind remain.
func ReleaseWeakReference(b Block) {
	h := b.base()
	if h.counts.DecWeak() == 0 {
		releaseBlock(b, h)
	}
}

func releaseBlock(b Block, h *Header) {
	typ := h.typ
	b.FreeControlBlock()
	if ce := logging.L().Check(zap.DebugLevel, "control block released"); ce != nil {
		ce.Write(zap.String("type", typ))
	}
}

// RefCount returns the strong count.
func RefCount(b Block) int32 {
	return b.base().Strong()
}

// WeakCount returns the weak count.
func WeakCount(b Block) int32 {
	return b.base().Weak()
}

// Mode returns the counting strategy of the block.
func Mode(b Block) counter.Mode {
	return b.base().counts.Mode()
}

// TypeName returns the managed element type of the block.
func TypeName(b Block) string {
	return b.base().TypeName()
}

// State is the lifecycle state of a block.
type State uint8

const (
	// Alive: strong > 0, the element is usable.
	Alive State = iota
	// ElementFreed: strong == 0, weak > 0; the block answers liveness queries.
	ElementFreed
	// FullyFreed: strong == weak == 0; the block storage was reclaimed.
	FullyFreed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Alive:
		return "alive"
	case ElementFreed:
		return "element-freed"
	case FullyFreed:
		return "fully-freed"
	default:
		return "unknown"
	}
}

// StateOf returns the lifecycle state of b.
//
// Reading a fully freed block is only meaningful with allocators that zero
// released storage (Heap and the wrappers over it).
func StateOf(b Block) State {
	h := b.base()
	switch {
	case h.Strong() > 0:
		return Alive
	case h.Weak() > 0:
		return ElementFreed
	default:
		return FullyFreed
	}
}
