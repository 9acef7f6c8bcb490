// Package control implements the control block shared by all handles of one
// managed object.
//
// A control block owns the strong/weak count pair and knows how to release
// two things: the managed element, and the block's own storage. Splitting the
// two lets a weak handle outlive the element: the block stays readable (so
// RefCount can answer "is it alive?") until the last reference of any kind is
// gone.
//
// Variants:
//
// The set of block shapes is closed and lives entirely in this package:
//   - PtrBlock[T]: the element was allocated by the caller; the block keeps
//     the raw pointer and a deleter that releases it.
//   - InlineBlock[T]: the element is stored inside the block, so the object
//     and its bookkeeping cost a single allocation.
//
// Both are reached through the Block interface, whose unexported method
// prevents other packages from adding shapes.
//
// Count Protocol:
//
//	IncReference:         strong+1, weak+1        (new strong handle by copy)
//	IncWeakReference:     weak+1                  (new weak handle)
//	ReleaseReference:     strong-1; at 0 FreeElement
//	                      weak-1;   at 0 FreeControlBlock
//	ReleaseWeakReference: weak-1;   at 0 FreeControlBlock
//	TryUpgrade:           strong+1, weak+1 only while strong > 0
//
// The element is always released before the block's storage.
//
// Lifecycle:
//
//	Alive ──(last strong, weak left)──▶ ElementFreed ──(last weak)──▶ FullyFreed
//	  └──────────────(last strong, no weak)───────────────────────────▶ FullyFreed
//
// Thread Safety: determined by the counter mode chosen at creation
// (see package counter). Plain blocks must not be shared across goroutines
// without external locking.
package control
