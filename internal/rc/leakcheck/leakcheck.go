// Package leakcheck tracks live control blocks so leaked handles can be reported.
//
// When enabled, every control block registers itself on creation and
// unregisters when its own storage is reclaimed. Anything still registered at
// report time is a block some handle (strong or weak) was never released for.
//
// Registry:
//   - Key: uint64 block id (monotonic, never reused)
//   - Value: entry with type name, live count view, creation stack hash
//   - Storage: sync.Map (stable keys, mostly inserts and deletes)
//
// Disabled registries cost one atomic load per block creation.
package leakcheck

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kolkov/sharedptr/internal/rc/stackdepot"
)

// Counted exposes the live counts of a registered block.
type Counted interface {
	Strong() int32
	Weak() int32
}

type entry struct {
	typ     string
	counts  Counted
	stack   uint64
	created time.Time
}

// Registry records live control blocks.
//
// Thread Safety: All methods are safe for concurrent calls. The counts a
// report reads belong to the blocks and are not synchronized here; see Leaks.
type Registry struct {
	enabled atomic.Bool
	nextID  atomic.Uint64
	live    sync.Map // uint64 → *entry
}

// Default is the process-wide registry used by control blocks.
var Default = New()

// New creates a disabled registry.
func New() *Registry {
	return &Registry{}
}

// Enable turns tracking on or off. Blocks created while tracking is off are
// never reported.
func (r *Registry) Enable(on bool) {
	r.enabled.Store(on)
}

// Enabled reports whether new blocks are tracked.
func (r *Registry) Enabled() bool {
	return r.enabled.Load()
}

// Register records a new block and returns its id, or 0 when disabled.
//
// skip is the number of frames between the caller of Register and the frame
// that should head the creation stack.
func (r *Registry) Register(typ string, c Counted, skip int) uint64 {
	if !r.enabled.Load() {
		return 0
	}
	id := r.nextID.Add(1)
	r.live.Store(id, &entry{
		typ:     typ,
		counts:  c,
		stack:   stackdepot.Capture(skip + 1),
		created: time.Now(),
	})
	return id
}

// Unregister forgets a block. Unregister(0) is a no-op.
func (r *Registry) Unregister(id uint64) {
	if id == 0 {
		return
	}
	r.live.Delete(id)
}

// Len returns the number of registered blocks.
func (r *Registry) Len() int {
	n := 0
	r.live.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Reset forgets every registered block. Test-only.
func (r *Registry) Reset() {
	r.live.Range(func(k, _ any) bool {
		r.live.Delete(k)
		return true
	})
}

// Report describes one block that is still registered.
type Report struct {
	ID     uint64
	Type   string
	Strong int32
	Weak   int32
	Age    time.Duration
	Stack  string
}

// internalFrames are skipped in creation stacks so reports start at the
// code that created the handle.
var internalFrames = []string{
	"github.com/kolkov/sharedptr/internal/",
	"github.com/kolkov/sharedptr/rc.",
}

// Leaks returns a report for every registered block, oldest first.
//
// Counts are read when Leaks runs. Plain-mode blocks are not synchronized,
// so their counts are only accurate while no goroutine is cloning or
// releasing handles; call Leaks once owners have stopped, typically at the
// end of a test or at shutdown.
func (r *Registry) Leaks() []Report {
	now := time.Now()
	var out []Report
	r.live.Range(func(k, v any) bool {
		e := v.(*entry)
		out = append(out, Report{
			ID:     k.(uint64),
			Type:   e.typ,
			Strong: e.counts.Strong(),
			Weak:   e.counts.Weak(),
			Age:    now.Sub(e.created),
			Stack:  stackdepot.Get(e.stack).Format(internalFrames...),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// String formats the report header line.
func (rep Report) String() string {
	return fmt.Sprintf("leaked control block #%d of %s (strong=%d, weak=%d, age=%s)",
		rep.ID, rep.Type, rep.Strong, rep.Weak, rep.Age.Round(time.Millisecond))
}

// Write prints reports framed like Go race detector reports:
//
//	==================
//	WARNING: LEAKED HANDLE
//	leaked control block #3 of main.conn (strong=1, weak=1, age=2ms)
//	Created at:
//	  main.open()
//	      /src/main.go:41
//	==================
func Write(w io.Writer, reports []Report) error {
	var b strings.Builder
	for _, rep := range reports {
		b.WriteString("==================\n")
		b.WriteString("WARNING: LEAKED HANDLE\n")
		b.WriteString(rep.String())
		b.WriteString("\nCreated at:\n")
		b.WriteString(rep.Stack)
		b.WriteString("==================\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
