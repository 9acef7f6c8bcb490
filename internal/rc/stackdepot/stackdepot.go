// Package stackdepot stores deduplicated creation stacks for control blocks.
//
// Leak reports need to say where a leaked handle was created. Capturing and
// keeping a full runtime.Callers slice per block would dominate the memory of
// small blocks, so stacks are stored once in a global depot and blocks keep a
// 64-bit hash.
//
// Design:
//   - Fixed-size traces (MaxFrames program counters)
//   - FNV-1a hash of the program counters as the key
//   - Global sync.Map storage (thread-safe, stable keys)
//
// Usage:
//
//	hash := stackdepot.Capture(1)      // skip the caller's own frame
//	...
//	fmt.Print(stackdepot.Get(hash).Format())
package stackdepot

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"runtime"
	"strings"
	"sync"
)

// MaxFrames is the number of program counters kept per trace.
const MaxFrames = 16

// Trace is a captured stack of fixed size.
type Trace struct {
	PC [MaxFrames]uintptr
	N  int
}

var depot sync.Map // uint64 → *Trace

// Capture records the current goroutine stack and returns its hash.
//
// skip is the number of frames above Capture's caller to omit: 0 starts the
// trace at the caller of Capture.
//
// Returns 0 when no stack is available.
//
// Thread Safety: Safe for concurrent calls.
func Capture(skip int) uint64 {
	var pcs [MaxFrames]uintptr
	// +2: runtime.Callers and Capture itself.
	n := runtime.Callers(skip+2, pcs[:])
	if n == 0 {
		return 0
	}

	hash := hashPCs(pcs[:n])
	if _, ok := depot.Load(hash); ok {
		return hash
	}
	depot.LoadOrStore(hash, &Trace{PC: pcs, N: n})
	return hash
}

// Get returns the trace stored under hash, or nil.
func Get(hash uint64) *Trace {
	if hash == 0 {
		return nil
	}
	v, ok := depot.Load(hash)
	if !ok {
		return nil
	}
	return v.(*Trace)
}

func hashPCs(pcs []uintptr) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, pc := range pcs {
		binary.LittleEndian.PutUint64(buf[:], uint64(pc))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// Format renders the trace one frame per two lines:
//
//	main.open()
//	      /path/to/main.go:41
//
// runtime frames are always omitted, as are frames whose function name
// starts with one of skipPrefixes.
func (t *Trace) Format(skipPrefixes ...string) string {
	if t == nil || t.N == 0 {
		return "  <unknown>\n"
	}

	frames := runtime.CallersFrames(t.PC[:t.N])
	var buf strings.Builder
	for {
		frame, more := frames.Next()
		if frame.PC == 0 {
			break
		}
		if !skipFrame(frame.Function, skipPrefixes) {
			fmt.Fprintf(&buf, "  %s()\n", frame.Function)
			fmt.Fprintf(&buf, "      %s:%d\n", frame.File, frame.Line)
		}
		if !more {
			break
		}
	}

	if buf.Len() == 0 {
		return "  <runtime internal>\n"
	}
	return buf.String()
}

func skipFrame(fn string, prefixes []string) bool {
	if strings.HasPrefix(fn, "runtime.") {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(fn, p) {
			return true
		}
	}
	return false
}

// Reset clears the depot. Test-only; not safe for concurrent use.
func Reset() {
	depot = sync.Map{}
}

// Len returns the number of unique traces stored.
func Len() int {
	n := 0
	depot.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
