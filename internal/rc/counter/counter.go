// Package counter implements the strong/weak count pair stored in every control block.
//
// A control block tracks two lifetimes with two counters:
//   - strong: number of live Shared handles (keeps the element alive)
//   - weak: number of live references of any kind, plus one "self" unit held
//     by the strong pool while strong > 0
//
// Both counters start at 1 when the block is created.
//
// Counting Strategies:
//   - Plain: ordinary integer read-modify-write. Cheapest, NOT safe when
//     handles sharing one block are used from several goroutines.
//   - Atomic: sync/atomic adds, and a CAS loop for TryIncStrong so that
//     "observe strong > 0" and "increment" cannot be split by a concurrent
//     release.
//
// The strategy is fixed when the block is created and never changes, so a
// single block is accessed either always atomically or never atomically.
package counter

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Mode selects the counting strategy of a control block.
type Mode uint8

const (
	// Plain uses unsynchronized integer updates (single-goroutine ownership).
	Plain Mode = iota
	// Atomic uses sync/atomic updates and CAS for weak-to-strong upgrades.
	Atomic
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case Plain:
		return "plain"
	case Atomic:
		return "atomic"
	default:
		return "unknown"
	}
}

// ParseMode parses a configuration name ("plain" or "atomic").
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "plain":
		return Plain, nil
	case "atomic":
		return Atomic, nil
	default:
		return Plain, fmt.Errorf("counter: unknown counting mode %q", s)
	}
}

// Counts is the strong/weak pair of one control block.
//
// Layout:
//   - strong: int32, live Shared handles
//   - weak: int32, live references of any kind + self unit
//   - mode: strategy chosen at Init
//
// The zero value is a fully released pair (strong == weak == 0); Init must be
// called before the pair is shared.
type Counts struct {
	strong int32
	weak   int32
	mode   Mode
}

// Init resets the pair to the creation state (strong = weak = 1).
//
// Must be called before the owning block becomes reachable from any handle.
func (c *Counts) Init(mode Mode) {
	c.strong = 1
	c.weak = 1
	c.mode = mode
}

// Mode returns the counting strategy of the pair.
func (c *Counts) Mode() Mode {
	return c.mode
}

// Strong returns the current strong count.
func (c *Counts) Strong() int32 {
	if c.mode == Atomic {
		return atomic.LoadInt32(&c.strong)
	}
	return c.strong
}

// Weak returns the current weak count.
func (c *Counts) Weak() int32 {
	if c.mode == Atomic {
		return atomic.LoadInt32(&c.weak)
	}
	return c.weak
}

// IncStrong adds one strong reference (and the weak unit attached to it).
//
// The caller must already hold a strong reference; incrementing a released
// pair is an invariant violation and panics.
func (c *Counts) IncStrong() {
	var n int32
	if c.mode == Atomic {
		n = atomic.AddInt32(&c.strong, 1)
		atomic.AddInt32(&c.weak, 1)
	} else {
		c.strong++
		c.weak++
		n = c.strong
	}
	if n <= 1 {
		panic(fmt.Sprintf("counter: strong increment on released count (now %d)", n))
	}
}

// IncWeak adds one weak reference.
func (c *Counts) IncWeak() {
	var n int32
	if c.mode == Atomic {
		n = atomic.AddInt32(&c.weak, 1)
	} else {
		c.weak++
		n = c.weak
	}
	if n <= 1 {
		panic(fmt.Sprintf("counter: weak increment on released count (now %d)", n))
	}
}

// TryIncStrong adds one strong reference only if the strong count is still
// positive. Returns false once the element has been released.
//
// Atomic mode uses a CAS loop: load, bail out on zero, otherwise CAS n to n+1.
func (c *Counts) TryIncStrong() bool {
	if c.mode != Atomic {
		if c.strong <= 0 {
			return false
		}
		c.strong++
		c.weak++
		return true
	}

	for {
		n := atomic.LoadInt32(&c.strong)
		if n <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&c.strong, n, n+1) {
			// The caller holds a weak reference, so weak >= 1 here and the
			// block cannot be reclaimed between the CAS and this add.
			atomic.AddInt32(&c.weak, 1)
			return true
		}
	}
}

// DecStrong removes one strong reference and returns the new strong count.
//
// The weak unit attached to the reference is NOT removed here; the control
// block removes it with DecWeak after deciding whether to free the element.
func (c *Counts) DecStrong() int32 {
	var n int32
	if c.mode == Atomic {
		n = atomic.AddInt32(&c.strong, -1)
	} else {
		c.strong--
		n = c.strong
	}
	if n < 0 {
		panic(fmt.Sprintf("counter: strong count released below zero (%d)", n))
	}
	return n
}

// DecWeak removes one weak unit and returns the new weak count.
func (c *Counts) DecWeak() int32 {
	var n int32
	if c.mode == Atomic {
		n = atomic.AddInt32(&c.weak, -1)
	} else {
		c.weak--
		n = c.weak
	}
	if n < 0 {
		panic(fmt.Sprintf("counter: weak count released below zero (%d)", n))
	}
	return n
}
