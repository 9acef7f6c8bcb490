// Package rc provides shared-ownership handles with reference counting and
// weak observers.
//
// A [Shared] handle owns an element together with every other Shared handle
// built from the same control block. The element is released exactly once,
// when the last Shared handle is released. A [Weak] handle observes the
// element without keeping it alive and can be upgraded with [Weak.Lock]
// while the element is still alive.
//
// Go has a garbage collector, so what rc manages is not memory reachability
// but deterministic release: closing a connection, returning a buffer to a
// pool, unmapping a file, at the moment the last owner lets go.
//
// # Quick Start
//
//	conn, err := rc.New(openConn(), rc.WithAtomicCounts())
//	if err != nil {
//		return err
//	}
//	defer conn.Release()
//
//	worker := conn.Clone()     // second owner
//	go func() {
//		defer worker.Release()
//		worker.Value().Send(msg)
//	}()
//
//	obs := conn.Downgrade()    // observer, does not keep conn alive
//	defer obs.Release()
//	if s := obs.Lock(); s.Valid() {
//		defer s.Release()
//		s.Value().Ping()
//	}
//
// # Construction
//
//   - [New] / [NewWithDeleter] / [NewWithAllocator]: take ownership of an
//     existing pointer. The control block is allocated separately.
//   - [Make] / [MakeFunc]: store the element inside the control block, one
//     allocation for both.
//   - [Alias] / [Convert]: share an existing control block but address a
//     different element (a field, an embedded struct, an interface view).
//
// The default deleter calls Destroy() or Close() on the element when it
// implements one of them, then zeroes it.
//
// # Counting Rules
//
// Each control block holds a strong count (live Shared handles) and a weak
// count (live references of any kind). Clone adds a strong reference,
// Downgrade and Weak.Clone add a weak one, Release drops one. The element is
// released when the strong count reaches zero; the control block itself
// when the weak count reaches zero, always afterwards.
//
// Copying a handle struct with = does NOT add a reference. Use Clone, or
// Move to transfer one.
//
// # Allocation Failure
//
// Constructors return an empty handle and an error wrapping [ErrAllocFailed]
// when the allocator cannot provide the control block. A pointer passed to
// New stays owned by the caller in that case; its deleter is not run.
//
// # Concurrency
//
// By default counts are plain integers and a control block must not be used
// from several goroutines at once. [WithAtomicCounts] (or
// [SetAtomicDefault]) selects atomic counts and a CAS-based Lock, which makes
// cloning, releasing and upgrading safe across goroutines. The element itself
// is never synchronized by rc.
//
// # Cycles
//
// Two elements that own Shared handles to each other never reach a zero
// strong count. Break cycles with Weak handles; rc does not collect them.
//
// # Leak Checking
//
// [EnableLeakCheck] (or leak_check in the YAML configuration) records the
// creation stack of every control block. [Leaks] and [ReportLeaks] list the
// blocks some handle was never released for.
//
// # Configuration
//
// [LoadConfig] applies a YAML file:
//
//	version: v1.0.0
//	counting: atomic       # plain | atomic
//	leak_check: true
//	logging:
//	  level: warn
//
// # Examples
//
// See package-level examples in the documentation:
//   - [Example] - Shared ownership and weak observation
//   - [Example_alias] - Handles to a field of a shared element
//   - [Example_make] - Inline element storage
package rc
