package control

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kolkov/sharedptr/alloc"
	"github.com/kolkov/sharedptr/internal/rc/counter"
	"github.com/kolkov/sharedptr/internal/rc/leakcheck"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type resource struct {
	id     int
	events *[]string
}

func (r *resource) Destroy() {
	*r.events = append(*r.events, "destroy")
}

// recordingDeleter appends "delete" to events every time it runs.
func recordingDeleter(events *[]string) Deleter[resource] {
	return func(*resource) {
		*events = append(*events, "delete")
	}
}

func trackFrees(tr *alloc.Tracking, events *[]string) {
	tr.OnFree(func(reflect.Type) {
		*events = append(*events, "free-block")
	})
}

func assertCounts(t *testing.T, b Block, strong, weak int32) {
	t.Helper()
	assert.Equal(t, strong, RefCount(b), "strong")
	assert.Equal(t, weak, WeakCount(b), "weak")
}

// TestPtrBlock_Scenario walks the s1/s2/w lifecycle through the count protocol.
func TestPtrBlock_Scenario(t *testing.T) {
	var events []string
	tr := alloc.NewTracking(nil)
	trackFrees(tr, &events)

	b := NewPtrBlock(&resource{id: 1}, recordingDeleter(&events), tr, counter.Plain)
	require.NotNil(t, b)
	assertCounts(t, b, 1, 1) // s1
	assert.Equal(t, Alive, StateOf(b))

	IncReference(b) // s2 = s1
	assertCounts(t, b, 2, 2)

	IncWeakReference(b) // w from s1
	assertCounts(t, b, 2, 3)

	ReleaseReference(b) // drop s1
	assertCounts(t, b, 1, 2)
	assert.Empty(t, events)

	ReleaseReference(b) // drop s2
	assertCounts(t, b, 0, 1)
	assert.Equal(t, ElementFreed, StateOf(b))
	assert.Equal(t, []string{"delete"}, events)
	assert.Nil(t, b.Element())
	assert.False(t, TryUpgrade(b))

	ReleaseWeakReference(b) // drop w
	assert.Equal(t, []string{"delete", "free-block"}, events)
	assert.Equal(t, FullyFreed, StateOf(b))
	assert.Equal(t, int64(0), tr.Stats().Live())
}

// TestPtrBlock_SingleOwner verifies Alive → FullyFreed directly.
func TestPtrBlock_SingleOwner(t *testing.T) {
	var events []string
	tr := alloc.NewTracking(nil)
	trackFrees(tr, &events)

	b := NewPtrBlock(&resource{}, recordingDeleter(&events), tr, counter.Plain)
	ReleaseReference(b)

	assert.Equal(t, []string{"delete", "free-block"}, events)
	assert.Equal(t, int64(1), tr.Stats().Deallocations)
}

// TestPtrBlock_DefaultDeleter verifies the destroy hook runs when no deleter is given.
func TestPtrBlock_DefaultDeleter(t *testing.T) {
	var events []string
	r := &resource{id: 5, events: &events}

	b := NewPtrBlock(r, nil, nil, counter.Plain)
	require.NotNil(t, b)
	assert.Same(t, r, b.Element())
	assert.Equal(t, "control.resource", TypeName(b))

	ReleaseReference(b)
	assert.Equal(t, []string{"destroy"}, events)
	assert.Equal(t, 0, r.id, "element zeroed after destroy")
}

// TestPtrBlock_AllocFailure verifies nil is returned and the element untouched.
func TestPtrBlock_AllocFailure(t *testing.T) {
	var events []string
	r := &resource{id: 3, events: &events}

	b := NewPtrBlock(r, nil, alloc.NewLimited(nil, 0), counter.Plain)
	assert.Nil(t, b)
	assert.Empty(t, events)
	assert.Equal(t, 3, r.id)
}

// TestInlineBlock_Lifecycle verifies in-place construction and destruction.
func TestInlineBlock_Lifecycle(t *testing.T) {
	var events []string
	tr := alloc.NewTracking(nil)
	trackFrees(tr, &events)

	b, err := NewInlineBlock(tr, counter.Plain, func(r *resource) error {
		r.id = 9
		r.events = &events
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 9, b.Element().id)
	assert.Equal(t, int64(1), tr.Stats().Allocations, "one allocation for element and counts")

	IncWeakReference(b)
	ReleaseReference(b)
	assert.Equal(t, []string{"destroy"}, events)
	assert.Equal(t, 0, b.Element().id)

	ReleaseWeakReference(b)
	assert.Equal(t, []string{"destroy", "free-block"}, events)
}

// TestInlineBlock_Errors verifies failed construction leaves nothing allocated.
func TestInlineBlock_Errors(t *testing.T) {
	t.Run("oom", func(t *testing.T) {
		_, err := NewInlineBlock[resource](alloc.NewLimited(nil, 0), counter.Plain, nil)
		assert.ErrorIs(t, err, alloc.ErrOutOfMemory)
	})

	t.Run("init", func(t *testing.T) {
		tr := alloc.NewTracking(nil)
		boom := errors.New("boom")
		_, err := NewInlineBlock(tr, counter.Plain, func(*resource) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, int64(0), tr.Stats().Live())
	})
}

// TestInlineBlock_ZeroValue verifies a nil init yields the zero element.
func TestInlineBlock_ZeroValue(t *testing.T) {
	b, err := NewInlineBlock[int](nil, counter.Atomic, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, *b.Element())
	assert.Equal(t, counter.Atomic, Mode(b))
	ReleaseReference(b)
}

// TestOverRelease verifies releasing a dead block panics rather than freeing twice.
func TestOverRelease(t *testing.T) {
	b := NewPtrBlock(&resource{}, func(*resource) {}, nil, counter.Plain)
	IncWeakReference(b)
	ReleaseReference(b)

	assert.Panics(t, func() { ReleaseReference(b) })
}

// TestLeakRegistration verifies blocks register while alive and unregister on free.
func TestLeakRegistration(t *testing.T) {
	leakcheck.Default.Enable(true)
	t.Cleanup(func() {
		leakcheck.Default.Enable(false)
		leakcheck.Default.Reset()
	})

	b := NewPtrBlock(&resource{}, func(*resource) {}, nil, counter.Plain)
	IncWeakReference(b)
	require.Equal(t, 1, leakcheck.Default.Len())

	ReleaseReference(b)
	leaks := leakcheck.Default.Leaks()
	require.Len(t, leaks, 1)
	assert.Equal(t, int32(0), leaks[0].Strong)
	assert.Equal(t, int32(1), leaks[0].Weak)

	ReleaseWeakReference(b)
	assert.Equal(t, 0, leakcheck.Default.Len())
}

// TestAtomic_ConcurrentRelease verifies exactly-once release under contention.
func TestAtomic_ConcurrentRelease(t *testing.T) {
	for round := 0; round < 50; round++ {
		var mu sync.Mutex
		var events []string
		tr := alloc.NewTracking(nil)
		tr.OnFree(func(reflect.Type) {
			mu.Lock()
			events = append(events, "free-block")
			mu.Unlock()
		})

		b := NewPtrBlock(&resource{}, func(*resource) {
			mu.Lock()
			events = append(events, "delete")
			mu.Unlock()
		}, tr, counter.Atomic)

		const owners = 16
		for i := 1; i < owners; i++ {
			IncReference(b)
		}
		IncWeakReference(b)

		var wg sync.WaitGroup
		for i := 0; i < owners; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if TryUpgrade(b) {
					ReleaseReference(b)
				}
				ReleaseReference(b)
			}()
		}
		wg.Wait()

		mu.Lock()
		assert.Equal(t, []string{"delete"}, events)
		mu.Unlock()

		ReleaseWeakReference(b)
		assert.Equal(t, []string{"delete", "free-block"}, events)
		assert.Equal(t, int64(0), tr.Stats().Live())
	}
}

// TestStateString tests State names.
func TestStateString(t *testing.T) {
	assert.Equal(t, "alive", Alive.String())
	assert.Equal(t, "element-freed", ElementFreed.String())
	assert.Equal(t, "fully-freed", FullyFreed.String())
	assert.Equal(t, "unknown", State(7).String())
}

func BenchmarkPtrBlock(b *testing.B) {
	for _, mode := range []counter.Mode{counter.Plain, counter.Atomic} {
		b.Run(mode.String(), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				blk := NewPtrBlock(&resource{}, func(*resource) {}, nil, mode)
				IncReference(blk)
				ReleaseReference(blk)
				ReleaseReference(blk)
			}
		})
	}
}
