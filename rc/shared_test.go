package rc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kolkov/sharedptr/alloc"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// object counts its own destruction.
type object struct {
	id        int
	destroyed *int
}

func (o *object) Destroy() {
	*o.destroyed++
}

type pair struct {
	First  object
	Second int
}

func newObject(id int) (*object, *int) {
	n := 0
	return &object{id: id, destroyed: &n}, &n
}

// TestNew_Basic verifies raw-pointer construction and single release.
func TestNew_Basic(t *testing.T) {
	obj, destroyed := newObject(1)

	s, err := New(obj)
	require.NoError(t, err)
	require.True(t, s.Valid())
	assert.Same(t, obj, s.Get())
	assert.Same(t, obj, s.Value())
	assert.Equal(t, int32(1), s.UseCount())
	assert.Equal(t, int32(1), s.WeakCount())
	assert.True(t, s.Unique())

	s.Release()
	assert.Equal(t, 1, *destroyed)
	assert.False(t, s.Valid())
	assert.Nil(t, s.Get())

	s.Release() // empty handle: no-op
	assert.Equal(t, 1, *destroyed)
}

// TestNew_Nil verifies a nil pointer yields an empty handle.
func TestNew_Nil(t *testing.T) {
	s, err := New[object](nil)
	require.NoError(t, err)
	assert.False(t, s.Valid())
	assert.Equal(t, int32(0), s.UseCount())
	assert.Panics(t, func() { s.Value() })
}

// TestCopyRelease verifies strong count equals the number of live handles
// and the element is destroyed exactly once, at the last release.
func TestCopyRelease(t *testing.T) {
	obj, destroyed := newObject(1)
	s1, err := New(obj)
	require.NoError(t, err)

	handles := []Shared[object]{s1}
	for i := 0; i < 5; i++ {
		handles = append(handles, handles[i].Clone())
		assert.Equal(t, int32(i+2), s1.UseCount())
	}

	for i := len(handles) - 1; i > 0; i-- {
		handles[i].Release()
		assert.Equal(t, int32(i), handles[0].UseCount())
		assert.Equal(t, 0, *destroyed)
	}
	handles[0].Release()
	assert.Equal(t, 1, *destroyed)
}

// TestMove verifies transfer leaves the source empty and counts unchanged.
func TestMove(t *testing.T) {
	obj, destroyed := newObject(1)
	s1, _ := New(obj)
	s2 := s1.Clone()

	s3 := s1.Move()
	assert.False(t, s1.Valid())
	assert.Equal(t, int32(2), s3.UseCount())
	assert.Same(t, obj, s3.Get())

	s3.Release()
	s2.Release()
	assert.Equal(t, 1, *destroyed)
}

// TestAssign verifies copy-and-swap assignment releases the old element.
func TestAssign(t *testing.T) {
	a, aDestroyed := newObject(1)
	b, bDestroyed := newObject(2)
	sa, _ := New(a)
	sb, _ := New(b)

	sa.Assign(sb)
	assert.Equal(t, 1, *aDestroyed, "previous element released")
	assert.Same(t, b, sa.Get())
	assert.Equal(t, int32(2), sb.UseCount())

	sa.Assign(sa) // self-assignment keeps the element alive
	assert.Equal(t, 0, *bDestroyed)
	assert.Equal(t, int32(2), sb.UseCount())

	sa.Release()
	sb.Release()
	assert.Equal(t, 1, *bDestroyed)
}

// TestAssignMove verifies move-assignment.
func TestAssignMove(t *testing.T) {
	a, aDestroyed := newObject(1)
	b, bDestroyed := newObject(2)
	sa, _ := New(a)
	sb, _ := New(b)

	sa.AssignMove(&sb)
	assert.Equal(t, 1, *aDestroyed)
	assert.False(t, sb.Valid())
	assert.Equal(t, int32(1), sa.UseCount())

	sa.AssignMove(&sa)
	assert.True(t, sa.Valid())

	sa.Release()
	assert.Equal(t, 1, *bDestroyed)
}

// TestSwap verifies swap exchanges handles without touching counts.
func TestSwap(t *testing.T) {
	a, _ := newObject(1)
	b, _ := newObject(2)
	sa, _ := New(a)
	sb, _ := New(b)
	sb2 := sb.Clone()

	sa.Swap(&sb)
	assert.Same(t, b, sa.Get())
	assert.Same(t, a, sb.Get())
	assert.Equal(t, int32(2), sa.UseCount())
	assert.Equal(t, int32(1), sb.UseCount())

	sa.Release()
	sb.Release()
	sb2.Release()
}

// TestResetTo verifies replacement and the failure path.
func TestResetTo(t *testing.T) {
	a, aDestroyed := newObject(1)
	b, bDestroyed := newObject(2)
	s, _ := New(a)

	require.NoError(t, s.ResetTo(b, nil))
	assert.Equal(t, 1, *aDestroyed)
	assert.Same(t, b, s.Get())

	c, cDestroyed := newObject(3)
	err := s.ResetTo(c, nil, WithAllocator(alloc.NewLimited(nil, 0)))
	require.ErrorIs(t, err, ErrAllocFailed)
	assert.Same(t, b, s.Get(), "handle unchanged on failure")
	assert.Equal(t, 0, *cDestroyed, "caller keeps ownership on failure")

	s.Reset()
	assert.Equal(t, 1, *bDestroyed)
}

// TestNewWithDeleter verifies the custom deleter receives the pointer.
func TestNewWithDeleter(t *testing.T) {
	obj, destroyed := newObject(1)
	var got *object
	s, err := NewWithDeleter(obj, func(p *object) { got = p })
	require.NoError(t, err)

	s.Release()
	assert.Same(t, obj, got)
	assert.Equal(t, 0, *destroyed, "custom deleter replaces the destroy hook")
	assert.Equal(t, 1, obj.id, "custom deleter does not zero")
}

// TestNewWithAllocator verifies the block storage comes from the allocator
// and is reclaimed exactly once.
func TestNewWithAllocator(t *testing.T) {
	tr := alloc.NewTracking(nil)
	obj, _ := newObject(1)

	s, err := NewWithAllocator(obj, tr, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tr.Stats().Live())

	w := s.Downgrade()
	s.Release()
	assert.Equal(t, int64(1), tr.Stats().Live(), "block survives while weak handle lives")

	w.Release()
	assert.Equal(t, int64(0), tr.Stats().Live())
	assert.Equal(t, int64(1), tr.Stats().Deallocations)
}

// TestNewWithAllocator_KeepsOptions verifies the caller's option slice is
// not written through its spare capacity.
func TestNewWithAllocator_KeepsOptions(t *testing.T) {
	opts := make([]Option, 1, 2)
	opts[0] = WithPlainCounts()

	s, err := NewWithAllocator(new(int), alloc.NewTracking(nil), nil, opts...)
	require.NoError(t, err)
	assert.Nil(t, opts[:2][1])
	s.Release()
}

// TestAllocFailure verifies an empty handle, a wrapped error and caller
// ownership of the pointer.
func TestAllocFailure(t *testing.T) {
	obj, destroyed := newObject(1)

	s, err := New(obj, WithAllocator(alloc.NewLimited(nil, 0)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllocFailed)
	assert.ErrorIs(t, err, alloc.ErrOutOfMemory)
	assert.False(t, s.Valid())
	assert.Equal(t, 0, *destroyed)
	assert.Equal(t, 1, obj.id)

	m, err := Make(42, WithAllocator(alloc.NewLimited(nil, 0)))
	assert.ErrorIs(t, err, ErrAllocFailed)
	assert.False(t, m.Valid())
}

// TestMake verifies inline construction uses a single allocation.
func TestMake(t *testing.T) {
	tr := alloc.NewTracking(nil)
	n := 0

	s, err := Make(object{id: 7, destroyed: &n}, WithAllocator(tr))
	require.NoError(t, err)
	assert.Equal(t, 7, s.Value().id)
	assert.Equal(t, int64(1), tr.Stats().Allocations)

	c := s.Clone()
	s.Release()
	assert.Equal(t, 0, n)
	c.Release()
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(0), tr.Stats().Live())
}

// TestMakeFunc verifies in-place initialization and its error path.
func TestMakeFunc(t *testing.T) {
	s, err := MakeFunc(func(p *pair) error {
		p.Second = 12
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 12, s.Value().Second)
	s.Release()

	boom := errors.New("boom")
	tr := alloc.NewTracking(nil)
	s, err = MakeFunc(func(*pair) error { return boom }, WithAllocator(tr))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrAllocFailed)
	assert.False(t, s.Valid())
	assert.Equal(t, int64(0), tr.Stats().Live())
}

// TestAlias verifies an aliasing handle drives the owner's counts and never
// releases the sub-object itself.
func TestAlias(t *testing.T) {
	n := 0
	var deleted []*pair
	p := &pair{First: object{id: 1, destroyed: &n}, Second: 2}
	owner, err := NewWithDeleter(p, func(q *pair) { deleted = append(deleted, q) })
	require.NoError(t, err)

	second := Alias(owner, &p.Second)
	assert.Equal(t, int32(2), owner.UseCount())
	assert.Equal(t, int32(2), second.UseCount())
	assert.True(t, SameOwner(owner, second))
	assert.Equal(t, 2, *second.Value())

	owner.Release()
	assert.Empty(t, deleted)
	assert.Equal(t, 2, *second.Value(), "alias keeps the owner alive")

	second.Release()
	assert.Equal(t, []*pair{p}, deleted, "only the owner's element is released")
	assert.Equal(t, 0, n, "sub-object never destroyed directly")
}

// TestAlias_Empty verifies aliasing an empty owner or nil pointer is empty.
func TestAlias_Empty(t *testing.T) {
	var empty Shared[pair]
	x := 1
	assert.False(t, Alias(empty, &x).Valid())

	s, _ := Make(pair{})
	assert.False(t, Alias[int](s, nil).Valid())
	assert.Equal(t, int32(1), s.UseCount())
	s.Release()
}

type named interface{ Name() string }

type user struct{ name string }

func (u *user) Name() string { return u.name }

// TestConvert verifies transfer between related element types.
func TestConvert(t *testing.T) {
	s, err := Make(user{name: "ada"})
	require.NoError(t, err)

	var view named
	iface := Convert(s, func(u *user) *named {
		view = u
		return &view
	})
	assert.Equal(t, "ada", (*iface.Value()).Name())
	assert.True(t, SameOwner(s, iface))
	assert.Equal(t, int32(2), s.UseCount())

	iface.Release()
	s.Release()

	var empty Shared[user]
	assert.False(t, Convert(empty, func(u *user) *named { return nil }).Valid())
}

// TestEqual verifies address comparison semantics.
func TestEqual(t *testing.T) {
	s1, _ := Make(1)
	s2 := s1.Clone()
	s3, _ := Make(1)

	assert.True(t, Equal(s1, s2))
	assert.False(t, Equal(s1, s3))
	assert.True(t, Equal(Shared[int]{}, Shared[int]{}))
	assert.False(t, SameOwner(Shared[int]{}, Shared[int]{}))

	s1.Release()
	s2.Release()
	s3.Release()
}

// TestString verifies the debug representation.
func TestString(t *testing.T) {
	var empty Shared[int]
	assert.Equal(t, "Shared[int](nil)", empty.String())

	s, _ := Make(5)
	assert.Contains(t, s.String(), "use_count=1")
	s.Release()
}

// TestCloseError verifies Close errors do not abort the release.
func TestCloseError(t *testing.T) {
	closes := 0
	s, err := New(&failingCloser{closes: &closes})
	require.NoError(t, err)

	w := s.Downgrade()
	s.Release()
	assert.Equal(t, 1, closes)
	assert.True(t, w.Expired())
	w.Release()
}

type failingCloser struct{ closes *int }

func (f *failingCloser) Close() error {
	*f.closes++
	return errors.New("already closed")
}

// TestDefaultDeleter verifies the exported default deleter.
func TestDefaultDeleter(t *testing.T) {
	obj, destroyed := newObject(4)
	DefaultDeleter[object]()(obj)
	assert.Equal(t, 1, *destroyed)
	assert.Equal(t, 0, obj.id)
}

func BenchmarkCloneRelease(b *testing.B) {
	s, _ := Make(1)
	defer s.Release()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		c := s.Clone()
		c.Release()
	}
}

func BenchmarkMake(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		s, _ := Make(i)
		s.Release()
	}
}

func BenchmarkNew(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		v := i
		s, _ := New(&v)
		s.Release()
	}
}
