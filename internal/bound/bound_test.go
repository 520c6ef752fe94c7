package bound

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wrtgo/wrtgo/internal/memref"
	"github.com/wrtgo/wrtgo/internal/verify"
)

func newCtx(t *testing.T) *memref.Context {
	t.Helper()
	c := memref.NewCoordinator()
	var q [11]uint64
	for i := range q {
		q[i] = 1 << 20
	}
	require.NoError(t, c.Initialize(q, 1<<24))
	ctx := memref.NewContext(c)
	ctx.SetCapability(memref.CrateFoundation, memref.NewStaticCapability(1<<20))
	return ctx
}

func TestVec_PushPopCapacity(t *testing.T) {
	ctx := newCtx(t)
	v, err := NewVec[uint64](ctx, memref.CrateFoundation, 4, Uint64Codec{}, verify.Standard)
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, v.Push(1))
	require.NoError(t, v.Push(2))
	require.NoError(t, v.Push(3))
	require.NoError(t, v.Push(4))
	require.Error(t, v.Push(5)) // CapacityExceeded

	got, err := v.Pop()
	require.NoError(t, err)
	require.EqualValues(t, 4, got)
	require.EqualValues(t, 3, v.Len())
	require.NoError(t, v.VerifyChecksum())
}

func TestVec_IndexOutOfBounds(t *testing.T) {
	ctx := newCtx(t)
	v, err := NewVec[uint64](ctx, memref.CrateFoundation, 2, Uint64Codec{}, verify.Off)
	require.NoError(t, err)
	defer v.Close()
	_, err = v.Get(0)
	require.Error(t, err)
}

func TestVec_ChecksumMismatchDetected(t *testing.T) {
	ctx := newCtx(t)
	v, err := NewVec[uint64](ctx, memref.CrateFoundation, 4, Uint64Codec{}, verify.Standard)
	require.NoError(t, err)
	defer v.Close()
	require.NoError(t, v.Push(42))
	// Corrupt the backing bytes directly, bypassing the container API.
	v.guard.Provider().Bytes()[0] ^= 0xFF
	require.Error(t, v.VerifyChecksum())
}

func TestStack_PushPopPeek(t *testing.T) {
	ctx := newCtx(t)
	s, err := NewStack[uint64](ctx, memref.CrateFoundation, 3, Uint64Codec{}, verify.Standard)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Push(10))
	require.NoError(t, s.Push(20))
	top, err := s.Peek()
	require.NoError(t, err)
	require.EqualValues(t, 20, top)
	v, err := s.Pop()
	require.NoError(t, err)
	require.EqualValues(t, 20, v)
	require.EqualValues(t, 1, s.Len())
}

func TestDeque_PushPopBothEnds(t *testing.T) {
	ctx := newCtx(t)
	d, err := NewDeque[uint64](ctx, memref.CrateFoundation, 3, Uint64Codec{}, verify.Standard)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.PushBack(1))
	require.NoError(t, d.PushFront(0))
	require.NoError(t, d.PushBack(2))
	require.Error(t, d.PushBack(3)) // at capacity

	front, err := d.PopFront()
	require.NoError(t, err)
	require.EqualValues(t, 0, front)
	back, err := d.PopBack()
	require.NoError(t, err)
	require.EqualValues(t, 2, back)
	require.EqualValues(t, 1, d.Len())
}

func TestQueue_FIFO(t *testing.T) {
	ctx := newCtx(t)
	q, err := NewQueue[uint64](ctx, memref.CrateFoundation, 4, Uint64Codec{}, verify.Off)
	require.NoError(t, err)
	defer q.Close()
	require.NoError(t, q.Enqueue(1))
	require.NoError(t, q.Enqueue(2))
	require.NoError(t, q.Enqueue(3))
	v, err := q.Dequeue()
	require.NoError(t, err)
	require.EqualValues(t, 1, v)
}

func TestString_FromStrAndUtf8Validation(t *testing.T) {
	ctx := newCtx(t)
	s, err := NewString(ctx, memref.CrateFoundation, 16, verify.Standard)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.FromStr("hello"))
	require.Equal(t, "hello", s.String())

	require.NoError(t, s.PushStr(" ok"))
	require.Equal(t, "hello ok", s.String())

	invalid := string([]byte{0xff, 0xfe})
	err = s.FromStr(invalid)
	require.Error(t, err)
}

func TestString_CapacityExceeded(t *testing.T) {
	ctx := newCtx(t)
	s, err := NewString(ctx, memref.CrateFoundation, 4, verify.Off)
	require.NoError(t, err)
	defer s.Close()
	require.Error(t, s.FromStr("too long for this buffer"))
}

func TestMap_SetGetDelete(t *testing.T) {
	ctx := newCtx(t)
	m, err := NewMap[uint64, uint64](ctx, memref.CrateFoundation, 8, Uint64Codec{}, Uint64Codec{}, verify.Standard)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Set(1, 100))
	require.NoError(t, m.Set(2, 200))
	v, ok := m.Get(1)
	require.True(t, ok)
	require.EqualValues(t, 100, v)

	require.True(t, m.Delete(1))
	_, ok = m.Get(1)
	require.False(t, ok)
	require.EqualValues(t, 1, m.Len())
	require.NoError(t, m.VerifyChecksum())
}

func TestMap_CapacityExceeded(t *testing.T) {
	ctx := newCtx(t)
	m, err := NewMap[uint64, uint64](ctx, memref.CrateFoundation, 2, Uint64Codec{}, Uint64Codec{}, verify.Off)
	require.NoError(t, err)
	defer m.Close()
	require.NoError(t, m.Set(1, 1))
	require.NoError(t, m.Set(2, 2))
	require.Error(t, m.Set(3, 3))
}

func TestSet_AddContainsRemove(t *testing.T) {
	ctx := newCtx(t)
	s, err := NewSet[uint64](ctx, memref.CrateFoundation, 4, Uint64Codec{}, verify.Standard)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add(7))
	require.True(t, s.Contains(7))
	require.True(t, s.Remove(7))
	require.False(t, s.Contains(7))
}
