package safemem

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wrtgo/wrtgo/internal/memref"
	"github.com/wrtgo/wrtgo/internal/pagealloc"
	"github.com/wrtgo/wrtgo/internal/verify"
)

func newTestCtx(t *testing.T) *memref.Context {
	t.Helper()
	c := memref.NewCoordinator()
	var q [11]uint64
	for i := range q {
		q[i] = 16 * 1024 * 1024
	}
	require.NoError(t, c.Initialize(q, 256*1024*1024))
	ctx := memref.NewContext(c)
	ctx.SetCapability(memref.CrateRuntime, memref.NewStaticCapability(16*1024*1024))
	return ctx
}

func u32p(v uint32) *uint32 { return &v }

func TestHandler_ReadWriteRoundTrip(t *testing.T) {
	ctx := newTestCtx(t)
	lm, err := NewProviderBacked(ctx, memref.CrateRuntime, Limits{Min: 1, Max: u32p(2)}, 2)
	require.NoError(t, err)
	h := NewHandler(lm, verify.Standard)
	defer h.Close()

	require.NoError(t, h.Write(100, []byte{1, 2, 3, 4}))
	buf := make([]byte, 4)
	require.NoError(t, h.Read(100, buf))
	require.Equal(t, []byte{1, 2, 3, 4}, buf)

	// Outside the written range remains zero.
	zeros := make([]byte, 4)
	require.NoError(t, h.Read(0, zeros))
	require.Equal(t, []byte{0, 0, 0, 0}, zeros)
}

func TestHandler_OutOfBounds(t *testing.T) {
	ctx := newTestCtx(t)
	lm, err := NewProviderBacked(ctx, memref.CrateRuntime, Limits{Min: 1, Max: u32p(1)}, 1)
	require.NoError(t, err)
	h := NewHandler(lm, verify.Standard)
	defer h.Close()

	err = h.Write(65533, []byte{1, 2, 3, 4})
	require.Error(t, err)
}

func TestHandler_GrowZeroInitializes(t *testing.T) {
	ctx := newTestCtx(t)
	lm, err := NewProviderBacked(ctx, memref.CrateRuntime, Limits{Min: 1, Max: u32p(3)}, 3)
	require.NoError(t, err)
	h := NewHandler(lm, verify.Off)
	defer h.Close()

	prev, err := h.Grow(1)
	require.NoError(t, err)
	require.EqualValues(t, 1, prev)
	require.EqualValues(t, 2, h.Size())

	buf := make([]byte, 4)
	require.NoError(t, h.Read(65600, buf))
	require.Equal(t, []byte{0, 0, 0, 0}, buf)
}

func TestHandler_GrowPastMaxFails(t *testing.T) {
	ctx := newTestCtx(t)
	lm, err := NewProviderBacked(ctx, memref.CrateRuntime, Limits{Min: 1, Max: u32p(1)}, 1)
	require.NoError(t, err)
	h := NewHandler(lm, verify.Off)
	defer h.Close()
	_, err = h.Grow(1)
	require.Error(t, err)
}

func TestHandler_IntegrityDetection(t *testing.T) {
	ctx := newTestCtx(t)
	lm, err := NewProviderBacked(ctx, memref.CrateRuntime, Limits{Min: 1, Max: u32p(1)}, 1)
	require.NoError(t, err)
	h := NewHandler(lm, verify.Full)
	defer h.Close()

	require.NoError(t, h.Write(0, []byte{1, 2, 3, 4, 5}))
	require.NoError(t, h.VerifyIntegrity())

	// Corrupt a byte directly, bypassing Write.
	h.mem.Bytes()[2] ^= 0xFF
	require.Error(t, h.VerifyIntegrity())
}

func TestCopyWithinOrBetween_Memmove(t *testing.T) {
	ctx := newTestCtx(t)
	lm, err := NewProviderBacked(ctx, memref.CrateRuntime, Limits{Min: 1, Max: u32p(1)}, 1)
	require.NoError(t, err)
	h := NewHandler(lm, verify.Standard)
	defer h.Close()

	require.NoError(t, h.Write(0, []byte{1, 2, 3, 4, 5}))
	// Overlapping copy shifting right by one.
	require.NoError(t, CopyWithinOrBetween(h, 1, h, 0, 5))
	buf := make([]byte, 6)
	require.NoError(t, h.Read(0, buf))
	require.Equal(t, []byte{1, 1, 2, 3, 4, 5}, buf)
}

func TestCopyWithinOrBetween_BoundsCheckedBeforeAnyWrite(t *testing.T) {
	ctx := newTestCtx(t)
	lm1, err := NewProviderBacked(ctx, memref.CrateRuntime, Limits{Min: 1, Max: u32p(1)}, 1)
	require.NoError(t, err)
	h1 := NewHandler(lm1, verify.Off)
	defer h1.Close()
	lm2, err := NewProviderBacked(ctx, memref.CrateRuntime, Limits{Min: 1, Max: u32p(1)}, 1)
	require.NoError(t, err)
	h2 := NewHandler(lm2, verify.Off)
	defer h2.Close()

	require.NoError(t, h1.Write(0, []byte{9, 9, 9, 9}))
	err = CopyWithinOrBetween(h2, 65533, h1, 0, 4) // dst out of bounds
	require.Error(t, err)

	zeros := make([]byte, 4)
	require.NoError(t, h2.Read(0, zeros))
	require.Equal(t, []byte{0, 0, 0, 0}, zeros) // untouched
}

func TestPlatformBackedLinearMemory(t *testing.T) {
	lm, err := NewPlatformBacked(pagealloc.NewHeapAllocator(), Limits{Min: 1, Max: u32p(2)})
	require.NoError(t, err)
	h := NewHandler(lm, verify.Standard)
	defer h.Close()
	require.NoError(t, h.Write(0, []byte{7, 7}))
	buf := make([]byte, 2)
	require.NoError(t, h.Read(0, buf))
	require.Equal(t, []byte{7, 7}, buf)
}
