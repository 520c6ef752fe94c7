package component

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wrtgo/wrtgo/internal/memref"
	"github.com/wrtgo/wrtgo/internal/safemem"
	"github.com/wrtgo/wrtgo/internal/verify"
	"github.com/wrtgo/wrtgo/internal/wasm"
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

func newCoreInstance(t *testing.T) *wasm.Instance {
	t.Helper()
	lm, err := safemem.NewProviderBacked(newTestCtx(t), memref.CrateRuntime, safemem.Limits{Min: 1, Max: u32p(2)}, 2)
	require.NoError(t, err)
	h := safemem.NewHandler(lm, verify.Standard)
	return &wasm.Instance{Memories: []*safemem.Handler{h}}
}

func TestInstance_ZeroCopyLiftAliasesGuestMemory(t *testing.T) {
	core := newCoreInstance(t)
	require.NoError(t, core.Memories[0].Write(0, []byte("hello")))

	ci := NewInstance(ZeroCopy, 0, core)
	data, err := ci.LiftBytes(0, 0, 5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestInstance_BoundedCopyRejectsOversizedLift(t *testing.T) {
	core := newCoreInstance(t)
	require.NoError(t, core.Memories[0].Write(0, []byte("hello world")))

	ci := NewInstance(BoundedCopy, 4, core)
	_, err := ci.LiftBytes(0, 0, 11)
	require.Error(t, err)
}

func TestInstance_FullIsolationCopiesIndependentBuffer(t *testing.T) {
	core := newCoreInstance(t)
	require.NoError(t, core.Memories[0].Write(0, []byte("hello")))

	ci := NewInstance(FullIsolation, 0, core)
	data, err := ci.LiftBytes(0, 0, 5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	require.NoError(t, core.Memories[0].Write(0, []byte("HELLO")))
	require.Equal(t, "hello", string(data)) // isolated copy unaffected by the later write
}

func TestInstance_LowerBytesWritesIntoCoreMemory(t *testing.T) {
	core := newCoreInstance(t)
	ci := NewInstance(ZeroCopy, 0, core)

	require.NoError(t, ci.LowerBytes(0, 10, []byte("bye")))
	buf := make([]byte, 3)
	require.NoError(t, core.Memories[0].Read(10, buf))
	require.Equal(t, "bye", string(buf))
}

func TestInstance_CoreIndexOutOfRange(t *testing.T) {
	core := newCoreInstance(t)
	ci := NewInstance(ZeroCopy, 0, core)

	_, err := ci.LiftBytes(1, 0, 1)
	require.Error(t, err)
	require.Error(t, ci.LowerBytes(1, 0, []byte("x")))
}

func TestResourceTable_AddGetRemove(t *testing.T) {
	rt := NewResourceTable()
	id := rt.Add("file", 42)

	v, err := rt.Get(id)
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.True(t, rt.Contains(id))
	require.Equal(t, 1, rt.Len())

	removed, err := rt.Remove(id)
	require.NoError(t, err)
	require.Equal(t, 42, removed)
	require.False(t, rt.Contains(id))
}

func TestResourceTable_GetTypedRejectsMismatch(t *testing.T) {
	rt := NewResourceTable()
	id := rt.Add("file", 42)

	_, err := rt.GetTyped(id, "socket")
	require.Error(t, err)

	v, err := rt.GetTyped(id, "file")
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestResourceTable_UnknownIdFails(t *testing.T) {
	rt := NewResourceTable()
	_, err := rt.Get(ResourceId(999))
	require.Error(t, err)
	_, err = rt.TypeOf(ResourceId(999))
	require.Error(t, err)
	_, err = rt.Remove(ResourceId(999))
	require.Error(t, err)
}
