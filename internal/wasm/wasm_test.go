package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wrtgo/wrtgo/internal/memref"
	"github.com/wrtgo/wrtgo/internal/safemem"
	"github.com/wrtgo/wrtgo/internal/verify"
)

func newCtx(t *testing.T) *memref.Context {
	t.Helper()
	c := memref.NewCoordinator()
	var q [11]uint64
	for i := range q {
		q[i] = 1 << 24
	}
	require.NoError(t, c.Initialize(q, 1<<28))
	ctx := memref.NewContext(c)
	for i := 0; i < memref.CrateCount(); i++ {
		ctx.SetCapability(memref.CrateId(i), memref.NewStaticCapability(1<<24))
	}
	return ctx
}

func TestValue_BitsRoundTrip(t *testing.T) {
	v := F64(3.5)
	got := FromBits(ValueTypeF64, v.Bits())
	require.Equal(t, 3.5, got.F64())

	require.True(t, NullFuncRef().RefIsNull())
	require.False(t, FuncRef(1).RefIsNull())
}

func TestFuncType_Equals(t *testing.T) {
	a := &FuncType{Params: []ValueType{ValueTypeI32, ValueTypeI64}, Results: []ValueType{ValueTypeI32}}
	b := &FuncType{Params: []ValueType{ValueTypeI32, ValueTypeI64}, Results: []ValueType{ValueTypeI32}}
	c := &FuncType{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeI32}}
	require.True(t, a.Equals(b))
	require.False(t, a.Equals(c))
}

func TestGlobal_SetImmutableRejected(t *testing.T) {
	g, err := NewGlobal(ValueTypeI32, false, I32(7))
	require.NoError(t, err)
	require.Equal(t, int32(7), g.Get().I32())
	require.Error(t, g.Set(I32(8)))
}

func TestGlobal_TypeMismatchOnInit(t *testing.T) {
	_, err := NewGlobal(ValueTypeI32, true, I64(1))
	require.Error(t, err)
}

func TestTable_GrowFillCopy(t *testing.T) {
	ctx := newCtx(t)
	max := uint32(16)
	tbl, err := NewTable(ctx, memref.CrateRuntime, ValueTypeFuncRef, 2, &max, 16, verify.Standard)
	require.NoError(t, err)
	defer tbl.Close()

	require.EqualValues(t, 2, tbl.Len())
	prev, err := tbl.Grow(4, FuncRef(9))
	require.NoError(t, err)
	require.EqualValues(t, 2, prev)
	require.EqualValues(t, 6, tbl.Len())

	require.NoError(t, tbl.Fill(0, 2, FuncRef(3)))
	v, err := tbl.Get(0)
	require.NoError(t, err)
	idx, ok := v.FuncIndex()
	require.True(t, ok)
	require.EqualValues(t, 3, idx)

	require.NoError(t, tbl.Copy(4, 0, 2))
	v, err = tbl.Get(4)
	require.NoError(t, err)
	idx, ok = v.FuncIndex()
	require.True(t, ok)
	require.EqualValues(t, 3, idx)

	_, err = tbl.Grow(100, FuncRef(0))
	require.Error(t, err) // exceeds max
}

func TestTable_WrongElementTypeRejected(t *testing.T) {
	ctx := newCtx(t)
	tbl, err := NewTable(ctx, memref.CrateRuntime, ValueTypeFuncRef, 1, nil, 8, verify.Standard)
	require.NoError(t, err)
	defer tbl.Close()

	require.Error(t, tbl.Set(0, ExternRef(1)))
}

func simpleModule() *Module {
	return &Module{
		Types: []FuncType{{Results: []ValueType{ValueTypeI32}}},
		Funcs: []Function{{TypeIdx: 0, Body: []Instruction{{Op: OpI32Const, Imm: []uint64{42}}, {Op: OpEnd}}}},
		Globals: []GlobalType{
			{ValType: ValueTypeI32, Mutable: true, Init: []Instruction{{Op: OpI32Const, Imm: []uint64{5}}}},
		},
		Memories: []MemoryType{{Limits: limits(1, 2)}},
		Tables:   []TableType{{ElemType: ValueTypeFuncRef, Limits: limits(1, 4)}},
		Exports: map[string]ExportDesc{
			"answer": {Kind: ExternKindFunc, Idx: 0},
		},
		Data: []DataSegment{
			{Mode: SegmentModeActive, MemoryIdx: 0, OffsetExpr: []Instruction{{Op: OpI32Const, Imm: []uint64{0}}}, Init: []byte{1, 2, 3, 4}},
		},
	}
}

func TestInstantiate_HappyPath(t *testing.T) {
	ctx := newCtx(t)
	cfg := InstantiateConfig{Crate: memref.CrateRuntime, Level: verify.Standard, MemoryCapPages: 4, TableCap: 8}
	noImports := func(string, string) (ImportValue, bool) { return ImportValue{}, false }

	inst, err := Instantiate(ctx, cfg, simpleModule(), noImports, 1)
	require.NoError(t, err)
	defer inst.Close()

	require.Len(t, inst.Memories, 1)
	require.Len(t, inst.Tables, 1)
	require.Len(t, inst.Globals, 1)
	require.Equal(t, int32(5), inst.Globals[0].Get().I32())

	buf := make([]byte, 4)
	require.NoError(t, inst.Memories[0].Read(0, buf))
	require.Equal(t, []byte{1, 2, 3, 4}, buf)

	require.Len(t, inst.Functions, 1)
	require.Equal(t, simpleModule().Funcs[0].Body[0].Op, inst.Functions[0].Defined.Body[0].Op)
}

func TestInstantiate_ImportMismatch(t *testing.T) {
	ctx := newCtx(t)
	m := simpleModule()
	m.Imports = []Import{{Module: "env", Name: "missing", Desc: ImportDesc{Kind: ExternKindFunc, TypeIdx: 0}}}

	cfg := InstantiateConfig{Crate: memref.CrateRuntime, Level: verify.Standard, MemoryCapPages: 4, TableCap: 8}
	noImports := func(string, string) (ImportValue, bool) { return ImportValue{}, false }

	_, err := Instantiate(ctx, cfg, m, noImports, 1)
	require.Error(t, err)
}

func TestInstantiate_ExportIndexOutOfRangeRejected(t *testing.T) {
	ctx := newCtx(t)
	m := simpleModule()
	m.Exports["bogus"] = ExportDesc{Kind: ExternKindFunc, Idx: 99}

	cfg := InstantiateConfig{Crate: memref.CrateRuntime, Level: verify.Standard, MemoryCapPages: 4, TableCap: 8}
	noImports := func(string, string) (ImportValue, bool) { return ImportValue{}, false }

	_, err := Instantiate(ctx, cfg, m, noImports, 1)
	require.Error(t, err)
}

func limits(min uint32, max uint32) safemem.Limits {
	return safemem.Limits{Min: min, Max: &max}
}
