package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wrtgo/wrtgo/internal/cfi"
	"github.com/wrtgo/wrtgo/internal/memref"
	"github.com/wrtgo/wrtgo/internal/safemem"
	"github.com/wrtgo/wrtgo/internal/verify"
	"github.com/wrtgo/wrtgo/internal/wasm"
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

func noImports(string, string) (wasm.ImportValue, bool) { return wasm.ImportValue{}, false }

func instantiate(t *testing.T, e *Engine, m *wasm.Module) *wasm.Instance {
	t.Helper()
	inst, err := e.Instantiate(m, noImports, wasm.InstantiateConfig{
		Crate: memref.CrateRuntime, Level: verify.Standard, MemoryCapPages: 4, TableCap: 8,
	})
	require.NoError(t, err)
	return inst
}

// get42 : () -> i32, returns the constant 42 (mirrors spec.md's S2 scenario).
func get42Module() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{{Results: []wasm.ValueType{wasm.ValueTypeI32}}},
		Funcs: []wasm.Function{{TypeIdx: 0, Body: []wasm.Instruction{
			{Op: wasm.OpI32Const, Imm: []uint64{42}},
			{Op: wasm.OpEnd},
		}}},
		Exports: map[string]wasm.ExportDesc{"get42": {Kind: wasm.ExternKindFunc, Idx: 0}},
	}
}

func TestCallFunction_ConstantReturn(t *testing.T) {
	e := New(newCtx(t), memref.CrateRuntime, verify.Standard, "test", cfi.Default())
	inst := instantiate(t, e, get42Module())

	results, err := e.CallFunction(context.Background(), inst, 0, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, int32(42), results[0].I32())

	stats := e.Stats.Snapshot()
	require.Equal(t, uint64(1), stats.FunctionCalls)
	require.Greater(t, stats.InstructionsExecuted, uint64(0))
}

// add : (i32, i32) -> i32.
func addModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{{Params: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}}},
		Funcs: []wasm.Function{{TypeIdx: 0, Body: []wasm.Instruction{
			{Op: wasm.OpLocalGet, Imm: []uint64{0}},
			{Op: wasm.OpLocalGet, Imm: []uint64{1}},
			{Op: wasm.OpI32Add},
			{Op: wasm.OpEnd},
		}}},
		Exports: map[string]wasm.ExportDesc{"add": {Kind: wasm.ExternKindFunc, Idx: 0}},
	}
}

func TestCallFunction_LocalsAndArithmetic(t *testing.T) {
	e := New(newCtx(t), memref.CrateRuntime, verify.Standard, "test", cfi.Default())
	inst := instantiate(t, e, addModule())

	results, err := e.CallFunction(context.Background(), inst, 0, []wasm.Value{wasm.I32(19), wasm.I32(23)})
	require.NoError(t, err)
	require.Equal(t, int32(42), results[0].I32())
}

// callerCallee : caller calls callee(21) and doubles the result via
// OpCall, exercising the stackless frame-stack push/pop path.
func callerCalleeModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValueType{wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}}, // 0: i32->i32
			{Results: []wasm.ValueType{wasm.ValueTypeI32}},                                              // 1: ()->i32
		},
		Funcs: []wasm.Function{
			{TypeIdx: 0, Body: []wasm.Instruction{ // callee: double its argument
				{Op: wasm.OpLocalGet, Imm: []uint64{0}},
				{Op: wasm.OpLocalGet, Imm: []uint64{0}},
				{Op: wasm.OpI32Add},
				{Op: wasm.OpEnd},
			}},
			{TypeIdx: 1, Body: []wasm.Instruction{ // caller: calls callee(21)
				{Op: wasm.OpI32Const, Imm: []uint64{21}},
				{Op: wasm.OpCall, Imm: []uint64{0}},
				{Op: wasm.OpEnd},
			}},
		},
		Exports: map[string]wasm.ExportDesc{"caller": {Kind: wasm.ExternKindFunc, Idx: 1}},
	}
}

func TestCallFunction_NestedCall(t *testing.T) {
	e := New(newCtx(t), memref.CrateRuntime, verify.Standard, "test", cfi.Default())
	inst := instantiate(t, e, callerCalleeModule())

	results, err := e.CallFunction(context.Background(), inst, 1, nil)
	require.NoError(t, err)
	require.Equal(t, int32(42), results[0].I32())

	stats := e.Stats.Snapshot()
	require.EqualValues(t, 2, stats.MaxCallDepth)
}

// callIndirectModule puts a (i32)->i32 function at table index 0 (spec S6)
// and calls it through call_indirect, the way a vtable dispatch would —
// table index 0 holding function index 0 must not be confused with the
// null/uninitialized element.
func callIndirectModule() *wasm.Module {
	one := uint32(1)
	return &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValueType{wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}}, // 0: i32->i32
			{Results: []wasm.ValueType{wasm.ValueTypeI32}},                                              // 1: ()->i32
		},
		Tables: []wasm.TableType{{ElemType: wasm.ValueTypeFuncRef, Limits: safemem.Limits{Min: 1, Max: &one}}},
		Funcs: []wasm.Function{
			{TypeIdx: 0, Body: []wasm.Instruction{ // index 0: double its argument
				{Op: wasm.OpLocalGet, Imm: []uint64{0}},
				{Op: wasm.OpLocalGet, Imm: []uint64{0}},
				{Op: wasm.OpI32Add},
				{Op: wasm.OpEnd},
			}},
			{TypeIdx: 1, Body: []wasm.Instruction{ // caller: call_indirect table[0](21)
				{Op: wasm.OpI32Const, Imm: []uint64{21}},
				{Op: wasm.OpI32Const, Imm: []uint64{0}},
				{Op: wasm.OpCallIndirect, Imm: []uint64{0, 0}},
				{Op: wasm.OpEnd},
			}},
		},
		Elements: []wasm.ElementSegment{{
			Mode:       wasm.SegmentModeActive,
			TableIdx:   0,
			OffsetExpr: []wasm.Instruction{{Op: wasm.OpI32Const, Imm: []uint64{0}}},
			ElemType:   wasm.ValueTypeFuncRef,
			Init:       []wasm.Value{wasm.FuncRef(0)},
		}},
		Exports: map[string]wasm.ExportDesc{"caller": {Kind: wasm.ExternKindFunc, Idx: 1}},
	}
}

func TestCallFunction_CallIndirectThroughTableIndexZero(t *testing.T) {
	e := New(newCtx(t), memref.CrateRuntime, verify.Standard, "test", cfi.Default())
	inst := instantiate(t, e, callIndirectModule())

	results, err := e.CallFunction(context.Background(), inst, 1, nil)
	require.NoError(t, err)
	require.Equal(t, int32(42), results[0].I32())
}

func TestCallFunction_CfiShadowStackBalancedOnNormalReturn(t *testing.T) {
	desc := cfi.Descriptor{Level: cfi.ProtectionSoftware, MaxShadowStackDepth: 4, ViolationPolicy: cfi.ViolationReturnError}
	e := New(newCtx(t), memref.CrateRuntime, verify.Standard, "test", desc)
	inst := instantiate(t, e, callerCalleeModule())

	results, err := e.CallFunction(context.Background(), inst, 1, nil)
	require.NoError(t, err)
	require.Equal(t, int32(42), results[0].I32())
	require.EqualValues(t, 0, e.shadow.Depth()) // every OpCall's push is balanced by its return's pop
}

func TestCallFunction_CfiRejectsCallDepthBeyondShadowStack(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{Results: []wasm.ValueType{wasm.ValueTypeI32}}},
		Funcs: []wasm.Function{{TypeIdx: 0, Body: []wasm.Instruction{
			{Op: wasm.OpCall, Imm: []uint64{0}}, // infinitely recurses
			{Op: wasm.OpEnd},
		}}},
		Exports: map[string]wasm.ExportDesc{"loop": {Kind: wasm.ExternKindFunc, Idx: 0}},
	}
	desc := cfi.Descriptor{Level: cfi.ProtectionSoftware, MaxShadowStackDepth: 4, ViolationPolicy: cfi.ViolationReturnError}
	e := New(newCtx(t), memref.CrateRuntime, verify.Standard, "test", desc)
	e.SetMaxFrames(1024) // shadow stack's own cap of 4 should trip first
	inst := instantiate(t, e, m)

	_, err := e.CallFunction(context.Background(), inst, 0, nil)
	require.Error(t, err)
}

// blockBranch : block carrying an i32 result, branched out of early via br.
func blockBranchModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{{Results: []wasm.ValueType{wasm.ValueTypeI32}}},
		Funcs: []wasm.Function{{TypeIdx: 0, Body: []wasm.Instruction{
			{Op: wasm.OpBlock, Imm: []uint64{1}},
			{Op: wasm.OpI32Const, Imm: []uint64{7}},
			{Op: wasm.OpBr, Imm: []uint64{0}},
			{Op: wasm.OpI32Const, Imm: []uint64{99}}, // unreachable, never pushed
			{Op: wasm.OpEnd},
			{Op: wasm.OpEnd},
		}}},
		Exports: map[string]wasm.ExportDesc{"run": {Kind: wasm.ExternKindFunc, Idx: 0}},
	}
}

func TestCallFunction_BranchCarriesResultArity(t *testing.T) {
	e := New(newCtx(t), memref.CrateRuntime, verify.Standard, "test", cfi.Default())
	inst := instantiate(t, e, blockBranchModule())

	results, err := e.CallFunction(context.Background(), inst, 0, nil)
	require.NoError(t, err)
	require.Equal(t, int32(7), results[0].I32())
}

// loopModule counts a local down from 3 to 0, summing as it goes, entirely
// via Loop/BrIf (no Call), exercising findLoopStart's backward branch.
func loopModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{{Results: []wasm.ValueType{wasm.ValueTypeI32}}},
		Funcs: []wasm.Function{{TypeIdx: 0, LocalTypes: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, Body: []wasm.Instruction{
			{Op: wasm.OpI32Const, Imm: []uint64{3}},
			{Op: wasm.OpLocalSet, Imm: []uint64{0}}, // local0 = counter
			{Op: wasm.OpLoop, Imm: []uint64{0}},
			{Op: wasm.OpLocalGet, Imm: []uint64{1}}, // sum += counter
			{Op: wasm.OpLocalGet, Imm: []uint64{0}},
			{Op: wasm.OpI32Add},
			{Op: wasm.OpLocalSet, Imm: []uint64{1}},
			{Op: wasm.OpLocalGet, Imm: []uint64{0}}, // counter -= 1
			{Op: wasm.OpI32Const, Imm: []uint64{1}},
			{Op: wasm.OpI32Sub},
			{Op: wasm.OpLocalSet, Imm: []uint64{0}},
			{Op: wasm.OpLocalGet, Imm: []uint64{0}},
			{Op: wasm.OpBrIf, Imm: []uint64{0}}, // loop while counter != 0
			{Op: wasm.OpEnd},
			{Op: wasm.OpLocalGet, Imm: []uint64{1}},
			{Op: wasm.OpEnd},
		}}},
		Exports: map[string]wasm.ExportDesc{"run": {Kind: wasm.ExternKindFunc, Idx: 0}},
	}
}

func TestCallFunction_Loop(t *testing.T) {
	e := New(newCtx(t), memref.CrateRuntime, verify.Standard, "test", cfi.Default())
	inst := instantiate(t, e, loopModule())

	results, err := e.CallFunction(context.Background(), inst, 0, nil)
	require.NoError(t, err)
	require.Equal(t, int32(3+2+1), results[0].I32())
}

func TestCallFunction_OutOfFuelTraps(t *testing.T) {
	e := New(newCtx(t), memref.CrateRuntime, verify.Standard, "test", cfi.Default())
	inst := instantiate(t, e, get42Module())
	e.SetFuel(0)

	_, err := e.CallFunction(context.Background(), inst, 0, nil)
	require.Error(t, err)
	require.EqualValues(t, 0, e.FuelRemaining())
}

func TestCallFunction_CallDepthExceededTraps(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{Results: []wasm.ValueType{wasm.ValueTypeI32}}},
		Funcs: []wasm.Function{{TypeIdx: 0, Body: []wasm.Instruction{
			{Op: wasm.OpCall, Imm: []uint64{0}}, // infinitely recurses
			{Op: wasm.OpEnd},
		}}},
		Exports: map[string]wasm.ExportDesc{"loop": {Kind: wasm.ExternKindFunc, Idx: 0}},
	}
	e := New(newCtx(t), memref.CrateRuntime, verify.Standard, "test", cfi.Default())
	e.SetMaxFrames(8)
	inst := instantiate(t, e, m)

	_, err := e.CallFunction(context.Background(), inst, 0, nil)
	require.Error(t, err)
}

func TestCallFunction_UnreachableTraps(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Funcs: []wasm.Function{{TypeIdx: 0, Body: []wasm.Instruction{{Op: wasm.OpUnreachable}, {Op: wasm.OpEnd}}}},
		Exports: map[string]wasm.ExportDesc{"trap": {Kind: wasm.ExternKindFunc, Idx: 0}},
	}
	e := New(newCtx(t), memref.CrateRuntime, verify.Standard, "test", cfi.Default())
	inst := instantiate(t, e, m)

	_, err := e.CallFunction(context.Background(), inst, 0, nil)
	require.Error(t, err)
}

func TestFuelCost_ScalesByVerificationLevel(t *testing.T) {
	costs := DefaultFuelCosts
	require.EqualValues(t, 5, costs.Cost(wasm.OpCall, verify.Off))
	require.EqualValues(t, 6, costs.Cost(wasm.OpCall, verify.Sampling)) // 5*1.25=6.25, rounds down to 6
}

func TestRoundHalfToEven(t *testing.T) {
	require.EqualValues(t, 2, roundHalfToEven(2.5))
	require.EqualValues(t, 4, roundHalfToEven(3.5))
	require.EqualValues(t, 1, roundHalfToEven(1.2))
	require.EqualValues(t, 2, roundHalfToEven(1.8))
}

func TestScanJumpTargets(t *testing.T) {
	body := []wasm.Instruction{
		{Op: wasm.OpBlock, Imm: []uint64{0}}, // 0
		{Op: wasm.OpIf, Imm: []uint64{0}},    // 1
		{Op: wasm.OpElse},                    // 2
		{Op: wasm.OpEnd},                     // 3 (closes If at 1)
		{Op: wasm.OpEnd},                     // 4 (closes Block at 0)
	}
	jt := scanJumpTargets(body)
	require.EqualValues(t, 4, jt.end[0])
	require.EqualValues(t, 3, jt.end[1])
	require.EqualValues(t, 2, jt.els[1])
}

func TestEngine_ValidateDetectsNoCorruption(t *testing.T) {
	e := New(newCtx(t), memref.CrateRuntime, verify.Full, "test", cfi.Default())
	instantiate(t, e, get42Module())
	require.NoError(t, e.Validate())
}
