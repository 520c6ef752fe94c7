package wasm

import (
	"context"

	"github.com/wrtgo/wrtgo/internal/memref"
	"github.com/wrtgo/wrtgo/internal/safemem"
	"github.com/wrtgo/wrtgo/internal/verify"
	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// HostFunction is the ABI a host-implemented import satisfies (spec 4.L):
// a typed slice of Values in, a typed slice of Values or a trap out.
type HostFunction interface {
	Call(ctx context.Context, args []Value) ([]Value, error)
}

// FunctionInstance is one entry of an Instance's unified function index
// space: either a host import or a module-defined function (spec 4.I).
type FunctionInstance struct {
	Type    *FuncType
	IsHost  bool
	Host    HostFunction
	Defined *Function
	// InstanceID is this function's owning Instance, needed when resolving
	// call/call_indirect against imports that themselves close over a
	// different instance's memories/tables/globals.
	InstanceID uint32
}

// Instance is the linked runtime instance (spec 3/4.I): memory, table,
// global and function collections, addressed by index exactly as the
// Module declared them plus any imports prepended.
type Instance struct {
	ID uint32

	// Functions holds imported functions first, then defined functions,
	// per the Open Question resolution in spec §9: defined-function index
	// i sits at engine index ImportedFuncCount+i.
	Functions []*FunctionInstance
	Memories  []*safemem.Handler
	Tables    []*Table
	Globals   []*Global

	Exports map[string]ExportDesc
	Module  *Module

	// StartFuncIdx is resolved but not yet invoked when Instantiate
	// returns; running it (spec 4.I step 7) is the caller's (engine's)
	// responsibility since it requires the Stackless Engine.
	StartFuncIdx *uint32

	closers []func() error
}

// Close releases every memory/table this instance owns. Called on
// instantiation rollback, or explicit instance teardown.
func (inst *Instance) Close() error {
	var first error
	for i := len(inst.closers) - 1; i >= 0; i-- {
		if err := inst.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ImportValue is one resolved import, matching exactly one of the
// ExternKind-specific fields (spec 4.I step 1).
type ImportValue struct {
	Kind   ExternKind
	Func   *FunctionInstance
	Table  *Table
	Memory *safemem.Handler
	Global *Global
}

// ImportProvider resolves (module, name) to a previously instantiated
// export.
type ImportProvider func(module, name string) (ImportValue, bool)

// InstantiateConfig bounds resource sizing decisions that a real decoder
// would derive from the module's own declared limits; the facade picks
// these per ASIL preset.
type InstantiateConfig struct {
	Crate          memref.CrateId
	Level          verify.Level
	MemoryCapPages uint32 // provider capacity ceiling per memory
	TableCap       uint32 // provider capacity ceiling per table
}

// Instantiate performs spec 4.I steps 1-6 and 8 (import resolution through
// data segment initialization, then publication); step 7 (running Start)
// is left to the caller since it requires the Stackless Engine. On any
// failure, all resources acquired so far are released before returning,
// matching the "all-or-nothing" instantiation contract.
func Instantiate(ctx *memref.Context, cfg InstantiateConfig, module *Module, resolveImport ImportProvider, instanceID uint32) (inst *Instance, err error) {
	if err := validateModule(module); err != nil {
		return nil, err
	}

	inst = &Instance{ID: instanceID, Module: module, Exports: module.Exports}
	defer func() {
		if err != nil {
			_ = inst.Close()
			inst = nil
		}
	}()

	// Step 1: resolve imports.
	for _, imp := range module.Imports {
		resolved, ok := resolveImport(imp.Module, imp.Name)
		if !ok {
			return nil, wrterr.New(wrterr.KindImportMismatch, "unresolved import %s.%s", imp.Module, imp.Name).
				WithField("module", imp.Module).WithField("name", imp.Name)
		}
		if resolved.Kind != imp.Desc.Kind {
			return nil, wrterr.New(wrterr.KindImportMismatch, "import %s.%s kind mismatch", imp.Module, imp.Name)
		}
		switch imp.Desc.Kind {
		case ExternKindFunc:
			want := &module.Types[imp.Desc.TypeIdx]
			if !resolved.Func.Type.Equals(want) {
				return nil, wrterr.New(wrterr.KindImportMismatch, "import %s.%s signature mismatch", imp.Module, imp.Name)
			}
			inst.Functions = append(inst.Functions, resolved.Func)
		case ExternKindTable:
			inst.Tables = append(inst.Tables, resolved.Table)
		case ExternKindMemory:
			inst.Memories = append(inst.Memories, resolved.Memory)
		case ExternKindGlobal:
			inst.Globals = append(inst.Globals, resolved.Global)
		}
	}

	// Step 2: allocate memories.
	for _, mt := range module.Memories {
		capPages := cfg.MemoryCapPages
		if mt.Limits.Max != nil && *mt.Limits.Max < capPages {
			capPages = *mt.Limits.Max
		}
		if capPages < mt.Limits.Min {
			capPages = mt.Limits.Min
		}
		lm, merr := safemem.NewProviderBacked(ctx, cfg.Crate, mt.Limits, capPages)
		if merr != nil {
			return nil, merr
		}
		h := safemem.NewHandler(lm, cfg.Level)
		inst.closers = append(inst.closers, h.Close)
		inst.Memories = append(inst.Memories, h)
	}

	// Step 3: allocate tables.
	for _, tt := range module.Tables {
		cap := cfg.TableCap
		if tt.Limits.Max != nil && *tt.Limits.Max < cap {
			cap = *tt.Limits.Max
		}
		if cap < tt.Limits.Min {
			cap = tt.Limits.Min
		}
		tbl, terr := NewTable(ctx, cfg.Crate, tt.ElemType, tt.Limits.Min, tt.Limits.Max, cap, cfg.Level)
		if terr != nil {
			return nil, terr
		}
		inst.closers = append(inst.closers, tbl.Close)
		inst.Tables = append(inst.Tables, tbl)
	}

	// Step 4: create globals, evaluating init exprs against already
	// imported globals only (spec 4.I step 4).
	for _, gt := range module.Globals {
		g, gerr := evalGlobalInit(inst, gt)
		if gerr != nil {
			return nil, gerr
		}
		inst.Globals = append(inst.Globals, g)
	}

	// Step 5: initialize element segments.
	for _, seg := range module.Elements {
		if seg.Mode != SegmentModeActive {
			continue
		}
		offset, oerr := evalOffsetExpr(inst, seg.OffsetExpr)
		if oerr != nil {
			return nil, oerr
		}
		tbl := inst.Tables[seg.TableIdx]
		for i, v := range seg.Init {
			if werr := tbl.Set(offset+uint32(i), v); werr != nil {
				return nil, werr
			}
		}
	}

	// Step 6: initialize data segments.
	for _, seg := range module.Data {
		if seg.Mode != SegmentModeActive {
			continue
		}
		offset, oerr := evalOffsetExpr(inst, seg.OffsetExpr)
		if oerr != nil {
			return nil, oerr
		}
		mem := inst.Memories[seg.MemoryIdx]
		if werr := mem.Write(uint64(offset), seg.Init); werr != nil {
			return nil, werr
		}
	}

	// Defined functions occupy the tail of the unified index space (spec
	// §9 Open Question).
	for i := range module.Funcs {
		inst.Functions = append(inst.Functions, &FunctionInstance{
			Type:       &module.Types[module.Funcs[i].TypeIdx],
			Defined:    &module.Funcs[i],
			InstanceID: instanceID,
		})
	}

	inst.StartFuncIdx = module.Start
	return inst, nil
}

func validateModule(m *Module) error {
	seen := make(map[string]struct{}, len(m.Exports))
	for name := range m.Exports {
		if _, dup := seen[name]; dup {
			return wrterr.New(wrterr.KindDuplicateExport, "duplicate export %q", name)
		}
		seen[name] = struct{}{}
	}
	for _, exp := range m.Exports {
		switch exp.Kind {
		case ExternKindFunc:
			if exp.Idx >= uint32(len(m.Funcs))+m.ImportedFuncCount() {
				return wrterr.New(wrterr.KindExportNotFound, "export function index %d out of range", exp.Idx)
			}
		case ExternKindTable:
			if exp.Idx >= uint32(len(m.Tables)) {
				return wrterr.New(wrterr.KindExportNotFound, "export table index %d out of range", exp.Idx)
			}
		case ExternKindMemory:
			if exp.Idx >= uint32(len(m.Memories)) {
				return wrterr.New(wrterr.KindExportNotFound, "export memory index %d out of range", exp.Idx)
			}
		case ExternKindGlobal:
			if exp.Idx >= uint32(len(m.Globals)) {
				return wrterr.New(wrterr.KindExportNotFound, "export global index %d out of range", exp.Idx)
			}
		}
	}
	if m.Start != nil {
		idx := *m.Start
		total := m.ImportedFuncCount() + uint32(len(m.Funcs))
		if idx >= total {
			return wrterr.New(wrterr.KindInvalidFormat, "start function index %d out of range", idx)
		}
	}
	return nil
}

// evalConstOrGlobal evaluates the restricted constant-expression language
// allowed for global initializers and segment offsets: a single const
// instruction, or a global.get of an already-available (imported) global
// (spec 4.H: "active element segment offset expressions are constant").
func evalConstOrGlobal(inst *Instance, expr []Instruction) (Value, error) {
	if len(expr) != 1 {
		return Value{}, wrterr.New(wrterr.KindInvalidFormat, "constant expression must be exactly one instruction, got %d", len(expr))
	}
	in := expr[0]
	switch in.Op {
	case OpI32Const:
		return I32(int32(uint32(in.Imm[0]))), nil
	case OpI64Const:
		return I64(int64(in.Imm[0])), nil
	case OpF32Const:
		return FromBits(ValueTypeF32, in.Imm[0]), nil
	case OpF64Const:
		return FromBits(ValueTypeF64, in.Imm[0]), nil
	case OpGlobalGet:
		idx := uint32(in.Imm[0])
		if idx >= uint32(len(inst.Globals)) {
			return Value{}, wrterr.New(wrterr.KindIndexOutOfBounds, "global.get index %d out of range in const expr", idx)
		}
		return inst.Globals[idx].Get(), nil
	default:
		return Value{}, wrterr.New(wrterr.KindInvalidFormat, "opcode %d is not valid in a constant expression", in.Op)
	}
}

func evalGlobalInit(inst *Instance, gt GlobalType) (*Global, error) {
	if len(gt.Init) == 0 {
		return NewGlobal(gt.ValType, gt.Mutable, zeroValue(gt.ValType))
	}
	init, err := evalConstOrGlobal(inst, gt.Init)
	if err != nil {
		return nil, err
	}
	return NewGlobal(gt.ValType, gt.Mutable, init)
}

func zeroValue(t ValueType) Value {
	switch t {
	case ValueTypeI32:
		return I32(0)
	case ValueTypeI64:
		return I64(0)
	case ValueTypeF32:
		return F32(0)
	case ValueTypeF64:
		return F64(0)
	case ValueTypeFuncRef:
		return NullFuncRef()
	case ValueTypeExternRef:
		return NullExternRef()
	default:
		return Value{Type: t}
	}
}

func evalOffsetExpr(inst *Instance, expr []Instruction) (uint32, error) {
	v, err := evalConstOrGlobal(inst, expr)
	if err != nil {
		return 0, err
	}
	return v.U32(), nil
}
