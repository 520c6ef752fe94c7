package wasm

import "github.com/wrtgo/wrtgo/internal/safemem"

// ExternKind classifies an import/export (spec 4.H).
type ExternKind byte

const (
	ExternKindFunc ExternKind = iota
	ExternKindTable
	ExternKindMemory
	ExternKindGlobal
)

// ImportDesc describes one import's kind-specific type (spec 4.H).
type ImportDesc struct {
	Kind     ExternKind
	TypeIdx  uint32 // valid when Kind == ExternKindFunc
	Table    *TableType
	Memory   *MemoryType
	Global   *GlobalType
}

// Import is one entry of the module's import section, in declaration
// order (spec 4.H: "imports listed in declaration order with fully
// qualified (module_name, field_name, desc)").
type Import struct {
	Module string
	Name   string
	Desc   ImportDesc
}

// TableType describes a table's element type and limits.
type TableType struct {
	ElemType ValueType
	Limits   safemem.Limits
}

// MemoryType describes a memory's limits, in pages.
type MemoryType struct {
	Limits safemem.Limits
}

// GlobalType describes a global's value type, mutability, and its init
// expression (spec 4.H/4.I: a constant expression evaluated against
// already-available imported globals at instantiation time).
type GlobalType struct {
	ValType ValueType
	Mutable bool
	Init    []Instruction
}

// Function is a module-defined function: its signature (by type index),
// local declarations beyond its parameters, and decoded body (spec 4.H).
type Function struct {
	TypeIdx    uint32
	LocalTypes []ValueType
	Body       []Instruction
}

// ExportDesc names one exported entity.
type ExportDesc struct {
	Kind ExternKind
	Idx  uint32
}

// SegmentMode classifies how an element/data segment is initialized (spec
// 4.H).
type SegmentMode byte

const (
	SegmentModeActive SegmentMode = iota
	SegmentModePassive
	SegmentModeDeclarative
)

// ElementSegment is an element segment (funcref/externref initializers).
type ElementSegment struct {
	Mode       SegmentMode
	TableIdx   uint32 // valid when Mode == Active
	OffsetExpr []Instruction
	ElemType   ValueType
	Init       []Value
}

// DataSegment is a data segment (byte initializers for linear memory).
type DataSegment struct {
	Mode       SegmentMode
	MemoryIdx  uint32 // valid when Mode == Active
	OffsetExpr []Instruction
	Init       []byte
}

// CustomSection is opaque to the core (spec 4.H).
type CustomSection struct {
	Name string
	Data []byte
}

// Module is the parsed, not-yet-validated module image produced by the
// external decoder (spec 4.H). Instantiate validates the invariants named
// in spec 4.H ("all indices in range; exports unique by name; ...") before
// using any of this structure.
type Module struct {
	Types   []FuncType
	Imports []Import

	// Funcs holds only module-defined functions; imported functions are
	// addressed through Imports and occupy indices [0, len(importedFuncs))
	// ahead of these in the unified function index space (spec §9 Open
	// Question: "the engine implementation prepends imported functions to
	// the function table so that defined-function index i corresponds to
	// engine index imported_count + i" — this module documents and
	// implements exactly that offset, see ImportedFuncCount and
	// Instance.Functions).
	Funcs []Function

	Tables  []TableType
	Memories []MemoryType
	Globals []GlobalType

	Exports map[string]ExportDesc

	Elements []ElementSegment
	Data     []DataSegment

	Start *uint32

	Custom []CustomSection
}

// ImportedFuncCount returns how many of Imports are function imports,
// which is the offset added to a defined function's index in Funcs to reach
// its slot in the unified engine function index space.
func (m *Module) ImportedFuncCount() uint32 {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Desc.Kind == ExternKindFunc {
			n++
		}
	}
	return n
}
