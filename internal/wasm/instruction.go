package wasm

// Opcode identifies one decoded Wasm instruction. The binary decoder that
// produces these (spec §1: "OUT OF SCOPE (external collaborators)") is
// outside this module; the engine only ever consumes already-decoded
// Instruction values, mirroring how wazero's interpreter consumes
// wazeroir.Operation values rather than raw bytes.
type Opcode byte

const (
	OpUnreachable Opcode = iota
	OpNop

	// Control flow / structured blocks (spec 4.J "ControlFrame").
	OpBlock
	OpLoop
	OpIf
	OpElse
	OpEnd
	OpBr
	OpBrIf
	OpBrTable
	OpReturn
	OpCall
	OpCallIndirect

	// Parametric.
	OpDrop
	OpSelect

	// Variable access.
	OpLocalGet
	OpLocalSet
	OpLocalTee
	OpGlobalGet
	OpGlobalSet

	// Memory.
	OpI32Load
	OpI64Load
	OpF32Load
	OpF64Load
	OpI32Store
	OpI64Store
	OpF32Store
	OpF64Store
	OpMemorySize
	OpMemoryGrow
	OpMemoryCopy
	OpMemoryFill

	// Numeric constants.
	OpI32Const
	OpI64Const
	OpF32Const
	OpF64Const

	// i32 arithmetic / comparison.
	OpI32Add
	OpI32Sub
	OpI32Mul
	OpI32DivS
	OpI32DivU
	OpI32RemS
	OpI32RemU
	OpI32And
	OpI32Or
	OpI32Xor
	OpI32Eqz
	OpI32Eq
	OpI32Ne
	OpI32LtS
	OpI32LtU
	OpI32GtS
	OpI32GtU
	OpI32LeS
	OpI32LeU
	OpI32GeS
	OpI32GeU

	// i64 arithmetic / comparison (mirrors i32; engine dispatch reuses the
	// same code shaped differently per width).
	OpI64Add
	OpI64Sub
	OpI64Mul
	OpI64DivS
	OpI64DivU
	OpI64RemS
	OpI64RemU
	OpI64Eqz
	OpI64Eq
	OpI64LtS
	OpI64GeS

	// f32/f64 arithmetic (subset; scalar fallback path per spec §1
	// Non-goals: "SIMD acceleration beyond a scalar fallback path").
	OpF32Add
	OpF64Add

	// Table.
	OpTableGet
	OpTableSet
)

// Instruction is one element of a function body (spec 3, "Module":
// "functions carrying their type index and code"). Imm holds the
// instruction's immediate operands, interpreted according to Op:
//
//   - OpI32Const/OpI64Const: Imm[0] is the constant bit pattern.
//   - OpF32Const/OpF64Const: Imm[0] is the constant bit pattern.
//   - OpLocalGet/Set/Tee, OpGlobalGet/Set: Imm[0] is the index.
//   - OpBlock/OpLoop/OpIf: Imm[0] is the arity (0 or 1 result value);
//     EndPC/ElsePC are resolved by the frame's one-pass pre-scan (spec 4.J).
//   - OpBr/OpBrIf: Imm[0] is the relative control-frame depth N.
//   - OpBrTable: Imm holds the jump table followed by the default depth.
//   - OpCall: Imm[0] is the callee function index.
//   - OpCallIndirect: Imm[0] is the table index, Imm[1] the expected type index.
//   - Memory load/store: Imm[0] is the static offset, Imm[1] the alignment (unused for correctness).
//   - OpTableGet/OpTableSet: Imm[0] is the table index.
type Instruction struct {
	Op  Opcode
	Imm []uint64
}
