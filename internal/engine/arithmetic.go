package engine

import (
	"github.com/wrtgo/wrtgo/internal/wasm"
	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// arithmetic dispatches the numeric opcodes not handled inline by step:
// i32's full arithmetic/comparison set, i64's subset, and the f32/f64
// scalar-fallback Add (spec §1 Non-goals: "SIMD acceleration beyond a
// scalar fallback path").
func (e *Engine) arithmetic(top *execFrame, in wasm.Instruction) (uint32, bool, error) {
	switch in.Op {
	case wasm.OpI32Eqz:
		v, err := top.Operands.Pop()
		if err != nil {
			return 0, false, err
		}
		return top.PC + 1, false, top.Operands.Push(boolI32(v.I32() == 0))
	case wasm.OpI64Eqz:
		v, err := top.Operands.Pop()
		if err != nil {
			return 0, false, err
		}
		return top.PC + 1, false, top.Operands.Push(boolI32(v.I64() == 0))
	}

	b, err := top.Operands.Pop()
	if err != nil {
		return 0, false, err
	}
	a, err := top.Operands.Pop()
	if err != nil {
		return 0, false, err
	}

	var result wasm.Value
	switch in.Op {
	case wasm.OpI32Add:
		result = wasm.I32(a.I32() + b.I32())
	case wasm.OpI32Sub:
		result = wasm.I32(a.I32() - b.I32())
	case wasm.OpI32Mul:
		result = wasm.I32(a.I32() * b.I32())
	case wasm.OpI32DivS:
		if b.I32() == 0 {
			return 0, false, wrterr.New(wrterr.KindDivideByZero, "i32.div_s by zero")
		}
		if a.I32() == -2147483648 && b.I32() == -1 {
			return 0, false, wrterr.New(wrterr.KindIntegerOverflow, "i32.div_s overflow")
		}
		result = wasm.I32(a.I32() / b.I32())
	case wasm.OpI32DivU:
		if b.U32() == 0 {
			return 0, false, wrterr.New(wrterr.KindDivideByZero, "i32.div_u by zero")
		}
		result = wasm.I32(int32(a.U32() / b.U32()))
	case wasm.OpI32RemS:
		if b.I32() == 0 {
			return 0, false, wrterr.New(wrterr.KindDivideByZero, "i32.rem_s by zero")
		}
		result = wasm.I32(a.I32() % b.I32())
	case wasm.OpI32RemU:
		if b.U32() == 0 {
			return 0, false, wrterr.New(wrterr.KindDivideByZero, "i32.rem_u by zero")
		}
		result = wasm.I32(int32(a.U32() % b.U32()))
	case wasm.OpI32And:
		result = wasm.I32(a.I32() & b.I32())
	case wasm.OpI32Or:
		result = wasm.I32(a.I32() | b.I32())
	case wasm.OpI32Xor:
		result = wasm.I32(a.I32() ^ b.I32())
	case wasm.OpI32Eq:
		result = boolI32(a.I32() == b.I32())
	case wasm.OpI32Ne:
		result = boolI32(a.I32() != b.I32())
	case wasm.OpI32LtS:
		result = boolI32(a.I32() < b.I32())
	case wasm.OpI32LtU:
		result = boolI32(a.U32() < b.U32())
	case wasm.OpI32GtS:
		result = boolI32(a.I32() > b.I32())
	case wasm.OpI32GtU:
		result = boolI32(a.U32() > b.U32())
	case wasm.OpI32LeS:
		result = boolI32(a.I32() <= b.I32())
	case wasm.OpI32LeU:
		result = boolI32(a.U32() <= b.U32())
	case wasm.OpI32GeS:
		result = boolI32(a.I32() >= b.I32())
	case wasm.OpI32GeU:
		result = boolI32(a.U32() >= b.U32())

	case wasm.OpI64Add:
		result = wasm.I64(a.I64() + b.I64())
	case wasm.OpI64Sub:
		result = wasm.I64(a.I64() - b.I64())
	case wasm.OpI64Mul:
		result = wasm.I64(a.I64() * b.I64())
	case wasm.OpI64DivS:
		if b.I64() == 0 {
			return 0, false, wrterr.New(wrterr.KindDivideByZero, "i64.div_s by zero")
		}
		if a.I64() == -9223372036854775808 && b.I64() == -1 {
			return 0, false, wrterr.New(wrterr.KindIntegerOverflow, "i64.div_s overflow")
		}
		result = wasm.I64(a.I64() / b.I64())
	case wasm.OpI64DivU:
		if b.U64() == 0 {
			return 0, false, wrterr.New(wrterr.KindDivideByZero, "i64.div_u by zero")
		}
		result = wasm.I64(int64(a.U64() / b.U64()))
	case wasm.OpI64RemS:
		if b.I64() == 0 {
			return 0, false, wrterr.New(wrterr.KindDivideByZero, "i64.rem_s by zero")
		}
		result = wasm.I64(a.I64() % b.I64())
	case wasm.OpI64RemU:
		if b.U64() == 0 {
			return 0, false, wrterr.New(wrterr.KindDivideByZero, "i64.rem_u by zero")
		}
		result = wasm.I64(int64(a.U64() % b.U64()))
	case wasm.OpI64Eq:
		result = boolI32(a.I64() == b.I64())
	case wasm.OpI64LtS:
		result = boolI32(a.I64() < b.I64())
	case wasm.OpI64GeS:
		result = boolI32(a.I64() >= b.I64())

	case wasm.OpF32Add:
		result = wasm.F32(a.F32() + b.F32())
	case wasm.OpF64Add:
		result = wasm.F64(a.F64() + b.F64())

	default:
		return 0, false, wrterr.New(wrterr.KindInvalidFormat, "unimplemented opcode %d", in.Op)
	}
	return top.PC + 1, false, top.Operands.Push(result)
}

func boolI32(v bool) wasm.Value {
	if v {
		return wasm.I32(1)
	}
	return wasm.I32(0)
}
