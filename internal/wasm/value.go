// Package wasm holds the runtime-facing Wasm data model shared by the
// engine and instance layers: value types, tables, globals, modules and
// instances (spec 4.F-4.I).
package wasm

import "math"

// ValueType is the Wasm value type tag (spec 3, "Value").
type ValueType byte

const (
	ValueTypeI32       ValueType = 0x7f
	ValueTypeI64       ValueType = 0x7e
	ValueTypeF32       ValueType = 0x7d
	ValueTypeF64       ValueType = 0x7c
	ValueTypeV128      ValueType = 0x7b
	ValueTypeFuncRef   ValueType = 0x70
	ValueTypeExternRef ValueType = 0x6f
)

func (t ValueType) String() string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeV128:
		return "v128"
	case ValueTypeFuncRef:
		return "funcref"
	case ValueTypeExternRef:
		return "externref"
	default:
		return "unknown"
	}
}

// IsReferenceType reports whether t is funcref or externref.
func (t ValueType) IsReferenceType() bool {
	return t == ValueTypeFuncRef || t == ValueTypeExternRef
}

// Value is a tagged union over the Wasm value types (spec 3, "Value"). Like
// wazero's interpreter, the 64-bit payload always holds the raw bit pattern:
// floats are never compared by IEEE equality through this representation,
// only through the typed accessors below, which keeps FloatBitsN's
// Eq/Hash-by-bits guarantee (spec 3) trivially true — Value itself IS the
// bit pattern.
type Value struct {
	Type ValueType
	bits uint64
}

// I32 constructs an i32 value.
func I32(v int32) Value { return Value{Type: ValueTypeI32, bits: uint64(uint32(v))} }

// I64 constructs an i64 value.
func I64(v int64) Value { return Value{Type: ValueTypeI64, bits: uint64(v)} }

// F32 constructs an f32 value from its bit pattern's float interpretation.
func F32(v float32) Value { return Value{Type: ValueTypeF32, bits: uint64(math.Float32bits(v))} }

// F64 constructs an f64 value.
func F64(v float64) Value { return Value{Type: ValueTypeF64, bits: math.Float64bits(v)} }

// FuncRef constructs a funcref value for real function index idx. Wasm's
// FuncRef is Option<FuncId> (spec 3) and Go has no niche-optimized Option,
// so the bit pattern stores idx+1, reserving bits==0 for the null
// reference — function index 0 is a perfectly valid call target (spec S6)
// and must not collide with null. Use FuncIndex, never Bits/U32, to
// recover idx.
func FuncRef(idx uint32) Value { return Value{Type: ValueTypeFuncRef, bits: uint64(idx) + 1} }

// NullFuncRef is the uninitialized/null function reference.
func NullFuncRef() Value { return Value{Type: ValueTypeFuncRef, bits: 0} }

// FuncIndex recovers the real function index a FuncRef value encodes,
// undoing the +1 null-disambiguation offset. ok is false for the null
// reference, in which case idx is meaningless.
func (v Value) FuncIndex() (idx uint32, ok bool) {
	if v.bits == 0 {
		return 0, false
	}
	return uint32(v.bits - 1), true
}

// ExternRef constructs an externref value; 0 is null, mirroring FuncRef.
func ExternRef(id uint32) Value { return Value{Type: ValueTypeExternRef, bits: uint64(id)} }

// NullExternRef is the uninitialized/null external reference.
func NullExternRef() Value { return Value{Type: ValueTypeExternRef, bits: 0} }

// Bits returns the raw uint64 payload, which ValueCodec stores after the
// type tag on the engine's operand stack (a bound.Stack[Value]).
func (v Value) Bits() uint64 { return v.bits }

// FromBits reconstructs a typed Value from a raw bit pattern and its type,
// the inverse used when popping the operand stack.
func FromBits(t ValueType, bits uint64) Value { return Value{Type: t, bits: bits} }

func (v Value) I32() int32 { return int32(uint32(v.bits)) }
func (v Value) U32() uint32 { return uint32(v.bits) }
func (v Value) I64() int64 { return int64(v.bits) }
func (v Value) U64() uint64 { return v.bits }
func (v Value) F32() float32 { return math.Float32frombits(uint32(v.bits)) }
func (v Value) F64() float64 { return math.Float64frombits(v.bits) }

// RefIsNull reports whether a func/externref value is the null reference.
func (v Value) RefIsNull() bool { return v.bits == 0 }

// FuncType is a function signature (spec 3, "FuncType").
type FuncType struct {
	Params  []ValueType
	Results []ValueType
}

// Equals reports structural equality of two signatures, used by
// call_indirect's signature check (spec 4.K).
func (f *FuncType) Equals(o *FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}
