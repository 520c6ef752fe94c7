package wasm

import "encoding/binary"

// ValueCodec serializes a Value as its type tag (1 byte) followed by its
// 8-byte bit pattern, the fixed element size S(Value) bound.Vec needs to
// size its backing provider (spec 4.D).
type ValueCodec struct{}

func (ValueCodec) Size() uint32 { return 9 }

func (ValueCodec) Encode(v Value, dst []byte) {
	dst[0] = byte(v.Type)
	binary.LittleEndian.PutUint64(dst[1:9], v.bits)
}

func (ValueCodec) Decode(src []byte) Value {
	return Value{Type: ValueType(src[0]), bits: binary.LittleEndian.Uint64(src[1:9])}
}
