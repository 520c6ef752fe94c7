// Package bound implements the fixed-capacity container family required by
// spec 4.D: every bounded collection draws its storage from a single
// memref.Provider and never grows past its compile-time capacity.
package bound

import "encoding/binary"

// Codec describes how a container's element type serializes into a fixed
// number of bytes. Every bounded container in this package requires one,
// since a Provider is a flat byte buffer, not a Go slice of T.
type Codec[T any] interface {
	// Size is S(T): the fixed number of bytes one element occupies.
	Size() uint32
	Encode(v T, dst []byte)
	Decode(src []byte) T
}

// Uint64Codec encodes uint64 in little-endian. (The Stackless Engine's
// operand stack does not use it: it stores typed values with
// wasm.ValueCodec.)
type Uint64Codec struct{}

func (Uint64Codec) Size() uint32 { return 8 }
func (Uint64Codec) Encode(v uint64, dst []byte) {
	binary.LittleEndian.PutUint64(dst, v)
}
func (Uint64Codec) Decode(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// ByteCodec is the identity codec over single bytes, backing String
// and raw byte vectors.
type ByteCodec struct{}

func (ByteCodec) Size() uint32            { return 1 }
func (ByteCodec) Encode(v byte, dst []byte) { dst[0] = v }
func (ByteCodec) Decode(src []byte) byte    { return src[0] }

// Uint32Codec encodes uint32 little-endian, used for index-shaped elements
// (e.g. resource ids, table slot tags).
type Uint32Codec struct{}

func (Uint32Codec) Size() uint32 { return 4 }
func (Uint32Codec) Encode(v uint32, dst []byte) {
	binary.LittleEndian.PutUint32(dst, v)
}
func (Uint32Codec) Decode(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}
