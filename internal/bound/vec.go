package bound

import (
	"github.com/cespare/xxhash/v2"
	"github.com/wrtgo/wrtgo/internal/memref"
	"github.com/wrtgo/wrtgo/internal/verify"
	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// Vec is a sequence of at most Cap values of T, stored byte-for-byte in a
// memref.Provider (spec 4.D, "BoundedVec<T, CAP, P>"). Live storage is
// exactly len * codec.Size(); len never exceeds Cap.
type Vec[T any] struct {
	guard *memref.ProviderGuard
	codec Codec[T]
	cap   uint32
	len   uint32

	level    verify.Level
	checksum uint64
	opCount  uint64
}

// NewVec allocates a Vec of capacity cap elements of codec's fixed size
// from ctx under crate, at the given verification level.
func NewVec[T any](ctx *memref.Context, crate memref.CrateId, cap uint32, codec Codec[T], level verify.Level) (*Vec[T], error) {
	guard, err := ctx.CreateProvider(crate, uint64(cap)*uint64(codec.Size()))
	if err != nil {
		return nil, err
	}
	v := &Vec[T]{guard: guard, codec: codec, cap: cap, level: level}
	v.recomputeChecksum()
	return v, nil
}

// Close releases the Vec's backing provider.
func (v *Vec[T]) Close() error { return v.guard.Close() }

// Len returns the number of live elements.
func (v *Vec[T]) Len() uint32 { return v.len }

// Cap returns the fixed compile-time capacity.
func (v *Vec[T]) Cap() uint32 { return v.cap }

func (v *Vec[T]) elemOffset(i uint32) uint32 { return i * v.codec.Size() }

func (v *Vec[T]) recomputeChecksum() {
	if v.level == verify.Off {
		return
	}
	buf := v.guard.Provider().Bytes()[:v.len*v.codec.Size()]
	v.checksum = xxhash.Sum64(buf)
}

// afterMutate updates the checksum according to the container's
// verification level: Off never hashes, Sampling hashes every Nth
// mutation, Standard/Full hash every mutation.
func (v *Vec[T]) afterMutate() {
	v.opCount++
	switch v.level {
	case verify.Off:
		return
	case verify.Sampling:
		if v.opCount%verify.SamplingStride == 0 {
			v.recomputeChecksum()
		}
	default: // Standard, Full
		v.recomputeChecksum()
	}
}

// VerifyChecksum recomputes the checksum over current elements and compares
// it to the stored value. At Off this is always nil (nothing is tracked).
func (v *Vec[T]) VerifyChecksum() error {
	if v.level == verify.Off {
		return nil
	}
	buf := v.guard.Provider().Bytes()[:v.len*v.codec.Size()]
	if xxhash.Sum64(buf) != v.checksum {
		return wrterr.New(wrterr.KindChecksumMismatch, "bounded vec checksum mismatch")
	}
	return nil
}

func (v *Vec[T]) checkReadIntegrity() error {
	if v.level.ChecksumsOnRead() {
		return v.VerifyChecksum()
	}
	return nil
}

// Push appends v to the end. Fails with CapacityExceeded once Len==Cap.
func (v *Vec[T]) Push(value T) error {
	if v.len >= v.cap {
		return wrterr.New(wrterr.KindCapacityExceeded, "vec at capacity %d", v.cap)
	}
	buf := v.guard.Provider().Bytes()
	off := v.elemOffset(v.len)
	v.codec.Encode(value, buf[off:off+v.codec.Size()])
	v.len++
	v.afterMutate()
	return nil
}

// Pop removes and returns the last element.
func (v *Vec[T]) Pop() (T, error) {
	var zero T
	if v.len == 0 {
		return zero, wrterr.New(wrterr.KindIndexOutOfBounds, "pop from empty vec")
	}
	if err := v.checkReadIntegrity(); err != nil {
		return zero, err
	}
	v.len--
	off := v.elemOffset(v.len)
	val := v.codec.Decode(v.guard.Provider().Bytes()[off : off+v.codec.Size()])
	v.afterMutate()
	return val, nil
}

// Get returns the element at index i.
func (v *Vec[T]) Get(i uint32) (T, error) {
	var zero T
	if i >= v.len {
		return zero, wrterr.New(wrterr.KindIndexOutOfBounds, "index %d out of bounds (len=%d)", i, v.len)
	}
	if err := v.checkReadIntegrity(); err != nil {
		return zero, err
	}
	off := v.elemOffset(i)
	return v.codec.Decode(v.guard.Provider().Bytes()[off : off+v.codec.Size()]), nil
}

// Set overwrites the element at index i.
func (v *Vec[T]) Set(i uint32, value T) error {
	if i >= v.len {
		return wrterr.New(wrterr.KindIndexOutOfBounds, "index %d out of bounds (len=%d)", i, v.len)
	}
	off := v.elemOffset(i)
	v.codec.Encode(value, v.guard.Provider().Bytes()[off:off+v.codec.Size()])
	v.afterMutate()
	return nil
}

// Truncate shrinks the vec to newLen, which must be <= Len.
func (v *Vec[T]) Truncate(newLen uint32) error {
	if newLen > v.len {
		return wrterr.New(wrterr.KindIndexOutOfBounds, "truncate newLen %d > len %d", newLen, v.len)
	}
	v.len = newLen
	v.afterMutate()
	return nil
}

// Each calls fn with every live element in insertion order. Iteration
// neither mutates nor consumes fuel (spec 4.D).
func (v *Vec[T]) Each(fn func(i uint32, value T)) {
	buf := v.guard.Provider().Bytes()
	sz := v.codec.Size()
	for i := uint32(0); i < v.len; i++ {
		off := i * sz
		fn(i, v.codec.Decode(buf[off:off+sz]))
	}
}

// Clone exports all current elements to a Go slice. Useful for snapshotting
// a small bounded collection (e.g. assembling call results); intentionally
// does not participate in the checksum/fuel discipline.
func (v *Vec[T]) Clone() []T {
	out := make([]T, 0, v.len)
	v.Each(func(_ uint32, value T) { out = append(out, value) })
	return out
}
