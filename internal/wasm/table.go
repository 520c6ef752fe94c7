package wasm

import (
	"github.com/wrtgo/wrtgo/internal/bound"
	"github.com/wrtgo/wrtgo/internal/memref"
	"github.com/wrtgo/wrtgo/internal/verify"
	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// Table is element storage for funcref/externref (spec 4.F). Backed by a
// bound.Vec[Value] so growth never exceeds the capacity reserved at
// construction time.
type Table struct {
	elemType ValueType
	max      *uint32
	vec      *bound.Vec[Value]
}

// NewTable allocates a Table of the given element type, initial length
// min, and a fixed capacity cap (the maximum this table can ever grow to,
// bounding the provider reservation; it should be max when max is present).
func NewTable(ctx *memref.Context, crate memref.CrateId, elemType ValueType, min uint32, max *uint32, cap uint32, level verify.Level) (*Table, error) {
	if !elemType.IsReferenceType() {
		return nil, wrterr.New(wrterr.KindTypeMismatch, "table element type must be funcref or externref, got %s", elemType)
	}
	vec, err := bound.NewVec[Value](ctx, crate, cap, ValueCodec{}, level)
	if err != nil {
		return nil, err
	}
	nullValue := Value{Type: elemType, bits: 0}
	for i := uint32(0); i < min; i++ {
		if err := vec.Push(nullValue); err != nil {
			_ = vec.Close()
			return nil, err
		}
	}
	return &Table{elemType: elemType, max: max, vec: vec}, nil
}

// Close releases the table's backing provider.
func (t *Table) Close() error { return t.vec.Close() }

// Len returns the current table length.
func (t *Table) Len() uint32 { return t.vec.Len() }

// ElemType returns the table's fixed element type.
func (t *Table) ElemType() ValueType { return t.elemType }

func (t *Table) checkType(v Value) error {
	if v.Type != t.elemType {
		return wrterr.New(wrterr.KindTypeMismatch, "table element type %s does not accept %s", t.elemType, v.Type)
	}
	return nil
}

// Get returns the element at index i.
func (t *Table) Get(i uint32) (Value, error) { return t.vec.Get(i) }

// Set overwrites the element at index i. Fails with TypeMismatch if v's
// reference kind does not match the table's element type.
func (t *Table) Set(i uint32, v Value) error {
	if err := t.checkType(v); err != nil {
		return err
	}
	return t.vec.Set(i, v)
}

// Grow appends n copies of init, failing if current+n would exceed max. On
// success returns the previous length (spec 4.F).
func (t *Table) Grow(n uint32, init Value) (uint32, error) {
	if err := t.checkType(init); err != nil {
		return 0, err
	}
	previous := t.vec.Len()
	newLen := previous + n
	if t.max != nil && newLen > *t.max {
		return 0, wrterr.New(wrterr.KindOutOfBounds, "grow to %d exceeds table max %d", newLen, *t.max)
	}
	for i := uint32(0); i < n; i++ {
		if err := t.vec.Push(init); err != nil {
			return 0, err
		}
	}
	return previous, nil
}

// Fill writes n copies of v starting at offset d (spec 4.F).
func (t *Table) Fill(d uint32, n uint32, v Value) error {
	if err := t.checkType(v); err != nil {
		return err
	}
	if uint64(d)+uint64(n) > uint64(t.vec.Len()) {
		return wrterr.New(wrterr.KindOutOfBounds, "fill [%d:%d) exceeds table length %d", d, d+n, t.vec.Len())
	}
	for i := uint32(0); i < n; i++ {
		if err := t.vec.Set(d+i, v); err != nil {
			return err
		}
	}
	return nil
}

// Copy implements table.copy, handling overlapping ranges within the same
// table with memmove semantics (spec 3/4.F).
func (t *Table) Copy(dstOffset, srcOffset, n uint32) error {
	if uint64(dstOffset)+uint64(n) > uint64(t.vec.Len()) || uint64(srcOffset)+uint64(n) > uint64(t.vec.Len()) {
		return wrterr.New(wrterr.KindOutOfBounds, "table.copy out of bounds")
	}
	values := make([]Value, n)
	for i := uint32(0); i < n; i++ {
		v, err := t.vec.Get(srcOffset + i)
		if err != nil {
			return err
		}
		values[i] = v
	}
	for i := uint32(0); i < n; i++ {
		if err := t.vec.Set(dstOffset+i, values[i]); err != nil {
			return err
		}
	}
	return nil
}

// CopyBetween implements table.copy between two distinct tables.
func CopyBetween(dst *Table, dstOffset uint32, src *Table, srcOffset uint32, n uint32) error {
	if dst == src {
		return dst.Copy(dstOffset, srcOffset, n)
	}
	if uint64(dstOffset)+uint64(n) > uint64(dst.vec.Len()) || uint64(srcOffset)+uint64(n) > uint64(src.vec.Len()) {
		return wrterr.New(wrterr.KindOutOfBounds, "table.copy out of bounds")
	}
	values := make([]Value, n)
	for i := uint32(0); i < n; i++ {
		v, err := src.vec.Get(srcOffset + i)
		if err != nil {
			return err
		}
		values[i] = v
	}
	for i := uint32(0); i < n; i++ {
		if err := dst.checkType(values[i]); err != nil {
			return err
		}
		if err := dst.vec.Set(dstOffset+i, values[i]); err != nil {
			return err
		}
	}
	return nil
}
