package component

import (
	"github.com/wrtgo/wrtgo/internal/wasm"
	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// LiftStrategy selects how canonical-ABI values cross the component
// boundary (spec 4.M): a tradeoff between throughput and isolation.
type LiftStrategy byte

const (
	// ZeroCopy hands the guest's own linear memory bytes to the host
	// directly; fastest, but only safe when host and guest trust each
	// other's memory layout for the call's duration.
	ZeroCopy LiftStrategy = iota
	// BoundedCopy stages the lifted value through a fixed-capacity pool
	// buffer, bounding worst-case transfer size without a full per-call
	// allocation.
	BoundedCopy
	// FullIsolation always copies into a freshly sized buffer, trading
	// throughput for the guarantee that no two calls ever alias memory.
	FullIsolation
)

// Instance wraps one or more core wasm.Instance values behind the
// canonical ABI boundary (spec 4.M). A component instance with a single
// core instance is the common case; multiple core instances appear when a
// component links several core modules together before exporting a unified
// interface.
type Instance struct {
	Core      []*wasm.Instance
	Resources *ResourceTable
	Strategy  LiftStrategy
	pool      []byte // BoundedCopy's staging buffer
}

// NewInstance wraps core instances behind strategy, allocating a staging
// pool of poolSize bytes when strategy is BoundedCopy.
func NewInstance(strategy LiftStrategy, poolSize uint32, core ...*wasm.Instance) *Instance {
	ci := &Instance{Core: core, Resources: NewResourceTable(), Strategy: strategy}
	if strategy == BoundedCopy {
		ci.pool = make([]byte, poolSize)
	}
	return ci
}

// LiftBytes reads a byte sequence out of a core instance's memory at
// (offset, length) per this component's LiftStrategy (spec 4.M, "canonical
// ABI lift").
func (c *Instance) LiftBytes(coreIdx int, offset, length uint32) ([]byte, error) {
	if coreIdx >= len(c.Core) {
		return nil, wrterr.New(wrterr.KindIndexOutOfBounds, "core instance %d out of range", coreIdx)
	}
	mem := c.Core[coreIdx].Memories[0]
	slice, err := mem.BorrowSlice(uint64(offset), uint64(length))
	if err != nil {
		return nil, err
	}
	data, err := slice.Data()
	if err != nil {
		return nil, err
	}

	switch c.Strategy {
	case ZeroCopy:
		return data, nil
	case BoundedCopy:
		if uint32(len(data)) > uint32(len(c.pool)) {
			return nil, wrterr.New(wrterr.KindCapacityExceeded, "lifted value %d bytes exceeds pool %d", len(data), len(c.pool))
		}
		n := copy(c.pool, data)
		return c.pool[:n], nil
	default: // FullIsolation
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
}

// LowerBytes writes a host-produced byte sequence into a core instance's
// memory at offset (spec 4.M, "canonical ABI lower").
func (c *Instance) LowerBytes(coreIdx int, offset uint32, data []byte) error {
	if coreIdx >= len(c.Core) {
		return wrterr.New(wrterr.KindIndexOutOfBounds, "core instance %d out of range", coreIdx)
	}
	return c.Core[coreIdx].Memories[0].Write(uint64(offset), data)
}
