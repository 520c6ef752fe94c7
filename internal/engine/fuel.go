package engine

import (
	"math"

	"github.com/wrtgo/wrtgo/internal/verify"
	"github.com/wrtgo/wrtgo/internal/wasm"
)

// FuelCosts is the base (VerificationLevel-independent) cost table, one
// entry per instruction class (spec 4.K, "Fuel metering"). Overridable so a
// host can tune costs for its own hardware without touching dispatch.
type FuelCosts struct {
	Default      uint64
	Control      uint64 // block/loop/if/br/br_if/br_table/return (spec 4.K "ControlFlow")
	Call         uint64 // spec 4.K "FunctionCall"
	CallIndirect uint64 // spec 4.K "FunctionCall"
	LocalAccess  uint64 // local.get/set/tee, global.get/set
	MemoryRead   uint64
	MemoryWrite  uint64
	MemoryGrow   uint64
	MemoryBulk   uint64 // memory.copy/fill, per call (not per byte)
	Arithmetic   uint64 // also covers div/rem: spec 4.K names no separate division class
	TableAccess  uint64 // table.get/set, spec 4.K "CollectionLookup"
}

// DefaultFuelCosts mirrors spec 4.K's named base costs exactly: MemoryRead=1,
// MemoryWrite=2, MemoryGrow=100, CollectionLookup=1, FunctionCall=5,
// ControlFlow=1, Arithmetic=1 (div/rem included, no separate class), Other=1.
var DefaultFuelCosts = FuelCosts{
	Default:      1,
	Control:      1,
	Call:         5,
	CallIndirect: 5,
	LocalAccess:  1,
	MemoryRead:   1,
	MemoryWrite:  2,
	MemoryGrow:   100,
	MemoryBulk:   20,
	Arithmetic:   1,
	TableAccess:  1,
}

func (c *FuelCosts) baseCost(op wasm.Opcode) uint64 {
	switch op {
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf, wasm.OpElse, wasm.OpEnd,
		wasm.OpBr, wasm.OpBrIf, wasm.OpBrTable, wasm.OpReturn, wasm.OpUnreachable, wasm.OpNop:
		return c.Control
	case wasm.OpCall:
		return c.Call
	case wasm.OpCallIndirect:
		return c.CallIndirect
	case wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee, wasm.OpGlobalGet, wasm.OpGlobalSet:
		return c.LocalAccess
	case wasm.OpI32Load, wasm.OpI64Load, wasm.OpF32Load, wasm.OpF64Load:
		return c.MemoryRead
	case wasm.OpI32Store, wasm.OpI64Store, wasm.OpF32Store, wasm.OpF64Store:
		return c.MemoryWrite
	case wasm.OpMemoryGrow:
		return c.MemoryGrow
	case wasm.OpMemoryCopy, wasm.OpMemoryFill:
		return c.MemoryBulk
	case wasm.OpMemorySize:
		return c.LocalAccess
	case wasm.OpI32DivS, wasm.OpI32DivU, wasm.OpI32RemS, wasm.OpI32RemU,
		wasm.OpI64DivS, wasm.OpI64DivU, wasm.OpI64RemS, wasm.OpI64RemU:
		return c.Arithmetic
	case wasm.OpTableGet, wasm.OpTableSet:
		return c.TableAccess
	case wasm.OpDrop, wasm.OpSelect, wasm.OpI32Const, wasm.OpI64Const, wasm.OpF32Const, wasm.OpF64Const:
		return c.Default
	default:
		return c.Arithmetic
	}
}

// Cost returns the fuel charged for one instruction at the given
// verification level: the base cost scaled by the level's FuelFactor and
// rounded half-to-even (spec §9 Open Question resolution), never less than 1.
func (c *FuelCosts) Cost(op wasm.Opcode, level verify.Level) uint64 {
	base := c.baseCost(op)
	scaled := roundHalfToEven(float64(base) * level.FuelFactor())
	if scaled < 1 {
		return 1
	}
	return scaled
}

func roundHalfToEven(v float64) uint64 {
	floor := math.Floor(v)
	diff := v - floor
	switch {
	case diff < 0.5:
		return uint64(floor)
	case diff > 0.5:
		return uint64(floor) + 1
	default:
		// Exactly .5: round to the even neighbor.
		if uint64(floor)%2 == 0 {
			return uint64(floor)
		}
		return uint64(floor) + 1
	}
}
