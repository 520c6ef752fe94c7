package wrtgo

import (
	"github.com/wrtgo/wrtgo/internal/cfi"
	"github.com/wrtgo/wrtgo/internal/memref"
	"github.com/wrtgo/wrtgo/internal/verify"
)

// Preset selects one of the five safety-integrity tiers the facade wires
// end to end (spec 4.N): capability kind, verification level, fuel budget,
// and CFI policy all move together.
type Preset byte

const (
	PresetQM Preset = iota
	PresetASILA
	PresetASILB
	PresetASILC
	PresetASILD
)

func (p Preset) String() string {
	switch p {
	case PresetQM:
		return "QM"
	case PresetASILA:
		return "ASIL-A"
	case PresetASILB:
		return "ASIL-B"
	case PresetASILC:
		return "ASIL-C"
	case PresetASILD:
		return "ASIL-D"
	default:
		return "unknown"
	}
}

// presetConfig is everything with_preset derives for one tier (spec 4.N's
// table).
type presetConfig struct {
	fuel           uint64 // unboundedFuel means unbounded
	level          verify.Level
	capabilityKind memref.CapabilityKind
	maxFrames      uint32
	cfi            cfi.Descriptor
}

// unboundedFuel stands in for "no budget enforced"; the engine still
// tracks consumption for ExecutionStats but never traps on exhaustion at
// this tier.
const unboundedFuel = ^uint64(0)

func configFor(p Preset) presetConfig {
	switch p {
	case PresetQM:
		return presetConfig{
			fuel: unboundedFuel, level: verify.Off,
			capabilityKind: memref.CapabilityDynamic, maxFrames: 4096,
			cfi: cfi.Default(),
		}
	case PresetASILA:
		return presetConfig{
			fuel: 1e7, level: verify.Standard,
			capabilityKind: memref.CapabilityDynamic, maxFrames: 2048,
			cfi: cfi.Descriptor{Level: cfi.ProtectionSoftware, MaxShadowStackDepth: 2048, ViolationPolicy: cfi.ViolationReturnError},
		}
	case PresetASILB:
		return presetConfig{
			fuel: 5e6, level: verify.Standard,
			capabilityKind: memref.CapabilityDynamic, maxFrames: 1024,
			cfi: cfi.Descriptor{Level: cfi.ProtectionSoftware, MaxShadowStackDepth: 1024, ViolationPolicy: cfi.ViolationReturnError},
		}
	case PresetASILC:
		return presetConfig{
			fuel: 1e6, level: verify.Full,
			capabilityKind: memref.CapabilityStatic, maxFrames: 512,
			cfi: cfi.Descriptor{Level: cfi.ProtectionHardware, MaxShadowStackDepth: 512, ViolationPolicy: cfi.ViolationReturnError, TemporalValidation: true},
		}
	case PresetASILD:
		return presetConfig{
			fuel: 5e5, level: verify.Full,
			capabilityKind: memref.CapabilityVerified, maxFrames: 256,
			cfi: cfi.Descriptor{Level: cfi.ProtectionHybrid, MaxShadowStackDepth: 256, ViolationPolicy: cfi.ViolationAbort, TemporalValidation: true},
		}
	default:
		return configFor(PresetQM)
	}
}
