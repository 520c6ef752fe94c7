// Package cfi implements the Control-Flow Integrity descriptor and shadow
// stack bookkeeping (spec 4.P): a policy object the engine consults on every
// call/return when a preset enables it.
package cfi

import (
	"sync/atomic"

	"github.com/wrtgo/wrtgo/internal/logging"
	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// ProtectionLevel selects how aggressively call/return integrity is
// enforced (spec 4.P).
type ProtectionLevel byte

const (
	ProtectionNone ProtectionLevel = iota
	ProtectionSoftware
	ProtectionHardware
	ProtectionHybrid
)

// ViolationPolicy decides what happens when a CFI check fails.
type ViolationPolicy byte

const (
	ViolationReturnError ViolationPolicy = iota
	ViolationLogAndContinue
	ViolationAbort
)

// Descriptor is the per-engine CFI configuration (spec 4.P). It is
// immutable after construction; presets build one and hand it to the
// engine at instantiation time.
type Descriptor struct {
	Level               ProtectionLevel
	MaxShadowStackDepth  uint32
	LandingPadTimeout    uint32 // instructions; 0 means no timeout
	ViolationPolicy      ViolationPolicy
	TemporalValidation   bool
	HardwareFeatures     []string // e.g. "intel_cet", "arm_pac", populated only at ProtectionHardware/Hybrid
}

// Default is the QM preset's descriptor: CFI entirely disabled.
func Default() Descriptor {
	return Descriptor{Level: ProtectionNone, ViolationPolicy: ViolationReturnError}
}

// ShadowStack tracks call-site return addresses independent of the Wasm
// operand/control stacks, so a corrupted frame cannot forge a return target
// (spec 4.P, "shadow stack depth bookkeeping").
type ShadowStack struct {
	desc    Descriptor
	depth   atomic.Uint32
	entries []uint32 // callee function indices pushed by the engine, parallel to its frame stack
	log     logging.Logger
}

// NewShadowStack constructs a ShadowStack enforcing desc.
func NewShadowStack(desc Descriptor) *ShadowStack {
	return &ShadowStack{desc: desc, log: logging.New("cfi")}
}

// PushReturn records a call's return PC. Fails with CfiViolation if
// MaxShadowStackDepth would be exceeded (spec 4.P).
func (s *ShadowStack) PushReturn(pc uint32) error {
	if s.desc.Level == ProtectionNone {
		return nil
	}
	if s.desc.MaxShadowStackDepth > 0 && uint32(len(s.entries)) >= s.desc.MaxShadowStackDepth {
		return s.violate("shadow stack depth %d exceeded", s.desc.MaxShadowStackDepth)
	}
	s.entries = append(s.entries, pc)
	s.depth.Store(uint32(len(s.entries)))
	return nil
}

// PopReturn verifies that the engine's claimed return PC matches the top of
// the shadow stack, then removes it. A mismatch signals a corrupted control
// frame or stack-smashing attempt (spec 4.P).
func (s *ShadowStack) PopReturn(claimedPC uint32) error {
	if s.desc.Level == ProtectionNone {
		return nil
	}
	if len(s.entries) == 0 {
		return s.violate("return with empty shadow stack")
	}
	top := s.entries[len(s.entries)-1]
	s.entries = s.entries[:len(s.entries)-1]
	s.depth.Store(uint32(len(s.entries)))
	if top != claimedPC {
		return s.violate("return address mismatch: shadow=%d claimed=%d", top, claimedPC)
	}
	return nil
}

// Depth returns the current shadow stack depth.
func (s *ShadowStack) Depth() uint32 { return s.depth.Load() }

func (s *ShadowStack) violate(format string, args ...any) error {
	err := wrterr.New(wrterr.KindCfiViolation, format, args...)
	switch s.desc.ViolationPolicy {
	case ViolationLogAndContinue:
		s.log.Warn(err.Error())
		return nil
	case ViolationAbort:
		s.log.Error(err.Error())
		return err
	default: // ViolationReturnError
		return err
	}
}
