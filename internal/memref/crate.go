package memref

// CrateId identifies a logical budget holder within the runtime. The set is
// closed and compile-time fixed (spec 3, "CrateId"): every subsystem that
// allocates through the Memory Coordinator owns exactly one slot.
type CrateId uint8

const (
	CrateFoundation CrateId = iota
	CrateDecoder
	CrateRuntime
	CrateComponent
	CrateHost
	CratePlatform
	CrateInstructions
	CrateFormat
	CrateSync
	CrateMath
	CrateUnknown

	// crateCount must stay last: it sizes every per-crate array in the
	// coordinator and capability context.
	crateCount
)

var crateNames = [crateCount]string{
	CrateFoundation:   "foundation",
	CrateDecoder:      "decoder",
	CrateRuntime:      "runtime",
	CrateComponent:    "component",
	CrateHost:         "host",
	CratePlatform:     "platform",
	CrateInstructions: "instructions",
	CrateFormat:       "format",
	CrateSync:         "sync",
	CrateMath:         "math",
	CrateUnknown:      "unknown",
}

// String returns the crate's name, matching the original implementation's
// naming so diagnostics correlate across the two systems.
func (c CrateId) String() string {
	if int(c) < len(crateNames) {
		return crateNames[c]
	}
	return "invalid"
}

// CrateCount is the fixed number of CrateId slots.
func CrateCount() int { return int(crateCount) }

// Valid reports whether c is one of the closed set of known crates.
func (c CrateId) Valid() bool { return c < crateCount }
