// Package engine implements the Stackless Execution Engine (spec 4.J/4.K):
// instantiation, structured-control dispatch over a pre-decoded instruction
// stream, and fuel/timeout/CFI enforcement, without growing the host call
// stack per Wasm call depth.
package engine

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/wrtgo/wrtgo/internal/cfi"
	"github.com/wrtgo/wrtgo/internal/logging"
	"github.com/wrtgo/wrtgo/internal/memref"
	"github.com/wrtgo/wrtgo/internal/metrics"
	"github.com/wrtgo/wrtgo/internal/verify"
	"github.com/wrtgo/wrtgo/internal/wasm"
	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// DefaultMaxFrames bounds call depth (spec 4.K, "StackOverflow" when
// exceeded) independent of the host's own goroutine stack size.
const DefaultMaxFrames = 1024

// timeoutCheckStride is how often (in dispatched instructions) the engine
// polls ctx.Done() for cooperative cancellation (spec 4.K, "cadence every
// K=4096 instructions").
const timeoutCheckStride = 4096

// Engine owns one Memory Coordinator-scoped execution domain: every
// instance it creates draws its frame-local bounded containers from the
// same capability Context (spec 4.J/4.K, 5 "Concurrency & Resource Model").
type Engine struct {
	memCtx *memref.Context
	crate  memref.CrateId
	level  verify.Level
	costs  FuelCosts

	fuel      atomic.Int64 // signed so underflow-by-charge is detectable before it happens
	maxFrames uint32

	mu           sync.RWMutex
	instances    map[uint32]*wasm.Instance
	jumpCache    map[*wasm.Function]jumpTargets
	nextInstance atomic.Uint32

	Stats  *metrics.Recorder
	shadow *cfi.ShadowStack

	log logging.Logger
}

// New constructs an Engine over the given capability context. crate
// identifies the budget this engine's own frame state (operand/control
// stacks) draws from, distinct from the crate(s) an instance's memories and
// tables draw from. label tags this engine's ExecutionStats (spec §6) when
// multiple engines are scraped from the same process. cfiDesc configures the
// call/return shadow stack (spec 4.P); cfi.Default() disables it entirely.
// A new engine's fuel starts at math.MaxInt64 (effectively unbounded) until
// SetFuel is called.
func New(memCtx *memref.Context, crate memref.CrateId, level verify.Level, label string, cfiDesc cfi.Descriptor) *Engine {
	e := &Engine{
		memCtx:    memCtx,
		crate:     crate,
		level:     level,
		costs:     DefaultFuelCosts,
		maxFrames: DefaultMaxFrames,
		instances: make(map[uint32]*wasm.Instance),
		jumpCache: make(map[*wasm.Function]jumpTargets),
		Stats:     metrics.NewRecorder(label),
		shadow:    cfi.NewShadowStack(cfiDesc),
		log:       logging.New("engine"),
	}
	e.fuel.Store(math.MaxInt64)
	return e
}

// SetFuel sets the fuel budget available to subsequent Execute/CallFunction
// calls (spec 4.K, "Fuel").
func (e *Engine) SetFuel(n uint64) { e.fuel.Store(int64(n)) }

// FuelRemaining returns the fuel left, or 0 if it has been exhausted.
func (e *Engine) FuelRemaining() uint64 {
	v := e.fuel.Load()
	if v < 0 {
		return 0
	}
	return uint64(v)
}

// SetVerificationLevel changes the level new frames are constructed at;
// frames already executing keep the level they started with.
func (e *Engine) SetVerificationLevel(level verify.Level) { e.level = level }

// SetFuelCosts overrides the base fuel cost table (spec 4.K names this as
// host-tunable).
func (e *Engine) SetFuelCosts(costs FuelCosts) { e.costs = costs }

// SetMaxFrames overrides the call-depth cap.
func (e *Engine) SetMaxFrames(n uint32) { e.maxFrames = n }

// Instantiate runs the full spec 4.I sequence, including step 7 (executing
// Start via this engine) which wasm.Instantiate itself cannot do. On any
// failure — including a trapping Start function — every resource acquired
// is released and no instance is published.
func (e *Engine) Instantiate(module *wasm.Module, resolveImport wasm.ImportProvider, cfg wasm.InstantiateConfig) (*wasm.Instance, error) {
	id := e.nextInstance.Add(1)
	inst, err := wasm.Instantiate(e.memCtx, cfg, module, resolveImport, id)
	if err != nil {
		return nil, err
	}

	if inst.StartFuncIdx != nil {
		if _, err := e.CallFunction(context.Background(), inst, *inst.StartFuncIdx, nil); err != nil {
			_ = inst.Close()
			return nil, wrterr.Wrap(wrterr.KindUnreachable, err, "start function trapped")
		}
	}

	e.mu.Lock()
	e.instances[id] = inst
	e.mu.Unlock()
	return inst, nil
}

// Release tears down a published instance.
func (e *Engine) Release(instanceID uint32) error {
	e.mu.Lock()
	inst, ok := e.instances[instanceID]
	delete(e.instances, instanceID)
	e.mu.Unlock()
	if !ok {
		return wrterr.New(wrterr.KindNotInitialized, "no instance %d", instanceID)
	}
	return inst.Close()
}

// Execute looks up funcIdx's export-independent entry in inst.Functions and
// runs it to completion, returning its results (spec 4.K's public surface;
// the facade's Execute resolves an export name to an index first).
func (e *Engine) Execute(ctx context.Context, inst *wasm.Instance, funcIdx uint32, args []wasm.Value) ([]wasm.Value, error) {
	return e.CallFunction(ctx, inst, funcIdx, args)
}

func (e *Engine) jumpTargetsFor(fn *wasm.Function) jumpTargets {
	e.mu.RLock()
	jt, ok := e.jumpCache[fn]
	e.mu.RUnlock()
	if ok {
		return jt
	}
	jt = scanJumpTargets(fn.Body)
	e.mu.Lock()
	e.jumpCache[fn] = jt
	e.mu.Unlock()
	return jt
}

// Validate performs an integrity self-test across every published instance
// by re-verifying each memory's checksum (spec 8, property of "no state
// corruption survives undetected"). Tables are not checked here, and the
// Memory Coordinator's own invariant is checked separately by the facade.
func (e *Engine) Validate() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for id, inst := range e.instances {
		for i, mem := range inst.Memories {
			if err := mem.VerifyIntegrity(); err != nil {
				return wrterr.Wrap(wrterr.KindChecksumMismatch, err, "instance %d memory %d failed integrity check", id, i)
			}
		}
	}
	return nil
}
