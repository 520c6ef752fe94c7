// Package wrtgo is the Capability Engine Facade (spec 4.N): the
// user-facing orchestrator that binds a preset (capability kinds, fuel
// budget, verification level, CFI policy) to a Memory Coordinator, a
// Stackless Engine, and a Host Function Registry, and exposes the
// load/instantiate/execute surface spec.md §6 names as the core's CLI/daemon
// contract.
package wrtgo

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/wrtgo/wrtgo/internal/cfi"
	"github.com/wrtgo/wrtgo/internal/component"
	"github.com/wrtgo/wrtgo/internal/engine"
	"github.com/wrtgo/wrtgo/internal/hostfunc"
	"github.com/wrtgo/wrtgo/internal/logging"
	"github.com/wrtgo/wrtgo/internal/memref"
	"github.com/wrtgo/wrtgo/internal/metrics"
	"github.com/wrtgo/wrtgo/internal/verify"
	"github.com/wrtgo/wrtgo/internal/wasm"
	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// crateCount mirrors internal/memref's closed CrateId set (Foundation
// through Unknown); kept in lockstep manually since the set is fixed by
// spec 3 and not expected to change.
const crateCount = 11

// ModuleHandle and InstanceHandle are the opaque integer ids spec.md §6
// calls for ("Module handle / Instance handle: opaque integer IDs issued
// by the engine").
type ModuleHandle uint64
type InstanceHandle uint32

// ComponentHandle identifies a component instance wrapping one or more core
// instances behind the canonical-ABI boundary (spec 4.M).
type ComponentHandle uint32

// DecoderFunc is the injected external collaborator spec.md names as out
// of scope ("the binary decoder ... is an external collaborator"): it
// turns raw Wasm bytes into a *wasm.Module. The facade never parses binary
// itself.
type DecoderFunc func(raw []byte) (*wasm.Module, error)

type moduleEntry struct {
	module *wasm.Module
}

type instanceEntry struct {
	inst   *wasm.Instance
	module ModuleHandle
}

type componentEntry struct {
	ci *component.Instance
}

// Facade is the root orchestrator a caller constructs once per ASIL
// preset (spec 4.N).
type Facade struct {
	preset Preset
	cfg    presetConfig

	memCtx      *memref.Context
	coordinator *memref.Coordinator
	engine      *engine.Engine
	hostFuncs   *hostfunc.Registry
	decode      DecoderFunc

	moduleCache *fastcache.Cache
	loadGroup   singleflight.Group

	mu            sync.RWMutex
	modules       map[ModuleHandle]*moduleEntry
	instances     map[InstanceHandle]*instanceEntry
	components    map[ComponentHandle]*componentEntry
	decodedByHash map[uint64]*wasm.Module
	nextModule    atomic.Uint64
	nextComponent atomic.Uint32

	log logging.Logger
}

// defaultQuotas splits total evenly across every crate. NewFacade always
// uses this even split; it offers no way to supply asymmetric quotas.
func defaultQuotas(total uint64) [crateCount]uint64 {
	var q [crateCount]uint64
	per := total / crateCount
	for i := range q {
		q[i] = per
	}
	return q
}

// NewFacade constructs a Facade for preset, partitioning totalMemoryBudget
// bytes evenly across the fixed crate set and wiring decode as the
// external binary-decoder collaborator (spec.md §1/§6). moduleCacheBytes
// bounds the compiled-module cache's memory footprint (0 picks a small
// default).
func NewFacade(preset Preset, totalMemoryBudget uint64, moduleCacheBytes int, decode DecoderFunc) (*Facade, error) {
	coordinator := memref.NewCoordinator()
	if err := coordinator.Initialize(defaultQuotas(totalMemoryBudget), totalMemoryBudget); err != nil {
		return nil, err
	}

	cfgVal := configFor(preset)
	memCtx := memref.NewContext(coordinator)
	for c := memref.CrateId(0); int(c) < crateCount; c++ {
		memCtx.SetCapability(c, capabilityFor(cfgVal.capabilityKind, coordinator.QuotaCrate(c)))
	}

	if moduleCacheBytes <= 0 {
		moduleCacheBytes = 32 * 1024 * 1024
	}

	eng := engine.New(memCtx, memref.CrateRuntime, cfgVal.level, preset.String(), cfgVal.cfi)
	eng.SetMaxFrames(cfgVal.maxFrames)
	if cfgVal.fuel != unboundedFuel {
		eng.SetFuel(cfgVal.fuel)
	}

	return &Facade{
		preset:      preset,
		cfg:         cfgVal,
		memCtx:      memCtx,
		coordinator: coordinator,
		engine:      eng,
		hostFuncs:   hostfunc.New(),
		decode:      decode,
		moduleCache:   fastcache.New(moduleCacheBytes),
		modules:       make(map[ModuleHandle]*moduleEntry),
		instances:     make(map[InstanceHandle]*instanceEntry),
		components:    make(map[ComponentHandle]*componentEntry),
		decodedByHash: make(map[uint64]*wasm.Module),
		log:           logging.New("facade"),
	}, nil
}

func capabilityFor(kind memref.CapabilityKind, quota uint64) *memref.Capability {
	switch kind {
	case memref.CapabilityStatic:
		return memref.NewStaticCapability(quota)
	case memref.CapabilityVerified:
		return memref.NewVerifiedCapability(quota)
	default:
		return memref.NewDynamicCapability(quota)
	}
}

// RegisterHostFunction exposes fn to guest imports under (module, name),
// per the Host Function Registry (spec 4.L).
func (f *Facade) RegisterHostFunction(module, name string, typ wasm.FuncType, fn hostfunc.Func) {
	f.hostFuncs.Register(module, name, typ, fn)
}

// LoadModule decodes raw (via the injected DecoderFunc) and registers it
// under a fresh ModuleHandle. Concurrent loads of identical bytes collapse
// into a single decode (spec §2 domain stack: singleflight, keyed by
// content hash); the decoded *wasm.Module is then kept in-process so a
// second LoadModule of the same bytes skips decoding entirely (spec §2:
// "compiled-module cache keyed by module hash"). The bytes themselves are
// mirrored into a bounded fastcache so a caller that only kept the module
// handle, not the original slice, can still be served from cache after its
// own buffer is gone.
func (f *Facade) LoadModule(raw []byte) (ModuleHandle, error) {
	sum := xxhash.Sum64(raw)
	key := hashKey(sum)

	result, err, _ := f.loadGroup.Do(string(key), func() (any, error) {
		if module, ok := f.cachedModule(sum); ok {
			return module, nil
		}
		canonical := raw
		if cached := f.moduleCache.Get(nil, key); cached != nil {
			canonical = cached
		} else {
			f.moduleCache.Set(key, raw)
		}
		module, derr := f.decode(canonical)
		if derr != nil {
			return nil, wrterr.Wrap(wrterr.KindInvalidFormat, derr, "module decode failed")
		}
		f.storeDecoded(sum, module)
		return module, nil
	})
	if err != nil {
		return 0, err
	}
	module := result.(*wasm.Module)

	handle := ModuleHandle(f.nextModule.Add(1))
	f.mu.Lock()
	f.modules[handle] = &moduleEntry{module: module}
	f.mu.Unlock()
	return handle, nil
}

func (f *Facade) cachedModule(sum uint64) (*wasm.Module, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.decodedByHash[sum]
	return m, ok
}

func (f *Facade) storeDecoded(sum uint64, m *wasm.Module) {
	f.mu.Lock()
	f.decodedByHash[sum] = m
	f.mu.Unlock()
}

func hashKey(sum uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, sum)
	return buf
}

// Instantiate runs the full spec 4.I sequence (including Start) for
// handle's module, resolving imports against extraImports first and the
// facade's own Host Function Registry second.
func (f *Facade) Instantiate(handle ModuleHandle, extraImports wasm.ImportProvider) (InstanceHandle, error) {
	f.mu.RLock()
	entry, ok := f.modules[handle]
	f.mu.RUnlock()
	if !ok {
		return 0, wrterr.New(wrterr.KindNotInitialized, "unknown module handle %d", handle)
	}

	resolver := f.hostFuncs.Resolve
	if extraImports != nil {
		resolver = hostfunc.Chain(extraImports, f.hostFuncs.Resolve)
	}

	cfg := wasm.InstantiateConfig{
		Crate:          memref.CrateRuntime,
		Level:          f.cfg.level,
		MemoryCapPages: 65536,
		TableCap:       1 << 20,
	}
	inst, err := f.engine.Instantiate(entry.module, resolver, cfg)
	if err != nil {
		return 0, err
	}

	handleID := InstanceHandle(inst.ID)
	f.mu.Lock()
	f.instances[handleID] = &instanceEntry{inst: inst, module: handle}
	f.mu.Unlock()
	return handleID, nil
}

// HasFunction reports whether instance exports a function under name
// (spec 4.N).
func (f *Facade) HasFunction(instance InstanceHandle, name string) bool {
	inst, ok := f.instanceFor(instance)
	if !ok {
		return false
	}
	exp, ok := inst.Exports[name]
	return ok && exp.Kind == wasm.ExternKindFunc
}

// Execute invokes instance's export named name with args, returning its
// results (spec 4.N). Fails with ExportNotFound if name is not a function
// export.
func (f *Facade) Execute(ctx context.Context, instance InstanceHandle, name string, args []wasm.Value) ([]wasm.Value, error) {
	inst, ok := f.instanceFor(instance)
	if !ok {
		return nil, wrterr.New(wrterr.KindNotInitialized, "unknown instance handle %d", instance)
	}
	exp, ok := inst.Exports[name]
	if !ok || exp.Kind != wasm.ExternKindFunc {
		return nil, wrterr.New(wrterr.KindExportNotFound, "no function export %q", name)
	}
	return f.engine.Execute(ctx, inst, exp.Idx, args)
}

// Release tears down instance, returning its resources to the Memory
// Coordinator.
func (f *Facade) Release(instance InstanceHandle) error {
	f.mu.Lock()
	_, ok := f.instances[instance]
	delete(f.instances, instance)
	f.mu.Unlock()
	if !ok {
		return wrterr.New(wrterr.KindNotInitialized, "unknown instance handle %d", instance)
	}
	return f.engine.Release(uint32(instance))
}

// Validate performs the supplemented self-test surface (SPEC_FULL §4):
// per-instance memory checksum integrity plus the Memory Coordinator's own
// live-total/per-crate consistency invariant. Table contents are not
// checked.
func (f *Facade) Validate() error {
	if err := f.engine.Validate(); err != nil {
		return err
	}
	return f.coordinator.SelfTest()
}

// ExecutionStats returns the current readout (spec §6, "ExecutionStats").
func (f *Facade) ExecutionStats() metrics.ExecutionStats {
	return f.engine.Stats.Snapshot()
}

// SetFuel changes the fuel budget available to subsequent Execute calls
// across every instance this facade owns (spec 4.N, "fuel policy").
func (f *Facade) SetFuel(n uint64) { f.engine.SetFuel(n) }

// SetVerificationLevel overrides the preset's default verification level
// for frames constructed after this call.
func (f *Facade) SetVerificationLevel(level verify.Level) { f.engine.SetVerificationLevel(level) }

// CFIDescriptor returns the preset's CFI policy (spec 4.P), for callers
// that want to inspect it without reaching into the engine.
func (f *Facade) CFIDescriptor() cfi.Descriptor { return f.cfg.cfi }

// NewComponent wraps one or more already-instantiated core instances behind
// the canonical-ABI boundary (spec 4.M), issuing a fresh ComponentHandle.
// strategy picks the lift/lower tradeoff (spec 4.M: ZeroCopy/BoundedCopy/
// FullIsolation); poolSize is only consumed by BoundedCopy.
func (f *Facade) NewComponent(strategy component.LiftStrategy, poolSize uint32, cores ...InstanceHandle) (ComponentHandle, error) {
	coreInsts := make([]*wasm.Instance, len(cores))
	for i, h := range cores {
		inst, ok := f.instanceFor(h)
		if !ok {
			return 0, wrterr.New(wrterr.KindNotInitialized, "unknown instance handle %d", h)
		}
		coreInsts[i] = inst
	}
	ci := component.NewInstance(strategy, poolSize, coreInsts...)

	handle := ComponentHandle(f.nextComponent.Add(1))
	f.mu.Lock()
	f.components[handle] = &componentEntry{ci: ci}
	f.mu.Unlock()
	return handle, nil
}

// LiftComponentBytes reads (offset, length) out of component's coreIdx'th
// core instance memory, per its configured LiftStrategy (spec 4.M).
func (f *Facade) LiftComponentBytes(handle ComponentHandle, coreIdx int, offset, length uint32) ([]byte, error) {
	ci, ok := f.componentFor(handle)
	if !ok {
		return nil, wrterr.New(wrterr.KindNotInitialized, "unknown component handle %d", handle)
	}
	return ci.LiftBytes(coreIdx, offset, length)
}

// LowerComponentBytes writes data into component's coreIdx'th core instance
// memory at offset (spec 4.M).
func (f *Facade) LowerComponentBytes(handle ComponentHandle, coreIdx int, offset uint32, data []byte) error {
	ci, ok := f.componentFor(handle)
	if !ok {
		return wrterr.New(wrterr.KindNotInitialized, "unknown component handle %d", handle)
	}
	return ci.LowerBytes(coreIdx, offset, data)
}

// AddResource boxes value under typeTag in component's Resource Table
// (spec 4.O), returning its new handle.
func (f *Facade) AddResource(handle ComponentHandle, typeTag string, value any) (component.ResourceId, error) {
	ci, ok := f.componentFor(handle)
	if !ok {
		return 0, wrterr.New(wrterr.KindNotInitialized, "unknown component handle %d", handle)
	}
	return ci.Resources.Add(typeTag, value), nil
}

// GetResource returns the boxed value for id after verifying its type tag
// matches wantTag (spec 4.O, "get_typed").
func (f *Facade) GetResource(handle ComponentHandle, id component.ResourceId, wantTag string) (any, error) {
	ci, ok := f.componentFor(handle)
	if !ok {
		return nil, wrterr.New(wrterr.KindNotInitialized, "unknown component handle %d", handle)
	}
	return ci.Resources.GetTyped(id, wantTag)
}

// DropResource removes id from component's Resource Table, returning its
// boxed value so the caller can run any host-side teardown.
func (f *Facade) DropResource(handle ComponentHandle, id component.ResourceId) (any, error) {
	ci, ok := f.componentFor(handle)
	if !ok {
		return nil, wrterr.New(wrterr.KindNotInitialized, "unknown component handle %d", handle)
	}
	return ci.Resources.Remove(id)
}

func (f *Facade) componentFor(handle ComponentHandle) (*component.Instance, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.components[handle]
	if !ok {
		return nil, false
	}
	return e.ci, true
}

func (f *Facade) instanceFor(handle InstanceHandle) (*wasm.Instance, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.instances[handle]
	if !ok {
		return nil, false
	}
	return e.inst, true
}
