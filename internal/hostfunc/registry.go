// Package hostfunc implements the Host Function Registry (spec 4.L):
// host-implemented imports registered by (module, field) name, type-checked
// against their declared signature before being handed to the engine as a
// wasm.FunctionInstance.
package hostfunc

import (
	"context"
	"fmt"
	"sync"

	"github.com/wrtgo/wrtgo/internal/logging"
	"github.com/wrtgo/wrtgo/internal/wasm"
	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// Func is the signature every registered host function implements.
type Func func(ctx context.Context, args []wasm.Value) ([]wasm.Value, error)

func (f Func) Call(ctx context.Context, args []wasm.Value) ([]wasm.Value, error) { return f(ctx, args) }

type entry struct {
	typ *wasm.FuncType
	fn  Func
}

// Registry holds every host function a facade preset makes available to
// guest modules, keyed by the (module_name, field_name) pair a Wasm import
// names (spec 4.L).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]map[string]entry
	log     logging.Logger
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]map[string]entry), log: logging.New("hostfunc")}
}

// Register adds fn under (module, name) with the given declared signature.
// Re-registering the same (module, name) replaces the prior entry, mirroring
// how a host rewires its own imports between runs without restarting the
// engine.
func (r *Registry) Register(module, name string, typ wasm.FuncType, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[module] == nil {
		r.entries[module] = make(map[string]entry)
	}
	r.entries[module][name] = entry{typ: &typ, fn: fn}
	r.log.WithFields(map[string]any{"module": module, "name": name}).Info("host function registered")
}

// Resolve satisfies wasm.ImportProvider: it is passed directly to
// wasm.Instantiate/engine.Engine.Instantiate as the import resolver for
// function imports. It resolves nothing else: table/memory/global imports
// need another provider ahead of it (see Chain).
func (r *Registry) Resolve(module, name string) (wasm.ImportValue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byName, ok := r.entries[module]
	if !ok {
		return wasm.ImportValue{}, false
	}
	e, ok := byName[name]
	if !ok {
		return wasm.ImportValue{}, false
	}
	return wasm.ImportValue{
		Kind: wasm.ExternKindFunc,
		Func: &wasm.FunctionInstance{Type: e.typ, IsHost: true, Host: e.fn},
	}, true
}

// Chain combines multiple wasm.ImportProvider values, trying each in order.
// Used to compose the host function registry with whatever other instances'
// exports a facade also makes available as imports.
func Chain(providers ...wasm.ImportProvider) wasm.ImportProvider {
	return func(module, name string) (wasm.ImportValue, bool) {
		for _, p := range providers {
			if v, ok := p(module, name); ok {
				return v, true
			}
		}
		return wasm.ImportValue{}, false
	}
}

// CheckArity returns a descriptive error if args does not match typ's
// parameter count and types, used by callers that marshal arguments from an
// untyped source (e.g. the CLI) before invoking a host function directly.
func CheckArity(typ *wasm.FuncType, args []wasm.Value) error {
	if len(args) != len(typ.Params) {
		return wrterr.New(wrterr.KindSignatureMismatch, "expected %d arguments, got %d", len(typ.Params), len(args))
	}
	for i, p := range typ.Params {
		if args[i].Type != p {
			return wrterr.New(wrterr.KindTypeMismatch, "argument %d: expected %s, got %s", i, p, args[i].Type)
		}
	}
	return nil
}

func (e entry) String() string { return fmt.Sprintf("%+v", e.typ) }
