// Package component implements the Component Model layer (spec 4.M/4.O):
// component instances that wrap one or more core wasm.Instance values behind
// a canonical-ABI boundary, and the Resource Table that tracks host-owned
// handles crossing that boundary.
package component

import (
	"reflect"
	"sync"

	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// ResourceId identifies one live resource handle (spec 3, "Resource Table").
type ResourceId uint32

type resourceEntry struct {
	value   any
	typeTag string
}

// ResourceTable maps ResourceId to a boxed host value plus its declared
// type tag, so a guest cannot smuggle a handle of one resource type into an
// API expecting another (spec 4.O).
type ResourceTable struct {
	mu      sync.Mutex
	entries map[ResourceId]resourceEntry
	nextID  uint32
}

// NewResourceTable constructs an empty table.
func NewResourceTable() *ResourceTable {
	return &ResourceTable{entries: make(map[ResourceId]resourceEntry)}
}

// Add boxes value under typeTag and returns its new handle.
func (t *ResourceTable) Add(typeTag string, value any) ResourceId {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := ResourceId(t.nextID)
	t.entries[id] = resourceEntry{value: value, typeTag: typeTag}
	return id
}

// Get returns the boxed value for id, failing if id is unknown.
func (t *ResourceTable) Get(id ResourceId) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, wrterr.New(wrterr.KindIndexOutOfBounds, "resource %d not found", id)
	}
	return e.value, nil
}

// GetTyped returns the boxed value for id after verifying its type tag
// matches wantTag, failing with TypeMismatch otherwise (spec 4.O,
// "get_typed").
func (t *ResourceTable) GetTyped(id ResourceId, wantTag string) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, wrterr.New(wrterr.KindIndexOutOfBounds, "resource %d not found", id)
	}
	if e.typeTag != wantTag {
		return nil, wrterr.New(wrterr.KindTypeMismatch, "resource %d is %s, not %s", id, e.typeTag, wantTag)
	}
	return e.value, nil
}

// TypeOf returns id's declared type tag.
func (t *ResourceTable) TypeOf(id ResourceId) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return "", wrterr.New(wrterr.KindIndexOutOfBounds, "resource %d not found", id)
	}
	return e.typeTag, nil
}

// Contains reports whether id is live.
func (t *ResourceTable) Contains(id ResourceId) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}

// Remove drops id from the table, returning its boxed value so the caller
// can run any host-side teardown (closing a file, releasing a lease).
func (t *ResourceTable) Remove(id ResourceId) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, wrterr.New(wrterr.KindIndexOutOfBounds, "resource %d not found", id)
	}
	delete(t.entries, id)
	return e.value, nil
}

// Len reports how many resources are currently live.
func (t *ResourceTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// tagOf derives a type tag from a Go value's dynamic type. Add always takes
// an explicit tag, so nothing in this package calls it.
func tagOf(v any) string { return reflect.TypeOf(v).String() }
