// Package safemem implements the Safe Memory Handler and LinearMemory (spec
// 4.E): an integrity-checked, access-counted wrapper around Wasm linear
// memory, backed either by a memref.Provider or a pagealloc.Allocator.
package safemem

import (
	"github.com/wrtgo/wrtgo/internal/memref"
	"github.com/wrtgo/wrtgo/internal/pagealloc"
	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// Limits expresses (min, max) in pages, mirroring spec 3's "Limits".
type Limits struct {
	Min uint32
	Max *uint32 // nil means unbounded (subject to any hosting policy cap)
}

// LinearMemory is the logical byte array described in spec 3: length
// min*PageSize, growable to max*PageSize.
type LinearMemory struct {
	limits Limits
	pages  uint32

	// Exactly one of (provider, allocator) backs storage.
	guard     *memref.ProviderGuard // provider-backed mode
	allocator pagealloc.Allocator   // platform-backed mode
	region    []byte                // current backing bytes, either guard.Provider().Bytes() or allocator-owned
}

// NewProviderBacked allocates a LinearMemory whose bytes live inside a
// memref.Provider (in-budget mode). capPages bounds how large the provider
// is pre-sized to — growth beyond it fails even if limits.Max would allow
// more, since a Provider's capacity is fixed at construction.
func NewProviderBacked(ctx *memref.Context, crate memref.CrateId, limits Limits, capPages uint32) (*LinearMemory, error) {
	guard, err := ctx.CreateProvider(crate, uint64(capPages)*pagealloc.PageSize)
	if err != nil {
		return nil, err
	}
	lm := &LinearMemory{limits: limits, guard: guard, pages: limits.Min}
	lm.region = guard.Provider().Bytes()[:uint64(limits.Min)*pagealloc.PageSize]
	return lm, nil
}

// NewPlatformBacked allocates a LinearMemory whose pages come from a
// pagealloc.Allocator (spec 4.E, "Platform-backed mode").
func NewPlatformBacked(allocator pagealloc.Allocator, limits Limits) (*LinearMemory, error) {
	region, err := allocator.AllocatePages(limits.Min)
	if err != nil {
		return nil, err
	}
	return &LinearMemory{limits: limits, allocator: allocator, pages: limits.Min, region: region}, nil
}

// Close releases backing resources (provider guard or platform pages).
func (lm *LinearMemory) Close() error {
	if lm.guard != nil {
		return lm.guard.Close()
	}
	if lm.allocator != nil {
		return lm.allocator.DeallocatePages(lm.region)
	}
	return nil
}

// Pages returns the current size in pages.
func (lm *LinearMemory) Pages() uint32 { return lm.pages }

// ByteSize returns the current size in bytes: pages * PageSize.
func (lm *LinearMemory) ByteSize() uint64 { return uint64(lm.pages) * pagealloc.PageSize }

// Bytes exposes the live backing slice for internal callers (SafeMemoryHandler).
func (lm *LinearMemory) Bytes() []byte { return lm.region }

// Grow extends the memory by deltaPages, zero-initializing the new pages,
// and returns the previous page count. Fails if the new size would exceed
// limits.Max, or (provider-backed mode) the provider's fixed capacity.
func (lm *LinearMemory) Grow(deltaPages uint32) (uint32, error) {
	previous := lm.pages
	newPages := lm.pages + deltaPages
	if lm.limits.Max != nil && newPages > *lm.limits.Max {
		return 0, wrterr.New(wrterr.KindOutOfBounds, "grow to %d pages exceeds max %d", newPages, *lm.limits.Max)
	}

	if lm.guard != nil {
		newSize := uint64(newPages) * pagealloc.PageSize
		if newSize > lm.guard.Provider().Capacity() {
			return 0, wrterr.New(wrterr.KindCapacityExceeded, "grow to %d pages exceeds provider capacity", newPages)
		}
		lm.region = lm.guard.Provider().Bytes()[:newSize]
		lm.pages = newPages
		return previous, nil
	}

	newRegion, err := lm.allocator.AllocatePages(newPages)
	if err != nil {
		return 0, err
	}
	copy(newRegion, lm.region)
	if err := lm.allocator.DeallocatePages(lm.region); err != nil {
		return 0, err
	}
	lm.region = newRegion
	lm.pages = newPages
	return previous, nil
}
