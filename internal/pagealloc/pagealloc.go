// Package pagealloc implements the PageAllocator abstraction spec 4.E calls
// for: linear memory growth backed by platform pages rather than a
// provider's in-budget byte buffer. This is the Go analogue of wazero's
// internal/platform mmap-based code-segment allocator, retargeted from
// "executable code pages" to "Wasm linear memory pages".
package pagealloc

import (
	"github.com/edsrzf/mmap-go"
	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// PageSize is the Wasm linear-memory quantum (spec glossary, "Page").
const PageSize = 65536

// Allocator is the uniform interface linear memory can be backed by
// instead of a memref.Provider (spec 4.E, "Platform-backed mode").
type Allocator interface {
	// AllocatePages reserves n pages and returns a zero-initialized byte
	// slice of exactly n*PageSize bytes.
	AllocatePages(n uint32) ([]byte, error)
	// DeallocatePages releases a slice previously returned by
	// AllocatePages. Passing any other slice is undefined.
	DeallocatePages(region []byte) error
}

// mmapAllocator backs pages with an anonymous mmap region, so growth beyond
// a process's static budget can still be bounded by the OS/hardware rather
// than the Go heap, matching the original's platform-abstraction crate.
type mmapAllocator struct{}

// NewMmapAllocator returns a PageAllocator backed by anonymous memory maps.
func NewMmapAllocator() Allocator { return mmapAllocator{} }

func (mmapAllocator) AllocatePages(n uint32) ([]byte, error) {
	if n == 0 {
		return nil, wrterr.New(wrterr.KindInvalidConfiguration, "AllocatePages with zero pages")
	}
	size := int(n) * PageSize
	region, err := mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, wrterr.Wrap(wrterr.KindMemoryLimitExceeded, err, "mmap %d bytes failed", size)
	}
	return region, nil
}

func (mmapAllocator) DeallocatePages(region []byte) error {
	m := mmap.MMap(region)
	if err := m.Unmap(); err != nil {
		return wrterr.Wrap(wrterr.KindPoisonedState, err, "munmap failed")
	}
	return nil
}

// heapAllocator is the pure-Go fallback for platforms/tests where mmap is
// unavailable; it still honors the Allocator contract (zero-initialized,
// exact size).
type heapAllocator struct{}

// NewHeapAllocator returns a PageAllocator backed by ordinary Go slices.
func NewHeapAllocator() Allocator { return heapAllocator{} }

func (heapAllocator) AllocatePages(n uint32) ([]byte, error) {
	if n == 0 {
		return nil, wrterr.New(wrterr.KindInvalidConfiguration, "AllocatePages with zero pages")
	}
	return make([]byte, int(n)*PageSize), nil
}

func (heapAllocator) DeallocatePages([]byte) error { return nil }
