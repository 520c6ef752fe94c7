package memref

import (
	"sync"

	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// Provider owns an aligned byte buffer of exactly Capacity bytes (spec
// 4.C). It is movable (pass by pointer) but never copyable in spirit: a
// Provider must have exactly one ProviderGuard as its owner.
type Provider struct {
	crate    CrateId
	capacity uint64
	buf      []byte
}

func newProvider(crate CrateId, capacity uint64) *Provider {
	return &Provider{crate: crate, capacity: capacity, buf: make([]byte, capacity)}
}

// Capacity returns N, the provider's fixed byte capacity. A full Wasm
// linear memory (65536 pages * 64 KiB) is 2^32 bytes, so this must not be
// narrowed to uint32.
func (p *Provider) Capacity() uint64 { return p.capacity }

// Crate returns the CrateId this provider's bytes are charged against.
func (p *Provider) Crate() CrateId { return p.crate }

// ReadAt copies len(dst) bytes starting at offset into dst.
func (p *Provider) ReadAt(offset uint64, dst []byte) error {
	end := offset + uint64(len(dst))
	if end > p.capacity {
		return wrterr.New(wrterr.KindOutOfBounds, "read [%d:%d) exceeds provider capacity %d", offset, end, p.capacity)
	}
	copy(dst, p.buf[offset:end])
	return nil
}

// WriteAt copies src into the buffer starting at offset.
func (p *Provider) WriteAt(offset uint64, src []byte) error {
	end := offset + uint64(len(src))
	if end > p.capacity {
		return wrterr.New(wrterr.KindCapacityExceeded, "write [%d:%d) exceeds provider capacity %d", offset, end, p.capacity)
	}
	copy(p.buf[offset:end], src)
	return nil
}

// Bytes exposes the raw backing buffer for in-package callers (bounded
// containers) that need direct slicing; it must never be retained past the
// provider's lifetime or shared across goroutines for mutation.
func (p *Provider) Bytes() []byte { return p.buf }

// ProviderGuard is the capability-guarded, single-owner handle to a
// Provider. Its Close (the Go analogue of Drop) returns the reservation to
// the Coordinator exactly once; a second Close is a no-op by design so
// defer Close() is always safe, but any non-owner calling Close is a bug
// the guard cannot detect (ownership is a Go-level discipline, not enforced
// by the type system, mirroring how wazero treats single-owner arenas).
type ProviderGuard struct {
	provider    *Provider
	id          AllocationId
	crate       CrateId
	size        uint64
	coordinator *Coordinator
	cap         *Capability

	closeOnce sync.Once
	closeErr  error
}

// Provider dereferences the guard to the underlying fixed-capacity buffer.
func (g *ProviderGuard) Provider() *Provider { return g.provider }

// AllocationId returns the id issued by the coordinator for this guard.
func (g *ProviderGuard) AllocationId() AllocationId { return g.id }

// Close returns the guard's bytes to the coordinator and capability. Safe
// to call multiple times; only the first call has effect.
func (g *ProviderGuard) Close() error {
	g.closeOnce.Do(func() {
		g.closeErr = g.coordinator.ReturnAllocation(g.crate, g.size)
		g.cap.release(g.size)
	})
	return g.closeErr
}
