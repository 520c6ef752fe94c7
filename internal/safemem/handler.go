package safemem

import (
	"github.com/cespare/xxhash/v2"
	"github.com/wrtgo/wrtgo/internal/verify"
	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// regionSize is the aligned window size access statistics bucket touches
// into (spec 4.E: "number of unique regions touched").
const regionSize = 4096

// Stats mirrors spec 3's SafeMemoryHandler bookkeeping fields.
type Stats struct {
	TotalSize     uint64
	AccessCount   uint64
	MaxAccessSize uint64
	UniqueRegions uint64
}

// Handler wraps a LinearMemory with access-stat bookkeeping and an optional
// whole-memory checksum (spec 4.E).
type Handler struct {
	mem   *LinearMemory
	level verify.Level

	accessCount   uint64
	maxAccessSize uint64
	// touchedRegions is accounting metadata, not Wasm-addressable storage;
	// it is explicitly exempted from the bounded-container discipline
	// (spec 3's invariant targets live Wasm state, not host-side stats)
	// since its natural bound (address space / regionSize) is far larger
	// than any embedding would plausibly touch in one execution.
	touchedRegions map[uint64]struct{}

	checksum     uint64
	checksumFull bool // true once a checksum has been computed at least once
}

// NewHandler wraps mem at verification level level.
func NewHandler(mem *LinearMemory, level verify.Level) *Handler {
	return &Handler{mem: mem, level: level, touchedRegions: make(map[uint64]struct{})}
}

// Close releases the underlying LinearMemory.
func (h *Handler) Close() error { return h.mem.Close() }

// Size returns the current size in pages.
func (h *Handler) Size() uint32 { return h.mem.Pages() }

// ByteSize returns the current size in bytes.
func (h *Handler) ByteSize() uint64 { return h.mem.ByteSize() }

// Stats returns a snapshot of current access statistics.
func (h *Handler) Stats() Stats {
	return Stats{
		TotalSize:     h.ByteSize(),
		AccessCount:   h.accessCount,
		MaxAccessSize: h.maxAccessSize,
		UniqueRegions: uint64(len(h.touchedRegions)),
	}
}

func (h *Handler) recordAccess(offset uint64, length uint64) {
	h.accessCount++
	if length > h.maxAccessSize {
		h.maxAccessSize = length
	}
	if length == 0 {
		return
	}
	first := offset / regionSize
	last := (offset + length - 1) / regionSize
	for r := first; r <= last; r++ {
		h.touchedRegions[r] = struct{}{}
	}
}

func (h *Handler) checkBounds(offset uint64, length uint64) error {
	if offset+length > h.ByteSize() {
		return wrterr.New(wrterr.KindOutOfBounds, "access [%d:%d) exceeds memory size %d", offset, offset+length, h.ByteSize())
	}
	return nil
}

func (h *Handler) recomputeChecksum() {
	h.checksum = xxhash.Sum64(h.mem.Bytes())
	h.checksumFull = true
}

// Read copies len(buf) bytes starting at offset into buf, bounds-checked,
// and updates access statistics.
func (h *Handler) Read(offset uint64, buf []byte) error {
	if err := h.checkBounds(offset, uint64(len(buf))); err != nil {
		return err
	}
	if h.level.ChecksumsOnRead() {
		if err := h.VerifyIntegrity(); err != nil {
			return err
		}
	}
	copy(buf, h.mem.Bytes()[offset:offset+uint64(len(buf))])
	h.recordAccess(offset, uint64(len(buf)))
	return nil
}

// Write copies bytes into memory starting at offset, bounds-checked, and
// updates the checksum and access statistics.
func (h *Handler) Write(offset uint64, bytes []byte) error {
	if err := h.checkBounds(offset, uint64(len(bytes))); err != nil {
		return err
	}
	copy(h.mem.Bytes()[offset:offset+uint64(len(bytes))], bytes)
	h.recordAccess(offset, uint64(len(bytes)))
	if h.level.ChecksumsOnMutate() {
		h.recomputeChecksum()
	}
	return nil
}

// Fill writes n copies of value starting at offset (spec 4.E, scalar fill).
func (h *Handler) Fill(offset uint64, value byte, n uint64) error {
	if err := h.checkBounds(offset, n); err != nil {
		return err
	}
	region := h.mem.Bytes()[offset : offset+n]
	for i := range region {
		region[i] = value
	}
	h.recordAccess(offset, n)
	if h.level.ChecksumsOnMutate() {
		h.recomputeChecksum()
	}
	return nil
}

// Grow extends the memory by deltaPages, zero-initialized, invalidating and
// lazily recomputing the checksum (spec 4.E).
func (h *Handler) Grow(deltaPages uint32) (uint32, error) {
	prev, err := h.mem.Grow(deltaPages)
	if err != nil {
		return 0, err
	}
	h.checksumFull = false // lazily recomputed on next VerifyIntegrity/read-at-Full
	return prev, nil
}

// VerifyIntegrity recomputes the whole-memory checksum and compares it to
// the stored value. The very first call after construction or Grow simply
// establishes the baseline (nothing to compare against yet).
func (h *Handler) VerifyIntegrity() error {
	if !h.checksumFull {
		h.recomputeChecksum()
		return nil
	}
	prior := h.checksum
	h.recomputeChecksum()
	if h.checksum != prior {
		return wrterr.New(wrterr.KindChecksumMismatch, "linear memory checksum mismatch")
	}
	return nil
}

// SafeSlice is a view into memory whose Data accessor re-verifies bounds
// (and, at Full, re-checksums the whole memory) on every call (spec 4.E,
// "borrow_slice").
type SafeSlice struct {
	h      *Handler
	offset uint64
	length uint64
}

// BorrowSlice returns a SafeSlice view of [offset, offset+length).
func (h *Handler) BorrowSlice(offset uint64, length uint64) (SafeSlice, error) {
	if err := h.checkBounds(offset, length); err != nil {
		return SafeSlice{}, err
	}
	return SafeSlice{h: h, offset: offset, length: length}, nil
}

// Data re-verifies bounds (and, at Full, the whole-memory checksum) and
// returns the live backing bytes for this slice.
func (s SafeSlice) Data() ([]byte, error) {
	if err := s.h.checkBounds(s.offset, s.length); err != nil {
		return nil, err
	}
	if s.h.level == verify.Full {
		if err := s.h.VerifyIntegrity(); err != nil {
			return nil, err
		}
	}
	return s.h.mem.Bytes()[s.offset : s.offset+s.length], nil
}

// CopyWithinOrBetween implements memory.copy semantics (spec 4.E): memmove
// when src == dst, bounds-checked on both ends before any byte is written
// so a failure on either endpoint leaves both memories untouched (spec §9
// Open Question resolution: "no writes before or after trap").
func CopyWithinOrBetween(dst *Handler, dstOffset uint64, src *Handler, srcOffset uint64, n uint64) error {
	if err := dst.checkBounds(dstOffset, n); err != nil {
		return err
	}
	if err := src.checkBounds(srcOffset, n); err != nil {
		return err
	}
	if dst == src {
		// copy() in Go already implements memmove semantics for
		// overlapping slices of the same underlying array.
		copy(dst.mem.Bytes()[dstOffset:dstOffset+n], src.mem.Bytes()[srcOffset:srcOffset+n])
	} else {
		srcBytes := make([]byte, n)
		copy(srcBytes, src.mem.Bytes()[srcOffset:srcOffset+n])
		copy(dst.mem.Bytes()[dstOffset:dstOffset+n], srcBytes)
	}
	dst.recordAccess(dstOffset, n)
	src.recordAccess(srcOffset, n)
	if dst.level.ChecksumsOnMutate() {
		dst.recomputeChecksum()
	}
	return nil
}
