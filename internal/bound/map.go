package bound

import (
	"github.com/cespare/xxhash/v2"
	"github.com/wrtgo/wrtgo/internal/memref"
	"github.com/wrtgo/wrtgo/internal/verify"
	"github.com/wrtgo/wrtgo/internal/wrterr"
)

type slotState byte

const (
	slotEmpty slotState = iota
	slotOccupied
	slotTombstone
)

// Map is a fixed-capacity hash map using open addressing with linear
// probing over a single Provider (spec 4.D: "Maps use open-addressing over
// a fixed-capacity array of slots; probe length <= CAP; never rehash").
type Map[K comparable, V any] struct {
	guard      *memref.ProviderGuard
	keyCodec   Codec[K]
	valueCodec Codec[V]
	cap        uint32
	count      uint32
	states     []slotState
	keys       []K // decoded key cache, indexed by slot; valid only when states[i]==occupied
	level      verify.Level
	checksum   uint64
	opCount    uint64
}

// NewMap allocates a Map with cap slots.
func NewMap[K comparable, V any](ctx *memref.Context, crate memref.CrateId, cap uint32, keyCodec Codec[K], valueCodec Codec[V], level verify.Level) (*Map[K, V], error) {
	elemSize := keyCodec.Size() + valueCodec.Size()
	guard, err := ctx.CreateProvider(crate, uint64(cap)*uint64(elemSize))
	if err != nil {
		return nil, err
	}
	return &Map[K, V]{
		guard: guard, keyCodec: keyCodec, valueCodec: valueCodec, cap: cap,
		states: make([]slotState, cap), keys: make([]K, cap), level: level,
	}, nil
}

func (m *Map[K, V]) Close() error { return m.guard.Close() }
func (m *Map[K, V]) Len() uint32  { return m.count }
func (m *Map[K, V]) Cap() uint32  { return m.cap }

func (m *Map[K, V]) elemSize() uint32 { return m.keyCodec.Size() + m.valueCodec.Size() }

func (m *Map[K, V]) slotBytes(i uint32) []byte {
	sz := m.elemSize()
	return m.guard.Provider().Bytes()[i*sz : (i+1)*sz]
}

func (m *Map[K, V]) hashKey(k K) uint64 {
	buf := make([]byte, m.keyCodec.Size())
	m.keyCodec.Encode(k, buf)
	return xxhash.Sum64(buf)
}

// find returns (slot, found). If not found, slot is the first empty or
// tombstone slot suitable for insertion, or -1 if the probe exhausted the
// full capacity without finding one (table genuinely full).
func (m *Map[K, V]) find(k K) (int64, bool) {
	start := m.hashKey(k) % uint64(m.cap)
	firstFree := int64(-1)
	for probe := uint32(0); probe < m.cap; probe++ {
		idx := (start + uint64(probe)) % uint64(m.cap)
		switch m.states[idx] {
		case slotEmpty:
			if firstFree == -1 {
				firstFree = int64(idx)
			}
			return firstFree, false
		case slotTombstone:
			if firstFree == -1 {
				firstFree = int64(idx)
			}
		case slotOccupied:
			if m.keys[idx] == k {
				return int64(idx), true
			}
		}
	}
	return firstFree, false
}

func (m *Map[K, V]) afterMutate() {
	m.opCount++
	if m.level == verify.Off {
		return
	}
	if m.level == verify.Sampling && m.opCount%verify.SamplingStride != 0 {
		return
	}
	m.recomputeChecksum()
}

func (m *Map[K, V]) recomputeChecksum() {
	sz := m.elemSize()
	buf := m.guard.Provider().Bytes()
	h := xxhash.New()
	for i := uint32(0); i < m.cap; i++ {
		if m.states[i] == slotOccupied {
			_, _ = h.Write(buf[i*sz : (i+1)*sz])
		}
	}
	m.checksum = h.Sum64()
}

// VerifyChecksum recomputes the checksum over occupied slots.
func (m *Map[K, V]) VerifyChecksum() error {
	if m.level == verify.Off {
		return nil
	}
	prior := m.checksum
	m.recomputeChecksum()
	if m.checksum != prior {
		return wrterr.New(wrterr.KindChecksumMismatch, "bounded map checksum mismatch")
	}
	return nil
}

// Set inserts or updates the value for key k. Fails with CapacityExceeded
// if the table is full and k is not already present.
func (m *Map[K, V]) Set(k K, v V) error {
	slot, found := m.find(k)
	if slot == -1 {
		return wrterr.New(wrterr.KindCapacityExceeded, "map at capacity %d", m.cap)
	}
	keySize := m.keyCodec.Size()
	buf := m.slotBytes(uint32(slot))
	m.keyCodec.Encode(k, buf[:keySize])
	m.valueCodec.Encode(v, buf[keySize:])
	if !found {
		m.states[slot] = slotOccupied
		m.keys[slot] = k
		m.count++
	}
	m.afterMutate()
	return nil
}

// Get looks up the value for key k.
func (m *Map[K, V]) Get(k K) (V, bool) {
	var zero V
	slot, found := m.find(k)
	if !found {
		return zero, false
	}
	buf := m.slotBytes(uint32(slot))
	return m.valueCodec.Decode(buf[m.keyCodec.Size():]), true
}

// Delete removes key k if present, tombstoning its slot so later probes
// still traverse past it.
func (m *Map[K, V]) Delete(k K) bool {
	slot, found := m.find(k)
	if !found {
		return false
	}
	m.states[slot] = slotTombstone
	var zeroK K
	m.keys[slot] = zeroK
	m.count--
	m.afterMutate()
	return true
}

// Each calls fn for every occupied slot, in table order (not insertion
// order — the map makes no ordering guarantee).
func (m *Map[K, V]) Each(fn func(k K, v V)) {
	keySize := m.keyCodec.Size()
	for i := uint32(0); i < m.cap; i++ {
		if m.states[i] == slotOccupied {
			buf := m.slotBytes(i)
			fn(m.keyCodec.Decode(buf[:keySize]), m.valueCodec.Decode(buf[keySize:]))
		}
	}
}
