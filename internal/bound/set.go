package bound

import (
	"github.com/wrtgo/wrtgo/internal/memref"
	"github.com/wrtgo/wrtgo/internal/verify"
)

// emptyCodec serializes struct{} as zero bytes, letting Set reuse Map's
// open-addressing storage without paying for a value slot.
type emptyCodec struct{}

func (emptyCodec) Size() uint32                { return 0 }
func (emptyCodec) Encode(struct{}, []byte)     {}
func (emptyCodec) Decode([]byte) struct{}      { return struct{}{} }

// Set is a fixed-capacity set, implemented as a Map[K, struct{}] (spec 4.D:
// "Other bounded containers ... mirror these invariants").
type Set[K comparable] struct {
	m *Map[K, struct{}]
}

// NewSet allocates a Set with cap slots.
func NewSet[K comparable](ctx *memref.Context, crate memref.CrateId, cap uint32, keyCodec Codec[K], level verify.Level) (*Set[K], error) {
	m, err := NewMap[K, struct{}](ctx, crate, cap, keyCodec, emptyCodec{}, level)
	if err != nil {
		return nil, err
	}
	return &Set[K]{m: m}, nil
}

func (s *Set[K]) Close() error { return s.m.Close() }
func (s *Set[K]) Len() uint32  { return s.m.Len() }
func (s *Set[K]) Cap() uint32  { return s.m.Cap() }

// Add inserts k, a no-op if already present.
func (s *Set[K]) Add(k K) error { return s.m.Set(k, struct{}{}) }

// Contains reports whether k is a member.
func (s *Set[K]) Contains(k K) bool {
	_, ok := s.m.Get(k)
	return ok
}

// Remove deletes k if present.
func (s *Set[K]) Remove(k K) bool { return s.m.Delete(k) }

// Each calls fn for every member.
func (s *Set[K]) Each(fn func(k K)) {
	s.m.Each(func(k K, _ struct{}) { fn(k) })
}
