package bound

import (
	"github.com/cespare/xxhash/v2"
	"github.com/wrtgo/wrtgo/internal/memref"
	"github.com/wrtgo/wrtgo/internal/verify"
	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// Deque is a fixed-capacity double-ended queue backed by a ring buffer over
// a single Provider (spec 4.D: "Other bounded containers (Stack, Queue,
// Deque, Map, Set) mirror these invariants").
type Deque[T any] struct {
	guard *memref.ProviderGuard
	codec Codec[T]
	cap   uint32
	head  uint32 // index of the logical front element
	len   uint32

	level    verify.Level
	checksum uint64
	opCount  uint64
}

// NewDeque allocates a Deque of the given capacity.
func NewDeque[T any](ctx *memref.Context, crate memref.CrateId, cap uint32, codec Codec[T], level verify.Level) (*Deque[T], error) {
	guard, err := ctx.CreateProvider(crate, uint64(cap)*uint64(codec.Size()))
	if err != nil {
		return nil, err
	}
	return &Deque[T]{guard: guard, codec: codec, cap: cap, level: level}, nil
}

func (d *Deque[T]) Close() error { return d.guard.Close() }
func (d *Deque[T]) Len() uint32  { return d.len }
func (d *Deque[T]) Cap() uint32  { return d.cap }

func (d *Deque[T]) slot(logicalIndex uint32) uint32 {
	return (d.head + logicalIndex) % d.cap
}

// serializedSnapshot returns the logical elements in order, used for
// checksumming (the ring buffer's physical layout is not itself hashed,
// only the logical sequence, so wraparound doesn't change the checksum).
func (d *Deque[T]) serializedSnapshot() []byte {
	sz := d.codec.Size()
	out := make([]byte, d.len*sz)
	buf := d.guard.Provider().Bytes()
	for i := uint32(0); i < d.len; i++ {
		off := d.slot(i) * sz
		copy(out[i*sz:(i+1)*sz], buf[off:off+sz])
	}
	return out
}

func (d *Deque[T]) recomputeChecksum() {
	if d.level == verify.Off {
		return
	}
	d.checksum = xxhash.Sum64(d.serializedSnapshot())
}

func (d *Deque[T]) afterMutate() {
	d.opCount++
	switch d.level {
	case verify.Off:
		return
	case verify.Sampling:
		if d.opCount%verify.SamplingStride == 0 {
			d.recomputeChecksum()
		}
	default:
		d.recomputeChecksum()
	}
}

// VerifyChecksum recomputes the checksum over the logical sequence and
// compares it to the stored value.
func (d *Deque[T]) VerifyChecksum() error {
	if d.level == verify.Off {
		return nil
	}
	if xxhash.Sum64(d.serializedSnapshot()) != d.checksum {
		return wrterr.New(wrterr.KindChecksumMismatch, "bounded deque checksum mismatch")
	}
	return nil
}

func (d *Deque[T]) writeSlot(logicalIndex uint32, value T) {
	sz := d.codec.Size()
	off := d.slot(logicalIndex) * sz
	d.codec.Encode(value, d.guard.Provider().Bytes()[off:off+sz])
}

func (d *Deque[T]) readSlot(logicalIndex uint32) T {
	sz := d.codec.Size()
	off := d.slot(logicalIndex) * sz
	return d.codec.Decode(d.guard.Provider().Bytes()[off : off+sz])
}

// PushBack appends value at the logical end.
func (d *Deque[T]) PushBack(value T) error {
	if d.len >= d.cap {
		return wrterr.New(wrterr.KindCapacityExceeded, "deque at capacity %d", d.cap)
	}
	d.writeSlot(d.len, value)
	d.len++
	d.afterMutate()
	return nil
}

// PushFront prepends value at the logical start.
func (d *Deque[T]) PushFront(value T) error {
	if d.len >= d.cap {
		return wrterr.New(wrterr.KindCapacityExceeded, "deque at capacity %d", d.cap)
	}
	d.head = (d.head + d.cap - 1) % d.cap
	d.len++
	d.writeSlot(0, value)
	d.afterMutate()
	return nil
}

// PopFront removes and returns the front element.
func (d *Deque[T]) PopFront() (T, error) {
	var zero T
	if d.len == 0 {
		return zero, wrterr.New(wrterr.KindIndexOutOfBounds, "pop from empty deque")
	}
	v := d.readSlot(0)
	d.head = (d.head + 1) % d.cap
	d.len--
	d.afterMutate()
	return v, nil
}

// PopBack removes and returns the back element.
func (d *Deque[T]) PopBack() (T, error) {
	var zero T
	if d.len == 0 {
		return zero, wrterr.New(wrterr.KindIndexOutOfBounds, "pop from empty deque")
	}
	v := d.readSlot(d.len - 1)
	d.len--
	d.afterMutate()
	return v, nil
}

// Get returns the logical element at index i (0 = front).
func (d *Deque[T]) Get(i uint32) (T, error) {
	var zero T
	if i >= d.len {
		return zero, wrterr.New(wrterr.KindIndexOutOfBounds, "index %d out of bounds (len=%d)", i, d.len)
	}
	return d.readSlot(i), nil
}

// Each calls fn with every live element, front to back.
func (d *Deque[T]) Each(fn func(i uint32, value T)) {
	for i := uint32(0); i < d.len; i++ {
		fn(i, d.readSlot(i))
	}
}

// Queue is the FIFO restriction of Deque (spec 4.D).
type Queue[T any] struct {
	*Deque[T]
}

// NewQueue allocates a Queue of the given capacity.
func NewQueue[T any](ctx *memref.Context, crate memref.CrateId, cap uint32, codec Codec[T], level verify.Level) (*Queue[T], error) {
	d, err := NewDeque(ctx, crate, cap, codec, level)
	if err != nil {
		return nil, err
	}
	return &Queue[T]{Deque: d}, nil
}

// Enqueue appends to the back.
func (q *Queue[T]) Enqueue(value T) error { return q.PushBack(value) }

// Dequeue removes from the front.
func (q *Queue[T]) Dequeue() (T, error) { return q.PopFront() }
