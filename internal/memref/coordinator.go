package memref

import (
	"sync"
	"sync/atomic"

	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// AllocationId is an opaque non-zero handle identifying a live reservation.
// It is never reused while outstanding (spec 3, "AllocationId").
type AllocationId uint64

// Coordinator is the process-wide singleton that partitions a fixed byte
// budget across CrateIds (spec 4.A). All counters are updated with atomic
// CAS/fetch-add; there is no lock on the allocate/return fast path. The
// zero value is not usable; construct with NewCoordinator via Initialize.
type Coordinator struct {
	initialized atomic.Bool

	totalBudget uint64
	quotas      [crateCount]uint64

	liveTotal uint64
	liveCrate [crateCount]uint64

	nextID atomic.Uint64

	// mu guards only Initialize itself (register/return never take it),
	// matching the "exactly-once init, lock-free thereafter" contract.
	mu sync.Mutex
}

// NewCoordinator constructs an uninitialized Coordinator. Callers must call
// Initialize before any allocation.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Initialize partitions total across the given per-crate quotas exactly
// once. Fails if any quota is zero, if quotas sum past total, or if the
// coordinator was already initialized.
func (c *Coordinator) Initialize(quotas [crateCount]uint64, total uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized.Load() {
		return wrterr.New(wrterr.KindAlreadyInitialized, "memory coordinator already initialized")
	}

	var sum uint64
	for id, q := range quotas {
		if q == 0 {
			return wrterr.New(wrterr.KindInvalidConfiguration, "crate %s has zero quota", CrateId(id))
		}
		sum += q
	}
	if sum > total {
		return wrterr.New(wrterr.KindInvalidConfiguration, "sum of quotas %d exceeds total budget %d", sum, total)
	}

	c.quotas = quotas
	c.totalBudget = total
	c.initialized.Store(true)
	return nil
}

func (c *Coordinator) requireInitialized() error {
	if !c.initialized.Load() {
		return wrterr.New(wrterr.KindNotInitialized, "memory coordinator not initialized")
	}
	return nil
}

// RegisterAllocation reserves size bytes against crate's quota and the
// total budget, returning a fresh AllocationId on success. Fails with
// MemoryLimitExceeded, leaving all counters unchanged, if either ceiling
// would be exceeded.
func (c *Coordinator) RegisterAllocation(crate CrateId, size uint64) (AllocationId, error) {
	if err := c.requireInitialized(); err != nil {
		return 0, err
	}
	if !crate.Valid() {
		return 0, wrterr.New(wrterr.KindInvalidConfiguration, "unknown crate id %d", crate)
	}

	for {
		curTotal := atomic.LoadUint64(&c.liveTotal)
		newTotal := curTotal + size
		if newTotal > c.totalBudget {
			return 0, wrterr.New(wrterr.KindMemoryLimitExceeded,
				"total budget exceeded: live=%d requested=%d total=%d", curTotal, size, c.totalBudget).
				WithField("shortfall_bytes", newTotal-c.totalBudget)
		}

		curCrate := atomic.LoadUint64(&c.liveCrate[crate])
		newCrate := curCrate + size
		if newCrate > c.quotas[crate] {
			return 0, wrterr.New(wrterr.KindMemoryLimitExceeded,
				"crate %s quota exceeded: live=%d requested=%d quota=%d", crate, curCrate, size, c.quotas[crate]).
				WithField("shortfall_bytes", newCrate-c.quotas[crate])
		}

		if !atomic.CompareAndSwapUint64(&c.liveTotal, curTotal, newTotal) {
			continue
		}
		// Total is reserved; reserve the crate share with its own CAS so two
		// concurrent callers cannot both pass the crate check, handing the
		// total back if the crate quota no longer has room.
		for {
			curCrate = atomic.LoadUint64(&c.liveCrate[crate])
			newCrate = curCrate + size
			if newCrate > c.quotas[crate] {
				atomic.AddUint64(&c.liveTotal, ^(size - 1)) // atomic subtract
				return 0, wrterr.New(wrterr.KindMemoryLimitExceeded,
					"crate %s quota exceeded: live=%d requested=%d quota=%d", crate, curCrate, size, c.quotas[crate]).
					WithField("shortfall_bytes", newCrate-c.quotas[crate])
			}
			if atomic.CompareAndSwapUint64(&c.liveCrate[crate], curCrate, newCrate) {
				return AllocationId(c.nextID.Add(1)), nil
			}
		}
	}
}

// ReturnAllocation releases size bytes previously reserved for crate. It
// takes no AllocationId: it returns PoisonedState only when size exceeds the
// crate's live bytes, and it does not detect a repeated return that still
// fits within them.
//
// The coordinator does not track per-id bookkeeping itself (that burden is
// carried by the single-owner ProviderGuard that issued the id); this call
// simply releases the bytes. Callers that cannot prove single ownership
// must not call this directly — use a capability-issued guard instead.
func (c *Coordinator) ReturnAllocation(crate CrateId, size uint64) error {
	if err := c.requireInitialized(); err != nil {
		return err
	}
	if !crate.Valid() {
		return wrterr.New(wrterr.KindInvalidConfiguration, "unknown crate id %d", crate)
	}
	for {
		curCrate := atomic.LoadUint64(&c.liveCrate[crate])
		if size > curCrate {
			return wrterr.New(wrterr.KindPoisonedState, "double free: crate %s live=%d return=%d", crate, curCrate, size)
		}
		if atomic.CompareAndSwapUint64(&c.liveCrate[crate], curCrate, curCrate-size) {
			atomic.AddUint64(&c.liveTotal, ^(size - 1)) // atomic subtract
			return nil
		}
	}
}

// LiveCrate returns the bytes currently reserved for crate.
func (c *Coordinator) LiveCrate(crate CrateId) uint64 {
	if !crate.Valid() {
		return 0
	}
	return atomic.LoadUint64(&c.liveCrate[crate])
}

// QuotaCrate returns the configured quota for crate.
func (c *Coordinator) QuotaCrate(crate CrateId) uint64 {
	if !crate.Valid() {
		return 0
	}
	return c.quotas[crate]
}

// LiveTotal returns bytes currently reserved across all crates.
func (c *Coordinator) LiveTotal() uint64 { return atomic.LoadUint64(&c.liveTotal) }

// TotalBudget returns the configured process-wide budget.
func (c *Coordinator) TotalBudget() uint64 { return c.totalBudget }

// SelfTest performs the supplemented consistency check (SPEC_FULL §4): sum
// of per-crate live bytes must equal the tracked live total.
func (c *Coordinator) SelfTest() error {
	var sum uint64
	for i := 0; i < int(crateCount); i++ {
		sum += atomic.LoadUint64(&c.liveCrate[i])
	}
	if sum != c.LiveTotal() {
		return wrterr.New(wrterr.KindPoisonedState,
			"coordinator inconsistent: sum(live_crate)=%d != live_total=%d", sum, c.LiveTotal())
	}
	return nil
}
