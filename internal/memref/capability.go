package memref

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/wrtgo/wrtgo/internal/wrterr"
)

// CapabilityKind distinguishes the four authorization modes a crate can
// hold (spec 4.B).
type CapabilityKind uint8

const (
	// CapabilityNone: the crate may not allocate at all.
	CapabilityNone CapabilityKind = iota
	// CapabilityStatic: each request may be at most MaxBytes, delegated to
	// the coordinator with no local bookkeeping; the capability itself does
	// not limit the cumulative total (only the crate's coordinator quota does).
	CapabilityStatic
	// CapabilityDynamic: like Static, but tracks live bytes locally so the
	// capability can be revoked independent of the coordinator.
	CapabilityDynamic
	// CapabilityVerified: Static plus an attestation tag, for the highest
	// ASIL levels.
	CapabilityVerified
)

// Capability is the authorization a CrateId holds to allocate memory.
type Capability struct {
	Kind     CapabilityKind
	MaxBytes uint64
	// ProofId is set only for CapabilityVerified; it tags the capability
	// with an attestation id (spec 4.B) for audit trails.
	ProofId uuid.UUID

	// liveBytes is only meaningful for CapabilityDynamic.
	liveBytes atomic.Uint64
	// revoked makes a Dynamic capability refuse further allocation without
	// affecting bytes already reserved through the coordinator.
	revoked atomic.Bool
}

// NewStaticCapability authorizes up to maxBytes, delegated entirely to the
// coordinator.
func NewStaticCapability(maxBytes uint64) *Capability {
	return &Capability{Kind: CapabilityStatic, MaxBytes: maxBytes}
}

// NewDynamicCapability authorizes up to maxBytes and tracks live bytes
// locally so Revoke can cut off further allocation.
func NewDynamicCapability(maxBytes uint64) *Capability {
	return &Capability{Kind: CapabilityDynamic, MaxBytes: maxBytes}
}

// NewVerifiedCapability authorizes up to maxBytes like Static, tagged with
// a fresh attestation id.
func NewVerifiedCapability(maxBytes uint64) *Capability {
	return &Capability{Kind: CapabilityVerified, MaxBytes: maxBytes, ProofId: uuid.New()}
}

// Revoke disables further allocation through a Dynamic capability. It is a
// no-op (but still returns an error) for other kinds, which have no
// revocation mechanism.
func (c *Capability) Revoke() error {
	if c.Kind != CapabilityDynamic {
		return wrterr.New(wrterr.KindInvalidConfiguration, "capability kind %d does not support revocation", c.Kind)
	}
	c.revoked.Store(true)
	return nil
}

func (c *Capability) authorize(size uint64) error {
	switch c.Kind {
	case CapabilityNone:
		return wrterr.New(wrterr.KindMemoryLimitExceeded, "crate has no allocation capability")
	case CapabilityDynamic:
		if c.revoked.Load() {
			return wrterr.New(wrterr.KindMemoryLimitExceeded, "capability revoked")
		}
		for {
			cur := c.liveBytes.Load()
			next := cur + size
			if next > c.MaxBytes {
				return wrterr.New(wrterr.KindMemoryLimitExceeded,
					"capability max exceeded: live=%d requested=%d max=%d", cur, size, c.MaxBytes)
			}
			if c.liveBytes.CompareAndSwap(cur, next) {
				return nil
			}
		}
	case CapabilityStatic, CapabilityVerified:
		// Cumulative cap is enforced identically, the Coordinator is the
		// source of truth for "cumulative" since Static/Verified track no
		// local state; MaxBytes instead bounds any single request.
		if size > c.MaxBytes {
			return wrterr.New(wrterr.KindMemoryLimitExceeded,
				"capability max exceeded: requested=%d max=%d", size, c.MaxBytes)
		}
		return nil
	default:
		return wrterr.New(wrterr.KindInvalidConfiguration, "unknown capability kind %d", c.Kind)
	}
}

func (c *Capability) release(size uint64) {
	if c.Kind == CapabilityDynamic {
		for {
			cur := c.liveBytes.Load()
			if cur < size {
				return // best-effort; coordinator is authoritative on double-free
			}
			if c.liveBytes.CompareAndSwap(cur, cur-size) {
				return
			}
		}
	}
}

// Context maps each CrateId to its Capability and mediates provider
// creation against the process-wide Coordinator (spec 4.B).
type Context struct {
	coordinator *Coordinator
	caps        [crateCount]*Capability
	// mu guards capability replacement via SetCapability; CreateProvider
	// takes only its read lock, to look up the crate's capability.
	mu sync.RWMutex
}

// NewContext binds a Context to coordinator with every crate starting as
// CapabilityNone.
func NewContext(coordinator *Coordinator) *Context {
	ctx := &Context{coordinator: coordinator}
	for i := range ctx.caps {
		ctx.caps[i] = &Capability{Kind: CapabilityNone}
	}
	return ctx
}

// SetCapability installs cap for crate, replacing any previous capability.
func (ctx *Context) SetCapability(crate CrateId, cap *Capability) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.caps[crate] = cap
}

func (ctx *Context) capability(crate CrateId) *Capability {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.caps[crate]
}

// CreateProvider checks crate's capability allows size bytes, registers the
// reservation with the coordinator, and returns a single-owner guard whose
// Close (called exactly once, typically deferred) returns the bytes. It corresponds to spec 4.B's create_provider<N>.
func (ctx *Context) CreateProvider(crate CrateId, size uint64) (*ProviderGuard, error) {
	cap := ctx.capability(crate)
	if err := cap.authorize(size); err != nil {
		return nil, err
	}
	id, err := ctx.coordinator.RegisterAllocation(crate, size)
	if err != nil {
		cap.release(size) // undo the capability-local reservation
		return nil, err
	}
	p := newProvider(crate, size)
	return &ProviderGuard{
		provider:    p,
		id:          id,
		crate:       crate,
		size:        size,
		coordinator: ctx.coordinator,
		cap:         cap,
	}, nil
}
