package memref

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func quotas(foundation, runtime uint64) [crateCount]uint64 {
	var q [crateCount]uint64
	q[CrateFoundation] = foundation
	q[CrateRuntime] = runtime
	return q
}

func TestCoordinator_InitializeOnce(t *testing.T) {
	c := NewCoordinator()
	require.NoError(t, c.Initialize(quotas(100, 100), 200))
	require.Error(t, c.Initialize(quotas(100, 100), 200))
}

func TestCoordinator_RejectsOverBudgetQuotas(t *testing.T) {
	c := NewCoordinator()
	require.Error(t, c.Initialize(quotas(150, 150), 200))
}

func TestCoordinator_RejectsZeroQuota(t *testing.T) {
	c := NewCoordinator()
	var q [crateCount]uint64
	q[CrateFoundation] = 10
	require.Error(t, c.Initialize(q, 100))
}

func TestCoordinator_RegisterAndReturn(t *testing.T) {
	c := NewCoordinator()
	require.NoError(t, c.Initialize(quotas(100, 100), 200))

	id, err := c.RegisterAllocation(CrateFoundation, 50)
	require.NoError(t, err)
	require.NotZero(t, id)
	require.EqualValues(t, 50, c.LiveCrate(CrateFoundation))
	require.EqualValues(t, 50, c.LiveTotal())

	require.NoError(t, c.ReturnAllocation(CrateFoundation, 50))
	require.Zero(t, c.LiveCrate(CrateFoundation))
	require.Zero(t, c.LiveTotal())
}

func TestCoordinator_ExceedsCrateQuota(t *testing.T) {
	c := NewCoordinator()
	require.NoError(t, c.Initialize(quotas(50, 100), 200))
	_, err := c.RegisterAllocation(CrateFoundation, 51)
	require.Error(t, err)
	require.Zero(t, c.LiveCrate(CrateFoundation))
}

func TestCoordinator_ExceedsTotalBudget(t *testing.T) {
	c := NewCoordinator()
	require.NoError(t, c.Initialize(quotas(100, 100), 150))
	_, err := c.RegisterAllocation(CrateFoundation, 100)
	require.NoError(t, err)
	_, err = c.RegisterAllocation(CrateRuntime, 100)
	require.Error(t, err)
}

func TestCoordinator_DoubleFreeRejected(t *testing.T) {
	c := NewCoordinator()
	require.NoError(t, c.Initialize(quotas(100, 100), 200))
	require.NoError(t, c.ReturnAllocation(CrateFoundation, 0)) // no-op, not a double free
	require.Error(t, c.ReturnAllocation(CrateFoundation, 1))
}

func TestCoordinator_SelfTest(t *testing.T) {
	c := NewCoordinator()
	require.NoError(t, c.Initialize(quotas(100, 100), 200))
	_, err := c.RegisterAllocation(CrateFoundation, 10)
	require.NoError(t, err)
	require.NoError(t, c.SelfTest())
}

func TestContext_StaticCapabilityCreatesAndReleasesProvider(t *testing.T) {
	c := NewCoordinator()
	require.NoError(t, c.Initialize(quotas(1024, 1024), 2048))
	ctx := NewContext(c)
	ctx.SetCapability(CrateFoundation, NewStaticCapability(512))

	guard, err := ctx.CreateProvider(CrateFoundation, 256)
	require.NoError(t, err)
	require.EqualValues(t, 256, guard.Provider().Capacity())
	require.EqualValues(t, 256, c.LiveCrate(CrateFoundation))

	require.NoError(t, guard.Close())
	require.Zero(t, c.LiveCrate(CrateFoundation))
	// Close is idempotent.
	require.NoError(t, guard.Close())
}

func TestContext_NoneCapabilityRejectsAllocation(t *testing.T) {
	c := NewCoordinator()
	require.NoError(t, c.Initialize(quotas(1024, 1024), 2048))
	ctx := NewContext(c)

	_, err := ctx.CreateProvider(CrateFoundation, 1)
	require.Error(t, err)
}

func TestContext_DynamicCapabilityRevocation(t *testing.T) {
	c := NewCoordinator()
	require.NoError(t, c.Initialize(quotas(1024, 1024), 2048))
	ctx := NewContext(c)
	cap := NewDynamicCapability(512)
	ctx.SetCapability(CrateFoundation, cap)

	guard, err := ctx.CreateProvider(CrateFoundation, 100)
	require.NoError(t, err)
	defer guard.Close()

	require.NoError(t, cap.Revoke())
	_, err = ctx.CreateProvider(CrateFoundation, 1)
	require.Error(t, err)
}

func TestContext_VerifiedCapabilityHasProofId(t *testing.T) {
	cap := NewVerifiedCapability(64)
	require.NotEqual(t, cap.ProofId.String(), "00000000-0000-0000-0000-000000000000")
}

func TestProvider_BoundsChecked(t *testing.T) {
	p := newProvider(CrateFoundation, 8)
	require.NoError(t, p.WriteAt(0, []byte{1, 2, 3, 4}))
	buf := make([]byte, 4)
	require.NoError(t, p.ReadAt(0, buf))
	require.Equal(t, []byte{1, 2, 3, 4}, buf)

	require.Error(t, p.WriteAt(6, []byte{1, 2, 3}))
	require.Error(t, p.ReadAt(6, make([]byte, 3)))
}
