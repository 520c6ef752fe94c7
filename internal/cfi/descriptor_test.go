package cfi

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wrtgo/wrtgo/internal/wrterr"
)

func TestShadowStack_PushPopBalanced(t *testing.T) {
	s := NewShadowStack(Descriptor{Level: ProtectionSoftware, MaxShadowStackDepth: 4, ViolationPolicy: ViolationReturnError})
	require.NoError(t, s.PushReturn(100))
	require.NoError(t, s.PushReturn(200))
	require.EqualValues(t, 2, s.Depth())

	require.NoError(t, s.PopReturn(200))
	require.NoError(t, s.PopReturn(100))
	require.EqualValues(t, 0, s.Depth())
}

func TestShadowStack_DepthExceeded(t *testing.T) {
	s := NewShadowStack(Descriptor{Level: ProtectionSoftware, MaxShadowStackDepth: 1, ViolationPolicy: ViolationReturnError})
	require.NoError(t, s.PushReturn(1))
	err := s.PushReturn(2)
	require.Error(t, err)
	require.True(t, wrterr.Is(err, wrterr.KindCfiViolation))
}

func TestShadowStack_MismatchedReturn(t *testing.T) {
	s := NewShadowStack(Descriptor{Level: ProtectionSoftware, MaxShadowStackDepth: 4, ViolationPolicy: ViolationReturnError})
	require.NoError(t, s.PushReturn(1))
	err := s.PopReturn(99)
	require.Error(t, err)
	require.True(t, wrterr.Is(err, wrterr.KindCfiViolation))
}

func TestShadowStack_LogAndContinueSwallowsViolation(t *testing.T) {
	s := NewShadowStack(Descriptor{Level: ProtectionSoftware, MaxShadowStackDepth: 4, ViolationPolicy: ViolationLogAndContinue})
	err := s.PopReturn(1) // empty stack: would normally violate
	require.NoError(t, err)
}

func TestShadowStack_ProtectionNoneIsNoOp(t *testing.T) {
	s := NewShadowStack(Default())
	require.NoError(t, s.PushReturn(1))
	require.NoError(t, s.PopReturn(999)) // mismatch ignored: CFI disabled
	require.EqualValues(t, 0, s.Depth())
}
