package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_DoesNotPanic(t *testing.T) {
	l := New("cfi")
	require.NotNil(t, l)
	l.WithFields(map[string]any{"violation": "shadow-stack-depth"}).Warn("cfi violation")
}

func TestDiscard_IsNoop(t *testing.T) {
	Discard.Info("ignored")
	Discard.WithFields(map[string]any{"a": 1}).Error("ignored")
}
