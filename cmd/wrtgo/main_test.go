package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePreset(t *testing.T) {
	for _, name := range []string{"QM", "qm", "ASIL-A", "asila", "ASIL-D"} {
		_, err := parsePreset(name)
		require.NoError(t, err, name)
	}
	_, err := parsePreset("bogus")
	require.Error(t, err)
}

func TestParseArgs(t *testing.T) {
	vs, err := parseArgs([]string{"1", "-2", "42"})
	require.NoError(t, err)
	require.Len(t, vs, 3)
	require.Equal(t, int32(42), int32(vs[2].Bits()))

	_, err = parseArgs([]string{"not-a-number"})
	require.Error(t, err)
}

func TestRunCommand_MissingFunctionFlagFails(t *testing.T) {
	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"run", "missing.wasm"})
	err := cmd.Execute()
	require.Error(t, err)
}

func TestRunCommand_UnreadableModuleFails(t *testing.T) {
	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"run", "/nonexistent/path.wasm", "--function", "get42"})
	err := cmd.Execute()
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "reading"))
}

func TestUnavailableDecoder_AlwaysErrors(t *testing.T) {
	_, err := unavailableDecoder([]byte("anything"))
	require.Error(t, err)
}
