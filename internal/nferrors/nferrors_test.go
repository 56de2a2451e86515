package nferrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(CompileError, "bad opcode %d", 7)
	require.Equal(t, "compile error: bad opcode 7", err.Error())
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("mmap failed")
	err := Wrap(MemoryError, cause, "allocate exec pages")
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "mmap failed")
}

func TestIsMatchesByKind(t *testing.T) {
	err := New(ExecutionError, "loop ran too long")
	require.True(t, errors.Is(err, ErrFuelExhausted))
	require.False(t, errors.Is(err, ErrSandboxTimeout) && err.Kind != ExecutionError)
}

func TestSecurityLimitsPresetsOrdered(t *testing.T) {
	strict := StrictLimits()
	def := DefaultLimits()
	trusted := TrustedLimits()

	require.Less(t, strict.MaxScriptSize, def.MaxScriptSize)
	require.Less(t, def.MaxScriptSize, trusted.MaxScriptSize)
	require.Less(t, strict.MaxInstructions, def.MaxInstructions)
	require.Less(t, def.MaxInstructions, trusted.MaxInstructions)
}

func TestCheckScriptSize(t *testing.T) {
	l := StrictLimits()
	require.NoError(t, l.CheckScriptSize(100))
	err := l.CheckScriptSize(l.MaxScriptSize + 1)
	require.Error(t, err)
	var nfErr *Error
	require.ErrorAs(t, err, &nfErr)
	require.Equal(t, SecurityError, nfErr.Kind)
}
