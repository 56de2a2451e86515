package asm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBindAndFinalizeResolvesForwardJump(t *testing.T) {
	a := New()
	a.Jmp("end")
	a.MovRegImm32(RAX, 1)
	require.NoError(t, a.Bind("end"))
	a.Ret()

	code, err := a.Finalize()
	require.NoError(t, err)
	require.Equal(t, byte(0xE9), code[0])
	require.Equal(t, byte(0x07), code[1]) // skip over the 7-byte MovRegImm32
}

func TestBindTwiceErrors(t *testing.T) {
	a := New()
	require.NoError(t, a.Bind("l"))
	err := a.Bind("l")
	require.Error(t, err)
}

func TestFinalizeUnresolvedLabelErrors(t *testing.T) {
	a := New()
	a.Jmp("nowhere")
	_, err := a.Finalize()
	require.Error(t, err)
}

func TestBackwardJumpNegativeDisplacement(t *testing.T) {
	a := New()
	require.NoError(t, a.Bind("top"))
	a.AddRegImm32(RAX, 1)
	a.Jmp("top")
	code, err := a.Finalize()
	require.NoError(t, err)
	require.Less(t, int8(code[len(code)-4]), int8(0))
}
