package asm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVpaddqYmmEmitsVexAndOpcode(t *testing.T) {
	a := New()
	a.VpaddqYmm(0, 1, 2)
	code, err := a.Finalize()
	require.NoError(t, err)
	require.Equal(t, byte(0xC4), code[0])
	require.Equal(t, byte(0xD4), code[3]) // VPADDQ opcode
}

func TestVmovdquYmmLoadStoreRoundTrip(t *testing.T) {
	a := New()
	a.VmovdquYmmLoad(0, RDI, RSI)
	a.VmovdquYmmStore(RDI, RSI, 0)
	code, err := a.Finalize()
	require.NoError(t, err)
	require.NotEmpty(t, code)
}

func TestVpaddqZmmEmitsEvexPrefix(t *testing.T) {
	a := New()
	a.VpaddqZmm(0, 1, 2)
	code, err := a.Finalize()
	require.NoError(t, err)
	require.Equal(t, byte(0x62), code[0])
	require.Equal(t, byte(0xD4), code[4])
}

func TestVmovdquZmmLoadSetsHighRegisterBits(t *testing.T) {
	a := New()
	a.VmovdquZmmLoad(8, RDI, RSI) // zmm8 requires EVEX.R=0
	code, err := a.Finalize()
	require.NoError(t, err)
	require.Equal(t, byte(0x62), code[0])
	require.Zero(t, code[1]&0x80) // R bit cleared since reg>=8
}

func TestEvexPrefixModrmRegisterMode(t *testing.T) {
	p := evexPrefix{reg: 3, rm: 5}
	require.Equal(t, byte(0xC0), p.modrm()&0xC0) // mod bits = 11
}
