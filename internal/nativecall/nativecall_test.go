package nativecall

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanoforge/nanoforge/internal/asm"
	"github.com/nanoforge/nanoforge/internal/execmem"
)

// identityFunc assembles `mov rax, rdi; ret`, the minimal System V function
// that returns its single argument unchanged.
func identityFunc(t *testing.T) *execmem.Memory {
	t.Helper()
	a := asm.New()
	a.MovRegReg(asm.RAX, asm.RDI)
	a.Ret()
	code, err := a.Finalize()
	require.NoError(t, err)

	mem, err := execmem.New(len(code))
	require.NoError(t, err)
	require.NoError(t, mem.Write(0, code))
	mem.Publish()
	return mem
}

func TestInvokeReturnsCalleeResult(t *testing.T) {
	mem := identityFunc(t)
	defer mem.Close()

	got := Invoke(mem.EntryAddr(0), 0x1234)
	require.Equal(t, uint64(0x1234), got)
}

func TestInvokeRoundTripsMultipleCalls(t *testing.T) {
	mem := identityFunc(t)
	defer mem.Close()

	for _, v := range []uint64{0, 1, 42, 1 << 40} {
		require.Equal(t, v, Invoke(mem.EntryAddr(0), v))
	}
}
