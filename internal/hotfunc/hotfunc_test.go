package hotfunc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanoforge/nanoforge/internal/asm"
	"github.com/nanoforge/nanoforge/internal/execmem"
)

// identityMemory assembles `mov rax, rdi; ret`.
func identityMemory(t *testing.T) *execmem.Memory {
	t.Helper()
	a := asm.New()
	a.MovRegReg(asm.RAX, asm.RDI)
	a.Ret()
	code, err := a.Finalize()
	require.NoError(t, err)

	mem, err := execmem.New(len(code))
	require.NoError(t, err)
	require.NoError(t, mem.Write(0, code))
	return mem
}

// incrementMemory assembles code that returns arg+1:
// mov rax, rdi; add rax, 1; ret.
func incrementMemory(t *testing.T) *execmem.Memory {
	t.Helper()
	a := asm.New()
	a.MovRegReg(asm.RAX, asm.RDI)
	a.AddRegImm32(asm.RAX, 1)
	a.Ret()
	code, err := a.Finalize()
	require.NoError(t, err)

	mem, err := execmem.New(len(code))
	require.NoError(t, err)
	require.NoError(t, mem.Write(0, code))
	return mem
}

func TestCallUsesInitialImplementation(t *testing.T) {
	mem := identityMemory(t)
	hf := New(mem, 0)

	require.Equal(t, uint64(5), hf.Call(5))
}

func TestUpdateSwapsImplementation(t *testing.T) {
	hf := New(identityMemory(t), 0)
	require.Equal(t, uint64(5), hf.Call(5))

	hf.Update(incrementMemory(t), 0)
	require.Equal(t, uint64(6), hf.Call(5))
}
