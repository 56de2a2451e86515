package asm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMovRegRegEncoding(t *testing.T) {
	a := New()
	a.MovRegReg(RAX, RCX)
	code, err := a.Finalize()
	require.NoError(t, err)
	// REX.W(0x48) 89 C8 (mov rax, rcx: reg=rcx(1)<<3 | rm=rax(0))
	require.Equal(t, []byte{0x48, 0x89, 0xC8}, code)
}

func TestMovRegRegExtendedRegistersSetRexBits(t *testing.T) {
	a := New()
	a.MovRegReg(R8, R9)
	code, err := a.Finalize()
	require.NoError(t, err)
	require.Equal(t, byte(0x4D), code[0]) // REX.W|R|B
}

func TestMovRegImm64Encoding(t *testing.T) {
	a := New()
	a.MovRegImm64(RAX, 0x1122334455667788)
	code, err := a.Finalize()
	require.NoError(t, err)
	require.Equal(t, byte(0xB8), code[1])
	require.Len(t, code, 10)
}

func TestEmitMemOperandForcesDisplacementForRbpBase(t *testing.T) {
	a := New()
	a.MovRegStack(RAX, 0)
	code, err := a.Finalize()
	require.NoError(t, err)
	// mod must not be 00 when base=RBP even with a zero offset.
	modrm := code[len(code)-2]
	require.NotEqual(t, byte(0x00), modrm&0xC0)
}

func TestPushPopRoundTripExtendedRegister(t *testing.T) {
	a := New()
	a.PushReg(R12)
	a.PopReg(R12)
	code, err := a.Finalize()
	require.NoError(t, err)
	require.Equal(t, []byte{0x41, 0x54, 0x41, 0x5C}, code)
}

func TestJccEncodesConditionByte(t *testing.T) {
	a := New()
	a.Jcc(CondLE, "target")
	require.NoError(t, a.Bind("target"))
	code, err := a.Finalize()
	require.NoError(t, err)
	require.Equal(t, byte(0x0F), code[0])
	require.Equal(t, byte(0x80|byte(CondLE)), code[1])
}

func TestSyscallEncodesTwoBytes(t *testing.T) {
	a := New()
	a.Syscall()
	code, err := a.Finalize()
	require.NoError(t, err)
	require.Equal(t, []byte{0x0F, 0x05}, code)
}

func TestMovRegMemDispNoIndex(t *testing.T) {
	a := New()
	a.MovRegMemDisp(RSI, RDI, 0)
	code, err := a.Finalize()
	require.NoError(t, err)
	require.NotEmpty(t, code)
}

func TestCallRegUsesIndirectOpcodeFF(t *testing.T) {
	a := New()
	a.CallReg(RAX)
	code, err := a.Finalize()
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xD0}, code)
}
