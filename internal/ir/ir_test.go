package ir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOperandConstructors(t *testing.T) {
	require.True(t, Reg(3).IsReg())
	require.True(t, Reg(3).IsVirtualRegister())
	require.True(t, Ymm(1).IsYmm())
	require.True(t, Imm32(-5).IsImm())
	require.True(t, Label("loop").IsLabel())
	require.False(t, Reg(0).IsImm())
}

func TestOperandDistinctNamespaces(t *testing.T) {
	r := Reg(0)
	y := Ymm(0)
	require.NotEqual(t, r, y)
}

func TestInstructionOperands(t *testing.T) {
	i := BinOp(OpAdd, Reg(0), Reg(1))
	require.Equal(t, []Operand{Reg(0), Reg(1)}, i.Operands())

	ret := Return(Reg(2))
	require.Equal(t, []Operand{Reg(2)}, ret.Operands())
	require.True(t, ret.Op.IsTerminator())
}

func TestOpcodeClassification(t *testing.T) {
	require.True(t, OpJe.IsConditionalBranch())
	require.True(t, OpJmp.IsBranch())
	require.False(t, OpJmp.IsConditionalBranch())
	require.True(t, OpRet.IsTerminator())
	require.False(t, OpAdd.IsTerminator())
}

func TestFunctionCloneIsIndependent(t *testing.T) {
	fn := NewFunction("f", []string{"a"})
	fn.Push(MovImm(Reg(0), 1))
	cp := fn.Clone()
	cp.Push(MovImm(Reg(1), 2))
	require.Len(t, fn.Instrs, 1)
	require.Len(t, cp.Instrs, 2)
}

func TestProgramEntry(t *testing.T) {
	p := NewProgram()
	p.AddFunction(NewFunction("helper", nil))
	_, ok := p.Entry()
	require.False(t, ok)

	p.AddFunction(NewFunction("main", nil))
	main, ok := p.Entry()
	require.True(t, ok)
	require.Equal(t, "main", main.Name)
}

func TestProgramCloneDeepCopies(t *testing.T) {
	p := NewProgram()
	fn := NewFunction("main", nil)
	fn.Push(MovImm(Reg(0), 1))
	p.AddFunction(fn)

	cp := p.Clone()
	cp.Functions[0].Push(MovImm(Reg(1), 2))
	require.Len(t, p.Functions[0].Instrs, 1)
	require.Len(t, cp.Functions[0].Instrs, 2)
}
