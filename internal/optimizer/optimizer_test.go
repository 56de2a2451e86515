package optimizer

import (
	"testing"

	"github.com/nanoforge/nanoforge/internal/ir"
	"github.com/stretchr/testify/require"
)

func TestRemoveIdentityMoves(t *testing.T) {
	fn := ir.NewFunction("f", nil)
	fn.Push(ir.MovRegReg(ir.Reg(0), ir.Reg(0)))
	fn.Push(ir.MovImm(ir.Reg(1), 5))
	fn.Push(ir.Return(ir.Reg(1)))

	changed := removeIdentityMoves(fn)
	require.True(t, changed)
	require.Len(t, fn.Instrs, 2)
}

func TestConstantFolding(t *testing.T) {
	fn := ir.NewFunction("f", nil)
	fn.Push(ir.MovImm(ir.Reg(0), 3))
	fn.Push(ir.BinOp(ir.OpAdd, ir.Reg(0), ir.Imm32(4)))
	fn.Push(ir.Return(ir.Reg(0)))

	changed := constantFolding(fn)
	require.True(t, changed)
	require.Len(t, fn.Instrs, 2)
	require.Equal(t, int32(7), fn.Instrs[0].Src1.Imm)
}

func TestDeadCodeElimination(t *testing.T) {
	fn := ir.NewFunction("f", nil)
	fn.Push(ir.Return(ir.Reg(0)))
	fn.Push(ir.MovImm(ir.Reg(1), 9)) // unreachable
	fn.Push(ir.LabelDef("after"))
	fn.Push(ir.Return(ir.Reg(1)))

	changed := deadCodeElimination(fn)
	require.True(t, changed)
	require.Len(t, fn.Instrs, 3)
	require.Equal(t, ir.OpLabel, fn.Instrs[1].Op)
}

func TestLoopUnrolling(t *testing.T) {
	fn := ir.NewFunction("f", nil)
	fn.Push(ir.LabelDef("loop_start"))
	fn.Push(ir.BinOp(ir.OpAdd, ir.Reg(0), ir.Reg(1)))
	fn.Push(ir.Jump("loop_start"))
	fn.Push(ir.Return(ir.Reg(0)))

	before := len(fn.Instrs)
	changed := loopUnrolling(fn)
	require.True(t, changed)
	require.Greater(t, len(fn.Instrs), before)
}

func TestOptimizeFunctionFixedPoint(t *testing.T) {
	fn := ir.NewFunction("f", nil)
	fn.Push(ir.MovRegReg(ir.Reg(0), ir.Reg(0)))
	fn.Push(ir.MovImm(ir.Reg(1), 1))
	fn.Push(ir.BinOp(ir.OpAdd, ir.Reg(1), ir.Imm32(2)))
	fn.Push(ir.Return(ir.Reg(1)))

	OptimizeFunction(fn, 1)
	require.Len(t, fn.Instrs, 2)
	require.Equal(t, int32(3), fn.Instrs[0].Src1.Imm)
}

func TestVectorizeLoopPattern(t *testing.T) {
	fn := ir.NewFunction("vecadd", nil)
	fn.Push(ir.MovImm(ir.Reg(10), 0)) // i = 0
	fn.Push(ir.LabelDef("loop"))
	fn.Push(ir.CmpOp(ir.Reg(10), ir.Reg(11))) // cmp i, n
	fn.Push(ir.CondJump(ir.OpJge, "end"))
	fn.Push(ir.LoadOp(ir.Reg(1), ir.Reg(20), ir.Reg(10)))  // load a[i]
	fn.Push(ir.LoadOp(ir.Reg(2), ir.Reg(21), ir.Reg(10)))  // load b[i]
	fn.Push(ir.BinOp(ir.OpAdd, ir.Reg(1), ir.Reg(2)))      // r = a+b (dest reused as r1)
	fn.Push(ir.StoreOp(ir.Reg(22), ir.Reg(10), ir.Reg(1))) // store c[i]
	fn.Push(ir.BinOp(ir.OpAdd, ir.Reg(10), ir.Imm32(1)))   // i++
	fn.Push(ir.Jump("loop"))
	fn.Push(ir.LabelDef("end"))
	fn.Push(ir.Return(ir.Reg(0)))

	changed := vectorizeLoop(fn)
	require.True(t, changed)

	var sawVLoad, sawVAdd, sawVStore bool
	for _, instr := range fn.Instrs {
		switch instr.Op {
		case ir.OpVLoad:
			sawVLoad = true
		case ir.OpVAdd:
			sawVAdd = true
		case ir.OpVStore:
			sawVStore = true
		}
	}
	require.True(t, sawVLoad)
	require.True(t, sawVAdd)
	require.True(t, sawVStore)
}
