package compiler

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanoforge/nanoforge/internal/asm"
	"github.com/nanoforge/nanoforge/internal/ir"
	"github.com/nanoforge/nanoforge/internal/lang"
	"github.com/nanoforge/nanoforge/internal/regalloc"
)

func compileSrc(t *testing.T, src string, optLevel uint8, isa ISA) Result {
	t.Helper()
	prog, err := lang.Parse(src)
	require.NoError(t, err)
	res, err := CompileProgram(prog, optLevel, isa, defaultFuel)
	require.NoError(t, err)
	return res
}

func TestCompileProgramRequiresMain(t *testing.T) {
	prog := ir.NewProgram()
	prog.AddFunction(ir.NewFunction("helper", nil))
	_, err := CompileProgram(prog, 0, ISAScalar, defaultFuel)
	require.Error(t, err)
}

func TestCompileSimpleReturnProgram(t *testing.T) {
	src := `
fn main() {
    x = 1 + 2
    return x
}
`
	res := compileSrc(t, src, 0, ISAScalar)
	require.NotEmpty(t, res.Code)
	require.Contains(t, res.FuncOffsets, "main")
	require.Equal(t, res.FuncOffsets["main"], res.EntryOffset)
}

func TestCompileProgramWithFunctionCall(t *testing.T) {
	src := `
fn add(a, b) {
    return a + b
}
fn main() {
    r = add(3, 4)
    return r
}
`
	res := compileSrc(t, src, 1, ISAScalar)
	require.NotEmpty(t, res.Code)
	require.Contains(t, res.FuncOffsets, "add")
	require.Contains(t, res.FuncOffsets, "main")
}

func TestCompileProgramWithAllocFree(t *testing.T) {
	src := `
fn main() {
    p = alloc(64)
    p[0] = 42
    v = p[0]
    free(p)
    return v
}
`
	res := compileSrc(t, src, 0, ISAScalar)
	require.NotEmpty(t, res.Code)
}

func TestCompileProgramWithLoopEmitsFuelCheck(t *testing.T) {
	src := `
fn main() {
    i = 0
    acc = 0
    while i < 10 {
        acc = acc + i
        i = i + 1
    }
    return acc
}
`
	res := compileSrc(t, src, 0, ISAScalar)
	require.NotEmpty(t, res.Code)
	// The loop header decrements the fuel register: sub r15, 1.
	require.True(t, bytes.Contains(res.Code, []byte{0x49, 0x81, 0xEF, 0x01, 0x00, 0x00, 0x00}))
}

func TestCompileProgramHighOptLevelForVectorISAs(t *testing.T) {
	src := `
fn main() {
    a = alloc(256)
    i = 0
    while i < 32 {
        v = a[i]
        v = v + 1
        a[i] = v
        i = i + 1
    }
    return 0
}
`
	res := compileSrc(t, src, 3, ISAAVX2)
	require.NotEmpty(t, res.Code)

	resZmm := compileSrc(t, src, 3, ISAAVX512)
	require.NotEmpty(t, resZmm.Code)
}

func TestCallerSavedLiveAcrossExcludesOutOfPoolRegisters(t *testing.T) {
	// RAX is caller-saved but not in generalPool, so a value held there
	// across idx 5 is not reported.
	intervals := []regalloc.Interval{{Operand: ir.Reg(0), Start: 0, End: 10}}
	alloc := regalloc.Allocation{Locations: map[ir.Operand]regalloc.Location{
		ir.Reg(0): {Kind: regalloc.InRegister, Reg: asm.RAX},
	}}
	out := callerSavedLiveAcross(5, intervals, alloc)
	require.Empty(t, out)
}
