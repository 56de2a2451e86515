// Package compiler lowers an optimized ir.Program into x86-64 machine
// code using internal/regalloc for allocation and internal/asm for
// encoding, matching spec.md §4.F.
package compiler

import (
	"github.com/nanoforge/nanoforge/internal/asm"
	"github.com/nanoforge/nanoforge/internal/ir"
	"github.com/nanoforge/nanoforge/internal/nferrors"
	"github.com/nanoforge/nanoforge/internal/optimizer"
	"github.com/nanoforge/nanoforge/internal/regalloc"
)

// ISA selects which vector encoding the compiler emits for VLoad/VStore/
// VAdd IR produced by the optimizer's vectorizer pass (spec.md §4.D/§4.G
// variant axis). It has no effect on programs the optimizer left
// scalar-only.
type ISA uint8

const (
	// ISAScalar is the variant ISA with no vector extension (the variant
	// generator never pairs ISAScalar with opt_level>=3). A vector opcode
	// that still reaches the compiler under this ISA is lowered with the
	// same 256-bit YMM encoding as ISAAVX2.
	ISAScalar ISA = iota
	// ISAAVX2 emits 256-bit YMM vector instructions.
	ISAAVX2
	// ISAAVX512 emits 512-bit ZMM vector instructions via the hand-rolled
	// EVEX encoder.
	ISAAVX512
)

// Physical register assignment (spec.md §4.B/§4.F). Integer virtual
// registers are allocated from generalPool; argument registers and a
// handful of fixed-purpose registers are excluded from it so the
// allocator never collides with the calling convention or the
// materialization scratch registers.
var (
	generalPool = []uint8{asm.RBX, asm.R8, asm.R9, asm.R12, asm.R13, asm.R14}
	scratch1    = asm.R10
	scratch2    = asm.R11
	fuelReg     = asm.R15
	argRegs     = [4]uint8{asm.RDI, asm.RSI, asm.RDX, asm.RCX}
)

const defaultFuel = 1_000_000

// DefaultFuel is the loop-budget fuel used when a caller has no
// workload-specific preference (spec.md §4.C).
const DefaultFuel = defaultFuel

// calleeSavedPushed is the fixed set of registers the prologue saves and
// the epilogue restores, in push order. RBP is handled separately by the
// standard frame setup.
var calleeSavedPushed = []uint8{asm.RBX, asm.R12, asm.R13, asm.R14, asm.R15}

// Result is the output of compiling one Program: the finished machine
// code and each function's entry offset within it.
type Result struct {
	Code         []byte
	FuncOffsets  map[string]int
	EntryOffset  int
}

// CompileProgram optimizes prog at optLevel, allocates registers, and
// emits machine code targeting isa's vector instruction set. It returns
// the finished code buffer and the byte offset of the "main" function's
// entry point.
func CompileProgram(prog *ir.Program, optLevel uint8, isa ISA, fuel uint64) (Result, error) {
	working := prog.Clone()
	optimizer.OptimizeProgram(working, optLevel)

	a := asm.New()
	if err := emitAllocStub(a); err != nil {
		return Result{}, err
	}
	if err := emitFreeStub(a); err != nil {
		return Result{}, err
	}

	offsets := map[string]int{}
	entryOffset := -1

	fuelImm := int32(fuel)
	if fuel > (1<<31 - 1) {
		fuelImm = defaultFuel
	}

	for _, fn := range working.Functions {
		off, err := compileFunction(a, fn, isa, fuelImm)
		if err != nil {
			return Result{}, nferrors.Wrap(nferrors.CompileError, err, "compiling function %q", fn.Name)
		}
		offsets[fn.Name] = off
		if fn.Name == "main" {
			entryOffset = off
		}
	}

	if entryOffset < 0 {
		return Result{}, nferrors.New(nferrors.CompileError, "program has no main function")
	}

	code, err := a.Finalize()
	if err != nil {
		return Result{}, nferrors.Wrap(nferrors.CompileError, err, "finalizing assembler")
	}
	return Result{Code: code, FuncOffsets: offsets, EntryOffset: entryOffset}, nil
}

func fnLabel(name string) string  { return "fn_" + name }
func failLabel(name string) string { return "fuel_fail_" + name }

func compileFunction(a *asm.Assembler, fn *ir.Function, isa ISA, fuel int32) (int, error) {
	if err := a.Bind(fnLabel(fn.Name)); err != nil {
		return 0, err
	}
	entryOffset := a.Offset()

	intervals := regalloc.BuildIntervals(fn)
	var gprIntervals, ymmIntervals []regalloc.Interval
	for _, iv := range intervals {
		switch iv.Operand.Kind {
		case ir.OperandReg:
			gprIntervals = append(gprIntervals, iv)
		case ir.OperandYmm:
			ymmIntervals = append(ymmIntervals, iv)
		}
	}

	calleeSavedFrameSize := int32(len(calleeSavedPushed)) * 8 // RBP itself is saved at [rbp], above this region
	gprAlloc := regalloc.Allocate(gprIntervals, generalPool, nil, calleeSavedFrameSize)

	vecPool := make([]uint8, 16)
	for i := range vecPool {
		vecPool[i] = uint8(i)
	}
	ymmAlloc := regalloc.Allocate(ymmIntervals, vecPool, nil, 0)

	rawStack := gprAlloc.SpillSlots * 8
	stackSize := rawStack
	if stackSize%16 == 0 {
		stackSize += 8
	}

	emitPrologue(a, stackSize, fuel)

	labels := map[string]int{}
	for idx, instr := range fn.Instrs {
		if instr.Op == ir.OpLabel {
			labels[instr.Dest.Label] = idx
		}
	}
	loopHeaders := map[string]bool{}
	for idx, instr := range fn.Instrs {
		if !instr.Op.IsBranch() || !instr.HasDest || !instr.Dest.IsLabel() {
			continue
		}
		if headIdx, ok := labels[instr.Dest.Label]; ok && headIdx < idx {
			loopHeaders[instr.Dest.Label] = true
		}
	}

	fl := failLabel(fn.Name)

	for idx, instr := range fn.Instrs {
		if instr.Op == ir.OpLabel {
			if err := a.Bind(instr.Dest.Label); err != nil {
				return 0, err
			}
			if loopHeaders[instr.Dest.Label] {
				a.SubRegImm32(fuelReg, 1)
				a.Jcc(asm.CondE, fl)
			}
			continue
		}
		if err := lowerInstruction(a, instr, idx, intervals, gprAlloc, ymmAlloc, isa, stackSize); err != nil {
			return 0, err
		}
	}

	if err := a.Bind(fl); err != nil {
		return 0, err
	}
	a.MovRegImm32(asm.RAX, -999)
	emitEpilogue(a, stackSize)

	return entryOffset, nil
}

func emitPrologue(a *asm.Assembler, stackSize int32, fuel int32) {
	a.PushReg(asm.RBP)
	a.MovRegReg(asm.RBP, asm.RSP)
	for _, r := range calleeSavedPushed {
		a.PushReg(r)
	}
	if stackSize > 0 {
		a.AddRspImm32(-stackSize)
	}
	a.MovRegImm32(fuelReg, fuel)
}

// emitEpilogue restores the frame and returns. It is emitted both at a
// normal Ret and at the fuel-exhaustion fail label so every exit path
// unwinds the same pushes.
func emitEpilogue(a *asm.Assembler, stackSize int32) {
	if stackSize > 0 {
		a.AddRspImm32(stackSize)
	}
	for i := len(calleeSavedPushed) - 1; i >= 0; i-- {
		a.PopReg(calleeSavedPushed[i])
	}
	a.MovRegReg(asm.RSP, asm.RBP)
	a.PopReg(asm.RBP)
	a.Ret()
}

// materialize loads the value at loc into a physical register, using
// scratch if loc is a spill slot; it returns the register actually
// holding the value.
func materialize(a *asm.Assembler, loc regalloc.Location, scratch uint8) uint8 {
	if loc.IsRegister() {
		return loc.Reg
	}
	a.MovRegStack(scratch, loc.Offset)
	return scratch
}

// commit writes src back to loc if loc is a spill slot, or moves it into
// loc's register if that differs from src.
func commit(a *asm.Assembler, loc regalloc.Location, src uint8) {
	if loc.IsRegister() {
		if loc.Reg != src {
			a.MovRegReg(loc.Reg, src)
		}
		return
	}
	a.MovStackReg(loc.Offset, src)
}

func gprLoc(alloc regalloc.Allocation, op ir.Operand) regalloc.Location {
	return alloc.Lookup(op)
}

func lowerInstruction(a *asm.Assembler, instr ir.Instruction, idx int, allIntervals []regalloc.Interval, gprAlloc, ymmAlloc regalloc.Allocation, isa ISA, stackSize int32) error {
	switch instr.Op {
	case ir.OpMov:
		destLoc := gprLoc(gprAlloc, instr.Dest)
		if instr.Src1.IsReg() {
			srcLoc := gprLoc(gprAlloc, instr.Src1)
			switch {
			case destLoc.IsRegister() && srcLoc.IsRegister():
				a.MovRegReg(destLoc.Reg, srcLoc.Reg)
			case destLoc.IsRegister() && !srcLoc.IsRegister():
				a.MovRegStack(destLoc.Reg, srcLoc.Offset)
			case !destLoc.IsRegister() && srcLoc.IsRegister():
				a.MovStackReg(destLoc.Offset, srcLoc.Reg)
			default:
				a.MovRegStack(scratch1, srcLoc.Offset)
				a.MovStackReg(destLoc.Offset, scratch1)
			}
		} else if instr.Src1.IsImm() {
			if destLoc.IsRegister() {
				a.MovRegImm32(destLoc.Reg, instr.Src1.Imm)
			} else {
				a.MovRegImm32(scratch1, instr.Src1.Imm)
				a.MovStackReg(destLoc.Offset, scratch1)
			}
		}

	case ir.OpAdd, ir.OpSub, ir.OpMul:
		destLoc := gprLoc(gprAlloc, instr.Dest)
		d := materialize(a, destLoc, scratch1)
		if instr.Src1.IsReg() {
			srcLoc := gprLoc(gprAlloc, instr.Src1)
			s := materialize(a, srcLoc, scratch2)
			switch instr.Op {
			case ir.OpAdd:
				a.AddRegReg(d, s)
			case ir.OpSub:
				a.SubRegReg(d, s)
			case ir.OpMul:
				a.ImulRegReg(d, s)
			}
		} else if instr.Src1.IsImm() {
			switch instr.Op {
			case ir.OpAdd:
				a.AddRegImm32(d, instr.Src1.Imm)
			case ir.OpSub:
				a.SubRegImm32(d, instr.Src1.Imm)
			case ir.OpMul:
				a.ImulRegImm32(d, instr.Src1.Imm)
			}
		}
		if !destLoc.IsRegister() {
			a.MovStackReg(destLoc.Offset, d)
		}

	case ir.OpJmp:
		a.Jmp(instr.Dest.Label)

	case ir.OpJnz:
		loc := gprLoc(gprAlloc, instr.Src1)
		r := materialize(a, loc, scratch1)
		a.Jnz(r, instr.Dest.Label)

	case ir.OpCmp:
		r1Loc := gprLoc(gprAlloc, instr.Src1)
		r1 := materialize(a, r1Loc, scratch1)
		if instr.Src2.IsReg() {
			r2Loc := gprLoc(gprAlloc, instr.Src2)
			r2 := materialize(a, r2Loc, scratch2)
			a.CmpRegReg(r1, r2)
		} else if instr.Src2.IsImm() {
			a.CmpRegImm32(r1, instr.Src2.Imm)
		}

	case ir.OpJe:
		a.Jcc(asm.CondE, instr.Dest.Label)
	case ir.OpJne:
		a.Jcc(asm.CondNE, instr.Dest.Label)
	case ir.OpJl:
		a.Jcc(asm.CondL, instr.Dest.Label)
	case ir.OpJle:
		a.Jcc(asm.CondLE, instr.Dest.Label)
	case ir.OpJg:
		a.Jcc(asm.CondG, instr.Dest.Label)
	case ir.OpJge:
		a.Jcc(asm.CondGE, instr.Dest.Label)

	case ir.OpLoadArg:
		if instr.Arg < 0 || instr.Arg > 3 {
			return nferrors.New(nferrors.CompileError, "LoadArg index %d out of range", instr.Arg)
		}
		destLoc := gprLoc(gprAlloc, instr.Dest)
		commit(a, destLoc, argRegs[instr.Arg])

	case ir.OpSetArg:
		if instr.Arg < 0 || instr.Arg > 3 {
			return nferrors.New(nferrors.CompileError, "SetArg index %d out of range", instr.Arg)
		}
		destPhys := argRegs[instr.Arg]
		if instr.Src1.IsImm() {
			a.MovRegImm32(destPhys, instr.Src1.Imm)
		} else if instr.Src1.IsReg() {
			srcLoc := gprLoc(gprAlloc, instr.Src1)
			s := materialize(a, srcLoc, scratch1)
			if s != destPhys {
				a.MovRegReg(destPhys, s)
			}
		}

	case ir.OpCall:
		toSave := callerSavedLiveAcross(idx, allIntervals, gprAlloc)
		for _, r := range toSave {
			a.PushReg(r)
		}
		if len(toSave)%2 != 0 {
			a.AddRspImm32(-8)
		}
		a.Call(fnLabel(instr.Src1.Label))
		if len(toSave)%2 != 0 {
			a.AddRspImm32(8)
		}
		for i := len(toSave) - 1; i >= 0; i-- {
			a.PopReg(toSave[i])
		}
		destLoc := gprLoc(gprAlloc, instr.Dest)
		commit(a, destLoc, asm.RAX)

	case ir.OpRet:
		if instr.HasSrc1 {
			if instr.Src1.IsImm() {
				a.MovRegImm32(asm.RAX, instr.Src1.Imm)
			} else if instr.Src1.IsReg() {
				srcLoc := gprLoc(gprAlloc, instr.Src1)
				r := materialize(a, srcLoc, scratch1)
				if r != asm.RAX {
					a.MovRegReg(asm.RAX, r)
				}
			}
		}
		emitEpilogue(a, stackSize)

	case ir.OpAlloc:
		if instr.Src1.IsImm() {
			a.MovRegImm32(asm.RDI, instr.Src1.Imm)
		} else if instr.Src1.IsReg() {
			srcLoc := gprLoc(gprAlloc, instr.Src1)
			s := materialize(a, srcLoc, scratch1)
			if s != asm.RDI {
				a.MovRegReg(asm.RDI, s)
			}
		}
		toSave := callerSavedLiveAcross(idx, allIntervals, gprAlloc)
		for _, r := range toSave {
			a.PushReg(r)
		}
		if len(toSave)%2 != 0 {
			a.AddRspImm32(-8)
		}
		a.Call(allocStubLabel)
		if len(toSave)%2 != 0 {
			a.AddRspImm32(8)
		}
		for i := len(toSave) - 1; i >= 0; i-- {
			a.PopReg(toSave[i])
		}
		destLoc := gprLoc(gprAlloc, instr.Dest)
		commit(a, destLoc, asm.RAX)

	case ir.OpFree:
		if instr.Src1.IsReg() {
			srcLoc := gprLoc(gprAlloc, instr.Src1)
			s := materialize(a, srcLoc, scratch1)
			if s != asm.RDI {
				a.MovRegReg(asm.RDI, s)
			}
		}
		toSave := callerSavedLiveAcross(idx, allIntervals, gprAlloc)
		for _, r := range toSave {
			a.PushReg(r)
		}
		if len(toSave)%2 != 0 {
			a.AddRspImm32(-8)
		}
		a.Call(freeStubLabel)
		if len(toSave)%2 != 0 {
			a.AddRspImm32(8)
		}
		for i := len(toSave) - 1; i >= 0; i-- {
			a.PopReg(toSave[i])
		}

	case ir.OpLoad:
		destLoc := gprLoc(gprAlloc, instr.Dest)
		baseLoc := gprLoc(gprAlloc, instr.Src1)
		baseReg := materialize(a, baseLoc, scratch1)
		var idxReg uint8
		if instr.Src2.IsImm() {
			idxReg = scratch2
			a.MovRegImm32(idxReg, instr.Src2.Imm)
		} else {
			idxLoc := gprLoc(gprAlloc, instr.Src2)
			idxReg = materialize(a, idxLoc, scratch2)
		}
		dReg := scratch1
		if destLoc.IsRegister() {
			dReg = destLoc.Reg
		}
		a.MovRegMem(dReg, baseReg, idxReg)
		if !destLoc.IsRegister() {
			a.MovStackReg(destLoc.Offset, dReg)
		}

	case ir.OpStore:
		baseLoc := gprLoc(gprAlloc, instr.Dest)
		baseReg := materialize(a, baseLoc, scratch1)
		var valReg uint8
		if instr.Src2.IsImm() {
			a.MovRegImm32(asm.RAX, instr.Src2.Imm)
			valReg = asm.RAX
		} else {
			vLoc := gprLoc(gprAlloc, instr.Src2)
			valReg = materialize(a, vLoc, scratch2)
		}
		var idxReg uint8
		if instr.Src1.IsImm() {
			a.MovRegImm32(asm.RSI, instr.Src1.Imm)
			idxReg = asm.RSI
		} else {
			iLoc := gprLoc(gprAlloc, instr.Src1)
			idxReg = materialize(a, iLoc, asm.RSI)
		}
		a.MovMemReg(baseReg, idxReg, valReg)

	case ir.OpVLoad:
		destLoc := ymmAlloc.Lookup(instr.Dest)
		baseLoc := gprLoc(gprAlloc, instr.Src1)
		baseReg := materialize(a, baseLoc, scratch1)
		idxLoc := gprLoc(gprAlloc, instr.Src2)
		idxReg := materialize(a, idxLoc, scratch2)
		if isa == ISAAVX512 {
			a.VmovdquZmmLoad(destLoc.Reg, baseReg, idxReg)
		} else {
			a.VmovdquYmmLoad(destLoc.Reg, baseReg, idxReg)
		}

	case ir.OpVStore:
		baseLoc := gprLoc(gprAlloc, instr.Dest)
		baseReg := materialize(a, baseLoc, scratch1)
		idxLoc := gprLoc(gprAlloc, instr.Src1)
		idxReg := materialize(a, idxLoc, scratch2)
		srcLoc := ymmAlloc.Lookup(instr.Src2)
		if isa == ISAAVX512 {
			a.VmovdquZmmStore(baseReg, idxReg, srcLoc.Reg)
		} else {
			a.VmovdquYmmStore(baseReg, idxReg, srcLoc.Reg)
		}

	case ir.OpVAdd:
		destLoc := ymmAlloc.Lookup(instr.Dest)
		s1Loc := ymmAlloc.Lookup(instr.Src1)
		s2Loc := ymmAlloc.Lookup(instr.Src2)
		if isa == ISAAVX512 {
			a.VpaddqZmm(destLoc.Reg, s1Loc.Reg, s2Loc.Reg)
		} else {
			a.VpaddqYmm(destLoc.Reg, s1Loc.Reg, s2Loc.Reg)
		}

	case ir.OpLabel:
		// handled by the caller before dispatch

	default:
		return nferrors.New(nferrors.CompileError, "unsupported opcode %s", instr.Op)
	}
	return nil
}

// callerSavedLiveAcross returns, sorted, the general-pool physical
// registers holding a value whose interval spans idx and that the
// System V ABI does not preserve across a call — these must be pushed
// before the call and popped after (spec.md §4.F call lowering).
func callerSavedLiveAcross(idx int, intervals []regalloc.Interval, alloc regalloc.Allocation) []uint8 {
	seen := map[uint8]bool{}
	var out []uint8
	for _, iv := range intervals {
		if iv.Start >= idx || iv.End <= idx {
			continue
		}
		loc := alloc.Lookup(iv.Operand)
		if !loc.IsRegister() || !asm.CallerSaved(loc.Reg) || seen[loc.Reg] {
			continue
		}
		if !inPool(loc.Reg) {
			continue
		}
		seen[loc.Reg] = true
		out = append(out, loc.Reg)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func inPool(r uint8) bool {
	for _, p := range generalPool {
		if p == r {
			return true
		}
	}
	return false
}
