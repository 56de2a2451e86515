// Package optimizer implements the fixed-point IR rewrite pipeline: identity
// move elimination, constant folding of one immediate Mov/Add pattern (no
// constant propagation), dead-code elimination,
// loop unrolling, and pattern-matched SIMD vectorization with a scalar
// cleanup tail (spec.md §4.D).
package optimizer

import (
	"fmt"
	"strings"

	"github.com/nanoforge/nanoforge/internal/ir"
)

// reserved virtual register/label ids the vectorizer uses for its
// generated temporaries, chosen well above any id a parser or caller would
// assign (mirrors original_source optimizer.rs's temp_reg = 200, y1/y2/y3
// = 100/101/102).
const (
	vecTempReg  = 200
	vecY1       = 100
	vecY2       = 101
	vecY3       = 102
	vecStep     = 4
	maxUnrollSz = 50
)

// OptimizeProgram runs OptimizeFunction over every function in prog.
func OptimizeProgram(prog *ir.Program, level uint8) {
	for _, fn := range prog.Functions {
		OptimizeFunction(fn, level)
	}
}

// OptimizeFunction repeatedly applies every enabled pass until none of them
// change the function (a fixed point), matching original_source
// optimizer.rs's optimize_function loop. Level 1 runs only the peephole and
// DCE passes; level 2 adds loop unrolling; level 3 adds vectorization.
func OptimizeFunction(fn *ir.Function, level uint8) {
	changed := true
	for changed {
		changed = false
		changed = removeIdentityMoves(fn) || changed
		changed = constantFolding(fn) || changed
		changed = deadCodeElimination(fn) || changed
		if level >= 3 {
			changed = vectorizeLoop(fn) || changed
		}
		if level >= 2 {
			changed = loopUnrolling(fn) || changed
		}
	}
}

// removeIdentityMoves deletes `Mov r, r` instructions.
func removeIdentityMoves(fn *ir.Function) bool {
	changed := false
	out := fn.Instrs[:0]
	for _, instr := range fn.Instrs {
		if instr.Op == ir.OpMov && instr.HasDest && instr.HasSrc1 &&
			instr.Dest.IsReg() && instr.Src1.IsReg() && instr.Dest.Reg == instr.Src1.Reg {
			changed = true
			continue
		}
		out = append(out, instr)
	}
	fn.Instrs = out
	return changed
}

// constantFolding merges `Mov R, #A ; Add R, #B` into `Mov R, #(A+B)`,
// matching original_source's single supported fold pattern.
func constantFolding(fn *ir.Function) bool {
	changed := false
	i := 0
	for i < len(fn.Instrs)-1 {
		left := fn.Instrs[i]
		right := fn.Instrs[i+1]

		if left.Op == ir.OpMov && left.HasDest && left.HasSrc1 && left.Dest.IsReg() && left.Src1.IsImm() &&
			right.Op == ir.OpAdd && right.HasDest && right.HasSrc1 && right.Dest.IsReg() && right.Src1.IsImm() &&
			left.Dest.Reg == right.Dest.Reg {

			fn.Instrs[i].Src1 = ir.Imm32(left.Src1.Imm + right.Src1.Imm)
			fn.Instrs = append(fn.Instrs[:i+1], fn.Instrs[i+2:]...)
			changed = true
			continue
		}
		i++
	}
	return changed
}

// deadCodeElimination drops instructions following a Ret/Jmp up to the next
// label, since that code is unreachable.
func deadCodeElimination(fn *ir.Function) bool {
	changed := false
	out := fn.Instrs[:0]
	dead := false
	for _, instr := range fn.Instrs {
		if instr.Op == ir.OpLabel {
			dead = false
		}
		if dead {
			changed = true
			continue
		}
		out = append(out, instr)
		if instr.Op == ir.OpRet || instr.Op == ir.OpJmp {
			dead = true
		}
	}
	fn.Instrs = out
	return changed
}

// loopUnrolling finds the first simple unconditional backward jump (a Jmp
// targeting a Label that appears earlier) with a small, label-free body and
// duplicates that body once before the jump, one unroll step per call.
func loopUnrolling(fn *ir.Function) bool {
	labelIdx := map[string]int{}
	for i, instr := range fn.Instrs {
		if instr.Op == ir.OpLabel {
			labelIdx[instr.Dest.Label] = i
		}
	}

	for i, instr := range fn.Instrs {
		if instr.Op != ir.OpJmp {
			continue
		}
		start, ok := labelIdx[instr.Dest.Label]
		if !ok || start >= i {
			continue
		}
		bodyStart := start + 1
		bodyEnd := i
		bodyLen := bodyEnd - bodyStart
		if bodyLen <= 0 || bodyLen >= maxUnrollSz {
			continue
		}
		hasInternalLabel := false
		for _, b := range fn.Instrs[bodyStart:bodyEnd] {
			if b.Op == ir.OpLabel {
				hasInternalLabel = true
				break
			}
		}
		if hasInternalLabel {
			continue
		}

		body := append([]ir.Instruction(nil), fn.Instrs[bodyStart:bodyEnd]...)
		rest := append([]ir.Instruction(nil), fn.Instrs[i:]...)
		fn.Instrs = append(fn.Instrs[:i], append(body, rest...)...)
		return true
	}
	return false
}

// vectorizeLoop pattern-matches a simple "load/load/add/store/increment"
// loop body (C-style `for (i=0;i<n;i++) c[i]=a[i]+b[i]`) and rewrites it
// into a 4-wide vector loop followed by a scalar cleanup loop handling the
// remainder, matching original_source optimizer.rs's vectorize_loop.
func vectorizeLoop(fn *ir.Function) bool {
	start, end, label, ok := findCandidateLoop(fn)
	if !ok {
		return false
	}

	loadA, loadB, addOp, storeOp, incOp, ok := scanBody(fn, start, end)
	if !ok {
		return false
	}

	idxReg, ok := indexRegOf(fn.Instrs[loadA])
	if !ok {
		return false
	}
	limit, cmpIdx, ok := findGuard(fn, start, end, idxReg)
	if !ok {
		return false
	}

	var out []ir.Instruction
	out = append(out, fn.Instrs[:start]...)

	vecLabel := label + "_vec"
	cleanupLabel := label + "_cleanup"

	out = append(out, ir.LabelDef(vecLabel))
	// Vector guard: if (i+4 > limit) goto cleanup.
	out = append(out, ir.MovRegReg(ir.Reg(vecTempReg), ir.Reg(idxReg)))
	out = append(out, ir.BinOp(ir.OpAdd, ir.Reg(vecTempReg), ir.Imm32(vecStep)))
	out = append(out, ir.CmpOp(ir.Reg(vecTempReg), limit))
	out = append(out, ir.CondJump(ir.OpJg, cleanupLabel))

	for i := start + 1; i < end; i++ {
		if i == cmpIdx {
			continue
		}
		instr := fn.Instrs[i]
		if instr.Op.IsConditionalBranch() {
			continue
		}
		switch i {
		case loadA:
			instr.Op = ir.OpVLoad
			instr.Dest = ir.Ymm(vecY1)
		case loadB:
			instr.Op = ir.OpVLoad
			instr.Dest = ir.Ymm(vecY2)
		case addOp:
			instr.Op = ir.OpVAdd
			instr.Dest = ir.Ymm(vecY3)
			instr.Src1 = ir.Ymm(vecY1)
			instr.Src2 = ir.Ymm(vecY2)
		case storeOp:
			instr.Op = ir.OpVStore
			instr.Src2 = ir.Ymm(vecY3)
		case incOp:
			instr.Src1 = ir.Imm32(vecStep)
		}
		out = append(out, instr)
	}
	out = append(out, ir.Jump(vecLabel))

	out = append(out, ir.LabelDef(cleanupLabel))
	out = append(out, fn.Instrs[start:]...)

	fn.Instrs = out
	return true
}

// findCandidateLoop locates a Label whose name contains "loop" followed
// later by a Jmp back to it. The labels internal/lang's while/for
// desugaring emits (`__while_startN`, `__for_startN`) do not contain
// "loop", so loops parsed from source are not matched.
func findCandidateLoop(fn *ir.Function) (start, end int, label string, ok bool) {
	loopStart := -1
	var loopLabel string
	for idx, instr := range fn.Instrs {
		if instr.Op == ir.OpLabel && strings.Contains(instr.Dest.Label, "loop") {
			loopStart = idx
			loopLabel = instr.Dest.Label
		}
		if instr.Op == ir.OpJmp && loopStart >= 0 && instr.Dest.Label == loopLabel {
			return loopStart, idx, loopLabel, true
		}
	}
	return 0, 0, "", false
}

func scanBody(fn *ir.Function, start, end int) (loadA, loadB, addOp, storeOp, incOp int, ok bool) {
	loadA, loadB, addOp, storeOp, incOp = -1, -1, -1, -1, -1
	for idx := start; idx < end; idx++ {
		instr := fn.Instrs[idx]
		switch instr.Op {
		case ir.OpLoad:
			if loadA < 0 {
				loadA = idx
			} else if loadB < 0 {
				loadB = idx
			}
		case ir.OpAdd:
			if instr.HasSrc1 && instr.Src1.IsImm() && instr.Src1.Imm == 1 {
				incOp = idx
			} else if instr.HasSrc2 && instr.Src2.IsImm() && instr.Src2.Imm == 1 {
				incOp = idx
			} else {
				addOp = idx
			}
		case ir.OpStore:
			storeOp = idx
		}
	}
	ok = loadA >= 0 && loadB >= 0 && addOp >= 0 && storeOp >= 0 && incOp >= 0
	return
}

func indexRegOf(loadInstr ir.Instruction) (uint8, bool) {
	if loadInstr.HasSrc2 && loadInstr.Src2.IsReg() {
		return loadInstr.Src2.Reg, true
	}
	return 0, false
}

// findGuard locates `Cmp idxReg, limit` within [start,end) so the
// vectorizer can build an equivalent over-read guard.
func findGuard(fn *ir.Function, start, end int, idxReg uint8) (limit ir.Operand, cmpIdx int, ok bool) {
	for i := start; i < end; i++ {
		instr := fn.Instrs[i]
		if instr.Op != ir.OpCmp {
			continue
		}
		if instr.HasSrc1 && instr.Src1.IsReg() && instr.Src1.Reg == idxReg {
			return instr.Src2, i, true
		}
	}
	return ir.Operand{}, 0, false
}

// DebugString renders a function's instruction stream, one per line, for
// tests that assert on pass output.
func DebugString(fn *ir.Function) string {
	var b strings.Builder
	for _, instr := range fn.Instrs {
		fmt.Fprintln(&b, instr.String())
	}
	return b.String()
}
