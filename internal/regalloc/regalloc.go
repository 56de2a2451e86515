// Package regalloc builds liveness intervals over an ir.Function and
// assigns each virtual register a physical register or stack spill slot
// using linear-scan allocation with pre-coloring, matching spec.md §4.E.
package regalloc

import (
	"sort"

	"github.com/nanoforge/nanoforge/internal/ir"
)

// LocationKind tags whether a Location is a physical register or a stack
// spill slot.
type LocationKind uint8

const (
	// InRegister means the operand lives in a physical register (Reg).
	InRegister LocationKind = iota
	// InSpill means the operand lives at a stack offset (Offset) relative
	// to the frame pointer.
	InSpill
)

// Location is where the allocator placed one virtual register.
type Location struct {
	Kind   LocationKind
	Reg    uint8
	Offset int32
}

// IsRegister reports whether loc names a physical register.
func (loc Location) IsRegister() bool { return loc.Kind == InRegister }

// Interval is a virtual register's live range, expressed as instruction
// indices [Start, End] inclusive, extended across loop back-edges so a
// value live into a loop stays live for the whole loop body (spec.md
// §4.E "loop-aware" requirement).
type Interval struct {
	Operand ir.Operand
	Start   int
	End     int
	Loc     Location
	hasLoc  bool
}

// backEdge records a Jmp/conditional-jump at instruction tailIdx that
// targets an earlier Label at headIdx.
type backEdge struct {
	head, tail int
}

// BuildIntervals runs liveness analysis over fn, producing one Interval
// per distinct virtual register operand (integer or vector), sorted by
// start index. A register used inside a loop whose header lies within
// its live range has its end extended to the loop's back-edge, so the
// allocator never frees it mid-iteration.
func BuildIntervals(fn *ir.Function) []Interval {
	labels := map[string]int{}
	for idx, instr := range fn.Instrs {
		if instr.Op == ir.OpLabel {
			labels[instr.Dest.Label] = idx
		}
	}

	var backEdges []backEdge
	for idx, instr := range fn.Instrs {
		if !instr.Op.IsBranch() || !instr.HasDest || !instr.Dest.IsLabel() {
			continue
		}
		if headIdx, ok := labels[instr.Dest.Label]; ok && headIdx < idx {
			backEdges = append(backEdges, backEdge{head: headIdx, tail: idx})
		}
	}

	starts := map[ir.Operand]int{}
	ends := map[ir.Operand]int{}
	seen := map[ir.Operand]bool{}
	var order []ir.Operand

	touch := func(op ir.Operand, idx int) {
		if !seen[op] {
			seen[op] = true
			starts[op] = idx
			order = append(order, op)
		}
		ends[op] = idx
	}

	for idx, instr := range fn.Instrs {
		for _, op := range instr.Operands() {
			if op.IsVirtualRegister() {
				touch(op, idx)
			}
		}
		// Calls clobber the caller-saved argument/return registers even
		// when an instruction doesn't spell them out as operands, so the
		// allocator must see them as live at the call site.
		if instr.Op == ir.OpCall {
			for r := uint8(1); r <= 4; r++ {
				touch(ir.Reg(r), idx)
			}
			touch(ir.Reg(0), idx)
		}
	}

	intervals := make([]Interval, 0, len(order))
	for _, op := range order {
		start := starts[op]
		end := ends[op]
		for _, be := range backEdges {
			if start <= be.head && end >= be.head && end < be.tail {
				end = be.tail
			}
		}
		intervals = append(intervals, Interval{Operand: op, Start: start, End: end})
	}

	sort.SliceStable(intervals, func(i, j int) bool { return intervals[i].Start < intervals[j].Start })
	return intervals
}

// Allocation is the result of linear-scan allocation: a location per
// operand plus the count of spill slots that must be reserved in the
// stack frame.
type Allocation struct {
	Locations map[ir.Operand]Location
	SpillSlots int32
}

// Lookup returns the assigned location for op, defaulting to register 0
// if op was never seen (matches original_source compiler.rs's
// `unwrap_or(&Location::Register(0))` fallback for unused operands).
func (a Allocation) Lookup(op ir.Operand) Location {
	if loc, ok := a.Locations[op]; ok {
		return loc
	}
	return Location{Kind: InRegister, Reg: 0}
}

// Allocate runs linear-scan register allocation over intervals using the
// physical registers in pool. preColored maps a virtual register id to a
// fixed physical register (e.g. argument and return registers), exactly
// as spec.md §4.E requires; pre-colored intervals are assigned first and
// excluded from the general pool. offsetStart is a byte offset already
// consumed by the caller's fixed frame (callee-saved pushes) so spill
// slots are allocated below it.
func Allocate(intervals []Interval, pool []uint8, preColored map[ir.Operand]uint8, offsetStart int32) Allocation {
	locs := map[ir.Operand]Location{}
	for op, reg := range preColored {
		locs[op] = Location{Kind: InRegister, Reg: reg}
	}

	fixedByReg := map[uint8][]Interval{}
	for _, iv := range intervals {
		if loc, ok := locs[iv.Operand]; ok {
			fixedByReg[loc.Reg] = append(fixedByReg[loc.Reg], iv)
		}
	}

	var active []Interval
	var spillSlots int32

	work := make([]Interval, len(intervals))
	copy(work, intervals)

	for i := range work {
		currentStart := work[i].Start
		active = retainActive(active, currentStart)

		if loc, ok := locs[work[i].Operand]; ok {
			work[i].Loc = loc
			work[i].hasLoc = true
			active = append(active, work[i])
			continue
		}

		used := map[uint8]bool{}
		for _, iv := range active {
			if iv.hasLoc && iv.Loc.IsRegister() {
				used[iv.Loc.Reg] = true
			}
		}

		var free []uint8
		for _, r := range pool {
			if used[r] {
				continue
			}
			if conflictsWithFixed(fixedByReg[r], work[i]) {
				continue
			}
			free = append(free, r)
		}
		sort.Slice(free, func(a, b int) bool { return free[a] < free[b] })

		if len(free) > 0 {
			loc := Location{Kind: InRegister, Reg: free[0]}
			work[i].Loc = loc
			work[i].hasLoc = true
			locs[work[i].Operand] = loc
			active = append(active, work[i])
			continue
		}

		spillIdx, ok := furthestActive(active)
		mustSpillActive := ok && active[spillIdx].End > work[i].End

		if mustSpillActive {
			spilled := active[spillIdx]
			active = append(active[:spillIdx], active[spillIdx+1:]...)
			reg := spilled.Loc.Reg

			spillSlots++
			offset := -(offsetStart + spillSlots*8)
			spillLoc := Location{Kind: InSpill, Offset: offset}
			locs[spilled.Operand] = spillLoc

			loc := Location{Kind: InRegister, Reg: reg}
			work[i].Loc = loc
			work[i].hasLoc = true
			locs[work[i].Operand] = loc
			active = append(active, work[i])
		} else {
			spillSlots++
			offset := -(offsetStart + spillSlots*8)
			loc := Location{Kind: InSpill, Offset: offset}
			work[i].Loc = loc
			work[i].hasLoc = true
			locs[work[i].Operand] = loc
		}
	}

	return Allocation{Locations: locs, SpillSlots: spillSlots}
}

func retainActive(active []Interval, currentStart int) []Interval {
	out := active[:0]
	for _, iv := range active {
		if iv.End > currentStart {
			out = append(out, iv)
		}
	}
	return out
}

func conflictsWithFixed(fixed []Interval, candidate Interval) bool {
	for _, f := range fixed {
		if candidate.Start < f.End && f.Start < candidate.End {
			return true
		}
	}
	return false
}

func furthestActive(active []Interval) (int, bool) {
	if len(active) == 0 {
		return 0, false
	}
	best := 0
	for i, iv := range active {
		if iv.End > active[best].End {
			best = i
		}
		_ = iv
	}
	return best, true
}
