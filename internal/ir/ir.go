// Package ir defines the three-address intermediate representation that
// NanoForge compiles. Operands and instructions are plain data: equality and
// hashing are defined so operands can serve as map keys during register
// allocation, but nothing here understands control flow or types.
package ir

import "fmt"

// OperandKind tags the variant held by an Operand.
type OperandKind uint8

const (
	// OperandNone marks an unused operand slot.
	OperandNone OperandKind = iota
	// OperandReg is a virtual integer register.
	OperandReg
	// OperandYmm is a virtual 256-bit vector register.
	OperandYmm
	// OperandImm is a signed 32-bit immediate.
	OperandImm
	// OperandLabel is a symbolic label reference.
	OperandLabel
)

// Operand is a tagged value: an integer virtual register, a vector virtual
// register, an immediate, or a label. Integer and vector registers inhabit
// disjoint id namespaces, so Operand{Kind: OperandReg, Reg: 0} and
// Operand{Kind: OperandYmm, Reg: 0} are distinct keys.
type Operand struct {
	Kind  OperandKind
	Reg   uint8
	Imm   int32
	Label string
}

// Reg constructs an integer virtual register operand.
func Reg(id uint8) Operand { return Operand{Kind: OperandReg, Reg: id} }

// Ymm constructs a vector virtual register operand.
func Ymm(id uint8) Operand { return Operand{Kind: OperandYmm, Reg: id} }

// Imm32 constructs a signed immediate operand.
func Imm32(v int32) Operand { return Operand{Kind: OperandImm, Imm: v} }

// Label constructs a symbolic label operand.
func Label(name string) Operand { return Operand{Kind: OperandLabel, Label: name} }

// IsReg reports whether the operand is an integer virtual register.
func (o Operand) IsReg() bool { return o.Kind == OperandReg }

// IsYmm reports whether the operand is a vector virtual register.
func (o Operand) IsYmm() bool { return o.Kind == OperandYmm }

// IsImm reports whether the operand is an immediate.
func (o Operand) IsImm() bool { return o.Kind == OperandImm }

// IsLabel reports whether the operand is a label reference.
func (o Operand) IsLabel() bool { return o.Kind == OperandLabel }

// IsVirtualRegister reports whether the operand occupies a register
// namespace (integer or vector), as opposed to an immediate or label.
func (o Operand) IsVirtualRegister() bool { return o.Kind == OperandReg || o.Kind == OperandYmm }

func (o Operand) String() string {
	switch o.Kind {
	case OperandReg:
		return fmt.Sprintf("r%d", o.Reg)
	case OperandYmm:
		return fmt.Sprintf("y%d", o.Reg)
	case OperandImm:
		return fmt.Sprintf("#%d", o.Imm)
	case OperandLabel:
		return o.Label
	default:
		return "<none>"
	}
}

// Opcode names an IR operation. Most opcodes are two-address and
// destructive on Dest (Dest op= Src1), matching spec.md §3.
type Opcode uint8

const (
	OpMov Opcode = iota
	OpAdd
	OpSub
	OpMul
	OpLabel
	OpJmp
	OpJnz
	OpCmp
	OpJe
	OpJne
	OpJl
	OpJle
	OpJg
	OpJge
	OpCall
	OpSetArg
	OpLoadArg
	OpRet
	OpAlloc
	OpFree
	OpLoad
	OpStore
	OpVLoad
	OpVStore
	OpVAdd
)

var opcodeNames = map[Opcode]string{
	OpMov: "Mov", OpAdd: "Add", OpSub: "Sub", OpMul: "Mul", OpLabel: "Label",
	OpJmp: "Jmp", OpJnz: "Jnz", OpCmp: "Cmp", OpJe: "Je", OpJne: "Jne",
	OpJl: "Jl", OpJle: "Jle", OpJg: "Jg", OpJge: "Jge", OpCall: "Call",
	OpSetArg: "SetArg", OpLoadArg: "LoadArg", OpRet: "Ret", OpAlloc: "Alloc",
	OpFree: "Free", OpLoad: "Load", OpStore: "Store", OpVLoad: "VLoad",
	OpVStore: "VStore", OpVAdd: "VAdd",
}

func (op Opcode) String() string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return "Unknown"
}

// IsConditionalBranch reports whether op is one of the relational jumps.
func (op Opcode) IsConditionalBranch() bool {
	switch op {
	case OpJe, OpJne, OpJl, OpJle, OpJg, OpJge, OpJnz:
		return true
	default:
		return false
	}
}

// IsBranch reports whether op transfers control, conditionally or not.
func (op Opcode) IsBranch() bool {
	return op == OpJmp || op.IsConditionalBranch()
}

// IsTerminator reports whether op unconditionally ends a basic block
// (used by the optimizer's dead-code pass, §4.D.3).
func (op Opcode) IsTerminator() bool {
	return op == OpRet || op == OpJmp
}

// Instruction is an opcode plus up to three operand roles. The Arg field
// carries the index for SetArg(i)/LoadArg(i).
type Instruction struct {
	Op   Opcode
	Dest Operand
	Src1 Operand
	Src2 Operand
	// HasDest/HasSrc1/HasSrc2 distinguish "operand present but zero value"
	// from "operand absent", since Operand's zero value (OperandNone) is
	// itself meaningful for opcodes that don't use every slot.
	HasDest bool
	HasSrc1 bool
	HasSrc2 bool
	// Arg is the argument index for SetArg/LoadArg.
	Arg int
}

func inst(op Opcode) Instruction { return Instruction{Op: op} }

// MovRegReg builds `Mov dest, src`.
func MovRegReg(dest, src Operand) Instruction {
	return Instruction{Op: OpMov, Dest: dest, HasDest: true, Src1: src, HasSrc1: true}
}

// MovImm builds `Mov dest, imm`.
func MovImm(dest Operand, v int32) Instruction {
	return Instruction{Op: OpMov, Dest: dest, HasDest: true, Src1: Imm32(v), HasSrc1: true}
}

// BinOp builds a two-address `op dest, src` instruction (Add/Sub/Mul).
func BinOp(op Opcode, dest, src Operand) Instruction {
	return Instruction{Op: op, Dest: dest, HasDest: true, Src1: src, HasSrc1: true}
}

// LabelDef builds a `Label name` pseudo-instruction.
func LabelDef(name string) Instruction {
	return Instruction{Op: OpLabel, Dest: Label(name), HasDest: true}
}

// Jump builds an unconditional `Jmp name`.
func Jump(name string) Instruction {
	return Instruction{Op: OpJmp, Dest: Label(name), HasDest: true}
}

// CondJump builds a relational jump (`Je`, `Jl`, ...) targeting name.
func CondJump(op Opcode, name string) Instruction {
	return Instruction{Op: op, Dest: Label(name), HasDest: true}
}

// CmpOp builds `Cmp a, b`.
func CmpOp(a, b Operand) Instruction {
	return Instruction{Op: OpCmp, Src1: a, HasSrc1: true, Src2: b, HasSrc2: true}
}

// CallOp builds `Call dest, label`.
func CallOp(dest Operand, label string) Instruction {
	return Instruction{Op: OpCall, Dest: dest, HasDest: true, Src1: Label(label), HasSrc1: true}
}

// SetArg builds `SetArg(i) src`.
func SetArg(i int, src Operand) Instruction {
	return Instruction{Op: OpSetArg, Src1: src, HasSrc1: true, Arg: i}
}

// LoadArgOp builds `LoadArg(i) dest`.
func LoadArgOp(i int, dest Operand) Instruction {
	return Instruction{Op: OpLoadArg, Dest: dest, HasDest: true, Arg: i}
}

// Return builds `Ret src`.
func Return(src Operand) Instruction {
	return Instruction{Op: OpRet, Src1: src, HasSrc1: true}
}

// AllocOp builds `Alloc dest, size`.
func AllocOp(dest, size Operand) Instruction {
	return Instruction{Op: OpAlloc, Dest: dest, HasDest: true, Src1: size, HasSrc1: true}
}

// FreeOp builds `Free ptr`.
func FreeOp(ptr Operand) Instruction {
	return Instruction{Op: OpFree, Src1: ptr, HasSrc1: true}
}

// LoadOp builds `Load dest, base, index` (dest = mem[base + index*8]).
func LoadOp(dest, base, index Operand) Instruction {
	return Instruction{Op: OpLoad, Dest: dest, HasDest: true, Src1: base, HasSrc1: true, Src2: index, HasSrc2: true}
}

// StoreOp builds `Store base, index, src`.
func StoreOp(base, index, src Operand) Instruction {
	return Instruction{Op: OpStore, Dest: base, HasDest: true, Src1: index, HasSrc1: true, Src2: src, HasSrc2: true}
}

// VLoadOp builds `VLoad ymmDest, base, index`.
func VLoadOp(dest, base, index Operand) Instruction {
	return Instruction{Op: OpVLoad, Dest: dest, HasDest: true, Src1: base, HasSrc1: true, Src2: index, HasSrc2: true}
}

// VStoreOp builds `VStore base, index, ymmSrc`.
func VStoreOp(base, index, src Operand) Instruction {
	return Instruction{Op: OpVStore, Dest: base, HasDest: true, Src1: index, HasSrc1: true, Src2: src, HasSrc2: true}
}

// VAddOp builds `VAdd ymmDest, ymmSrc1, ymmSrc2`.
func VAddOp(dest, src1, src2 Operand) Instruction {
	return Instruction{Op: OpVAdd, Dest: dest, HasDest: true, Src1: src1, HasSrc1: true, Src2: src2, HasSrc2: true}
}

// Operands returns the present operands in Dest, Src1, Src2 order, for
// callers (liveness, optimizer passes) that want to iterate uniformly.
func (i Instruction) Operands() []Operand {
	ops := make([]Operand, 0, 3)
	if i.HasDest {
		ops = append(ops, i.Dest)
	}
	if i.HasSrc1 {
		ops = append(ops, i.Src1)
	}
	if i.HasSrc2 {
		ops = append(ops, i.Src2)
	}
	return ops
}

func (i Instruction) String() string {
	parts := []any{i.Op}
	for _, o := range i.Operands() {
		parts = append(parts, o)
	}
	return fmt.Sprint(parts...)
}

// Function is a named, ordered list of parameters and instructions.
//
// Invariant: exactly one Ret on every control-flow path. This is enforced
// by construction in the IR producer (the parser, or a caller building IR
// directly); the optimizer and register allocator assume it holds and do
// not re-verify it.
type Function struct {
	Name   string
	Params []string
	Instrs []Instruction
}

// NewFunction constructs an empty function.
func NewFunction(name string, params []string) *Function {
	return &Function{Name: name, Params: params}
}

// Push appends an instruction.
func (f *Function) Push(i Instruction) {
	f.Instrs = append(f.Instrs, i)
}

// Clone returns a deep copy safe to mutate independently (used before each
// optimizer/compiler pass over a variant configuration, §4.G).
func (f *Function) Clone() *Function {
	cp := &Function{Name: f.Name, Params: append([]string(nil), f.Params...)}
	cp.Instrs = append([]Instruction(nil), f.Instrs...)
	return cp
}

// Program is an ordered sequence of functions. Compilation preserves this
// order and records each function's byte offset in the generated code.
type Program struct {
	Functions []*Function
}

// NewProgram constructs an empty program.
func NewProgram() *Program { return &Program{} }

// AddFunction appends a function, preserving program order.
func (p *Program) AddFunction(f *Function) { p.Functions = append(p.Functions, f) }

// Entry returns the function named "main", which every valid Program must
// contain (spec.md §3 Program invariant).
func (p *Program) Entry() (*Function, bool) {
	for _, f := range p.Functions {
		if f.Name == "main" {
			return f, true
		}
	}
	return nil, false
}

// Clone deep-copies every function in the program.
func (p *Program) Clone() *Program {
	cp := &Program{Functions: make([]*Function, len(p.Functions))}
	for i, f := range p.Functions {
		cp.Functions[i] = f.Clone()
	}
	return cp
}
