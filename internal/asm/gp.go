package asm

// rex builds a REX prefix. w selects 64-bit operand size; r/x/b are the
// extension bits for the ModRM.reg, SIB.index, and ModRM.rm/SIB.base
// fields respectively, needed whenever the corresponding register id is
// >= 8 (R8-R15).
func rex(w bool, r, x, b uint8) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	v |= (r & 1) << 2
	v |= (x & 1) << 1
	v |= b & 1
	return v
}

func ext(reg uint8) uint8 {
	if reg >= 8 {
		return 1
	}
	return 0
}

// modrmReg builds a ModRM byte for a register-direct operand (mod=11).
func modrmReg(regField, rm uint8) byte {
	return 0xC0 | (regField&7)<<3 | (rm & 7)
}

// emitMemOperand writes ModRM (+ SIB + displacement) for `[base + index*8
// + disp]`, forcing a displacement byte when base is RBP/R13 (mod=00
// would otherwise be reinterpreted as RIP-relative/no-base addressing).
func (a *Assembler) emitMemOperand(regField, base uint8, hasIndex bool, index uint8, disp int32) {
	baseLow := base & 7
	needDisp8Force := baseLow == 5 && disp == 0
	var mod byte
	switch {
	case disp == 0 && !needDisp8Force:
		mod = 0x00
	case disp >= -128 && disp <= 127:
		mod = 0x40
	default:
		mod = 0x80
	}

	if hasIndex || baseLow == 4 {
		a.buf.writeByte(mod | (regField&7)<<3 | 0x04) // rm = 100 => SIB follows
		var sib byte
		if hasIndex {
			sib = (3 << 6) | (index&7)<<3 | baseLow // scale=8 (2^3)
		} else {
			sib = (0 << 6) | (4 << 3) | baseLow // no index
		}
		a.buf.writeByte(sib)
	} else {
		a.buf.writeByte(mod | (regField&7)<<3 | baseLow)
	}

	switch mod {
	case 0x40:
		a.buf.writeByte(byte(int8(disp)))
	case 0x80:
		a.buf.writeUint32(uint32(disp))
	}
}

// MovRegReg emits `mov dest, src` (64-bit).
func (a *Assembler) MovRegReg(dest, src uint8) {
	a.buf.writeByte(rex(true, ext(src), 0, ext(dest)))
	a.buf.writeByte(0x89) // MOV r/m64, r64 (dest is r/m)
	a.buf.writeByte(modrmReg(src, dest))
}

// MovRegImm32 emits `mov dest, imm32` sign-extended to 64 bits.
func (a *Assembler) MovRegImm32(dest uint8, imm int32) {
	a.buf.writeByte(rex(true, 0, 0, ext(dest)))
	a.buf.writeByte(0xC7)
	a.buf.writeByte(modrmReg(0, dest))
	a.buf.writeUint32(uint32(imm))
}

// MovRegImm64 emits `movabs dest, imm64`, loading a full 64-bit
// immediate such as an absolute address.
func (a *Assembler) MovRegImm64(dest uint8, imm uint64) {
	a.buf.writeByte(rex(true, 0, 0, ext(dest)))
	a.buf.writeByte(0xB8 + (dest & 7))
	a.buf.writeUint64(imm)
}

// MovRegMem emits `mov dest, [base + index*8]`.
func (a *Assembler) MovRegMem(dest, base, index uint8) {
	a.buf.writeByte(rex(true, ext(dest), ext(index), ext(base)))
	a.buf.writeByte(0x8B)
	a.emitMemOperand(dest, base, true, index, 0)
}

// MovMemReg emits `mov [base + index*8], src`.
func (a *Assembler) MovMemReg(base, index, src uint8) {
	a.buf.writeByte(rex(true, ext(src), ext(index), ext(base)))
	a.buf.writeByte(0x89)
	a.emitMemOperand(src, base, true, index, 0)
}

// MovRegMemDisp emits `mov dest, [base + disp]` (no index register),
// used by the allocator runtime stubs to read a block's size header.
func (a *Assembler) MovRegMemDisp(dest, base uint8, disp int32) {
	a.buf.writeByte(rex(true, ext(dest), 0, ext(base)))
	a.buf.writeByte(0x8B)
	a.emitMemOperand(dest, base, false, 0, disp)
}

// MovMemDispReg emits `mov [base + disp], src` (no index register).
func (a *Assembler) MovMemDispReg(base uint8, disp int32, src uint8) {
	a.buf.writeByte(rex(true, ext(src), 0, ext(base)))
	a.buf.writeByte(0x89)
	a.emitMemOperand(src, base, false, 0, disp)
}

// Syscall emits the `syscall` instruction (Linux x86-64 fast system call
// entry), used by the allocator runtime stubs to request pages directly
// from the kernel.
func (a *Assembler) Syscall() {
	a.buf.writeByte(0x0F)
	a.buf.writeByte(0x05)
}

// MovRegStack emits `mov dest, [rbp + offset]`, used to reload a spilled
// virtual register.
func (a *Assembler) MovRegStack(dest uint8, offset int32) {
	a.buf.writeByte(rex(true, ext(dest), 0, ext(RBP)))
	a.buf.writeByte(0x8B)
	a.emitMemOperand(dest, RBP, false, 0, offset)
}

// MovStackReg emits `mov [rbp + offset], src`, used to store a spilled
// virtual register.
func (a *Assembler) MovStackReg(offset int32, src uint8) {
	a.buf.writeByte(rex(true, ext(src), 0, ext(RBP)))
	a.buf.writeByte(0x89)
	a.emitMemOperand(src, RBP, false, 0, offset)
}

// AddRegReg emits `add dest, src`.
func (a *Assembler) AddRegReg(dest, src uint8) {
	a.buf.writeByte(rex(true, ext(src), 0, ext(dest)))
	a.buf.writeByte(0x01)
	a.buf.writeByte(modrmReg(src, dest))
}

// AddRegImm32 emits `add dest, imm32`.
func (a *Assembler) AddRegImm32(dest uint8, imm int32) {
	a.buf.writeByte(rex(true, 0, 0, ext(dest)))
	a.buf.writeByte(0x81)
	a.buf.writeByte(modrmReg(0, dest))
	a.buf.writeUint32(uint32(imm))
}

// SubRegReg emits `sub dest, src`.
func (a *Assembler) SubRegReg(dest, src uint8) {
	a.buf.writeByte(rex(true, ext(src), 0, ext(dest)))
	a.buf.writeByte(0x29)
	a.buf.writeByte(modrmReg(src, dest))
}

// SubRegImm32 emits `sub dest, imm32`.
func (a *Assembler) SubRegImm32(dest uint8, imm int32) {
	a.buf.writeByte(rex(true, 0, 0, ext(dest)))
	a.buf.writeByte(0x81)
	a.buf.writeByte(modrmReg(5, dest))
	a.buf.writeUint32(uint32(imm))
}

// ImulRegReg emits `imul dest, src` (dest *= src).
func (a *Assembler) ImulRegReg(dest, src uint8) {
	a.buf.writeByte(rex(true, ext(dest), 0, ext(src)))
	a.buf.writeByte(0x0F)
	a.buf.writeByte(0xAF)
	a.buf.writeByte(modrmReg(dest, src))
}

// ImulRegImm32 emits `imul dest, dest, imm32` (dest *= imm).
func (a *Assembler) ImulRegImm32(dest uint8, imm int32) {
	a.buf.writeByte(rex(true, ext(dest), 0, ext(dest)))
	a.buf.writeByte(0x69)
	a.buf.writeByte(modrmReg(dest, dest))
	a.buf.writeUint32(uint32(imm))
}

// CmpRegReg emits `cmp a, b` (flags = a - b).
func (a *Assembler) CmpRegReg(regA, regB uint8) {
	a.buf.writeByte(rex(true, ext(regB), 0, ext(regA)))
	a.buf.writeByte(0x39)
	a.buf.writeByte(modrmReg(regB, regA))
}

// CmpRegImm32 emits `cmp a, imm32`.
func (a *Assembler) CmpRegImm32(regA uint8, imm int32) {
	a.buf.writeByte(rex(true, 0, 0, ext(regA)))
	a.buf.writeByte(0x81)
	a.buf.writeByte(modrmReg(7, regA))
	a.buf.writeUint32(uint32(imm))
}

// TestRegReg emits `test reg, reg`, used for jnz.
func (a *Assembler) TestRegReg(reg uint8) {
	a.buf.writeByte(rex(true, ext(reg), 0, ext(reg)))
	a.buf.writeByte(0x85)
	a.buf.writeByte(modrmReg(reg, reg))
}

// PushReg emits `push reg`.
func (a *Assembler) PushReg(reg uint8) {
	if ext(reg) == 1 {
		a.buf.writeByte(rex(false, 0, 0, 1))
	}
	a.buf.writeByte(0x50 + (reg & 7))
}

// PopReg emits `pop reg`.
func (a *Assembler) PopReg(reg uint8) {
	if ext(reg) == 1 {
		a.buf.writeByte(rex(false, 0, 0, 1))
	}
	a.buf.writeByte(0x58 + (reg & 7))
}

// Ret emits `ret`.
func (a *Assembler) Ret() { a.buf.writeByte(0xC3) }

// Jmp emits a near unconditional jump to a (possibly not-yet-bound) label.
func (a *Assembler) Jmp(label string) {
	a.buf.writeByte(0xE9)
	a.addRel32Fixup(label)
}

// Jcc emits a near conditional jump to label.
func (a *Assembler) Jcc(cond Cond, label string) {
	a.buf.writeByte(0x0F)
	a.buf.writeByte(0x80 | byte(cond))
	a.addRel32Fixup(label)
}

// Jnz emits `test reg,reg; jnz label`.
func (a *Assembler) Jnz(reg uint8, label string) {
	a.TestRegReg(reg)
	a.buf.writeByte(0x0F)
	a.buf.writeByte(0x85)
	a.addRel32Fixup(label)
}

// Call emits a near direct call to label.
func (a *Assembler) Call(label string) {
	a.buf.writeByte(0xE8)
	a.addRel32Fixup(label)
}

// CallReg emits an indirect call through reg, for a target whose
// absolute address has been loaded into a register first.
func (a *Assembler) CallReg(reg uint8) {
	if ext(reg) == 1 {
		a.buf.writeByte(rex(false, 0, 0, ext(reg)))
	}
	a.buf.writeByte(0xFF)
	a.buf.writeByte(modrmReg(2, reg))
}

// AddRspImm32 emits `add rsp, imm32` (a negative imm grows the frame).
func (a *Assembler) AddRspImm32(imm int32) {
	a.AddRegImm32(RSP, imm)
}
