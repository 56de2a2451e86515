package asm

// AVX2 256-bit (YMM) vector instructions, used by the VLoad/VStore/VAdd
// IR opcodes the optimizer's vectorizer pass produces. The vectorizer
// advances its induction variable by 4 regardless of ISA (spec.md §4.D),
// so these operate on four packed 64-bit integers (VPADDQ), matching the
// IR's 8-byte element stride (spec.md §6).

func vexByte1(rInv, xInv, bInv, mmmmm uint8) byte {
	return (rInv&1)<<7 | (xInv&1)<<6 | (bInv&1)<<5 | mmmmm
}

func vexByte2(w, vvvvInv, l, pp uint8) byte {
	return (w&1)<<7 | (vvvvInv&0xF)<<3 | (l&1)<<2 | (pp & 3)
}

// emitVex3 writes a 3-byte VEX prefix (0xC4 variant), needed whenever an
// extended (>=8) register participates or a non-0F map is used.
func (a *Assembler) emitVex3(r, x, b, mmmmm, w, vvvv, l, pp uint8) {
	a.buf.writeByte(0xC4)
	a.buf.writeByte(vexByte1(^r&1, ^x&1, ^b&1, mmmmm))
	a.buf.writeByte(vexByte2(w, ^vvvv&0xF, l, pp))
}

// VpxorYmm emits `vpxor dest, src1, src2` (256-bit), used to zero an
// accumulator register.
func (a *Assembler) VpxorYmm(dest, src1, src2 uint8) {
	a.emitVex3(ext(dest), 0, ext(src2), 0x01, 0, src1, 1, 1) // map=0F, pp=66
	a.buf.writeByte(0xEF)
	a.buf.writeByte(modrmReg(dest, src2))
}

// VpaddqYmm emits `vpaddq dest, src1, src2` (256-bit, 4 packed int64s).
func (a *Assembler) VpaddqYmm(dest, src1, src2 uint8) {
	a.emitVex3(ext(dest), 0, ext(src2), 0x01, 0, src1, 1, 1)
	a.buf.writeByte(0xD4)
	a.buf.writeByte(modrmReg(dest, src2))
}

// VmovdquYmmLoad emits `vmovdqu dest, [base + index*8]` (256-bit).
func (a *Assembler) VmovdquYmmLoad(dest, base, index uint8) {
	a.emitVex3(ext(dest), ext(index), ext(base), 0x01, 0, 0, 1, 2) // pp=F3
	a.buf.writeByte(0x6F)
	a.emitMemOperand(dest, base, true, index, 0)
}

// VmovdquYmmStore emits `vmovdqu [base + index*8], src` (256-bit).
func (a *Assembler) VmovdquYmmStore(base, index, src uint8) {
	a.emitVex3(ext(src), ext(index), ext(base), 0x01, 0, 0, 1, 2)
	a.buf.writeByte(0x7F)
	a.emitMemOperand(src, base, true, index, 0)
}
