package asm

// AVX-512 EVEX-prefixed instructions for the 512-bit (ZMM) variant ISA
// (spec.md §4.B). The EVEX prefix is hand-rolled rather than produced by
// a macro library:
//
//	byte 0: 0x62 (EVEX identifier)
//	byte 1: R X B R' 0 0 mm    (map select)
//	byte 2: W vvvv 1 pp        (W=64-bit operands, vvvv=first source)
//	byte 3: z L'L b V' aaa     (no mask/broadcast/zeroing used here)
//
// Only the zmm0-zmm15, no-mask, no-broadcast subset is implemented: the
// compiler's AVX-512 variant never needs opmask registers or zmm16-31.
type evexPrefix struct {
	mapSelect uint8 // 0x01 = 0F
	w         bool
	vvvv      uint8 // first source register (inverted into the prefix)
	pp        uint8 // 0=none 1=66 2=F3 3=F2
	reg       uint8 // dest/first operand register
	rm        uint8 // second register, or memory base
	isMem     bool
	index     uint8
	hasIndex  bool
}

func (e evexPrefix) encode() [4]byte {
	var rBit byte = 0x80
	if e.reg&0x08 != 0 {
		rBit = 0
	}
	var xBit byte = 0x40
	if e.hasIndex && e.index&0x08 != 0 {
		xBit = 0
	}
	var bBit byte = 0x20
	if e.rm&0x08 != 0 {
		bBit = 0
	}
	const rPrime = 0x10 // R'=1 selects zmm0-15
	byte1 := rBit | rPrime | xBit | bBit | e.mapSelect

	var wBit byte
	if e.w {
		wBit = 0x80
	}
	vvvvInv := (^e.vvvv & 0x0F) << 3
	byte2 := wBit | vvvvInv | 0x04 | e.pp // bit 2 is always set

	const byte3 = 0x08 // z=0, aaa=0, b=0, V'=1 (vvvv[4]=0)

	return [4]byte{0x62, byte1, byte2, byte3}
}

func (e evexPrefix) modrm() byte {
	regField := (e.reg & 0x07) << 3
	rmField := e.rm & 0x07
	if !e.isMem {
		return 0xC0 | regField | rmField
	}
	if e.hasIndex {
		return 0x44 | regField // mod=01 (disp8 follows), rm=100 (SIB)
	}
	return 0x00 | regField | rmField
}

func (e evexPrefix) sib(scale uint8) (byte, bool) {
	if !e.isMem || !e.hasIndex {
		return 0, false
	}
	var scaleBits byte
	switch scale {
	case 1:
		scaleBits = 0x00
	case 2:
		scaleBits = 0x40
	case 4:
		scaleBits = 0x80
	case 8:
		scaleBits = 0xC0
	}
	return scaleBits | (e.index&0x07)<<3 | (e.rm & 0x07), true
}

// VpaddqZmm emits `vpaddq dest, src1, src2` (512-bit, 8 packed int64s).
// Opcode: EVEX.512.66.0F.W1 D4 /r.
func (a *Assembler) VpaddqZmm(dest, src1, src2 uint8) {
	p := evexPrefix{mapSelect: 0x01, w: true, vvvv: src1, pp: 0x01, reg: dest, rm: src2}
	pfx := p.encode()
	a.buf.writeBytes(pfx[:]...)
	a.buf.writeByte(0xD4)
	a.buf.writeByte(p.modrm())
}

// VmovdquZmmLoad emits `vmovdqu64 dest, [base + index*8]` (512-bit).
// Opcode: EVEX.512.F3.0F.W1 6F /r.
func (a *Assembler) VmovdquZmmLoad(dest, base, index uint8) {
	p := evexPrefix{mapSelect: 0x01, w: true, reg: dest, rm: base, isMem: true, hasIndex: true, index: index, pp: 0x02}
	pfx := p.encode()
	a.buf.writeBytes(pfx[:]...)
	a.buf.writeByte(0x6F)
	a.buf.writeByte(p.modrm())
	if sib, ok := p.sib(8); ok {
		a.buf.writeByte(sib)
	}
	a.buf.writeByte(0) // disp8*64 = 0
}

// VmovdquZmmStore emits `vmovdqu64 [base + index*8], src` (512-bit).
// Opcode: EVEX.512.F3.0F.W1 7F /r.
func (a *Assembler) VmovdquZmmStore(base, index, src uint8) {
	p := evexPrefix{mapSelect: 0x01, w: true, reg: src, rm: base, isMem: true, hasIndex: true, index: index, pp: 0x02}
	pfx := p.encode()
	a.buf.writeBytes(pfx[:]...)
	a.buf.writeByte(0x7F)
	a.buf.writeByte(p.modrm())
	if sib, ok := p.sib(8); ok {
		a.buf.writeByte(sib)
	}
	a.buf.writeByte(0)
}

// VpxorqZmm emits `vpxorq dest, src1, src2`, used to zero a 512-bit
// accumulator. Opcode: EVEX.512.66.0F.W1 EF /r.
func (a *Assembler) VpxorqZmm(dest, src1, src2 uint8) {
	p := evexPrefix{mapSelect: 0x01, w: true, vvvv: src1, pp: 0x01, reg: dest, rm: src2}
	pfx := p.encode()
	a.buf.writeBytes(pfx[:]...)
	a.buf.writeByte(0xEF)
	a.buf.writeByte(p.modrm())
}
