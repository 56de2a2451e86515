// Package asm implements a label-resolving streaming encoder over a
// growable byte buffer for the x86-64 instructions NanoForge's compiler
// emits (spec.md §4.B). Unlike a general-purpose assembler it covers only
// the narrow instruction surface the compiler and variant generator
// produce: integer arithmetic, control flow, calls, and AVX2/AVX-512
// vector moves and adds.
package asm

import "encoding/binary"

// buffer is a plain growable byte slice. Unlike the executable-memory
// mapping the finished code is eventually copied into (internal/execmem),
// assembly happens into ordinary heap memory; nothing here needs to be
// executable.
type buffer struct {
	b []byte
}

func (buf *buffer) len() int { return len(buf.b) }

func (buf *buffer) writeByte(v byte) { buf.b = append(buf.b, v) }

func (buf *buffer) writeBytes(v ...byte) { buf.b = append(buf.b, v...) }

func (buf *buffer) writeUint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.b = append(buf.b, tmp[:]...)
}

func (buf *buffer) writeUint64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.b = append(buf.b, tmp[:]...)
}

// patchUint32 overwrites the 4 bytes at offset off, used to resolve a
// forward label reference once its target address is known.
func (buf *buffer) patchUint32(off int, v uint32) {
	binary.LittleEndian.PutUint32(buf.b[off:off+4], v)
}
