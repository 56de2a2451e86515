package asm

import "github.com/nanoforge/nanoforge/internal/nferrors"

// fixup is one unresolved rel32 reference, recorded at emission time and
// patched once every label has been bound (spec.md §4.B "finalize step
// that patches unresolved label references").
type fixup struct {
	pos   int // byte offset of the 4-byte displacement field
	label string
}

// Assembler is a label-resolving streaming encoder. Instructions are
// appended to a growable buffer as they are emitted; label references are
// recorded as fixups and patched to rel32 displacements by Finalize, the
// same two-pass shape as a traditional one-object-file assembler (bind
// every label, then resolve every reference against the final layout).
type Assembler struct {
	buf    buffer
	labels map[string]int
	fixups []fixup
}

// New constructs an empty Assembler.
func New() *Assembler {
	return &Assembler{labels: map[string]int{}}
}

// Offset returns the current end of the emitted instruction stream, used
// by callers that need to record a function's entry offset before any of
// its own labels are bound.
func (a *Assembler) Offset() int { return a.buf.len() }

// Bind records name as referring to the current offset. A label may only
// be bound once.
func (a *Assembler) Bind(name string) error {
	if _, ok := a.labels[name]; ok {
		return nferrors.New(nferrors.CompileError, "label %q bound twice", name)
	}
	a.labels[name] = a.buf.len()
	return nil
}

// addRel32Fixup reserves 4 zero bytes for a displacement that will be
// resolved against label once its offset is known.
func (a *Assembler) addRel32Fixup(label string) {
	pos := a.buf.len()
	a.buf.writeUint32(0)
	a.fixups = append(a.fixups, fixup{pos: pos, label: label})
}

// Finalize patches every recorded fixup and returns the immutable
// instruction stream. It errors if any referenced label was never bound.
func (a *Assembler) Finalize() ([]byte, error) {
	for _, fx := range a.fixups {
		target, ok := a.labels[fx.label]
		if !ok {
			return nil, nferrors.New(nferrors.CompileError, "unresolved label %q", fx.label)
		}
		rel := int32(target - (fx.pos + 4))
		a.buf.patchUint32(fx.pos, uint32(rel))
	}
	out := make([]byte, len(a.buf.b))
	copy(out, a.buf.b)
	return out, nil
}
