// Package execmem provides the dual-mapped writer/executor memory that
// backs every compiled variant (spec.md §4.A). A single anonymous file
// descriptor is mapped twice: once RW for the compiler to write machine
// code into, once RX for the generated code to actually run from, so no
// mapping is ever simultaneously writable and executable (W^X).
package execmem

import (
	"unsafe"

	"github.com/nanoforge/nanoforge/internal/nferrors"
)

// Memory is a single dual-mapped allocation. The RW and RX views share
// the same physical pages through the backing file descriptor: a write
// through rw is immediately visible through rx.
type Memory struct {
	rw   []byte
	rx   []byte
	size int
	impl memoryImpl
}

// New allocates a dual-mapped region of at least size bytes, rounded up
// to the host page size.
func New(size int) (*Memory, error) {
	if size <= 0 {
		return nil, nferrors.New(nferrors.MemoryError, "execmem: size must be positive, got %d", size)
	}
	return newMemory(size)
}

// Write copies code into the writable view at offset. It must only be
// called before the caller starts executing from the RX view of a given
// region: concurrent writers and executors of the SAME bytes are the
// caller's responsibility to serialize (the compiler always finishes
// writing a variant before publishing its entry point).
func (m *Memory) Write(offset int, code []byte) error {
	if offset < 0 || offset+len(code) > len(m.rw) {
		return nferrors.New(nferrors.MemoryError, "execmem: write of %d bytes at offset %d exceeds region size %d", len(code), offset, len(m.rw))
	}
	copy(m.rw[offset:], code)
	return nil
}

// publishBarrier is MFENCE, implemented in barrier_amd64.s.
func publishBarrier()

// Publish issues the architectural barrier spec.md §4.A requires between
// writing code through the RW view and handing its RX address out to be
// executed: an MFENCE drains the store buffer so freshly written bytes
// are guaranteed fetchable as instructions before any caller can reach
// them through EntryAddr. x86-64 keeps the instruction and data caches
// coherent on its own (unlike aarch64, which needs an explicit icache
// flush here too, original_source jit_memory.rs flush_icache); the fence
// is the only barrier this architecture needs. Callers must call Publish
// after the last Write to a region and before any EntryAddr taken from it
// is called.
func (m *Memory) Publish() {
	publishBarrier()
}

// Executable returns the read-execute view of the region. The returned
// slice must never be written to; doing so faults (PROT_READ|PROT_EXEC
// only).
func (m *Memory) Executable() []byte { return m.rx }

// Size reports the page-rounded allocation size.
func (m *Memory) Size() int { return m.size }

// EntryAddr returns the address of offset within the executable view,
// used by the compiler to build a callable function pointer for a
// variant once it has finished writing that variant's code.
func (m *Memory) EntryAddr(offset int) uintptr {
	return uintptr(unsafe.Pointer(&m.rx[offset]))
}

// Close unmaps both views and releases the backing descriptor.
func (m *Memory) Close() error { return m.close() }
