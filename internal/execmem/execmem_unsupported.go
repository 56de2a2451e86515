//go:build !linux

package execmem

import (
	"golang.org/x/sys/unix"

	"github.com/nanoforge/nanoforge/internal/nferrors"
)

// memoryImpl falls back to a single anonymous mapping whose protection
// is toggled with mprotect: platforms without memfd_create cannot build
// two independent views of one descriptor, so write and execute phases
// are serialized through one mapping instead of split across two.
type memoryImpl struct{}

func pageRound(size int) int {
	pageSize := unix.Getpagesize()
	if size%pageSize == 0 {
		return size
	}
	return (size/pageSize + 1) * pageSize
}

func newMemory(size int) (*Memory, error) {
	size = pageRound(size)
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nferrors.Wrap(nferrors.MemoryError, err, "execmem: anonymous mmap failed")
	}
	return &Memory{rw: b, rx: b, size: size}, nil
}

// MakeExecutable flips the single mapping from RW to RX. The compiler
// calls this once writing a variant is complete and before it is
// published to any caller.
func (m *Memory) MakeExecutable() error {
	if err := unix.Mprotect(m.rw, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return nferrors.Wrap(nferrors.MemoryError, err, "execmem: mprotect RX failed")
	}
	return nil
}

func (m *Memory) close() error {
	if err := unix.Munmap(m.rw); err != nil {
		return nferrors.Wrap(nferrors.MemoryError, err, "execmem: munmap failed")
	}
	return nil
}
