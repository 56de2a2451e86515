//go:build linux

package execmem

import (
	"golang.org/x/sys/unix"

	"github.com/nanoforge/nanoforge/internal/nferrors"
)

// memoryImpl holds the platform handles needed to tear a dual mapping
// down again. Kept distinct from Memory so non-Linux builds can swap in
// a different (single-mapping, mprotect-toggled) strategy without
// touching the exported type.
type memoryImpl struct {
	fd int
}

func pageRound(size int) int {
	pageSize := unix.Getpagesize()
	if size%pageSize == 0 {
		return size
	}
	return (size/pageSize + 1) * pageSize
}

// newMemory implements the Linux path described in spec.md §4.A: a
// memfd_create-backed anonymous file mapped twice, once RW once RX, so
// the two permission sets never coexist on one mapping.
func newMemory(size int) (*Memory, error) {
	size = pageRound(size)

	fd, err := unix.MemfdCreate("nanoforge_jit", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, nferrors.Wrap(nferrors.MemoryError, err, "execmem: memfd_create failed")
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, nferrors.Wrap(nferrors.MemoryError, err, "execmem: ftruncate failed")
	}

	rw, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, nferrors.Wrap(nferrors.MemoryError, err, "execmem: mmap RW failed")
	}

	rx, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_EXEC, unix.MAP_SHARED)
	if err != nil {
		unix.Munmap(rw)
		unix.Close(fd)
		return nil, nferrors.Wrap(nferrors.MemoryError, err, "execmem: mmap RX failed")
	}

	return &Memory{rw: rw, rx: rx, size: size, impl: memoryImpl{fd: fd}}, nil
}

func (m *Memory) close() error {
	var firstErr error
	if err := unix.Munmap(m.rw); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unix.Munmap(m.rx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unix.Close(m.impl.fd); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return nferrors.Wrap(nferrors.MemoryError, firstErr, "execmem: close failed")
	}
	return nil
}

