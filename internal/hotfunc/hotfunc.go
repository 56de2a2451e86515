// Package hotfunc lets a running program's implementation be swapped
// out for a newly-compiled variant while callers may be mid-call
// against the old one (spec.md §4.G, original_source hot_function.rs).
package hotfunc

import (
	"runtime"
	"sync/atomic"

	"github.com/nanoforge/nanoforge/internal/execmem"
	"github.com/nanoforge/nanoforge/internal/nativecall"
)

// JittedCode pairs a callable entry address with the executable memory
// that backs it, so the memory stays mapped for exactly as long as
// something might still call through entry.
type JittedCode struct {
	memory *execmem.Memory
	entry  uintptr
}

// newJittedCode wraps mem/offset and arranges for mem to be unmapped
// once this JittedCode is no longer reachable from anywhere, including a
// goroutine's stack mid-call — the Go GC will not collect an object a
// live stack frame still references, so the finalizer can never fire
// while a call through entry is in flight. mem is published here, on the
// hot-swap boundary, even though the variant generator already publishes
// it once after compiling: this is the point spec.md §8 "hot swap
// visibility" actually cares about, and a second MFENCE costs nothing.
func newJittedCode(mem *execmem.Memory, offset int) *JittedCode {
	mem.Publish()
	jc := &JittedCode{memory: mem, entry: mem.EntryAddr(offset)}
	runtime.SetFinalizer(jc, func(j *JittedCode) {
		_ = j.memory.Close()
	})
	return jc
}

// HotFunction is a function whose implementation can be replaced at any
// time; Call always executes whichever implementation was current at
// the moment it loaded the pointer.
type HotFunction struct {
	current atomic.Pointer[JittedCode]
}

// New builds a HotFunction whose initial implementation is the compiled
// code at offset within mem.
func New(mem *execmem.Memory, offset int) *HotFunction {
	hf := &HotFunction{}
	hf.current.Store(newJittedCode(mem, offset))
	return hf
}

// Call invokes the currently-published implementation with arg. code is
// dead (in the liveness sense) as soon as entry has been read, so
// without runtime.KeepAlive the GC is free to treat it as unreachable
// and run its finalizer — unmapping the executable memory — while
// nativecall.Invoke is still executing against it.
func (h *HotFunction) Call(arg uint64) uint64 {
	code := h.current.Load()
	ret := nativecall.Invoke(code.entry, arg)
	runtime.KeepAlive(code)
	return ret
}

// Update atomically publishes a new implementation. Calls already in
// flight against the previous implementation keep running against it
// undisturbed; its memory is released once nothing references it any
// longer.
func (h *HotFunction) Update(mem *execmem.Memory, offset int) {
	h.current.Store(newJittedCode(mem, offset))
}
