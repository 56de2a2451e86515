package compiler

import "github.com/nanoforge/nanoforge/internal/asm"

// Linux x86-64 syscall numbers used by the allocator stubs.
const (
	sysMmap   = 9
	sysMunmap = 11
)

const (
	mmapProtReadWrite = 3    // PROT_READ|PROT_WRITE
	mmapPrivateAnon   = 0x22 // MAP_PRIVATE|MAP_ANONYMOUS
	headerSize        = 16
)

// allocStubLabel and freeStubLabel name the two runtime routines emitted
// once per compiled program. spec.md §4.F describes Alloc/Free lowering
// as "call the host allocator by absolute address"; the original
// prototype resolved that address by linking against libc at build
// time (`libc::malloc as usize as u64`). This build has no FFI
// boundary, so the allocator itself is hand-rolled as two small
// routines that request pages directly from the kernel via the
// `syscall` instruction, and Alloc/Free lower to ordinary relative
// Calls against them through the same label-fixup mechanism as any
// other function call.
const (
	allocStubLabel = "nanoforge_alloc"
	freeStubLabel  = "nanoforge_free"
)

// emitAllocStub writes the allocator routine. On entry RDI holds the
// requested size; it returns a pointer in RAX to a block with a hidden
// 16-byte header that records the real mmap length, so Free can recover
// it without the IR carrying a size operand.
//
//	nanoforge_alloc:
//	    mov   rdx, 3          ; PROT_READ|PROT_WRITE
//	    mov   r10, 0x22       ; MAP_PRIVATE|MAP_ANONYMOUS
//	    mov   r8,  -1         ; fd
//	    mov   r9,  0          ; offset
//	    add   rdi, 16         ; rdi = requested size + header
//	    mov   rsi, rdi        ; rsi = length for mmap
//	    mov   rdi, 0          ; addr = NULL
//	    mov   rax, 9          ; SYS_mmap
//	    syscall
//	    mov   [rax], rsi      ; stash length in the header
//	    add   rax, 16         ; rax = pointer past the header
//	    ret
func emitAllocStub(a *asm.Assembler) error {
	if err := a.Bind(allocStubLabel); err != nil {
		return err
	}
	a.MovRegImm32(asm.RDX, mmapProtReadWrite)
	a.MovRegImm32(asm.R10, mmapPrivateAnon)
	a.MovRegImm32(asm.R8, -1)
	a.MovRegImm32(asm.R9, 0)
	a.AddRegImm32(asm.RDI, headerSize)
	a.MovRegReg(asm.RSI, asm.RDI)
	a.MovRegImm32(asm.RDI, 0)
	a.MovRegImm32(asm.RAX, sysMmap)
	a.Syscall()
	a.MovMemDispReg(asm.RAX, 0, asm.RSI)
	a.AddRegImm32(asm.RAX, headerSize)
	a.Ret()
	return nil
}

// emitFreeStub writes the deallocator routine. On entry RDI holds a
// pointer previously returned by the alloc stub.
//
//	nanoforge_free:
//	    sub   rdi, 16         ; rdi = header address
//	    mov   rsi, [rdi]      ; rsi = stashed length
//	    mov   rax, 11         ; SYS_munmap
//	    syscall
//	    ret
func emitFreeStub(a *asm.Assembler) error {
	if err := a.Bind(freeStubLabel); err != nil {
		return err
	}
	a.SubRegImm32(asm.RDI, headerSize)
	a.MovRegMemDisp(asm.RSI, asm.RDI, 0)
	a.MovRegImm32(asm.RAX, sysMunmap)
	a.Syscall()
	a.Ret()
	return nil
}
