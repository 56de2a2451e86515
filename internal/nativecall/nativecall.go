// Package nativecall bridges Go into JIT-compiled machine code.
//
// wazero's wazevo backend declares its entry point the same way: a bodyless
// Go function (internal/engine/wazevo/entrypoint_arm64.go) linked via
// go:linkname to an assembly TEXT symbol that does the actual transfer of
// control. NanoForge targets amd64 only, so there is a single ISA to
// dispatch to and no backend package to link against; invoke is declared
// here and implemented directly in invoke_amd64.s.
package nativecall

// invoke transfers control to the machine code at entry, passing arg in
// the first System V integer argument register and returning the callee's
// RAX. entry must point at a function compiled by internal/compiler,
// which follows the System V AMD64 calling convention by construction.
func invoke(entry uintptr, arg uint64) uint64

// Invoke calls a JIT-compiled entry point with a single 64-bit argument
// and returns its 64-bit result.
func Invoke(entry uintptr, arg uint64) uint64 {
	return invoke(entry, arg)
}
