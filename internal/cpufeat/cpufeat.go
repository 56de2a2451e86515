// Package cpufeat detects the ISA extensions available on the running
// CPU, used by the variant generator to decide which assembled variants
// (scalar/AVX2/AVX-512) are even legal to execute (spec.md §4.G).
package cpufeat

import "golang.org/x/sys/cpu"

// Features is a snapshot of the ISA extensions relevant to NanoForge's
// variant set. AMX detection is deliberately left unreported: the
// running Go runtime doesn't expose CPUID leaf 7 subleaf 0's EDX bits
// through golang.org/x/sys/cpu, and no variant in this build currently
// targets AMX, so it is tracked as a future leaf rather than read with
// a hand-rolled CPUID stub.
type Features struct {
	HasSSE2    bool
	HasSSE41   bool
	HasSSE42   bool
	HasAVX     bool
	HasAVX2    bool
	HasAVX512F bool
	HasAVX512VL bool
	HasAVX512BW bool
}

// Detect reads the process-wide feature flags golang.org/x/sys/cpu
// populates at init time from CPUID.
func Detect() Features {
	return Features{
		HasSSE2:     cpu.X86.HasSSE2,
		HasSSE41:    cpu.X86.HasSSE41,
		HasSSE42:    cpu.X86.HasSSE42,
		HasAVX:      cpu.X86.HasAVX,
		HasAVX2:     cpu.X86.HasAVX2,
		HasAVX512F:  cpu.X86.HasAVX512F,
		HasAVX512VL: cpu.X86.HasAVX512VL,
		HasAVX512BW: cpu.X86.HasAVX512BW,
	}
}

// SupportsAVX2 reports whether the AVX2 variant is safe to run.
func (f Features) SupportsAVX2() bool { return f.HasAVX2 }

// SupportsAVX512 reports whether the AVX-512 variant is safe to run.
// The compiler's AVX-512 lowering only uses foundation, VL, and BW
// instructions, so all three must be present.
func (f Features) SupportsAVX512() bool {
	return f.HasAVX512F && f.HasAVX512VL && f.HasAVX512BW
}

// Summary renders a short human-readable list of detected features, for
// diagnostic logging when a variant is skipped.
func (f Features) Summary() string {
	names := []string{}
	add := func(ok bool, name string) {
		if ok {
			names = append(names, name)
		}
	}
	add(f.HasSSE2, "SSE2")
	add(f.HasSSE42, "SSE4.2")
	add(f.HasAVX, "AVX")
	add(f.HasAVX2, "AVX2")
	add(f.HasAVX512F, "AVX-512F")
	add(f.HasAVX512VL, "AVX-512VL")
	add(f.HasAVX512BW, "AVX-512BW")
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
