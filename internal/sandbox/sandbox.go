// Package sandbox runs a compiled variant in a cycle-accurate,
// thread-pinned benchmark loop, the input the bandit uses to compare
// variants against each other (spec.md §4.H / original_source
// sandbox.rs, benchmark.rs, benchmarker.rs).
package sandbox

import (
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nanoforge/nanoforge/internal/nativecall"
)

// readTSC is implemented in rdtsc_amd64.s: it executes RDTSC and packs
// EDX:EAX into a single 64-bit cycle count, the same counter
// original_source reads through `std::arch::x86_64::_rdtsc`.
func readTSC() uint64

// PinThreadToCore locks the calling goroutine to its current OS thread
// and restricts that thread to a single CPU, so the benchmark loop below
// isn't migrated mid-run and isn't sharing a core with anything else.
// original_source does the equivalent with `libc::sched_setaffinity`
// against a `cpu_set_t`; golang.org/x/sys/unix.CPUSet is the Go
// equivalent of that same kernel structure.
//
// The caller is responsible for eventually calling runtime.UnlockOSThread
// once benchmarking is done, since LockOSThread ties the calling
// goroutine to its thread for the rest of its life otherwise.
func PinThreadToCore(coreID int) error {
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Zero()
	set.Set(coreID)

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sandbox: failed to pin thread to core %d: %w", coreID, err)
	}
	return nil
}

// Result is the outcome of one benchmark run.
type Result struct {
	Iterations  uint64
	TotalCycles uint64
	AvgCycles   float64
	WallTime    time.Duration
	NsPerOp     float64
}

// sink is written on every call so the Go compiler can never conclude a
// call to entry is dead, the same role original_source's
// `std::hint::black_box` plays around each invocation.
var sink uint64

// BenchmarkEntry runs entry (an address produced by internal/variant,
// internal/nativecall's calling convention) warmupIterations times to
// prime branch predictors and caches, then times iterations calls using
// RDTSC for a cycle count and wall-clock time as a cross-check.
func BenchmarkEntry(entry uintptr, input uint64, warmupIterations, iterations uint64) Result {
	for i := uint64(0); i < warmupIterations; i++ {
		sink = nativecall.Invoke(entry, input)
	}

	start := time.Now()
	startCycles := readTSC()

	for i := uint64(0); i < iterations; i++ {
		sink = nativecall.Invoke(entry, input)
	}

	endCycles := readTSC()
	elapsed := time.Since(start)

	total := endCycles - startCycles
	var avg, nsPerOp float64
	if iterations > 0 {
		avg = float64(total) / float64(iterations)
		nsPerOp = float64(elapsed.Nanoseconds()) / float64(iterations)
	}

	return Result{
		Iterations:  iterations,
		TotalCycles: total,
		AvgCycles:   avg,
		WallTime:    elapsed,
		NsPerOp:     nsPerOp,
	}
}
