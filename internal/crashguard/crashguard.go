// Package crashguard isolates the two trust levels spec.md §4.I
// describes for running compiled variants: a production mode that
// calls straight into JIT code with no safety net, and a sandboxed mode
// used while a variant is still unproven that survives a fault in that
// code instead of taking the whole process down with it.
//
// original_source's safety.rs implements the sandboxed mode with
// setjmp/longjmp around a libc SIGSEGV/SIGILL handler: it recovers
// because it can manually rewind the C stack to a saved jmp_buf. Go
// offers no safe equivalent for arbitrary native code. runtime/debug's
// SetPanicOnFault only converts a fault into a recoverable panic when
// the runtime can identify the faulting instruction as one of ITS OWN
// compiled memory accesses; a fault with the program counter inside a
// JIT buffer has no entry in Go's function table at all, so the
// runtime treats it as corruption and crashes the process unconditionally,
// regardless of SetPanicOnFault. There is no library in this corpus that
// changes that.
//
// The Go-idiomatic answer to "isolate code that might just take the
// process down" is the one the toolchain itself reaches for: run the
// risky code in a child process and treat the child dying by signal as
// a normal, observable failure instead of a crash. RunSandboxed re-execs
// the current binary with EnvWorkerFlag set; RunWorker is what that
// re-exec'd child runs.
package crashguard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/nanoforge/nanoforge/internal/compiler"
	"github.com/nanoforge/nanoforge/internal/execmem"
	"github.com/nanoforge/nanoforge/internal/lang"
	"github.com/nanoforge/nanoforge/internal/nativecall"
)

// EnvWorkerFlag, when set to "1" in a child process's environment,
// means that process should run RunWorker instead of its normal entry
// point.
const EnvWorkerFlag = "NANOFORGE_CRASHGUARD_WORKER"

// Job describes one sandboxed invocation: a program to compile and the
// single argument to call its "main" with.
type Job struct {
	Source   string       `json:"source"`
	ISA      compiler.ISA `json:"isa"`
	OptLevel uint8        `json:"opt_level"`
	Fuel     uint64       `json:"fuel"`
	Input    uint64       `json:"input"`
}

// JobResult is what the worker reports back over stdout on success.
type JobResult struct {
	Output uint64 `json:"output"`
}

// IsWorker reports whether the current process was re-exec'd to act as
// a sandboxed worker.
func IsWorker() bool {
	return os.Getenv(EnvWorkerFlag) == "1"
}

// RunWorker reads a Job as JSON from stdin, compiles and executes it,
// and writes a JobResult as JSON to stdout. It is meant to be called
// from main() when IsWorker() is true, in place of the normal CLI entry
// point; it always terminates the process via os.Exit.
func RunWorker() {
	var job Job
	if err := json.NewDecoder(os.Stdin).Decode(&job); err != nil {
		fmt.Fprintf(os.Stderr, "crashguard: decoding job: %v\n", err)
		os.Exit(1)
	}

	result, err := runJob(job)
	if err != nil {
		fmt.Fprintf(os.Stderr, "crashguard: %v\n", err)
		os.Exit(1)
	}

	if err := json.NewEncoder(os.Stdout).Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "crashguard: encoding result: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func runJob(job Job) (JobResult, error) {
	prog, err := lang.Parse(job.Source)
	if err != nil {
		return JobResult{}, fmt.Errorf("parsing job source: %w", err)
	}

	res, err := compiler.CompileProgram(prog, job.OptLevel, job.ISA, job.Fuel)
	if err != nil {
		return JobResult{}, fmt.Errorf("compiling job program: %w", err)
	}

	mem, err := execmem.New(len(res.Code))
	if err != nil {
		return JobResult{}, fmt.Errorf("allocating executable memory: %w", err)
	}
	defer mem.Close()

	if err := mem.Write(0, res.Code); err != nil {
		return JobResult{}, fmt.Errorf("writing compiled code: %w", err)
	}
	mem.Publish()

	// If the compiled code is unsafe, the fault happens inside this
	// call and takes this (expendable, re-exec'd) process down with it.
	out := nativecall.Invoke(mem.EntryAddr(res.EntryOffset), job.Input)
	return JobResult{Output: out}, nil
}

// RunProduction calls straight into a trusted, already-vetted entry
// point with no isolation: a crash here is a real bug and should bring
// the process down loudly, not be papered over.
func RunProduction(entry uintptr, arg uint64) uint64 {
	return nativecall.Invoke(entry, arg)
}

// RunSandboxed compiles and executes job in a re-exec'd child process
// and reports whether it crashed instead of letting a fault in job's
// code crash the calling process. timeout bounds how long the child is
// allowed to run before it is killed and treated as a failure.
func RunSandboxed(ctx context.Context, job Job, timeout time.Duration) (JobResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	exe, err := os.Executable()
	if err != nil {
		return JobResult{}, fmt.Errorf("crashguard: resolving own executable: %w", err)
	}

	cmd := exec.CommandContext(ctx, exe)
	cmd.Env = append(os.Environ(), EnvWorkerFlag+"=1")

	payload, err := json.Marshal(job)
	if err != nil {
		return JobResult{}, fmt.Errorf("crashguard: marshaling job: %w", err)
	}
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return JobResult{}, fmt.Errorf("crashguard: sandboxed variant timed out after %s", timeout)
	}
	if runErr != nil {
		if sig, crashed := terminatingSignal(runErr); crashed {
			return JobResult{}, fmt.Errorf("crashguard: sandboxed variant crashed with signal %s", sig)
		}
		return JobResult{}, fmt.Errorf("crashguard: sandboxed variant failed: %w (stderr: %s)", runErr, stderr.String())
	}

	var result JobResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return JobResult{}, fmt.Errorf("crashguard: parsing worker output: %w", err)
	}
	return result, nil
}

// terminatingSignal extracts the fatal signal from a failed child
// process, if it died by one (SIGSEGV/SIGILL/SIGBUS/SIGFPE are the
// faults unsafe compiled code can raise).
func terminatingSignal(err error) (syscall.Signal, bool) {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return 0, false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return 0, false
	}
	if !status.Signaled() {
		return 0, false
	}
	return status.Signal(), true
}
