// Package nferrors defines the unified error taxonomy used across
// NanoForge, replacing panics with structured, wrapped errors (spec.md §7),
// plus the SecurityLimits presets that bound untrusted script execution.
package nferrors

import "fmt"

// Kind discriminates the category of a NanoForge error.
type Kind uint8

const (
	// ParseError is surfaced verbatim from the external/minimal parser.
	ParseError Kind = iota
	// CompileError covers register allocation failure, unsupported opcode
	// combinations, and budget-exceeded conditions during compilation.
	CompileError
	// MemoryError covers ExecMemory backing-object/mapping failures and
	// host allocator failures.
	MemoryError
	// ExecutionError covers fuel exhaustion and sentinel returns from
	// generated code.
	ExecutionError
	// SecurityError covers resource-limit violations (script size, code
	// size, memory, instruction count, iteration count).
	SecurityError
	// IoError covers bandit persistence failures.
	IoError
	// OptimizerError is carried over from original_source thread_safe.rs's
	// error set for bandit lock/serialization failures; not part of
	// spec.md §7's core list. No package in this module returns it.
	OptimizerError
)

func (k Kind) String() string {
	switch k {
	case ParseError:
		return "parse error"
	case CompileError:
		return "compile error"
	case MemoryError:
		return "memory error"
	case ExecutionError:
		return "execution error"
	case SecurityError:
		return "security error"
	case IoError:
		return "io error"
	case OptimizerError:
		return "optimizer error"
	default:
		return "unknown error"
	}
}

// Error is the single exported error type for all NanoForge operations.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error with no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error with the same Kind, so callers can
// do errors.Is(err, &Error{Kind: ExecutionError}) style checks, matching
// the sentinel below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks on the hot paths named by spec.md §8.
var (
	// The three sentinels below share Kind ExecutionError, and Is matches
	// by Kind, so errors.Is against any of them holds for every
	// ExecutionError. No package in this module returns them directly.
	//
	// ErrFuelExhausted names generated code hitting its per-function
	// iteration budget (spec.md §4.F, §5 "Cancellation and timeouts").
	// Such code returns the value -999 from the compiled function rather
	// than an error.
	ErrFuelExhausted = &Error{Kind: ExecutionError, Message: "fuel exhausted"}
	// ErrSandboxTimeout names a sandboxed run outliving its timeout
	// (spec.md §5, §4.H).
	ErrSandboxTimeout = &Error{Kind: ExecutionError, Message: "sandbox timeout"}
	// ErrFaultCaught names a fatal signal from generated code observed by
	// CrashGuard's sandboxed mode (spec.md §4.K, §7).
	ErrFaultCaught = &Error{Kind: ExecutionError, Message: "fatal signal caught"}
)

// SecurityLimits bounds script size, generated code size, memory,
// instruction count, execution time, and loop iterations for untrusted
// scripts (spec.md §7 SecurityError; supplemented from original_source
// error.rs/safety.rs, which the distillation dropped).
type SecurityLimits struct {
	MaxScriptSize     int
	MaxCodeSize       int
	MaxMemory         int
	MaxInstructions   int
	MaxExecutionMs    uint64
	MaxLoopIterations uint64
}

// DefaultLimits returns the balanced preset.
func DefaultLimits() SecurityLimits {
	return SecurityLimits{
		MaxScriptSize:     1 << 20,
		MaxCodeSize:       1 << 20,
		MaxMemory:         256 << 20,
		MaxInstructions:   10_000,
		MaxExecutionMs:    5_000,
		MaxLoopIterations: 1_000_000,
	}
}

// StrictLimits returns a tight preset suitable for fully untrusted code.
func StrictLimits() SecurityLimits {
	return SecurityLimits{
		MaxScriptSize:     64 << 10,
		MaxCodeSize:       256 << 10,
		MaxMemory:         16 << 20,
		MaxInstructions:   1_000,
		MaxExecutionMs:    1_000,
		MaxLoopIterations: 100_000,
	}
}

// TrustedLimits returns a relaxed preset for trusted callers.
func TrustedLimits() SecurityLimits {
	return SecurityLimits{
		MaxScriptSize:     10 << 20,
		MaxCodeSize:       10 << 20,
		MaxMemory:         1 << 30,
		MaxInstructions:   1_000_000,
		MaxExecutionMs:    60_000,
		MaxLoopIterations: 1_000_000_000,
	}
}

// CheckScriptSize returns a *Error if size exceeds the limit.
func (l SecurityLimits) CheckScriptSize(size int) error {
	if size > l.MaxScriptSize {
		return New(SecurityError, "script size %d bytes exceeds limit %d bytes", size, l.MaxScriptSize)
	}
	return nil
}

// CheckCodeSize returns a *Error if size exceeds the limit.
func (l SecurityLimits) CheckCodeSize(size int) error {
	if size > l.MaxCodeSize {
		return New(SecurityError, "code size %d bytes exceeds limit %d bytes", size, l.MaxCodeSize)
	}
	return nil
}

// CheckInstructionCount returns a *Error if count exceeds the limit.
func (l SecurityLimits) CheckInstructionCount(count int) error {
	if count > l.MaxInstructions {
		return New(SecurityError, "instruction count %d exceeds limit %d", count, l.MaxInstructions)
	}
	return nil
}
