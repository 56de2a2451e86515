// Package nanoforge compiles a small imperative language to x86-64
// machine code at runtime, maintains several variants of the same
// function across ISA extensions and unroll factors, benchmarks them in
// a cycle-accurate sandbox, and uses a per-input-size-bucket
// Thompson-sampling bandit to route calls to whichever variant has
// proven fastest for that shape of input.
//
// Engine is the entry point: it owns the variant set for one compiled
// program, the bandit that picks among them, and the HotFunction that
// callers actually invoke.
package nanoforge

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/nanoforge/nanoforge/internal/bandit"
	"github.com/nanoforge/nanoforge/internal/compilationcache"
	"github.com/nanoforge/nanoforge/internal/crashguard"
	"github.com/nanoforge/nanoforge/internal/hotfunc"
	"github.com/nanoforge/nanoforge/internal/lang"
	"github.com/nanoforge/nanoforge/internal/nferrors"
	"github.com/nanoforge/nanoforge/internal/sandbox"
	"github.com/nanoforge/nanoforge/internal/variant"
)

// Error, Kind and the error-kind constants are re-exported from
// internal/nferrors so callers outside this module never need to import
// an internal package to do an errors.As(err, *nanoforge.Error) check
// (spec.md §7).
type (
	Error = nferrors.Error
	Kind  = nferrors.Kind
)

const (
	ParseError     = nferrors.ParseError
	CompileError   = nferrors.CompileError
	MemoryError    = nferrors.MemoryError
	ExecutionError = nferrors.ExecutionError
	SecurityError  = nferrors.SecurityError
	IoError        = nferrors.IoError
	OptimizerError = nferrors.OptimizerError
)

// Sentinels for errors.Is checks on the hot paths spec.md §7 names.
var (
	ErrFuelExhausted  = nferrors.ErrFuelExhausted
	ErrSandboxTimeout = nferrors.ErrSandboxTimeout
	ErrFaultCaught    = nferrors.ErrFaultCaught
)

// SecurityLimits and its presets are re-exported the same way.
type SecurityLimits = nferrors.SecurityLimits

var (
	DefaultLimits = nferrors.DefaultLimits
	StrictLimits  = nferrors.StrictLimits
	TrustedLimits = nferrors.TrustedLimits
)

// Environment variable names EngineConfigFromEnvironment reads, per
// spec.md §6 "Environment controls".
const (
	envOptThresholdLow  = "NANOFORGE_OPT_THRESHOLD_LOW"
	envOptThresholdHigh = "NANOFORGE_OPT_THRESHOLD_HIGH"
	envBrainPath        = "NANOFORGE_BRAIN_PATH"
	envPinnedCore       = "NANOFORGE_PINNED_CORE"
)

// EngineConfig controls how an Engine compiles, benchmarks, and persists
// the learned routing decisions for one program. It is built with
// functional options following the RuntimeConfig clone-per-option
// pattern (wazero config.go): each With* method returns a new,
// independently mutable copy rather than mutating the receiver, so a
// base config can be shared as a starting point for several engines.
type EngineConfig struct {
	optThresholdLow  uint64
	optThresholdHigh uint64
	brainPath        string
	variantCacheDir  string
	pinnedCore       int
	hasPinnedCore    bool
	limits           SecurityLimits
	log              *slog.Logger
}

// NewEngineConfig returns the balanced default configuration: default
// security limits, no bandit-brain persistence, no core pinning.
func NewEngineConfig() *EngineConfig {
	return &EngineConfig{
		optThresholdLow:  1_000,
		optThresholdHigh: 100_000,
		limits:           DefaultLimits(),
		log:              slog.Default(),
	}
}

func (c *EngineConfig) clone() *EngineConfig {
	cp := *c
	return &cp
}

// WithOptThresholds records the background optimizer's low and high
// call-count trigger thresholds (spec.md §6). Engine stores them but
// counts no calls and does not read them, so setting them triggers no
// promotion or variant sweep on its own.
func (c *EngineConfig) WithOptThresholds(low, high uint64) *EngineConfig {
	ret := c.clone()
	ret.optThresholdLow = low
	ret.optThresholdHigh = high
	return ret
}

// WithBrainPath sets the filesystem path the bandit's learned state is
// loaded from at startup and saved to, atomically, on Close.
func (c *EngineConfig) WithBrainPath(path string) *EngineConfig {
	ret := c.clone()
	ret.brainPath = path
	return ret
}

// WithPinnedCore pins the sandbox's benchmarking thread to a single CPU
// core, so variant measurements aren't skewed by scheduler migration.
func (c *EngineConfig) WithPinnedCore(coreID int) *EngineConfig {
	ret := c.clone()
	ret.pinnedCore = coreID
	ret.hasPinnedCore = true
	return ret
}

// WithVariantCacheDir enables a file-backed cache of compiled variant
// machine code under dir, keyed by a hash of the program and variant
// configuration, so a second Compile of the same program skips
// recompiling variants it already has on disk.
func (c *EngineConfig) WithVariantCacheDir(dir string) *EngineConfig {
	ret := c.clone()
	ret.variantCacheDir = dir
	return ret
}

// WithSecurityLimits overrides the default SecurityLimits preset.
func (c *EngineConfig) WithSecurityLimits(limits SecurityLimits) *EngineConfig {
	ret := c.clone()
	ret.limits = limits
	return ret
}

// WithLogger overrides the structured logger used for variant-compile
// failures and bandit-brain fallback (spec.md §4.G, §7). CrashGuard does
// not log through it.
func (c *EngineConfig) WithLogger(log *slog.Logger) *EngineConfig {
	ret := c.clone()
	ret.log = log
	return ret
}

// EngineConfigFromEnvironment builds an EngineConfig from the host
// shell's environment, following internal/features's
// EnableFromEnvironment idiom: read once, degrade silently (log and
// fall back to the default) on a malformed value rather than failing
// construction outright, since a bad env var should never be the
// reason a service refuses to start.
func EngineConfigFromEnvironment() *EngineConfig {
	c := NewEngineConfig()

	if v := os.Getenv(envOptThresholdLow); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.optThresholdLow = n
		} else {
			c.log.Warn("ignoring malformed env var", "var", envOptThresholdLow, "value", v)
		}
	}
	if v := os.Getenv(envOptThresholdHigh); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.optThresholdHigh = n
		} else {
			c.log.Warn("ignoring malformed env var", "var", envOptThresholdHigh, "value", v)
		}
	}
	if v := os.Getenv(envBrainPath); v != "" {
		c.brainPath = v
	}
	if v := os.Getenv(envPinnedCore); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.pinnedCore = n
			c.hasPinnedCore = true
		} else {
			c.log.Warn("ignoring malformed env var", "var", envPinnedCore, "value", v)
		}
	}

	return c
}

// warmupIterations and measureIterations bound the sandbox's benchmark
// pass over each candidate variant during Compile; these are deliberately
// modest so compiling a program stays interactive even with a dozen
// variants in the search space.
const (
	warmupIterations  = 1_000
	measureIterations = 10_000
)

// Engine owns one compiled program's variant set, the bandit that routes
// calls to it, and the HotFunction callers invoke. It is the composition
// root wiring internal/variant, internal/sandbox, internal/bandit, and
// internal/hotfunc together per spec.md §§4–5.
type Engine struct {
	config   *EngineConfig
	variants []*variant.Compiled
	bandit   *bandit.SafeBandit
	hot      *hotfunc.HotFunction
	log      *slog.Logger
}

// Compile parses source, generates every viable variant for the running
// CPU, benchmarks each one once against a representative input, and
// returns a ready-to-call Engine. benchmarkInput seeds the initial
// variant ranking; it need not match the inputs Call later receives, it
// only needs to exercise the compiled code path so the sandbox can time it.
func Compile(source string, config *EngineConfig, benchmarkInput uint64) (*Engine, error) {
	if config == nil {
		config = NewEngineConfig()
	}

	if err := config.limits.CheckScriptSize(len(source)); err != nil {
		return nil, err
	}

	prog, err := lang.Parse(source)
	if err != nil {
		return nil, nferrors.Wrap(nferrors.ParseError, err, "nanoforge: parsing program")
	}

	if config.hasPinnedCore {
		if err := sandbox.PinThreadToCore(config.pinnedCore); err != nil {
			config.log.Warn("failed to pin benchmarking thread, continuing unpinned", "core", config.pinnedCore, "error", err)
		}
	}

	gen := variant.New(config.log)
	if config.variantCacheDir != "" {
		cacheCtx := context.WithValue(context.Background(), compilationcache.FileCachePathKey{}, config.variantCacheDir)
		if cache := compilationcache.NewFileCache(cacheCtx); cache != nil {
			gen.UseCache(cache)
		}
	}
	variants, err := gen.Generate(prog)
	if err != nil {
		return nil, nferrors.Wrap(nferrors.CompileError, err, "nanoforge: generating variants")
	}

	names := make([]string, len(variants))
	for i, v := range variants {
		names[i] = v.Config.Name
	}

	var brain *bandit.SafeBandit
	if config.brainPath != "" {
		brain, err = bandit.LoadOrNewSafe(config.brainPath, names)
		if err != nil {
			config.log.Warn("failed to load bandit brain, starting fresh", "path", config.brainPath, "error", err)
			brain = bandit.NewSafeBandit(names)
		}
	} else {
		brain = bandit.NewSafeBandit(names)
	}

	for i, v := range variants {
		result := sandbox.BenchmarkEntry(v.Memory.EntryAddr(v.EntryOffset), benchmarkInput, warmupIterations, measureIterations)
		best := bestCyclesAmong(variants, benchmarkInput)
		brain.Update(benchmarkInput, i, uint64(result.AvgCycles), best)
	}

	best := brain.GetBestForSize(benchmarkInput)
	hf := hotfunc.New(variants[best].Memory, variants[best].EntryOffset)

	return &Engine{
		config:   config,
		variants: variants,
		bandit:   brain,
		hot:      hf,
		log:      config.log,
	}, nil
}

// bestCyclesAmong benchmarks every variant against input and returns the
// lowest average-cycle count seen, the "best" reference UpdateWithPerformance
// needs to compute each variant's relative reward. Variants are cheap to
// call (they're already JIT-compiled and mapped), so re-benchmarking here
// trades a little startup time for not having to cache per-input timings.
func bestCyclesAmong(variants []*variant.Compiled, input uint64) uint64 {
	var best uint64
	for i, v := range variants {
		result := sandbox.BenchmarkEntry(v.Memory.EntryAddr(v.EntryOffset), input, 0, measureIterations)
		cycles := uint64(result.AvgCycles)
		if i == 0 || cycles < best {
			best = cycles
		}
	}
	return best
}

// Call invokes the Engine's current HotFunction with arg. Routing
// decisions are made by Rebenchmark, not by Call itself, so repeated
// calls here stay as cheap as a direct JIT call.
func (e *Engine) Call(arg uint64) uint64 {
	return e.hot.Call(arg)
}

// Rebenchmark re-measures every variant against a fresh representative
// input, updates the bandit, and hot-swaps the HotFunction to whichever
// variant now wins for that input's bucket. This is the operation a
// caller's background optimizer loop invokes once a function's call
// count crosses the configured thresholds (spec.md §6).
func (e *Engine) Rebenchmark(input uint64) {
	best := bestCyclesAmong(e.variants, input)
	for i, v := range e.variants {
		result := sandbox.BenchmarkEntry(v.Memory.EntryAddr(v.EntryOffset), input, warmupIterations, measureIterations)
		e.bandit.Update(input, i, uint64(result.AvgCycles), best)
	}

	winner := e.bandit.GetBestForSize(input)
	e.hot.Update(e.variants[winner].Memory, e.variants[winner].EntryOffset)
}

// ISAExtension identifies which instruction-set extension a sandboxed
// run should compile against, re-exported from internal/variant so
// RunSandboxed's callers don't need to import an internal package.
type ISAExtension = variant.ISAExtension

// The three ISAExtension values RunSandboxed accepts.
const (
	Scalar = variant.Scalar
	AVX2   = variant.AVX2
	AVX512 = variant.AVX512
)

// RunSandboxed executes source's "main" with arg under CrashGuard's
// process-isolated worker instead of in this process. Any error from
// CrashGuard's RunSandboxed (a worker fault or timeout among them) comes
// back as an ExecutionError wrapping it; since Error.Is matches by
// Kind, errors.Is reports both ErrFaultCaught and ErrSandboxTimeout for
// every such failure and does not tell them apart. This is the entry point an
// untrusted or not-yet-proven script should go through instead of Compile.
func (e *Engine) RunSandboxed(ctx context.Context, source string, isa ISAExtension, optLevel uint8, fuel, arg uint64, timeout time.Duration) (uint64, error) {
	job := crashguard.Job{
		Source:   source,
		ISA:      isa.CompilerISA(),
		OptLevel: optLevel,
		Fuel:     fuel,
		Input:    arg,
	}

	result, err := crashguard.RunSandboxed(ctx, job, timeout)
	if err != nil {
		return 0, nferrors.Wrap(nferrors.ExecutionError, err, "nanoforge: sandboxed execution failed")
	}
	return result.Output, nil
}

// Stats reports the bandit's current decision boundary: for every input
// size bucket, which variant it currently favors and with what expected
// value (spec.md §4.I supplemented feature, original_source
// get_decision_boundary).
func (e *Engine) Stats() []bandit.BucketDecision {
	return e.bandit.GetDecisionBoundary()
}

// Close saves the bandit's learned state (if a brain path was
// configured) and releases every compiled variant's executable memory.
func (e *Engine) Close() error {
	var firstErr error
	if e.config.brainPath != "" {
		if err := e.bandit.Save(e.config.brainPath); err != nil {
			firstErr = nferrors.Wrap(nferrors.IoError, err, "nanoforge: saving bandit brain to %q", e.config.brainPath)
		}
	}
	for _, v := range e.variants {
		if err := v.Close(); err != nil && firstErr == nil {
			firstErr = nferrors.Wrap(nferrors.MemoryError, err, "nanoforge: releasing variant %q", v.Config.Name)
		}
	}
	return firstErr
}

