// Package variant generates and compiles multiple machine-code variants
// of the same program across ISA extensions, unroll factors, and
// optimization levels, so the bandit can later pick the fastest one for
// the workload actually seen at runtime (spec.md §4.G).
package variant

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/nanoforge/nanoforge/internal/compilationcache"
	"github.com/nanoforge/nanoforge/internal/compiler"
	"github.com/nanoforge/nanoforge/internal/cpufeat"
	"github.com/nanoforge/nanoforge/internal/execmem"
	"github.com/nanoforge/nanoforge/internal/ir"
	"github.com/nanoforge/nanoforge/internal/nativecall"
)

// ISAExtension identifies which instruction-set extension a variant was
// compiled against. Unlike original_source's IsaExtension, there is no
// Amx value: internal/cpufeat never reports AMX support (see its doc
// comment), so no variant is ever generated for it.
type ISAExtension uint8

const (
	Scalar ISAExtension = iota
	AVX2
	AVX512
)

func (e ISAExtension) String() string {
	switch e {
	case Scalar:
		return "Scalar"
	case AVX2:
		return "AVX2"
	case AVX512:
		return "AVX-512"
	default:
		return "Unknown"
	}
}

func (e ISAExtension) compilerISA() compiler.ISA {
	return e.CompilerISA()
}

// CompilerISA maps this ISAExtension to the internal/compiler.ISA value
// that produces it, for callers outside this package (e.g. crashguard
// job construction) that need to name an ISA without duplicating this
// mapping.
func (e ISAExtension) CompilerISA() compiler.ISA {
	switch e {
	case AVX2:
		return compiler.ISAAVX2
	case AVX512:
		return compiler.ISAAVX512
	default:
		return compiler.ISAScalar
	}
}

// Config describes one point in the variant search space: an ISA
// extension, an unroll factor, and the optimization level passed to both
// the optimizer and the compiler. The unroll factor names the variant and
// is part of its cache key; the optimizer's loop unroller does not read
// it.
type Config struct {
	ISA               ISAExtension
	UnrollFactor      uint8
	OptimizationLevel uint8
	Name              string
}

func newConfig(isa ISAExtension, unroll, optLevel uint8) Config {
	return Config{
		ISA:               isa,
		UnrollFactor:      unroll,
		OptimizationLevel: optLevel,
		Name:              fmt.Sprintf("%sx%d", isa, unroll),
	}
}

// Compiled is a single compiled-and-mapped variant, ready to execute.
type Compiled struct {
	Config      Config
	Memory      *execmem.Memory
	CodeSize    int
	EntryOffset int
	entry       uintptr
}

// Execute calls the compiled variant with a single 64-bit argument and
// returns its 64-bit result, via internal/nativecall.
func (c *Compiled) Execute(input uint64) uint64 {
	return nativecall.Invoke(c.entry, input)
}

// Close releases the executable memory backing this variant.
func (c *Compiled) Close() error {
	return c.Memory.Close()
}

// Generator produces and compiles variants for a program, gated on the
// CPU features actually available at runtime.
type Generator struct {
	features cpufeat.Features
	log      *slog.Logger
	cache    compilationcache.Cache
}

// New builds a Generator using the running CPU's detected features.
func New(log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{features: cpufeat.Detect(), log: log}
}

// UseCache attaches a compiled-variant cache: Generate will skip
// recompiling a variant whose (program, Config) pair already has an
// entry in cache, and will populate cache after compiling a miss.
func (g *Generator) UseCache(cache compilationcache.Cache) {
	g.cache = cache
}

// WithFeatures builds a Generator against an explicit feature set,
// primarily for tests that need to exercise AVX2/AVX-512 gating without
// depending on the host CPU.
func WithFeatures(features cpufeat.Features, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{features: features, log: log}
}

// Features reports the CPU features this generator was built against.
func (g *Generator) Features() cpufeat.Features { return g.features }

// Configs returns every variant configuration viable on the detected
// CPU. The scalar baseline and the 2x/4x/8x/16x unroll stress points
// always appear; AVX2 and AVX-512 families are appended only when the
// corresponding feature flag is set.
func (g *Generator) Configs() []Config {
	configs := []Config{
		newConfig(Scalar, 1, 1),
		newConfig(Scalar, 2, 2),
		newConfig(Scalar, 4, 2),
		newConfig(Scalar, 8, 2),
		newConfig(Scalar, 16, 2),
	}

	if g.features.SupportsAVX2() {
		configs = append(configs,
			newConfig(AVX2, 2, 3),
			newConfig(AVX2, 4, 3),
			newConfig(AVX2, 8, 3),
		)
	}

	if g.features.SupportsAVX512() {
		configs = append(configs,
			newConfig(AVX512, 4, 3),
			newConfig(AVX512, 8, 3),
			newConfig(AVX512, 16, 3),
		)
	}

	return configs
}

// Generate compiles every viable variant of program. Variants that fail
// to compile are logged and skipped rather than aborting the whole
// batch, mirroring original_source's "log but continue" behavior.
// Generate returns an error only when not a single variant compiled.
func (g *Generator) Generate(program *ir.Program) ([]*Compiled, error) {
	configs := g.Configs()
	variants := make([]*Compiled, 0, len(configs))

	for _, cfg := range configs {
		v, err := g.compileVariant(program, cfg)
		if err != nil {
			g.log.Warn("failed to compile variant", "variant", cfg.Name, "error", err)
			continue
		}
		variants = append(variants, v)
	}

	if len(variants) == 0 {
		return nil, fmt.Errorf("variant: failed to compile any variants")
	}
	return variants, nil
}

// effectiveOptLevel caps the optimizer's fixed-point pipeline at opt level 2
// for scalar variants, matching original_source's
// `config.optimization_level.min(2)`; AVX2/AVX-512 always force level 3
// so the vectorizer pass runs.
func effectiveOptLevel(cfg Config) uint8 {
	switch cfg.ISA {
	case AVX2, AVX512:
		return 3
	default:
		if cfg.OptimizationLevel > 2 {
			return 2
		}
		return cfg.OptimizationLevel
	}
}

func (g *Generator) compileVariant(program *ir.Program, cfg Config) (*Compiled, error) {
	// CompileProgram clones and optimizes internally; compileVariant only
	// needs to pick the effective opt level per ISA before handing off.
	optLevel := effectiveOptLevel(cfg)

	code, entryOffset, err := g.compiledCodeFor(program, cfg, optLevel)
	if err != nil {
		return nil, err
	}

	size := len(code)
	mem, err := execmem.New(max(size, 4096))
	if err != nil {
		return nil, err
	}
	if err := mem.Write(0, code); err != nil {
		mem.Close()
		return nil, err
	}
	mem.Publish()

	return &Compiled{
		Config:      cfg,
		Memory:      mem,
		CodeSize:    size,
		EntryOffset: entryOffset,
		entry:       mem.EntryAddr(entryOffset),
	}, nil
}

// compiledCodeFor returns cfg's compiled machine code and entry offset,
// serving it from g.cache on a hit and populating the cache after a
// compile on a miss. With no cache attached, it always compiles.
func (g *Generator) compiledCodeFor(program *ir.Program, cfg Config, optLevel uint8) ([]byte, int, error) {
	var key compilationcache.Key
	if g.cache != nil {
		key = cacheKey(program, cfg)
		if content, ok, err := g.cache.Get(key); err == nil && ok {
			data, readErr := io.ReadAll(content)
			content.Close()
			if readErr == nil {
				if entryOffset, code, ok := decodeCacheEntry(data); ok {
					return code, entryOffset, nil
				}
			}
		}
	}

	res, err := compiler.CompileProgram(program, optLevel, cfg.ISA.compilerISA(), compiler.DefaultFuel)
	if err != nil {
		return nil, 0, err
	}

	if g.cache != nil {
		if err := g.cache.Add(key, bytes.NewReader(encodeCacheEntry(res.EntryOffset, res.Code))); err != nil {
			g.log.Warn("failed to populate variant cache", "variant", cfg.Name, "error", err)
		}
	}

	return res.Code, res.EntryOffset, nil
}

// cacheKey hashes program's structure together with cfg so identical
// source compiled under different variant configurations never collide,
// and so a changed program never serves another program's stale code.
// internal/ir.Program has no canonical serializer of its own; %#v's
// Go-syntax dump of each Function value (name, params, instructions) is
// deterministic for a fixed field order and cheap enough for this, since
// it only runs once per variant per process.
func cacheKey(program *ir.Program, cfg Config) compilationcache.Key {
	h := sha256.New()
	for _, fn := range program.Functions {
		fmt.Fprintf(h, "%#v|", *fn)
	}
	fmt.Fprintf(h, "%s|%d|%d", cfg.ISA, cfg.UnrollFactor, cfg.OptimizationLevel)
	var key compilationcache.Key
	copy(key[:], h.Sum(nil))
	return key
}

// encodeCacheEntry packs entryOffset as a fixed-width little-endian
// prefix ahead of the raw code bytes.
func encodeCacheEntry(entryOffset int, code []byte) []byte {
	buf := make([]byte, 8+len(code))
	binary.LittleEndian.PutUint64(buf, uint64(entryOffset))
	copy(buf[8:], code)
	return buf
}

func decodeCacheEntry(data []byte) (entryOffset int, code []byte, ok bool) {
	if len(data) < 8 {
		return 0, nil, false
	}
	return int(binary.LittleEndian.Uint64(data[:8])), data[8:], true
}
