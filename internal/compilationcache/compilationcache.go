// Package compilationcache persists compiled variant machine code across
// process restarts, keyed by a hash of the program's IR and the
// variant configuration that produced it, so recompiling the same
// program's variant set on every startup isn't required once it has
// been compiled once.
package compilationcache

import (
	"crypto/sha256"
	"io"
)

// Cache is the interface a compiled-variant cache implements. Compiling
// every variant of a program is the expensive part of internal/variant's
// Generate; a Cache lets that work be skipped on a hit. Implementations
// must be goroutine-safe; internal/variant's Generate itself calls a
// Cache from a single goroutine, compiling variants one after another.
//
// See NewFileCache for the on-disk implementation.
type Cache interface {
	// Get returns the cached machine code for key, if present. content is
	// nil and ok is false on a miss; err is only set on an actual I/O
	// failure, not a miss. Callers must Close a non-nil content.
	Get(key Key) (content io.ReadCloser, ok bool, err error)
	// Add stores content under key, overwriting any existing entry.
	Add(key Key, content io.Reader) error
	// Delete removes key's entry, if any is cached in the first place.
	// Deleting an absent key is not an error.
	Delete(key Key) error
}

// Key is the 256-bit identifier assigned to one compiled variant: the
// sha256 of its program's IR and variant configuration (ISA, unroll
// factor, optimization level), computed by internal/variant.
type Key = [sha256.Size]byte
