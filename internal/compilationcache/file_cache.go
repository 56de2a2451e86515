package compilationcache

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
)

// FileCachePathKey is a context.Context value key whose value is the
// directory a FileCache persists entries under.
type FileCachePathKey struct{}

// NewFileCache returns a file-backed Cache rooted at the directory
// stored under FileCachePathKey in ctx, or nil if ctx carries no such
// value (meaning the caller asked for no cache at all).
func NewFileCache(ctx context.Context) Cache {
	if dir := ctx.Value(FileCachePathKey{}); dir != nil {
		return newFileCache(dir.(string))
	}
	return nil
}

func newFileCache(dir string) *fileCache {
	return &fileCache{dirPath: dir}
}

// fileCache persists compiled variant machine code as one file per Key
// under dirPath, named by the key's hex encoding. A Key is a content
// hash of the program and variant configuration that produced it, so
// two Adds of the same key always write identical bytes: Get, Add and
// Delete take no lock; only the one-time directory creation in
// requireDir is serialized.
type fileCache struct {
	dirPath string
	dirOk   bool
	mkdirMu sync.Mutex
}

func (fc *fileCache) path(key Key) string {
	return path.Join(fc.dirPath, hex.EncodeToString(key[:]))
}

func (fc *fileCache) Get(key Key) (content io.ReadCloser, ok bool, err error) {
	f, err := os.Open(fc.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

func (fc *fileCache) Add(key Key, content io.Reader) error {
	if err := fc.requireDir(); err != nil {
		return err
	}

	file, err := os.Create(fc.path(key))
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(file, content)
	return err
}

func (fc *fileCache) Delete(key Key) error {
	err := os.Remove(fc.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// requireDir ensures dirPath exists. Guarded by its own mutex rather
// than one shared with Add/Delete, since the one thing that must never
// interleave is two goroutines racing to create the same directory.
func (fc *fileCache) requireDir() error {
	fc.mkdirMu.Lock()
	defer fc.mkdirMu.Unlock()

	if fc.dirOk {
		return nil
	}
	if s, err := os.Stat(fc.dirPath); errors.Is(err, os.ErrNotExist) {
		if err := os.Mkdir(fc.dirPath, 0o700); err != nil {
			return fmt.Errorf("fileCache: couldn't create dir %s: %w", fc.dirPath, err)
		}
	} else if err != nil {
		return fmt.Errorf("fileCache: couldn't open dir %s: %w", fc.dirPath, err)
	} else if !s.IsDir() {
		return fmt.Errorf("fileCache: expected dir at %s", fc.dirPath)
	}
	fc.dirOk = true
	return nil
}
