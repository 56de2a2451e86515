package bandit

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/nanoforge/nanoforge/internal/nferrors"
)

// armState is the on-disk representation of one variant's Beta
// parameters within one bucket, named exactly as spec.md's persisted
// state layout requires: `{"alpha": f64, "beta": f64, "selections": u64}`.
type armState struct {
	Alpha      float64 `json:"alpha"`
	Beta       float64 `json:"beta"`
	Selections uint64  `json:"selections"`
}

// persistedState is the full on-disk snapshot of a ContextualBandit:
// `{"buckets": {bucket-name: {arm-name: armState}}}`, bucket-name one of
// "Tiny"/"Small"/"Medium"/"Large"/"Huge" per spec.md's bandit-brain
// schema.
type persistedState struct {
	Buckets map[string]map[string]armState `json:"buckets"`
}

// SaveToFile writes the bandit's learned state to path, replacing any
// existing file atomically: the snapshot is written to a sibling temp
// file first and renamed into place, so a crash mid-write never leaves a
// half-written state file for LoadOrNew to trip over. There is no
// atomic-replace helper anywhere in the example corpus to ground this
// on, so it is built directly on os.Rename, the same package
// internal/compilationcache's file cache already uses for file I/O.
func (c *ContextualBandit) SaveToFile(path string) error {
	state := persistedState{Buckets: make(map[string]map[string]armState, len(c.arms))}

	for bucket, arm := range c.arms {
		successes, failures, selections := arm.Snapshot()
		arms := make(map[string]armState, len(c.variantNames))
		for i, name := range c.variantNames {
			arms[name] = armState{
				Alpha:      successes[i],
				Beta:       failures[i],
				Selections: selections[i],
			}
		}
		state.Buckets[bucketKey(bucket)] = arms
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nferrors.Wrap(nferrors.IoError, err, "bandit: marshaling state for %q", path)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".bandit-*.tmp")
	if err != nil {
		return nferrors.Wrap(nferrors.IoError, err, "bandit: creating temp file in %q", dir)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nferrors.Wrap(nferrors.IoError, err, "bandit: writing temp file %q", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		return nferrors.Wrap(nferrors.IoError, err, "bandit: closing temp file %q", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return nferrors.Wrap(nferrors.IoError, err, "bandit: renaming %q to %q", tmpPath, path)
	}
	return nil
}

// LoadOrNew reads a previously saved bandit state from path. If the file
// does not exist, it returns a fresh ContextualBandit over variantNames
// instead of an error, matching original_source's `load_or_new`.
func LoadOrNew(path string, variantNames []string) (*ContextualBandit, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewContextualBandit(variantNames), nil
	}
	if err != nil {
		return nil, nferrors.Wrap(nferrors.IoError, err, "bandit: reading %q", path)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, nferrors.Wrap(nferrors.IoError, err, "bandit: parsing %q", path)
	}

	c := NewContextualBandit(variantNames)
	for _, bucket := range AllBuckets() {
		saved, ok := state.Buckets[bucketKey(bucket)]
		if !ok {
			continue
		}
		successes := make([]float64, len(variantNames))
		failures := make([]float64, len(variantNames))
		selections := make([]uint64, len(variantNames))
		for i, name := range variantNames {
			if arm, ok := saved[name]; ok {
				successes[i] = arm.Alpha
				failures[i] = arm.Beta
				selections[i] = arm.Selections
			} else {
				successes[i], failures[i] = 1.0, 1.0
			}
		}
		c.arms[bucket] = RestoreVariantBandit(variantNames, successes, failures, selections)
	}
	return c, nil
}

func bucketKey(b SizeBucket) string {
	switch b {
	case Tiny:
		return "Tiny"
	case Small:
		return "Small"
	case Medium:
		return "Medium"
	case Large:
		return "Large"
	case Huge:
		return "Huge"
	default:
		return "Unknown"
	}
}
