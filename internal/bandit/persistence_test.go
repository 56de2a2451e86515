package bandit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrNewReturnsFreshBanditWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	c, err := LoadOrNew(filepath.Join(dir, "missing.json"), []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, c.VariantNames())
}

func TestSaveThenLoadRoundTripsLearnedState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bandit.json")

	c := NewContextualBandit([]string{"scalar", "avx2"})
	tiny := NewOptimizationFeatures(5)
	for i := 0; i < 50; i++ {
		c.UpdateWithPerformance(tiny, 1, 50, 100)
	}
	require.NoError(t, c.SaveToFile(path))

	loaded, err := LoadOrNew(path, []string{"scalar", "avx2"})
	require.NoError(t, err)
	require.Equal(t, c.GetBestForContext(tiny), loaded.GetBestForContext(tiny))
}

func TestSaveToFileMatchesPersistedStateSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bandit.json")

	c := NewContextualBandit([]string{"scalar", "avx2"})
	require.NoError(t, c.SaveToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]map[string]map[string]map[string]float64
	require.NoError(t, json.Unmarshal(data, &raw))

	buckets := raw["buckets"]
	require.Len(t, buckets, len(AllBuckets()))
	for _, name := range []string{"Tiny", "Small", "Medium", "Large", "Huge"} {
		arms, ok := buckets[name]
		require.True(t, ok, "missing bucket %q", name)
		require.Contains(t, arms, "scalar")
		require.Contains(t, arms["scalar"], "alpha")
		require.Contains(t, arms["scalar"], "beta")
		require.Contains(t, arms["scalar"], "selections")
	}
}

func TestSaveToFileLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bandit.json")

	c := NewContextualBandit([]string{"a"})
	require.NoError(t, c.SaveToFile(path))

	entries, err := filepath.Glob(filepath.Join(dir, "*"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
