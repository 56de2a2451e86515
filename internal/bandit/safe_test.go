package bandit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeBanditConcurrentSelectAndUpdate(t *testing.T) {
	s := NewSafeBandit([]string{"scalar", "avx2", "avx512"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				idx := s.Select(uint64(i * 1000))
				s.Update(uint64(i*1000), idx, 100, 80)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, s.GetDecisionBoundary(), len(AllBuckets()))
}

func TestSafeBanditSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/state.json"

	s := NewSafeBandit([]string{"a", "b"})
	s.Update(10, 0, 50, 100)
	require.NoError(t, s.Save(path))

	loaded, err := LoadOrNewSafe(path, []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, loaded.VariantNames())
}
