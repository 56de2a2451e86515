package bandit

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBucketFromSizeBoundaries(t *testing.T) {
	require.Equal(t, Tiny, BucketFromSize(0))
	require.Equal(t, Tiny, BucketFromSize(31))
	require.Equal(t, Small, BucketFromSize(32))
	require.Equal(t, Small, BucketFromSize(255))
	require.Equal(t, Medium, BucketFromSize(256))
	require.Equal(t, Large, BucketFromSize(4096))
	require.Equal(t, Huge, BucketFromSize(65536))
}

func TestNewVariantBanditStartsAtUniformPrior(t *testing.T) {
	b := NewVariantBandit([]string{"scalar", "avx2"})
	for _, s := range b.Stats() {
		require.InDelta(t, 0.5, s.ExpectedValue, 1e-9)
		require.Equal(t, uint64(0), s.Selections)
	}
}

func TestUpdateWithPerformanceFavorsFasterVariant(t *testing.T) {
	b := NewVariantBandit([]string{"scalar", "avx2"})
	for i := 0; i < 200; i++ {
		b.UpdateWithPerformance(1, 100, 100) // avx2 always matches best
		b.UpdateWithPerformance(0, 400, 100) // scalar is 4x slower
	}
	require.Equal(t, 1, b.GetBest())
}

func TestSelectReturnsValidIndex(t *testing.T) {
	b := NewVariantBandit([]string{"a", "b", "c"})
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		idx := b.Select(rng)
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, 3)
	}
}

func TestUpdateIgnoresOutOfRangeIndex(t *testing.T) {
	b := NewVariantBandit([]string{"a"})
	require.NotPanics(t, func() {
		b.Update(5, true)
		b.UpdateWithPerformance(-1, 10, 10)
	})
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	b := NewVariantBandit([]string{"a", "b"})
	b.UpdateWithPerformance(0, 50, 100)
	successes, failures, selections := b.Snapshot()

	restored := RestoreVariantBandit([]string{"a", "b"}, successes, failures, selections)
	require.Equal(t, b.Stats(), restored.Stats())
}

func TestContextualBanditUsesPerBucketArms(t *testing.T) {
	c := NewContextualBandit([]string{"scalar", "avx2"})

	tiny := NewOptimizationFeatures(10)
	huge := NewOptimizationFeatures(1_000_000)

	for i := 0; i < 100; i++ {
		c.UpdateWithPerformance(tiny, 0, 50, 100)
		c.UpdateWithPerformance(huge, 1, 50, 100)
	}

	require.Equal(t, 0, c.GetBestForContext(tiny))
	require.Equal(t, 1, c.GetBestForContext(huge))
}

func TestGetDecisionBoundaryCoversAllBuckets(t *testing.T) {
	c := NewContextualBandit([]string{"scalar", "avx2"})
	boundary := c.GetDecisionBoundary()
	require.Len(t, boundary, len(AllBuckets()))
}
