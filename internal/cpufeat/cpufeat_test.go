package cpufeat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectReturnsSSE2OnAmd64(t *testing.T) {
	f := Detect()
	require.True(t, f.HasSSE2, "SSE2 is mandatory on every amd64 CPU")
}

func TestSupportsAVX512RequiresAllThreeFlags(t *testing.T) {
	f := Features{HasAVX512F: true, HasAVX512VL: false, HasAVX512BW: true}
	require.False(t, f.SupportsAVX512())

	f.HasAVX512VL = true
	require.True(t, f.SupportsAVX512())
}

func TestSupportsAVX2MatchesFlag(t *testing.T) {
	require.True(t, Features{HasAVX2: true}.SupportsAVX2())
	require.False(t, Features{HasAVX2: false}.SupportsAVX2())
}

func TestSummaryListsOnlyDetectedFeatures(t *testing.T) {
	f := Features{HasSSE2: true, HasAVX2: true}
	s := f.Summary()
	require.Contains(t, s, "SSE2")
	require.Contains(t, s, "AVX2")
	require.NotContains(t, s, "AVX-512")
}
