// Package bandit picks which compiled variant to run for a given input
// size using a per-size-bucket Thompson-sampling multi-armed bandit, and
// persists what it has learned across process restarts (spec.md §4.H,
// original_source ai_optimizer.rs / thread_safe.rs).
package bandit

import (
	"math"
	"math/rand"
)

// SizeBucket classifies an input size into one of five regimes the
// bandit learns a separate policy for, mirroring original_source's
// observation that SIMD overhead, register pressure, and memory
// bandwidth dominate at different scales.
type SizeBucket uint8

const (
	Tiny SizeBucket = iota
	Small
	Medium
	Large
	Huge
)

// BucketFromSize classifies n the same way original_source's
// SizeBucket::from_size does.
func BucketFromSize(n uint64) SizeBucket {
	switch {
	case n < 32:
		return Tiny
	case n < 256:
		return Small
	case n < 4096:
		return Medium
	case n < 65536:
		return Large
	default:
		return Huge
	}
}

func (b SizeBucket) String() string {
	switch b {
	case Tiny:
		return "Tiny (<32)"
	case Small:
		return "Small (32-255)"
	case Medium:
		return "Medium (256-4K)"
	case Large:
		return "Large (4K-64K)"
	case Huge:
		return "Huge (>64K)"
	default:
		return "Unknown"
	}
}

// AllBuckets returns every bucket, used to initialize one VariantBandit
// per bucket up front.
func AllBuckets() []SizeBucket {
	return []SizeBucket{Tiny, Small, Medium, Large, Huge}
}

// VariantStats summarizes one arm's learned state for diagnostics.
type VariantStats struct {
	Name          string
	Selections    uint64
	ExpectedValue float64
	Confidence    float64
}

// VariantBandit is a Thompson-sampling multi-armed bandit over a fixed
// set of named variants, one per arm, modeled as independent Beta
// distributions (alpha = successes, beta = failures).
type VariantBandit struct {
	names      []string
	successes  []float64
	failures   []float64
	selections []uint64
}

// NewVariantBandit starts every arm at Beta(1,1), the uniform prior.
func NewVariantBandit(names []string) *VariantBandit {
	n := len(names)
	successes := make([]float64, n)
	failures := make([]float64, n)
	for i := range successes {
		successes[i] = 1.0
		failures[i] = 1.0
	}
	return &VariantBandit{
		names:      append([]string(nil), names...),
		successes:  successes,
		failures:   failures,
		selections: make([]uint64, n),
	}
}

// Select samples each arm's Beta distribution and returns the index of
// the arm with the highest sample, recording the selection.
func (b *VariantBandit) Select(rng *rand.Rand) int {
	best := 0
	bestSample := math.Inf(-1)
	for i := range b.successes {
		s := sampleBeta(rng, b.successes[i], b.failures[i])
		if s > bestSample {
			bestSample = s
			best = i
		}
	}
	b.selections[best]++
	return best
}

// Update applies a binary success/failure outcome to variantIdx.
func (b *VariantBandit) Update(variantIdx int, wasFastest bool) {
	if variantIdx < 0 || variantIdx >= len(b.names) {
		return
	}
	if wasFastest {
		b.successes[variantIdx] += 1.0
	} else {
		b.failures[variantIdx] += 1.0
	}
}

// UpdateWithPerformance applies a continuous reward in [0, 1] derived
// from how close variantIdx's cycle count came to the best cycle count
// observed for this workload, the same relative-reward formula as
// original_source's `update_with_performance`.
func (b *VariantBandit) UpdateWithPerformance(variantIdx int, cycles, bestCycles uint64) {
	if variantIdx < 0 || variantIdx >= len(b.names) {
		return
	}
	ratio := 0.0
	if cycles > 0 {
		ratio = float64(bestCycles) / float64(cycles)
	}
	if ratio > 1.0 {
		ratio = 1.0
	}
	b.successes[variantIdx] += ratio
	b.failures[variantIdx] += 1.0 - ratio
}

// GetBest returns the index of the arm with the highest expected value
// (mean of its Beta posterior), without sampling.
func (b *VariantBandit) GetBest() int {
	best := 0
	bestExpected := math.Inf(-1)
	for i := range b.successes {
		expected := b.successes[i] / (b.successes[i] + b.failures[i])
		if expected > bestExpected {
			bestExpected = expected
			best = i
		}
	}
	return best
}

// Stats returns per-arm diagnostics in variant order.
func (b *VariantBandit) Stats() []VariantStats {
	out := make([]VariantStats, len(b.names))
	for i, name := range b.names {
		out[i] = VariantStats{
			Name:          name,
			Selections:    b.selections[i],
			ExpectedValue: b.successes[i] / (b.successes[i] + b.failures[i]),
			Confidence:    b.successes[i] + b.failures[i],
		}
	}
	return out
}

// Snapshot returns copies of this bandit's raw Beta/selection state, for
// persistence.
func (b *VariantBandit) Snapshot() (successes, failures []float64, selections []uint64) {
	return append([]float64(nil), b.successes...),
		append([]float64(nil), b.failures...),
		append([]uint64(nil), b.selections...)
}

// RestoreVariantBandit rebuilds a VariantBandit from a prior Snapshot.
func RestoreVariantBandit(names []string, successes, failures []float64, selections []uint64) *VariantBandit {
	return &VariantBandit{
		names:      append([]string(nil), names...),
		successes:  append([]float64(nil), successes...),
		failures:   append([]float64(nil), failures...),
		selections: append([]uint64(nil), selections...),
	}
}

// sampleBeta draws from Beta(alpha, beta) via two Gamma draws, the
// standard Gamma-ratio construction original_source also uses.
func sampleBeta(rng *rand.Rand, alpha, beta float64) float64 {
	x := sampleGamma(rng, alpha)
	y := sampleGamma(rng, beta)
	return x / (x + y)
}

// sampleGamma draws from Gamma(shape, 1) using Marsaglia and Tsang's
// method, ported directly from original_source's `sample_gamma`.
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape < 1.0 {
		u := rng.Float64()
		return sampleGamma(rng, shape+1.0) * math.Pow(u, 1.0/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)

	for {
		x := sampleNormal(rng)
		v := 1.0 + c*x
		if v <= 0.0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()

		if u < 1.0-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v
		}
	}
}

// sampleNormal draws from a standard normal via Box-Muller.
func sampleNormal(rng *rand.Rand) float64 {
	u1 := rng.Float64()
	u2 := rng.Float64()
	return math.Sqrt(-2.0*math.Log(u1)) * math.Cos(2.0*math.Pi*u2)
}
