package bandit

import (
	"math/rand"
	"time"
)

// OptimizationFeatures is the runtime context the bandit conditions its
// decision on. original_source carries loop trip count, alignment, CPU
// frequency, and memory pressure alongside input size for a future ML
// model; this build only buckets on input size (see BucketFromSize), so
// those fields are kept for parity with the feature vector but are not
// yet read by ContextualBandit.
type OptimizationFeatures struct {
	InputSize      uint64
	LoopTripCount  uint64
	Alignment      uint8
	CPUFreqMHz     uint32
	MemoryPressure float32
}

// NewOptimizationFeatures builds a feature vector from just an input
// size, defaulting the rest the way original_source's
// `OptimizationFeatures::new` does.
func NewOptimizationFeatures(inputSize uint64) OptimizationFeatures {
	return OptimizationFeatures{
		InputSize:     inputSize,
		LoopTripCount: inputSize,
		CPUFreqMHz:    4000,
	}
}

// Bucket classifies this context's input size.
func (f OptimizationFeatures) Bucket() SizeBucket {
	return BucketFromSize(f.InputSize)
}

// BucketDecision reports the bandit's current preferred variant for one
// size bucket, used to render the decision boundary for diagnostics.
type BucketDecision struct {
	Bucket        SizeBucket
	VariantName   string
	ExpectedValue float64
}

// ContextualBandit owns one VariantBandit per SizeBucket, so a variant
// that wins for tiny inputs doesn't have to compete against the same
// variant's record on huge inputs.
type ContextualBandit struct {
	variantNames []string
	arms         map[SizeBucket]*VariantBandit
	rng          *rand.Rand
}

// NewContextualBandit creates a fresh ContextualBandit over variantNames
// with uniform priors in every bucket.
func NewContextualBandit(variantNames []string) *ContextualBandit {
	arms := make(map[SizeBucket]*VariantBandit, len(AllBuckets()))
	for _, bucket := range AllBuckets() {
		arms[bucket] = NewVariantBandit(variantNames)
	}
	return &ContextualBandit{
		variantNames: append([]string(nil), variantNames...),
		arms:         arms,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *ContextualBandit) arm(features OptimizationFeatures) *VariantBandit {
	return c.arms[features.Bucket()]
}

// Select picks a variant index for features via Thompson sampling in
// its bucket's arm.
func (c *ContextualBandit) Select(features OptimizationFeatures) int {
	return c.arm(features).Select(c.rng)
}

// UpdateWithPerformance feeds a benchmark result back into the bucket's
// arm for variantIdx.
func (c *ContextualBandit) UpdateWithPerformance(features OptimizationFeatures, variantIdx int, cycles, bestCycles uint64) {
	c.arm(features).UpdateWithPerformance(variantIdx, cycles, bestCycles)
}

// GetBestForContext returns the bucket's current best-expected-value
// variant index without sampling.
func (c *ContextualBandit) GetBestForContext(features OptimizationFeatures) int {
	return c.arm(features).GetBest()
}

// GetDecisionBoundary reports, for every bucket, which variant the
// bandit currently favors and with what expected value.
func (c *ContextualBandit) GetDecisionBoundary() []BucketDecision {
	out := make([]BucketDecision, 0, len(AllBuckets()))
	for _, bucket := range AllBuckets() {
		arm := c.arms[bucket]
		best := arm.GetBest()
		stats := arm.Stats()
		out = append(out, BucketDecision{
			Bucket:        bucket,
			VariantName:   stats[best].Name,
			ExpectedValue: stats[best].ExpectedValue,
		})
	}
	return out
}

// VariantNames returns the fixed set of variant names this bandit was
// constructed with.
func (c *ContextualBandit) VariantNames() []string {
	return c.variantNames
}
