// Package iforest implements isolation-forest anomaly scoring: training over
// feature matrices, persisted model bundles, and a scorer safe for concurrent
// use with atomic bundle replacement.
//
// The decision-function convention follows the usual estimator contract:
// positive raw scores mean inlier, negative mean outlier. The scorer's
// sigmoid normalization inverts that so its [0,1] output reads as "higher is
// more anomalous".
package iforest

import (
	"fmt"
	"math"
	"math/rand"
)

// maxSampleSize caps the per-tree subsample, matching the conventional
// "auto" setting. Beyond a few hundred samples isolation depth saturates.
const maxSampleSize = 256

// node is one tree node in flattened form. Feature == -1 marks a leaf.
type node struct {
	Feature int     `json:"f"`
	Split   float64 `json:"s,omitempty"`
	Left    int32   `json:"l,omitempty"`
	Right   int32   `json:"r,omitempty"`
	Size    int     `json:"n,omitempty"`
}

// tree is a single isolation tree as a flat node array rooted at index 0.
type tree struct {
	Nodes []node `json:"nodes"`
}

// Forest is a trained isolation forest.
type Forest struct {
	Trees       []tree `json:"trees"`
	SampleSize  int    `json:"sample_size"`
	NumFeatures int    `json:"num_features"`
}

// Train fits an isolation forest with numTrees trees over the matrix using a
// seeded RNG, so the same inputs always produce the same forest.
func Train(matrix [][]float64, numTrees int, seed int64) (*Forest, error) {
	if len(matrix) == 0 {
		return nil, fmt.Errorf("empty training matrix")
	}
	if numTrees <= 0 {
		return nil, fmt.Errorf("invalid tree count %d", numTrees)
	}
	numFeatures := len(matrix[0])
	if numFeatures == 0 {
		return nil, fmt.Errorf("training matrix has no features")
	}
	for i, row := range matrix {
		if len(row) != numFeatures {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), numFeatures)
		}
	}

	sampleSize := len(matrix)
	if sampleSize > maxSampleSize {
		sampleSize = maxSampleSize
	}
	heightLimit := int(math.Ceil(math.Log2(float64(sampleSize))))
	if heightLimit < 1 {
		heightLimit = 1
	}

	rng := rand.New(rand.NewSource(seed))
	f := &Forest{
		Trees:       make([]tree, numTrees),
		SampleSize:  sampleSize,
		NumFeatures: numFeatures,
	}
	for i := 0; i < numTrees; i++ {
		sample := subsample(matrix, sampleSize, rng)
		f.Trees[i] = buildTree(sample, heightLimit, rng)
	}
	return f, nil
}

// subsample draws sampleSize rows without replacement.
func subsample(matrix [][]float64, sampleSize int, rng *rand.Rand) [][]float64 {
	if sampleSize >= len(matrix) {
		return matrix
	}
	idx := rng.Perm(len(matrix))[:sampleSize]
	out := make([][]float64, sampleSize)
	for i, j := range idx {
		out[i] = matrix[j]
	}
	return out
}

// buildTree grows one isolation tree over the subsample.
func buildTree(sample [][]float64, heightLimit int, rng *rand.Rand) tree {
	t := tree{}
	t.grow(sample, 0, heightLimit, rng)
	return t
}

// grow appends the subtree for rows at the given depth and returns its index.
func (t *tree) grow(rows [][]float64, depth, heightLimit int, rng *rand.Rand) int32 {
	idx := int32(len(t.Nodes))
	if depth >= heightLimit || len(rows) <= 1 {
		t.Nodes = append(t.Nodes, node{Feature: -1, Size: len(rows)})
		return idx
	}

	// Pick a random feature that still has spread; a fully-degenerate
	// partition terminates as a leaf.
	feature, lo, hi, ok := pickSplitFeature(rows, rng)
	if !ok {
		t.Nodes = append(t.Nodes, node{Feature: -1, Size: len(rows)})
		return idx
	}
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, row := range rows {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		t.Nodes = append(t.Nodes, node{Feature: -1, Size: len(rows)})
		return idx
	}

	t.Nodes = append(t.Nodes, node{Feature: feature, Split: split})
	l := t.grow(left, depth+1, heightLimit, rng)
	r := t.grow(right, depth+1, heightLimit, rng)
	t.Nodes[idx].Left = l
	t.Nodes[idx].Right = r
	return idx
}

// pickSplitFeature chooses a random feature whose values are not all equal.
func pickSplitFeature(rows [][]float64, rng *rand.Rand) (feature int, lo, hi float64, ok bool) {
	numFeatures := len(rows[0])
	for _, f := range rng.Perm(numFeatures) {
		lo, hi = rows[0][f], rows[0][f]
		for _, row := range rows {
			if row[f] < lo {
				lo = row[f]
			}
			if row[f] > hi {
				hi = row[f]
			}
		}
		if hi > lo {
			return f, lo, hi, true
		}
	}
	return 0, 0, 0, false
}

// eulerGamma is the Euler–Mascheroni constant used by the average path
// length estimate.
const eulerGamma = 0.5772156649

// avgPathLength is c(n), the average path length of an unsuccessful BST
// search over n samples. It normalizes isolation depth across tree sizes.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

// pathLength is the isolation depth of x in one tree, with the leaf's
// residual estimate added.
func (t *tree) pathLength(x []float64) float64 {
	depth := 0.0
	i := int32(0)
	for {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return depth + avgPathLength(n.Size)
		}
		if x[n.Feature] < n.Split {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

// AnomalyScore returns s(x) in (0,1]; values near 1 isolate quickly and are
// anomalous, values near 0.5 and below are ordinary.
func (f *Forest) AnomalyScore(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	sum := 0.0
	for i := range f.Trees {
		sum += f.Trees[i].pathLength(x)
	}
	mean := sum / float64(len(f.Trees))
	return math.Pow(2, -mean/avgPathLength(f.SampleSize))
}

// DecisionFunction returns the raw score with the estimator sign convention:
// positive for inliers, negative for outliers.
func (f *Forest) DecisionFunction(x []float64) float64 {
	return 0.5 - f.AnomalyScore(x)
}

// DecisionFunctionBatch scores every row of the matrix.
func (f *Forest) DecisionFunctionBatch(matrix [][]float64) []float64 {
	out := make([]float64, len(matrix))
	for i, row := range matrix {
		out[i] = f.DecisionFunction(row)
	}
	return out
}
