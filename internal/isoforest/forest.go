// Package isoforest implements a deterministic isolation forest for
// multivariate outlier scoring. Points that isolate in few random splits
// score close to 1; points deep inside the mass score near 0.
package isoforest

import (
	"math"
	"math/rand"
)

const eulerMascheroni = 0.5772156649015329

// Forest is a fitted ensemble of isolation trees.
type Forest struct {
	trees     []*node
	subsample int
}

type node struct {
	left, right *node
	feature     int
	split       float64
	size        int // leaf only: points that landed here during fitting
}

// Fit builds numTrees isolation trees over random subsamples of the data.
// The seed fixes the subsampling and split choices so repeated runs over the
// same data produce identical scores.
func Fit(data [][]float64, numTrees, subsample int, seed int64) *Forest {
	if len(data) == 0 || numTrees <= 0 {
		return &Forest{}
	}
	if subsample > len(data) {
		subsample = len(data)
	}
	rng := rand.New(rand.NewSource(seed))

	f := &Forest{subsample: subsample}
	maxDepth := int(math.Ceil(math.Log2(float64(subsample)))) + 1
	for t := 0; t < numTrees; t++ {
		sample := make([][]float64, subsample)
		for i, idx := range rng.Perm(len(data))[:subsample] {
			sample[i] = data[idx]
		}
		f.trees = append(f.trees, build(sample, 0, maxDepth, rng))
	}
	return f
}

func build(points [][]float64, depth, maxDepth int, rng *rand.Rand) *node {
	if len(points) <= 1 || depth >= maxDepth {
		return &node{size: len(points)}
	}

	features := len(points[0])
	// Try a few features before conceding the points are indistinguishable.
	for attempt := 0; attempt < features; attempt++ {
		feature := rng.Intn(features)
		lo, hi := points[0][feature], points[0][feature]
		for _, p := range points[1:] {
			if p[feature] < lo {
				lo = p[feature]
			}
			if p[feature] > hi {
				hi = p[feature]
			}
		}
		if lo == hi {
			continue
		}
		split := lo + rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, p := range points {
			if p[feature] < split {
				left = append(left, p)
			} else {
				right = append(right, p)
			}
		}
		return &node{
			feature: feature,
			split:   split,
			left:    build(left, depth+1, maxDepth, rng),
			right:   build(right, depth+1, maxDepth, rng),
		}
	}
	return &node{size: len(points)}
}

// Scores returns the anomaly score in [0,1] for each point.
func (f *Forest) Scores(data [][]float64) []float64 {
	scores := make([]float64, len(data))
	if len(f.trees) == 0 {
		return scores
	}
	norm := avgPathLength(f.subsample)
	for i, p := range data {
		var sum float64
		for _, tree := range f.trees {
			sum += pathLength(tree, p, 0)
		}
		mean := sum / float64(len(f.trees))
		scores[i] = math.Pow(2, -mean/norm)
	}
	return scores
}

func pathLength(n *node, p []float64, depth float64) float64 {
	if n.left == nil {
		// Unresolved leaves get credited the expected depth of a random
		// tree over the remaining points.
		return depth + avgPathLength(n.size)
	}
	if p[n.feature] < n.split {
		return pathLength(n.left, p, depth+1)
	}
	return pathLength(n.right, p, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful BST
// search over n points.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerMascheroni) - 2*(fn-1)/fn
}
