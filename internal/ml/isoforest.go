package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"nir-backend/internal/spectral"
)

// eulerGamma is used in the harmonic number approximation of c(n).
const eulerGamma = 0.5772156649015329

// IsolationForestConfig configures the anomaly model.
type IsolationForestConfig struct {
	Trees         int     // number of isolation trees
	MaxSamples    int     // subsample size per tree, capped at the population size
	Contamination float64 // expected anomaly fraction of the reference population
	Seed          uint64
}

// DefaultIsolationForestConfig returns 100 trees of up to 256 samples with a
// 2% contamination rate.
func DefaultIsolationForestConfig() IsolationForestConfig {
	return IsolationForestConfig{
		Trees:         100,
		MaxSamples:    256,
		Contamination: 0.02,
		Seed:          42,
	}
}

type isolationNode struct {
	feature int
	split   float64
	left    *isolationNode
	right   *isolationNode
	size    int
}

func (n *isolationNode) leaf() bool {
	return n.left == nil
}

// IsolationForest is an immutable fitted isolation forest.
type IsolationForest struct {
	trees      []*isolationNode
	sampleSize int
	features   int
	offset     float64
}

// FitIsolationForest grows the forest on X and sets the decision offset so
// that the configured fraction of X scores as anomalous.
func FitIsolationForest(X [][]float64, cfg IsolationForestConfig) (*IsolationForest, error) {
	n := len(X)
	if n < 2 {
		return nil, fmt.Errorf("isolation forest needs at least 2 samples, got %d", n)
	}
	if cfg.Trees < 1 {
		return nil, fmt.Errorf("tree count must be positive, got %d", cfg.Trees)
	}
	if cfg.Contamination <= 0 || cfg.Contamination > 0.5 {
		return nil, fmt.Errorf("contamination must be in (0, 0.5], got %g", cfg.Contamination)
	}
	features := len(X[0])
	if features == 0 {
		return nil, errors.New("samples have no features")
	}
	for i, row := range X {
		if len(row) != features {
			return nil, fmt.Errorf("sample %d has %d features, expected %d", i, len(row), features)
		}
	}

	psi := cfg.MaxSamples
	if psi <= 0 || psi > n {
		psi = n
	}
	heightLimit := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))

	forest := &IsolationForest{
		trees:      make([]*isolationNode, cfg.Trees),
		sampleSize: psi,
		features:   features,
	}
	for t := range forest.trees {
		rng := rand.New(rand.NewPCG(cfg.Seed, uint64(t)))
		idx := rng.Perm(n)[:psi]
		forest.trees[t] = growTree(rng, selectRows(X, idx), 0, heightLimit)
	}

	scores := make([]float64, n)
	for i, row := range X {
		scores[i] = forest.ScoreSamples(row)
	}
	forest.offset = percentile(scores, cfg.Contamination)

	return forest, nil
}

func growTree(rng *rand.Rand, data [][]float64, depth, limit int) *isolationNode {
	node := &isolationNode{size: len(data)}
	if len(data) <= 1 || depth >= limit {
		return node
	}

	// Draw features until one is not constant on this node.
	features := len(data[0])
	order := rng.Perm(features)
	for _, f := range order {
		lo, hi := data[0][f], data[0][f]
		for _, row := range data[1:] {
			lo = math.Min(lo, row[f])
			hi = math.Max(hi, row[f])
		}
		if lo == hi {
			continue
		}

		split := lo + rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, row := range data {
			if row[f] <= split {
				left = append(left, row)
			} else {
				right = append(right, row)
			}
		}
		if len(left) == 0 || len(right) == 0 {
			continue
		}

		node.feature = f
		node.split = split
		node.left = growTree(rng, left, depth+1, limit)
		node.right = growTree(rng, right, depth+1, limit)
		return node
	}
	return node
}

// ScoreSamples returns the negated anomaly score in [-1, 0); lower is more
// anomalous.
func (f *IsolationForest) ScoreSamples(x []float64) float64 {
	var total float64
	for _, tree := range f.trees {
		total += pathLength(tree, x)
	}
	avg := total / float64(len(f.trees))
	return -math.Pow(2, -avg/averagePathLength(f.sampleSize))
}

// IsAnomaly reports whether x scores below the fitted offset.
func (f *IsolationForest) IsAnomaly(x []float64) bool {
	return f.ScoreSamples(x) < f.offset
}

// Offset is the decision threshold on ScoreSamples.
func (f *IsolationForest) Offset() float64 {
	return f.offset
}

// Features returns the input dimension the forest was fitted on.
func (f *IsolationForest) Features() int {
	return f.features
}

func pathLength(node *isolationNode, x []float64) float64 {
	depth := 0.0
	for !node.leaf() {
		if x[node.feature] <= node.split {
			node = node.left
		} else {
			node = node.right
		}
		depth++
	}
	return depth + averagePathLength(node.size)
}

// averagePathLength is c(n), the mean unsuccessful search length in a binary
// search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// percentile uses linear interpolation between closest ranks; q is a fraction.
func percentile(values []float64, q float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := min(lo+1, len(sorted)-1)
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// ErrFeatureMismatch is returned when a spectrum does not match the
// population the scorer was fitted on.
var ErrFeatureMismatch = errors.New("feature count mismatch")

// AnomalyScorer flags preprocessed spectra that are outliers with respect to
// the reference population the forest was fitted on. It is never refitted.
type AnomalyScorer struct {
	forest *IsolationForest
}

// FitAnomalyScorer fits the scorer on a preprocessed reference population.
func FitAnomalyScorer(population []spectral.PreprocessedSpectrum, cfg IsolationForestConfig) (*AnomalyScorer, error) {
	forest, err := FitIsolationForest(spectral.Matrix(population), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to fit isolation forest: %w", err)
	}
	return &AnomalyScorer{forest: forest}, nil
}

// Score reports whether s is anomalous.
func (a *AnomalyScorer) Score(s spectral.PreprocessedSpectrum) (bool, error) {
	if err := a.checkFeatures(s); err != nil {
		return false, err
	}
	return a.forest.IsAnomaly(s.Values()), nil
}

// ScoreValue returns the raw isolation score of s (lower is more anomalous).
func (a *AnomalyScorer) ScoreValue(s spectral.PreprocessedSpectrum) (float64, error) {
	if err := a.checkFeatures(s); err != nil {
		return 0, err
	}
	return a.forest.ScoreSamples(s.Values()), nil
}

func (a *AnomalyScorer) checkFeatures(s spectral.PreprocessedSpectrum) error {
	if s.Len() != a.forest.Features() {
		return fmt.Errorf("%w: scorer has %d, input has %d", ErrFeatureMismatch, a.forest.Features(), s.Len())
	}
	return nil
}

// Offset is the decision threshold on ScoreValue.
func (a *AnomalyScorer) Offset() float64 {
	return a.forest.Offset()
}
