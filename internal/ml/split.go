package ml

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Fold is one cross-validation split expressed as row indices.
type Fold struct {
	Train []int
	Test  []int
}

// KFold shuffles 0..n-1 with a seeded generator and cuts it into k
// contiguous folds. The first n%k folds get one extra sample.
func KFold(n, k int, seed uint64) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("fold count must be at least 2, got %d", k)
	}
	if n < k {
		return nil, fmt.Errorf("cannot split %d samples into %d folds", n, k)
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	perm := rng.Perm(n)

	folds := make([]Fold, k)
	start := 0
	for f := 0; f < k; f++ {
		size := n / k
		if f < n%k {
			size++
		}
		test := append([]int(nil), perm[start:start+size]...)
		train := make([]int, 0, n-size)
		train = append(train, perm[:start]...)
		train = append(train, perm[start+size:]...)
		folds[f] = Fold{Train: train, Test: test}
		start += size
	}
	return folds, nil
}

// TrainTestSplit shuffles 0..n-1 and holds out ceil(testFraction*n) rows.
func TrainTestSplit(n int, testFraction float64, seed uint64) (train, test []int, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction must be in (0, 1), got %g", testFraction)
	}
	nTest := int(math.Ceil(testFraction * float64(n)))
	if nTest < 1 || nTest >= n {
		return nil, nil, fmt.Errorf("cannot hold out %d of %d samples", nTest, n)
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	perm := rng.Perm(n)
	return perm[nTest:], perm[:nTest], nil
}

func selectRows(X [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, r := range idx {
		out[i] = X[r]
	}
	return out
}

func selectValues(y []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, r := range idx {
		out[i] = y[r]
	}
	return out
}
