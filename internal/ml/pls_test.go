package ml

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// latentDataset builds X = T·Pᵀ with exactly `factors` latent columns and
// y = T·q + noise, so the optimal PLS complexity is `factors`.
func latentDataset(seed uint64, n, features, factors int, noise float64) ([][]float64, []float64) {
	rng := rand.New(rand.NewPCG(seed, seed))

	loadings := make([][]float64, factors)
	for f := range loadings {
		loadings[f] = make([]float64, features)
		for j := range loadings[f] {
			loadings[f][j] = rng.NormFloat64()
		}
	}

	X := make([][]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		X[i] = make([]float64, features)
		for f := 0; f < factors; f++ {
			score := rng.NormFloat64()
			for j := range X[i] {
				X[i][j] += score * loadings[f][j]
			}
			y[i] += float64(factors-f) * score
		}
		y[i] += 10 + noise*rng.NormFloat64()
	}
	return X, y
}

func TestFitPLSWithAllComponentsMatchesLeastSquares(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	X := make([][]float64, 50)
	y := make([]float64, 50)
	for i := range X {
		X[i] = []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
		y[i] = 2*X[i][0] - X[i][1] + 0.25*X[i][3] + 0.5
	}

	model, err := FitPLS(X, y, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, model.EffectiveComponents)

	assert.InDelta(t, 2.0, model.Coefficients[0], 1e-8)
	assert.InDelta(t, -1.0, model.Coefficients[1], 1e-8)
	assert.InDelta(t, 0.0, model.Coefficients[2], 1e-8)
	assert.InDelta(t, 0.25, model.Coefficients[3], 1e-8)
	assert.InDelta(t, 0.5, model.Intercept, 1e-8)

	got, err := model.Predict([]float64{1, 1, 1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.75, got, 1e-8)
}

func TestFitPLSStopsAtDataRank(t *testing.T) {
	X, y := latentDataset(3, 40, 25, 3, 0.05)

	model, err := FitPLS(X, y, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, model.Components)
	assert.Equal(t, 3, model.EffectiveComponents)
}

func TestFitPLSRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		X    [][]float64
		y    []float64
		k    int
	}{
		{"single sample", [][]float64{{1, 2}}, []float64{1}, 1},
		{"length mismatch", [][]float64{{1, 2}, {3, 4}}, []float64{1}, 1},
		{"zero components", [][]float64{{1, 2}, {3, 4}}, []float64{1, 2}, 0},
		{"ragged rows", [][]float64{{1, 2}, {3}}, []float64{1, 2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FitPLS(tt.X, tt.y, tt.k)
			assert.Error(t, err)
		})
	}
}

func TestPLSPredictRejectsWrongLength(t *testing.T) {
	model := &PLSModel{Components: 1, Coefficients: []float64{1, 2}, Intercept: 0}
	_, err := model.Predict([]float64{1})
	assert.Error(t, err)
}

func TestModelSelectorRecoversLatentFactorCount(t *testing.T) {
	X, y := latentDataset(42, 80, 30, 3, 0.05)

	selector := NewModelSelector(DefaultSelectorConfig(), nil)
	model, report, err := selector.Select(context.Background(), X, y)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Best)
	assert.Equal(t, 3, model.Components)
	require.Len(t, report.Candidates, 14)
	assert.Greater(t, report.Candidates[0].MeanMSE, report.Candidates[2].MeanMSE)
	assert.Greater(t, report.Candidates[1].MeanMSE, report.Candidates[2].MeanMSE)
}

func TestModelSelectorIsDeterministic(t *testing.T) {
	X, y := latentDataset(5, 60, 20, 4, 0.3)

	cfg := DefaultSelectorConfig()
	cfg.Parallelism = 1
	_, serial, err := NewModelSelector(cfg, nil).Select(context.Background(), X, y)
	require.NoError(t, err)

	cfg.Parallelism = 8
	_, parallel, err := NewModelSelector(cfg, nil).Select(context.Background(), X, y)
	require.NoError(t, err)

	assert.Equal(t, serial, parallel)
}

func TestModelSelectorSkipsUnsupportedComplexity(t *testing.T) {
	X, y := latentDataset(9, 20, 6, 2, 0.1)

	model, report, err := NewModelSelector(DefaultSelectorConfig(), nil).Select(context.Background(), X, y)
	require.NoError(t, err)
	assert.LessOrEqual(t, model.Components, 6)
	for _, c := range report.Candidates {
		assert.Equal(t, c.Components > 6, c.Skipped, "components %d", c.Components)
	}
}

func TestModelSelectorHonoursCancellation(t *testing.T) {
	X, y := latentDataset(1, 50, 10, 2, 0.1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewModelSelector(DefaultSelectorConfig(), nil).Select(ctx, X, y)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKFoldPartitionsEveryIndexOnce(t *testing.T) {
	folds, err := KFold(23, 5, 42)
	require.NoError(t, err)
	require.Len(t, folds, 5)

	seen := make(map[int]int)
	for i, f := range folds {
		want := 4
		if i < 3 {
			want = 5
		}
		assert.Len(t, f.Test, want)
		assert.Len(t, f.Train, 23-want)
		for _, idx := range f.Test {
			seen[idx]++
		}
	}
	assert.Len(t, seen, 23)
	for idx, count := range seen {
		assert.Equal(t, 1, count, "index %d", idx)
	}

	again, err := KFold(23, 5, 42)
	require.NoError(t, err)
	assert.Equal(t, folds, again)
}

func TestTrainTestSplit(t *testing.T) {
	train, test, err := TrainTestSplit(101, 0.2, 42)
	require.NoError(t, err)
	assert.Len(t, test, 21)
	assert.Len(t, train, 80)

	_, _, err = TrainTestSplit(10, 1.5, 42)
	assert.Error(t, err)
}
