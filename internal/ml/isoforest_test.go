package ml

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nir-backend/internal/spectral"
)

func gaussianCloud(seed uint64, n, dims int) [][]float64 {
	rng := rand.New(rand.NewPCG(seed, seed))
	X := make([][]float64, n)
	for i := range X {
		X[i] = make([]float64, dims)
		for j := range X[i] {
			X[i][j] = rng.NormFloat64()
		}
	}
	return X
}

func TestIsolationForestSeparatesOutlierFromCentre(t *testing.T) {
	X := gaussianCloud(1, 300, 5)
	forest, err := FitIsolationForest(X, DefaultIsolationForestConfig())
	require.NoError(t, err)

	assert.True(t, forest.IsAnomaly([]float64{8, 8, 8, 8, 8}))
	assert.False(t, forest.IsAnomaly([]float64{0, 0, 0, 0, 0}))
	assert.Less(t, forest.ScoreSamples([]float64{8, 8, 8, 8, 8}), forest.ScoreSamples([]float64{0, 0, 0, 0, 0}))
}

func TestIsolationForestFlagsContaminationFraction(t *testing.T) {
	X := gaussianCloud(2, 500, 4)
	forest, err := FitIsolationForest(X, DefaultIsolationForestConfig())
	require.NoError(t, err)

	flagged := 0
	for _, row := range X {
		if forest.IsAnomaly(row) {
			flagged++
		}
	}
	// 2% of 500 sits strictly below the interpolated 2nd percentile.
	assert.InDelta(t, 10, flagged, 1)
}

func TestIsolationForestIsReproducible(t *testing.T) {
	X := gaussianCloud(3, 200, 3)
	a, err := FitIsolationForest(X, DefaultIsolationForestConfig())
	require.NoError(t, err)
	b, err := FitIsolationForest(X, DefaultIsolationForestConfig())
	require.NoError(t, err)

	assert.Equal(t, a.Offset(), b.Offset())
	probe := []float64{1.5, -2, 0.3}
	assert.Equal(t, a.ScoreSamples(probe), b.ScoreSamples(probe))
}

func TestIsolationForestScoresAreBounded(t *testing.T) {
	X := gaussianCloud(4, 100, 3)
	forest, err := FitIsolationForest(X, DefaultIsolationForestConfig())
	require.NoError(t, err)

	for _, row := range X {
		s := forest.ScoreSamples(row)
		assert.True(t, s < 0 && s >= -1, "score %v", s)
	}
}

func TestFitIsolationForestRejectsBadInput(t *testing.T) {
	cfg := DefaultIsolationForestConfig()
	_, err := FitIsolationForest([][]float64{{1}}, cfg)
	assert.Error(t, err)

	_, err = FitIsolationForest([][]float64{{1, 2}, {1}}, cfg)
	assert.Error(t, err)

	cfg.Contamination = 0
	_, err = FitIsolationForest(gaussianCloud(5, 10, 2), cfg)
	assert.Error(t, err)
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 2*(math.Log(255)+eulerGamma)-2*255.0/256.0, averagePathLength(256), 1e-12)
}

func TestPercentileInterpolates(t *testing.T) {
	values := []float64{4, 1, 3, 2, 5}
	assert.Equal(t, 1.0, percentile(values, 0))
	assert.Equal(t, 3.0, percentile(values, 0.5))
	assert.InDelta(t, 1.08, percentile(values, 0.02), 1e-12)
	assert.Equal(t, []float64{4, 1, 3, 2, 5}, values)
}

func TestAnomalyScorerOnPreprocessedSpectra(t *testing.T) {
	rng := rand.New(rand.NewPCG(6, 6))
	prep := spectral.NewPreprocessor()

	population := make([][]float64, 120)
	for i := range population {
		population[i] = make([]float64, 60)
		for j := range population[i] {
			w := float64(j) / 60
			population[i][j] = 0.5 + 0.2*math.Sin(5*w) + 0.003*rng.NormFloat64()
		}
	}
	batch, err := prep.PreprocessBatch(population)
	require.NoError(t, err)

	scorer, err := FitAnomalyScorer(batch, DefaultIsolationForestConfig())
	require.NoError(t, err)

	weird := make([]float64, 60)
	for j := range weird {
		weird[j] = 0.5 + 0.2*math.Cos(17*float64(j)/60)
	}
	weirdPrep, err := prep.Preprocess(weird)
	require.NoError(t, err)

	isAnomaly, err := scorer.Score(weirdPrep)
	require.NoError(t, err)
	assert.True(t, isAnomaly)
	score, err := scorer.ScoreValue(weirdPrep)
	require.NoError(t, err)
	assert.Less(t, score, scorer.Offset())

	short, err := prep.Preprocess(make([]float64, 20))
	require.NoError(t, err)
	_, err = scorer.Score(short)
	assert.ErrorIs(t, err, ErrFeatureMismatch)
	_, err = scorer.ScoreValue(short)
	assert.ErrorIs(t, err, ErrFeatureMismatch)
}
