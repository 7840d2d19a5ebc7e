// Package artifactstest builds small synthetic artifact bundles for tests.
package artifactstest

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nir-backend/internal/artifacts"
	"nir-backend/internal/ml"
	"nir-backend/internal/spectral"
)

// Wavelengths is the axis length used by the synthetic bundle
const Wavelengths = 40

// Spectra returns n smooth reflectance curves whose peak height tracks a
// Pol-like target between 10 and 18.
func Spectra(seed uint64, n int) ([][]float64, []float64) {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := range X {
		c := rng.Float64()
		y[i] = 10 + 8*c
		X[i] = make([]float64, Wavelengths)
		for j := range X[i] {
			w := float64(j) / Wavelengths
			peak := math.Exp(-math.Pow((w-0.6)/0.08, 2))
			X[i][j] = 0.4 + 0.1*math.Sin(3*w) + 0.05*c*peak + 0.0005*rng.NormFloat64()
		}
	}
	return X, y
}

// Axis returns evenly spaced wavelengths in nm
func Axis() []float64 {
	axis := make([]float64, Wavelengths)
	for i := range axis {
		axis[i] = 900 + 20*float64(i)
	}
	return axis
}

// Model fits a PLS model on the preprocessed form of X
func Model(t testing.TB, X [][]float64, y []float64, k int) *ml.PLSModel {
	t.Helper()
	batch, err := spectral.NewPreprocessor().PreprocessBatch(X)
	require.NoError(t, err)
	model, err := ml.FitPLS(spectral.Matrix(batch), y, k)
	require.NoError(t, err)
	return model
}

// Bundle returns an in-memory bundle with a pool of poolSize samples
func Bundle(t testing.TB, poolSize int) *artifacts.Bundle {
	t.Helper()
	X, y := Spectra(7, 60)
	predictor, err := ml.NewPredictorFromModel(Model(t, X, y, 3))
	require.NoError(t, err)

	poolX, poolY := Spectra(8, poolSize)
	return &artifacts.Bundle{
		Predictor:   predictor,
		Wavelengths: Axis(),
		Pool:        &artifacts.ReferencePool{Spectra: poolX, Values: poolY},
	}
}

// WriteDir saves a synthetic bundle into dir and returns the pool
func WriteDir(t testing.TB, dir string, poolSize int) *artifacts.ReferencePool {
	t.Helper()
	X, y := Spectra(7, 60)
	poolX, poolY := Spectra(8, poolSize)
	pool := &artifacts.ReferencePool{Spectra: poolX, Values: poolY}

	artifact := &ml.ModelArtifact{Model: *Model(t, X, y, 3), TrainedAt: time.Unix(0, 0).UTC()}
	require.NoError(t, artifacts.Save(dir, artifact, Axis(), pool))
	return pool
}
