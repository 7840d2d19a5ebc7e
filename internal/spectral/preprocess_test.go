package spectral

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func syntheticSpectrum(rng *rand.Rand, n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		w := float64(i) / float64(n)
		x[i] = 0.4 + 0.2*math.Sin(6*w) + 0.05*math.Exp(-math.Pow((w-0.5)/0.05, 2)) + 0.002*rng.NormFloat64()
	}
	return x
}

func TestSavitzkyGolayCentreCoefficients(t *testing.T) {
	f, err := NewSavitzkyGolay(15, 2, 1)
	require.NoError(t, err)

	centre := f.rows[7]
	for j, c := range centre {
		assert.InDelta(t, float64(j-7)/280.0, c, 1e-12, "coefficient %d", j)
	}
}

func TestSavitzkyGolayDerivativeIsExactForPolynomials(t *testing.T) {
	f, err := NewSavitzkyGolay(15, 2, 1)
	require.NoError(t, err)

	tests := []struct {
		name  string
		value func(i float64) float64
		deriv func(i float64) float64
	}{
		{
			name:  "linear ramp",
			value: func(i float64) float64 { return 3*i + 1 },
			deriv: func(float64) float64 { return 3 },
		},
		{
			name:  "quadratic",
			value: func(i float64) float64 { return 0.5*i*i - 2*i + 4 },
			deriv: func(i float64) float64 { return i - 2 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := make([]float64, 40)
			for i := range x {
				x[i] = tt.value(float64(i))
			}
			got := f.Apply(x)
			for i := range got {
				assert.InDelta(t, tt.deriv(float64(i)), got[i], 1e-8, "index %d", i)
			}
		})
	}
}

func TestNewSavitzkyGolayRejectsBadParameters(t *testing.T) {
	tests := []struct {
		name                    string
		window, polyOrder, drv int
	}{
		{"even window", 14, 2, 1},
		{"order too high", 5, 5, 1},
		{"derivative above order", 15, 2, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSavitzkyGolay(tt.window, tt.polyOrder, tt.drv)
			assert.Error(t, err)
		})
	}
}

func TestPreprocessBatchMatchesSingle(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	p := NewPreprocessor()

	raws := [][]float64{
		syntheticSpectrum(rng, 120),
		syntheticSpectrum(rng, 120),
		syntheticSpectrum(rng, 120),
	}

	batch, err := p.PreprocessBatch(raws)
	require.NoError(t, err)
	require.Len(t, batch, len(raws))

	for i, raw := range raws {
		single, err := p.Preprocess(raw)
		require.NoError(t, err)
		assert.Equal(t, single.Values(), batch[i].Values())
	}
}

func TestPreprocessProducesStandardisedRows(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	p := NewPreprocessor()

	for i := 0; i < 20; i++ {
		out, err := p.Preprocess(syntheticSpectrum(rng, 200))
		require.NoError(t, err)

		mean, std := stat.PopMeanStdDev(out.Values(), nil)
		assert.InDelta(t, 0, mean, 1e-9)
		assert.InDelta(t, 1, std, 1e-4)
	}
}

func TestPreprocessDoesNotModifyInput(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	raw := syntheticSpectrum(rng, 64)
	orig := append([]float64(nil), raw...)

	_, err := NewPreprocessor().Preprocess(raw)
	require.NoError(t, err)
	assert.Equal(t, orig, raw)
}

func TestPreprocessFlatSpectrumStaysFinite(t *testing.T) {
	raw := make([]float64, 30)
	for i := range raw {
		raw[i] = 0.7
	}

	out, err := NewPreprocessor().Preprocess(raw)
	require.NoError(t, err)
	for _, v := range out.Values() {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		assert.InDelta(t, 0, v, 1e-6)
	}
}

func TestPreprocessRejectsShortSpectrum(t *testing.T) {
	p := NewPreprocessor()

	_, err := p.Preprocess(make([]float64, WindowLength-1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSpectrumTooShort))

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, WindowLength-1, cfgErr.Length)
	assert.Equal(t, WindowLength, cfgErr.Window)

	_, err = p.Preprocess(make([]float64, WindowLength))
	assert.NoError(t, err)

	_, err = p.PreprocessBatch([][]float64{make([]float64, 40), make([]float64, 3)})
	assert.ErrorIs(t, err, ErrSpectrumTooShort)
}
