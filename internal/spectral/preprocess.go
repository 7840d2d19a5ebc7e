// Package spectral implements the fixed NIR preprocessing pipeline shared by
// training and serving: Savitzky-Golay first derivative followed by a
// standard normal variate transform.
package spectral

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

const (
	// WindowLength is the Savitzky-Golay window in samples.
	WindowLength = 15
	// PolyOrder is the Savitzky-Golay polynomial degree.
	PolyOrder = 2
	// DerivOrder is the derivative taken by the filter.
	DerivOrder = 1
	// SNVEpsilon stabilises the SNV division for flat spectra.
	SNVEpsilon = 1e-8
)

// ErrSpectrumTooShort is wrapped by ConfigurationError when a spectrum has
// fewer samples than the filter window.
var ErrSpectrumTooShort = errors.New("spectrum shorter than filter window")

// ConfigurationError reports a data/pipeline mismatch. It is not transient.
type ConfigurationError struct {
	Length int
	Window int
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid spectrum for preprocessing (length %d, window %d): %v", e.Length, e.Window, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// PreprocessedSpectrum is the output of Preprocessor. Only this package
// constructs it, so a value always went through the full pipeline.
type PreprocessedSpectrum struct {
	values []float64
}

// Len returns the number of wavelengths.
func (p PreprocessedSpectrum) Len() int {
	return len(p.values)
}

// Values exposes the underlying samples. The slice must not be modified.
func (p PreprocessedSpectrum) Values() []float64 {
	return p.values
}

// Preprocessor applies the derivative filter and SNV. It holds only the
// immutable filter coefficients and is safe for concurrent use.
type Preprocessor struct {
	filter  *SavitzkyGolay
	epsilon float64
}

// NewPreprocessor returns the standard 15/2/1 pipeline.
func NewPreprocessor() *Preprocessor {
	filter, err := NewSavitzkyGolay(WindowLength, PolyOrder, DerivOrder)
	if err != nil {
		// constants above are valid
		panic(err)
	}
	return &Preprocessor{filter: filter, epsilon: SNVEpsilon}
}

// Preprocess transforms one raw spectrum. The input is not modified.
func (p *Preprocessor) Preprocess(raw []float64) (PreprocessedSpectrum, error) {
	if len(raw) < p.filter.Window() {
		return PreprocessedSpectrum{}, &ConfigurationError{
			Length: len(raw),
			Window: p.filter.Window(),
			Err:    ErrSpectrumTooShort,
		}
	}

	deriv := p.filter.Apply(raw)
	snv(deriv, p.epsilon)
	return PreprocessedSpectrum{values: deriv}, nil
}

// PreprocessBatch transforms each spectrum independently. Row i of the result
// is identical to Preprocess(raws[i]).
func (p *Preprocessor) PreprocessBatch(raws [][]float64) ([]PreprocessedSpectrum, error) {
	out := make([]PreprocessedSpectrum, len(raws))
	for i, raw := range raws {
		prep, err := p.Preprocess(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to preprocess spectrum %d: %w", i, err)
		}
		out[i] = prep
	}
	return out, nil
}

// Matrix returns the preprocessed batch as plain rows for model fitting.
func Matrix(batch []PreprocessedSpectrum) [][]float64 {
	rows := make([][]float64, len(batch))
	for i, p := range batch {
		rows[i] = p.values
	}
	return rows
}

// snv normalises x in place with the population standard deviation.
func snv(x []float64, epsilon float64) {
	mean, std := stat.PopMeanStdDev(x, nil)
	denom := std + epsilon
	for i := range x {
		x[i] = (x[i] - mean) / denom
	}
}
