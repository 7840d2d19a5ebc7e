package spectral

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SavitzkyGolay is a precomputed local polynomial smoothing/differentiation filter.
//
// Row r of the filter matrix estimates the derivative at window offset r from
// the samples of one window. Interior points use the centre row; the first and
// last half-window points are taken from the polynomial fitted to the first and
// last full window, which matches the "interp" edge convention of common
// scientific libraries.
type SavitzkyGolay struct {
	window    int
	polyOrder int
	deriv     int
	rows      [][]float64
}

// NewSavitzkyGolay builds the filter for an odd window length, a polynomial
// order below the window length and a derivative order no greater than the
// polynomial order. Sample spacing is 1.
func NewSavitzkyGolay(window, polyOrder, deriv int) (*SavitzkyGolay, error) {
	if window < 1 || window%2 == 0 {
		return nil, fmt.Errorf("window length must be a positive odd number, got %d", window)
	}
	if polyOrder < 0 || polyOrder >= window {
		return nil, fmt.Errorf("polynomial order must be in [0, %d), got %d", window, polyOrder)
	}
	if deriv < 0 || deriv > polyOrder {
		return nil, fmt.Errorf("derivative order must be in [0, %d], got %d", polyOrder, deriv)
	}

	half := window / 2
	cols := polyOrder + 1

	// Vandermonde matrix over centred window positions.
	vander := mat.NewDense(window, cols, nil)
	// Derivative of each monomial evaluated at each window position.
	dbasis := mat.NewDense(window, cols, nil)
	for r := 0; r < window; r++ {
		t := float64(r - half)
		for c := 0; c < cols; c++ {
			vander.Set(r, c, pow(t, c))
			if c >= deriv {
				dbasis.Set(r, c, fallingFactorial(c, deriv)*pow(t, c-deriv))
			}
		}
	}

	var gram mat.Dense
	gram.Mul(vander.T(), vander)
	var gramInv mat.Dense
	if err := gramInv.Inverse(&gram); err != nil {
		return nil, fmt.Errorf("failed to invert Savitzky-Golay normal matrix: %w", err)
	}
	var pinv mat.Dense
	pinv.Mul(&gramInv, vander.T())
	var filter mat.Dense
	filter.Mul(dbasis, &pinv)

	rows := make([][]float64, window)
	for r := range rows {
		rows[r] = mat.Row(nil, r, &filter)
	}

	return &SavitzkyGolay{
		window:    window,
		polyOrder: polyOrder,
		deriv:     deriv,
		rows:      rows,
	}, nil
}

// Window returns the filter window length.
func (f *SavitzkyGolay) Window() int {
	return f.window
}

// Apply filters x into a newly allocated slice. len(x) must be at least the
// window length; callers check this.
func (f *SavitzkyGolay) Apply(x []float64) []float64 {
	n := len(x)
	half := f.window / 2
	out := make([]float64, n)

	centre := f.rows[half]
	for i := half; i < n-half; i++ {
		out[i] = floats.Dot(centre, x[i-half:i+half+1])
	}

	head := x[:f.window]
	tail := x[n-f.window:]
	for i := 0; i < half; i++ {
		out[i] = floats.Dot(f.rows[i], head)
		out[n-half+i] = floats.Dot(f.rows[half+1+i], tail)
	}

	return out
}

func pow(t float64, k int) float64 {
	v := 1.0
	for i := 0; i < k; i++ {
		v *= t
	}
	return v
}

// fallingFactorial returns c*(c-1)*...*(c-d+1).
func fallingFactorial(c, d int) float64 {
	v := 1.0
	for i := 0; i < d; i++ {
		v *= float64(c - i)
	}
	return v
}
