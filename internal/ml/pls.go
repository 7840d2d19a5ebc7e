package ml

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// scoreTolerance is the relative size below which deflated X scores are
// treated as null and no further latent components are extracted.
const scoreTolerance = 1e-12

// PLSModel is a fitted single-target partial least squares regression.
// Centering and scaling applied at fit time are folded into Coefficients and
// Intercept, so prediction is a plain dot product on the preprocessed vector.
type PLSModel struct {
	Components          int       `json:"components"`
	EffectiveComponents int       `json:"effective_components"`
	Coefficients        []float64 `json:"coefficients"`
	Intercept           float64   `json:"intercept"`
}

// FitPLS fits PLS1 with k latent components by NIPALS on standardised X and y.
func FitPLS(X [][]float64, y []float64, k int) (*PLSModel, error) {
	n := len(X)
	if n < 2 {
		return nil, fmt.Errorf("PLS needs at least 2 samples, got %d", n)
	}
	if len(y) != n {
		return nil, fmt.Errorf("sample count mismatch: %d spectra, %d targets", n, len(y))
	}
	if k < 1 {
		return nil, fmt.Errorf("component count must be positive, got %d", k)
	}
	p := len(X[0])
	if p == 0 {
		return nil, errors.New("spectra have no features")
	}

	xMean := make([]float64, p)
	xStd := make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		for i := 0; i < n; i++ {
			if len(X[i]) != p {
				return nil, fmt.Errorf("spectrum %d has %d features, expected %d", i, len(X[i]), p)
			}
			col[i] = X[i][j]
		}
		xMean[j], xStd[j] = stat.MeanStdDev(col, nil)
		if xStd[j] == 0 {
			xStd[j] = 1
		}
	}
	yMean, yStd := stat.MeanStdDev(y, nil)
	if yStd == 0 {
		yStd = 1
	}

	xs := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		row := xs.RawRowView(i)
		for j := 0; j < p; j++ {
			row[j] = (X[i][j] - xMean[j]) / xStd[j]
		}
	}
	ys := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		ys.SetVec(i, (y[i]-yMean)/yStd)
	}

	initial := mat.Norm(xs, 2)
	initial *= initial

	var weights, loadings [][]float64
	var yLoadings []float64

	w := mat.NewVecDense(p, nil)
	t := mat.NewVecDense(n, nil)
	pl := mat.NewVecDense(p, nil)
	for a := 0; a < k; a++ {
		w.MulVec(xs.T(), ys)
		norm := mat.Norm(w, 2)
		if norm == 0 {
			break
		}
		w.ScaleVec(1/norm, w)

		t.MulVec(xs, w)
		tt := mat.Dot(t, t)
		if tt <= scoreTolerance*initial {
			break
		}

		pl.MulVec(xs.T(), t)
		pl.ScaleVec(1/tt, pl)
		q := mat.Dot(ys, t) / tt

		xs.RankOne(xs, -1, t, pl)
		ys.AddScaledVec(ys, -q, t)

		weights = append(weights, mat.Col(nil, 0, w))
		loadings = append(loadings, mat.Col(nil, 0, pl))
		yLoadings = append(yLoadings, q)
	}

	model := &PLSModel{
		Components:          k,
		EffectiveComponents: len(weights),
		Coefficients:        make([]float64, p),
		Intercept:           yMean,
	}
	if model.EffectiveComponents == 0 {
		return model, nil
	}

	// B = W (P^T W)^-1 q in standardised space.
	a := model.EffectiveComponents
	wm := mat.NewDense(p, a, nil)
	pm := mat.NewDense(p, a, nil)
	for c := 0; c < a; c++ {
		wm.SetCol(c, weights[c])
		pm.SetCol(c, loadings[c])
	}
	var ptw mat.Dense
	ptw.Mul(pm.T(), wm)
	var z mat.VecDense
	if err := z.SolveVec(&ptw, mat.NewVecDense(a, yLoadings)); err != nil {
		return nil, fmt.Errorf("failed to solve PLS rotation: %w", err)
	}
	var beta mat.VecDense
	beta.MulVec(wm, &z)

	for j := 0; j < p; j++ {
		model.Coefficients[j] = beta.AtVec(j) * yStd / xStd[j]
	}
	model.Intercept = yMean - floats.Dot(model.Coefficients, xMean)

	return model, nil
}

// Predict returns the model output for one preprocessed vector.
func (m *PLSModel) Predict(x []float64) (float64, error) {
	if len(x) != len(m.Coefficients) {
		return 0, fmt.Errorf("feature count mismatch: model has %d, input has %d", len(m.Coefficients), len(x))
	}
	return m.PredictRow(x), nil
}

// PredictRow is Predict without the length check.
func (m *PLSModel) PredictRow(x []float64) float64 {
	return floats.Dot(m.Coefficients, x) + m.Intercept
}

// Validate checks a model decoded from an artifact.
func (m *PLSModel) Validate() error {
	if len(m.Coefficients) == 0 {
		return errors.New("model has no coefficients")
	}
	if m.Components < 1 {
		return fmt.Errorf("model has invalid component count %d", m.Components)
	}
	for i, c := range m.Coefficients {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("model coefficient %d is not finite", i)
		}
	}
	if math.IsNaN(m.Intercept) || math.IsInf(m.Intercept, 0) {
		return errors.New("model intercept is not finite")
	}
	return nil
}
