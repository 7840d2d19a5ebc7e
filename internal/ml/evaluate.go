package ml

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// RowPredictor is any fitted regressor that maps one feature row to a value.
type RowPredictor interface {
	PredictRow(x []float64) float64
}

// Evaluation holds held-out regression quality.
type Evaluation struct {
	RMSEP float64 `json:"rmsep"`
	R2    float64 `json:"r2"`
}

// Evaluate computes RMSEP and R² of model on (X, y).
func Evaluate(model RowPredictor, X [][]float64, y []float64) Evaluation {
	pred := PredictAll(model, X)
	return Evaluation{
		RMSEP: math.Sqrt(mse(y, pred)),
		R2:    stat.RSquaredFrom(pred, y, nil),
	}
}

// MeanSquaredError returns the MSE of model on (X, y).
func MeanSquaredError(model RowPredictor, X [][]float64, y []float64) float64 {
	return mse(y, PredictAll(model, X))
}

// PredictAll applies model to every row of X.
func PredictAll(model RowPredictor, X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = model.PredictRow(row)
	}
	return out
}

func mse(y, pred []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	var sum float64
	for i := range y {
		d := y[i] - pred[i]
		sum += d * d
	}
	return sum / float64(len(y))
}
