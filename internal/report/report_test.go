package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name      string
		predicted []float64
		actual    []float64
		samples   int
		average   float64
		breaches  int
		rmse      float64
	}{
		{name: "shift", predicted: []float64{10, 12, 14, 16}, actual: []float64{10, 12, 14, 16}, samples: 4, average: 13, breaches: 2},
		{name: "empty", samples: 0, average: 0, breaches: 0},
		{name: "threshold is not a breach", predicted: []float64{13, 13}, samples: 2, average: 13},
		{name: "rmse", predicted: []float64{14, 12}, actual: []float64{13, 13}, samples: 2, average: 13, breaches: 1, rmse: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.predicted, tt.actual, LowPolThreshold)
			assert.Equal(t, tt.samples, got.Samples)
			assert.InDelta(t, tt.average, got.AveragePredicted, 1e-12)
			assert.Equal(t, tt.breaches, got.Breaches)
			assert.InDelta(t, tt.rmse, got.RMSE, 1e-12)
			assert.Equal(t, LowPolThreshold, got.Threshold)
		})
	}
}

func TestRequestValidate(t *testing.T) {
	ok := Request{Timestamp: []float64{1, 2}, PredictedPol: []float64{12, 14}, ActualPol: []float64{12, 14}}
	assert.NoError(t, ok.Validate())
	assert.NoError(t, (&Request{}).Validate())

	bad := Request{Timestamp: []float64{1}, PredictedPol: []float64{12, 14}, ActualPol: []float64{12, 14}}
	assert.ErrorIs(t, bad.Validate(), ErrLengthMismatch)
}

func TestRequestSpan(t *testing.T) {
	r := Request{Timestamp: []float64{1700000010.5, 1700000000, 1700000020}}
	from, to := r.Span()
	assert.Equal(t, int64(1700000000), from.Unix())
	assert.Equal(t, int64(1700000020), to.Unix())

	from, to = (&Request{}).Span()
	assert.True(t, from.IsZero())
	assert.True(t, to.IsZero())
}

func TestRenderPDF(t *testing.T) {
	r := Request{Timestamp: []float64{1700000000, 1700000060}, PredictedPol: []float64{12, 15}, ActualPol: []float64{12.5, 14.5}}
	from, to := r.Span()

	var buf bytes.Buffer
	require.NoError(t, RenderPDF(&buf, r.Summary(), from, to, time.Unix(1700000100, 0)))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Contains(t, buf.String(), "%EOF")

	buf.Reset()
	require.NoError(t, RenderPDF(&buf, Summarize(nil, nil, LowPolThreshold), time.Time{}, time.Time{}, time.Now()))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}
