// Package report aggregates a shift of predictions and renders the shift
// report document.
package report

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-pdf/fpdf"
	"gonum.org/v1/gonum/stat"

	"nir-backend/internal/models"
)

// LowPolThreshold is the fixed breach threshold of the shift report
const LowPolThreshold = 13.0

var ErrLengthMismatch = errors.New("timestamp, predicted_pol and actual_pol must have equal lengths")

// Request is the body of a report request, one entry per tick
type Request struct {
	Timestamp    []float64 `json:"timestamp"` // epoch seconds
	PredictedPol []float64 `json:"predicted_pol"`
	ActualPol    []float64 `json:"actual_pol"`
}

func (r *Request) Validate() error {
	if len(r.Timestamp) != len(r.PredictedPol) || len(r.PredictedPol) != len(r.ActualPol) {
		return fmt.Errorf("%w: got %d, %d, %d", ErrLengthMismatch,
			len(r.Timestamp), len(r.PredictedPol), len(r.ActualPol))
	}
	return nil
}

// Summary aggregates the request against LowPolThreshold
func (r *Request) Summary() models.ReportSummary {
	return Summarize(r.PredictedPol, r.ActualPol, LowPolThreshold)
}

// Summarize counts samples, averages predictions and counts breaches
// (predictions strictly below threshold). An empty input averages to 0.
// actual may be nil; RMSE is then 0.
func Summarize(predicted, actual []float64, threshold float64) models.ReportSummary {
	summary := models.ReportSummary{
		Samples:   len(predicted),
		Threshold: threshold,
	}
	if len(predicted) == 0 {
		return summary
	}

	summary.AveragePredicted = stat.Mean(predicted, nil)
	for _, p := range predicted {
		if p < threshold {
			summary.Breaches++
		}
	}
	if len(actual) == len(predicted) {
		var sq float64
		for i, p := range predicted {
			d := p - actual[i]
			sq += d * d
		}
		summary.RMSE = math.Sqrt(sq / float64(len(predicted)))
	}
	return summary
}

// Span returns the first and last tick time of the request, zero when empty
func (r *Request) Span() (time.Time, time.Time) {
	if len(r.Timestamp) == 0 {
		return time.Time{}, time.Time{}
	}
	first, last := r.Timestamp[0], r.Timestamp[0]
	for _, ts := range r.Timestamp[1:] {
		first = math.Min(first, ts)
		last = math.Max(last, ts)
	}
	return epochTime(first), epochTime(last)
}

func epochTime(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9))
}

// RenderPDF writes the shift report for summary to w. from and to bound the
// shift and are omitted from the document when zero.
func RenderPDF(w io.Writer, summary models.ReportSummary, from, to, generatedAt time.Time) error {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetTitle("NIR Shift Report", false)
	pdf.SetCreator("nir-backend", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 24)
	pdf.SetTextColor(10, 184, 79)
	pdf.Text(50, 60, "Sugarcane NIR Shift Report")

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 10)
	pdf.Text(50, 80, "Generated "+generatedAt.Format(time.RFC1123))
	if !from.IsZero() {
		pdf.Text(50, 94, fmt.Sprintf("Shift window: %s to %s", from.Format(time.TimeOnly), to.Format(time.TimeOnly)))
	}

	pdf.SetFont("Helvetica", "B", 14)
	pdf.Text(50, 130, fmt.Sprintf("Total Samples Processed: %d", summary.Samples))
	pdf.Text(50, 160, fmt.Sprintf("Average Predicted Pol (TS%%): %.2f%%", summary.AveragePredicted))
	pdf.Text(50, 190, fmt.Sprintf("Total Low-Pol Alerts (< %.1f): %d", summary.Threshold, summary.Breaches))
	if summary.Samples > 0 {
		pdf.Text(50, 220, fmt.Sprintf("RMSE vs reference: %.3f", summary.RMSE))
	}

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Text(50, 270, "Technical Details:")
	pdf.SetFont("Helvetica", "", 10)
	pdf.Text(50, 290, "- Model: Partial Least Squares (PLS) Regression")
	pdf.Text(50, 310, "- Preprocessing: Savitzky-Golay (deriv=1) + Standard Normal Variate (SNV)")
	pdf.Text(50, 330, "- Anomaly detection: Isolation Forest on the reference pool")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}
