package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// SimulationConfig holds the per-session tunables adjusted by the dashboard
type SimulationConfig struct {
	NoiseLevel float64 `json:"noiseLevel"` // percent, >= 0
	Threshold  float64 `json:"threshold"`  // alert when prediction is below this
}

// DefaultSimulationConfig returns the dashboard defaults
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		NoiseLevel: 2.0,
		Threshold:  13.0,
	}
}

// NoiseFraction converts the percent noise level into a multiplicative fraction
func (c SimulationConfig) NoiseFraction() float64 {
	return c.NoiseLevel / 100
}

// TickRequest is one inbound websocket message. Absent fields keep the
// session's current values.
type TickRequest struct {
	NoiseLevel *float64 `json:"noiseLevel,omitempty"`
	Threshold  *float64 `json:"threshold,omitempty"`
}

var (
	ErrNegativeNoise  = errors.New("noiseLevel must be >= 0")
	ErrNonFiniteValue = errors.New("value must be finite")
)

// Validate rejects negative or non-finite noise and a non-finite threshold
func (r TickRequest) Validate() error {
	if r.NoiseLevel != nil {
		if math.IsNaN(*r.NoiseLevel) || math.IsInf(*r.NoiseLevel, 0) {
			return fmt.Errorf("noiseLevel: %w", ErrNonFiniteValue)
		}
		if *r.NoiseLevel < 0 {
			return ErrNegativeNoise
		}
	}
	if r.Threshold != nil && (math.IsNaN(*r.Threshold) || math.IsInf(*r.Threshold, 0)) {
		return fmt.Errorf("threshold: %w", ErrNonFiniteValue)
	}
	return nil
}

// Merge returns cfg with the fields present in the request applied
func (r TickRequest) Merge(cfg SimulationConfig) SimulationConfig {
	if r.NoiseLevel != nil {
		cfg.NoiseLevel = *r.NoiseLevel
	}
	if r.Threshold != nil {
		cfg.Threshold = *r.Threshold
	}
	return cfg
}

// PredictionResult is the per-tick reply sent back on the session's connection
type PredictionResult struct {
	Timestamp     float64   `json:"timestamp"` // epoch seconds
	ActualPol     float64   `json:"actual_pol"`
	PredictedPol  float64   `json:"predicted_pol"`
	InferenceMs   float64   `json:"inference_ms"`
	NoisySpectrum []float64 `json:"noisy_spectrum"`
	Alert         bool      `json:"alert"`
	Anomaly       bool      `json:"anomaly"`
}

// ErrorAck is sent instead of a PredictionResult when a message is rejected
type ErrorAck struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ErrorCodeInvalidMessage marks a rejected inbound tick
const ErrorCodeInvalidMessage = "invalid_message"

// EpochSeconds converts t into the fractional epoch seconds used on the wire
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
