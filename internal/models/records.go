package models

import "time"

// PredictionRecord is the audit row persisted for every successful tick.
// The noisy spectrum is not stored.
type PredictionRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id"`
	Cursor       int       `json:"cursor"`
	ActualPol    float64   `json:"actual_pol"`
	PredictedPol float64   `json:"predicted_pol"`
	InferenceMs  float64   `json:"inference_ms"`
	Alert        bool      `json:"alert"`
	Anomaly      bool      `json:"anomaly"`
	NoiseLevel   float64   `json:"noise_level"`
	Threshold    float64   `json:"threshold"`
}

// AlertEvent is published when a tick raises an alert or an anomaly
type AlertEvent struct {
	SessionID    string    `json:"session_id"`
	Timestamp    time.Time `json:"timestamp"`
	PredictedPol float64   `json:"predicted_pol"`
	Threshold    float64   `json:"threshold"`
	Alert        bool      `json:"alert"`
	Anomaly      bool      `json:"anomaly"`
}

// SessionSummary describes a finished streaming session
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	OpenedAt  time.Time `json:"opened_at"`
	ClosedAt  time.Time `json:"closed_at"`
	Ticks     uint64    `json:"ticks"`
	Alerts    uint64    `json:"alerts"`
	Anomalies uint64    `json:"anomalies"`
	Rejected  uint64    `json:"rejected"` // malformed inbound messages
}

// SessionInfo is a point-in-time view of an active session
type SessionInfo struct {
	SessionID string           `json:"session_id"`
	OpenedAt  time.Time        `json:"opened_at"`
	Cursor    int              `json:"cursor"`
	Config    SimulationConfig `json:"config"`
	Ticks     uint64           `json:"ticks"`
	Alerts    uint64           `json:"alerts"`
	Anomalies uint64           `json:"anomalies"`
	Rejected  uint64           `json:"rejected"`
}

// ReportSummary is the shift report aggregation
type ReportSummary struct {
	Samples          int     `json:"samples"`
	AveragePredicted float64 `json:"average_predicted_pol"`
	Breaches         int     `json:"breaches"` // predictions below Threshold
	Threshold        float64 `json:"threshold"`
	RMSE             float64 `json:"rmse"` // predicted vs actual, 0 when no samples
}
