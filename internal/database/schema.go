package database

// SQL schemas for all ClickHouse tables

const (
	// PredictionsTableSQL creates the nir_predictions table (one row per tick)
	PredictionsTableSQL = `
		CREATE TABLE IF NOT EXISTS nir_predictions (
			timestamp DateTime64(3),
			session_id String,
			cursor UInt32,
			actual_pol Float64,
			predicted_pol Float64,
			inference_ms Float64,
			alert Bool,
			anomaly Bool,
			noise_level Float64,
			threshold Float64
		) ENGINE = MergeTree()
		ORDER BY (session_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// SessionHistoryTableSQL creates the session_history table (one row per closed session)
	SessionHistoryTableSQL = `
		CREATE TABLE IF NOT EXISTS session_history (
			session_id String,
			opened_at DateTime64(3),
			closed_at DateTime64(3),
			ticks UInt64,
			alerts UInt64,
			anomalies UInt64,
			rejected UInt64
		) ENGINE = MergeTree()
		ORDER BY (closed_at, session_id)
		PARTITION BY toYYYYMM(closed_at)
	`
)

// AllTables returns all table creation SQL statements
func AllTables() []string {
	return []string{
		PredictionsTableSQL,
		SessionHistoryTableSQL,
	}
}
