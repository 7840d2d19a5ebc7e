package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"nir-backend/internal/models"
)

type ClickHouseDB struct {
	conn   driver.Conn
	logger *zap.SugaredLogger
}

// Options holds the ClickHouse connection settings
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(ctx context.Context, opts Options, logger *zap.SugaredLogger) (*ClickHouseDB, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})

	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Infof("Connected to ClickHouse at %s", opts.Addr)

	db := &ClickHouseDB{conn: conn, logger: logger}

	// Initialize schema
	if err := db.InitSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// InitSchema creates the necessary tables if they don't exist
func (db *ClickHouseDB) InitSchema(ctx context.Context) error {
	for _, tableSQL := range AllTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	db.logger.Info("Database schema initialized successfully")
	return nil
}

// SavePredictions inserts a batch of per-tick records
func (db *ClickHouseDB) SavePredictions(ctx context.Context, records []*models.PredictionRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := db.conn.PrepareBatch(ctx, `
		INSERT INTO nir_predictions (timestamp, session_id, cursor, actual_pol, predicted_pol,
			inference_ms, alert, anomaly, noise_level, threshold)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare prediction batch: %w", err)
	}

	for _, r := range records {
		err := batch.Append(
			r.Timestamp,
			r.SessionID,
			uint32(r.Cursor),
			r.ActualPol,
			r.PredictedPol,
			r.InferenceMs,
			r.Alert,
			r.Anomaly,
			r.NoiseLevel,
			r.Threshold,
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append prediction record: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert prediction records: %w", err)
	}
	return nil
}

// SaveSessionSummary records a closed session
func (db *ClickHouseDB) SaveSessionSummary(ctx context.Context, summary *models.SessionSummary) error {
	query := `
		INSERT INTO session_history (session_id, opened_at, closed_at, ticks, alerts, anomalies, rejected)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		summary.SessionID,
		summary.OpenedAt,
		summary.ClosedAt,
		summary.Ticks,
		summary.Alerts,
		summary.Anomalies,
		summary.Rejected,
	)

	if err != nil {
		return fmt.Errorf("failed to insert session summary: %w", err)
	}

	return nil
}

// GetShiftSummary aggregates all predictions recorded since the given time
func (db *ClickHouseDB) GetShiftSummary(ctx context.Context, since time.Time, threshold float64) (*models.ReportSummary, error) {
	query := `
		SELECT
			count() AS samples,
			if(samples = 0, 0, avg(predicted_pol)) AS avg_predicted,
			countIf(predicted_pol < ?) AS breaches,
			if(samples = 0, 0, sqrt(avg(pow(predicted_pol - actual_pol, 2)))) AS rmse
		FROM nir_predictions
		WHERE timestamp >= ?
	`

	var samples, breaches uint64
	var avgPredicted, rmse float64

	row := db.conn.QueryRow(ctx, query, threshold, since)
	if err := row.Scan(&samples, &avgPredicted, &breaches, &rmse); err != nil {
		return nil, fmt.Errorf("failed to query shift summary: %w", err)
	}

	return &models.ReportSummary{
		Samples:          int(samples),
		AveragePredicted: avgPredicted,
		Breaches:         int(breaches),
		Threshold:        threshold,
		RMSE:             rmse,
	}, nil
}

// GetRecentSessions returns the most recently closed sessions, newest first
func (db *ClickHouseDB) GetRecentSessions(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	query := `
		SELECT session_id, opened_at, closed_at, ticks, alerts, anomalies, rejected
		FROM session_history
		ORDER BY closed_at DESC
		LIMIT ?
	`

	rows, err := db.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session history: %w", err)
	}
	defer rows.Close()

	var sessions []models.SessionSummary
	for rows.Next() {
		var s models.SessionSummary
		if err := rows.Scan(&s.SessionID, &s.OpenedAt, &s.ClosedAt, &s.Ticks, &s.Alerts, &s.Anomalies, &s.Rejected); err != nil {
			return nil, fmt.Errorf("failed to scan session history: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session history: %w", err)
	}
	return sessions, nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		if err := db.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		db.logger.Info("ClickHouse connection closed")
	}
	return nil
}
