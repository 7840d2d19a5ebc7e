package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"nir-backend/internal/models"
)

// RecordStore persists audit rows. *database.ClickHouseDB implements it.
type RecordStore interface {
	SavePredictions(ctx context.Context, records []*models.PredictionRecord) error
	SaveSessionSummary(ctx context.Context, summary *models.SessionSummary) error
}

// RecorderService drains the dispatcher's recorder channels into a store.
// Prediction records are written in batches.
type RecorderService struct {
	store RecordStore

	// Input channels
	PredictionChan chan *models.PredictionRecord
	SummaryChan    chan *models.SessionSummary

	batchSize     int
	flushInterval time.Duration
	writeTimeout  time.Duration
	logger        *zap.SugaredLogger

	pending []*models.PredictionRecord
}

// RecorderServiceConfig holds configuration for recorder service
type RecorderServiceConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

// DefaultRecorderServiceConfig returns default configuration
func DefaultRecorderServiceConfig() RecorderServiceConfig {
	return RecorderServiceConfig{
		BatchSize:     100,
		FlushInterval: 2 * time.Second,
		WriteTimeout:  5 * time.Second,
	}
}

// NewRecorderService creates a new recorder service
func NewRecorderService(store RecordStore, dispatcher *Dispatcher, config RecorderServiceConfig, logger *zap.SugaredLogger) *RecorderService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	return &RecorderService{
		store:          store,
		PredictionChan: dispatcher.PredictionChan,
		SummaryChan:    dispatcher.SummaryChan,
		batchSize:      config.BatchSize,
		flushInterval:  config.FlushInterval,
		writeTimeout:   config.WriteTimeout,
		logger:         logger,
	}
}

// Start processes records until ctx is cancelled, then flushes what is
// pending.
func (r *RecorderService) Start(ctx context.Context) {
	r.logger.Infow("RecorderService: Starting...", "batch_size", r.batchSize, "flush_interval", r.flushInterval)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("RecorderService: Shutting down...")
			r.drain()
			r.flush(context.Background())
			r.logger.Info("RecorderService: Shutdown complete")
			return

		case record, ok := <-r.PredictionChan:
			if !ok {
				r.PredictionChan = nil
				continue
			}
			r.pending = append(r.pending, record)
			if len(r.pending) >= r.batchSize {
				r.flush(ctx)
			}

		case summary, ok := <-r.SummaryChan:
			if !ok {
				r.SummaryChan = nil
				continue
			}
			r.saveSummary(ctx, summary)

		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

// drain takes whatever is still buffered in the channels without blocking
func (r *RecorderService) drain() {
	for {
		select {
		case record, ok := <-r.PredictionChan:
			if !ok {
				r.PredictionChan = nil
				continue
			}
			r.pending = append(r.pending, record)
		case summary, ok := <-r.SummaryChan:
			if !ok {
				r.SummaryChan = nil
				continue
			}
			r.saveSummary(context.Background(), summary)
		default:
			return
		}
	}
}

func (r *RecorderService) flush(ctx context.Context) {
	if len(r.pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	if err := r.store.SavePredictions(ctx, r.pending); err != nil {
		r.logger.Errorw("RecorderService: Error saving predictions", "count", len(r.pending), "error", err)
	} else {
		r.logger.Debugw("RecorderService: Saved predictions", "count", len(r.pending))
	}
	r.pending = nil
}

func (r *RecorderService) saveSummary(ctx context.Context, summary *models.SessionSummary) {
	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	if err := r.store.SaveSessionSummary(ctx, summary); err != nil {
		r.logger.Errorw("RecorderService: Error saving session summary", "session", summary.SessionID, "error", err)
		return
	}
	r.logger.Infow("RecorderService: Saved session summary",
		"session", summary.SessionID, "ticks", summary.Ticks, "alerts", summary.Alerts)
}
