package services

import (
	"go.uber.org/zap"

	"nir-backend/internal/metrics"
	"nir-backend/internal/models"
)

// Sink names used in the dropped-events metric
const (
	SinkRecorder = "recorder"
	SinkAlerts   = "alerts"
)

// Dispatcher fans session events out to the optional sinks. Sends never
// block: when a sink's channel is full the event is dropped and counted.
// A nil channel means the sink is disabled.
type Dispatcher struct {
	// Output channels (read by RecorderService and the MQTT alert publisher)
	PredictionChan chan *models.PredictionRecord
	SummaryChan    chan *models.SessionSummary
	AlertChan      chan *models.AlertEvent

	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
}

// DispatcherConfig holds configuration for the dispatcher
type DispatcherConfig struct {
	ChannelSize     int
	RecorderEnabled bool
	AlertsEnabled   bool
}

// NewDispatcher creates the channels for the enabled sinks
func NewDispatcher(config DispatcherConfig, m *metrics.Metrics, logger *zap.SugaredLogger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if m == nil {
		m = metrics.New()
	}

	d := &Dispatcher{metrics: m, logger: logger}
	if config.RecorderEnabled {
		d.PredictionChan = make(chan *models.PredictionRecord, config.ChannelSize)
		d.SummaryChan = make(chan *models.SessionSummary, config.ChannelSize)
	}
	if config.AlertsEnabled {
		d.AlertChan = make(chan *models.AlertEvent, config.ChannelSize)
	}
	return d
}

func (d *Dispatcher) RecordPrediction(record *models.PredictionRecord) {
	if d.PredictionChan == nil {
		return
	}
	select {
	case d.PredictionChan <- record:
	default:
		d.drop(SinkRecorder, record.SessionID)
	}
}

func (d *Dispatcher) RecordSession(summary *models.SessionSummary) {
	if d.SummaryChan == nil {
		return
	}
	select {
	case d.SummaryChan <- summary:
	default:
		d.drop(SinkRecorder, summary.SessionID)
	}
}

func (d *Dispatcher) RecordAlert(event *models.AlertEvent) {
	if d.AlertChan == nil {
		return
	}
	select {
	case d.AlertChan <- event:
	default:
		d.drop(SinkAlerts, event.SessionID)
	}
}

func (d *Dispatcher) drop(sink, sessionID string) {
	d.metrics.Dropped(sink)
	d.logger.Warnw("Dispatcher: channel full, dropping event", "sink", sink, "session", sessionID)
}
