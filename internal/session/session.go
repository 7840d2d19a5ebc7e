// Package session implements the per-connection streaming protocol: each
// inbound message advances the session by one reference sample and yields
// one prediction for that connection only.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"nir-backend/internal/metrics"
	"nir-backend/internal/models"
	"nir-backend/internal/services"
	"nir-backend/internal/simulator"
)

// ErrorCodeInternal marks a tick that failed after the message was accepted
const ErrorCodeInternal = "internal_error"

// ErrNonFiniteResult rejects a tick whose settings drove the prediction or
// the noisy spectrum out of the float range
var ErrNonFiniteResult = errors.New("prediction is not finite")

// State is the session lifecycle
type State int32

const (
	Connecting State = iota
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Conn is the message transport. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Engine supplies reference samples and runs inference.
// *services.InferenceService satisfies it.
type Engine interface {
	PoolSize() int
	Sample(i int) ([]float64, float64)
	Infer(raw []float64) (services.Prediction, error)
}

// EventSink receives audit events. *services.Dispatcher satisfies it.
type EventSink interface {
	RecordPrediction(*models.PredictionRecord)
	RecordAlert(*models.AlertEvent)
	RecordSession(*models.SessionSummary)
}

// MessageError rejects one inbound message. The session stays active and its
// configuration and cursor are left untouched.
type MessageError struct {
	Err error
}

func (e *MessageError) Error() string {
	return fmt.Sprintf("invalid message: %v", e.Err)
}

func (e *MessageError) Unwrap() error {
	return e.Err
}

// Options configures a new session
type Options struct {
	Defaults models.SimulationConfig
	Noise    *simulator.NoiseSimulator
	Sink     EventSink
	Metrics  *metrics.Metrics
	Logger   *zap.SugaredLogger
	Now      func() time.Time
}

// Session is one streaming connection. Tick and Run are driven by a single
// goroutine; Info may be called from any goroutine.
type Session struct {
	id      string
	conn    Conn
	engine  Engine
	noise   *simulator.NoiseSimulator
	sink    EventSink
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
	now     func() time.Time

	mu        sync.Mutex
	state     State
	cursor    int
	config    models.SimulationConfig
	openedAt  time.Time
	ticks     uint64
	alerts    uint64
	anomalies uint64
	rejected  uint64
}

// New creates a session in the Connecting state
func New(id string, conn Conn, engine Engine, opts Options) *Session {
	if opts.Noise == nil {
		opts.Noise = simulator.NewNoiseSimulator()
	}
	if opts.Sink == nil {
		opts.Sink = discardSink{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Session{
		id:       id,
		conn:     conn,
		engine:   engine,
		noise:    opts.Noise,
		sink:     opts.Sink,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With("session", id),
		now:      opts.Now,
		state:    Connecting,
		config:   opts.Defaults,
		openedAt: opts.Now(),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns a snapshot of the session
func (s *Session) Info() models.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SessionInfo{
		SessionID: s.id,
		OpenedAt:  s.openedAt,
		Cursor:    s.cursor,
		Config:    s.config,
		Ticks:     s.ticks,
		Alerts:    s.alerts,
		Anomalies: s.anomalies,
		Rejected:  s.rejected,
	}
}

// Tick handles one inbound message. A malformed message, or one whose
// settings drive the result out of the float range, returns a
// *MessageError and changes nothing.
func (s *Session) Tick(raw []byte) (*models.PredictionResult, error) {
	var req models.TickRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, s.reject(err)
	}
	if err := req.Validate(); err != nil {
		return nil, s.reject(err)
	}

	s.mu.Lock()
	cfg := req.Merge(s.config)
	cursor := s.cursor
	s.mu.Unlock()

	reference, actual := s.engine.Sample(cursor)
	noisy := s.noise.Perturb(reference, cfg.NoiseFraction())

	pred, err := s.engine.Infer(noisy)
	if err != nil {
		s.metrics.Tick(metrics.OutcomeFailed)
		return nil, fmt.Errorf("failed to run inference on sample %d: %w", cursor, err)
	}
	// Extreme noise levels can overflow the pipeline; the merged config is
	// only kept once the tick produced a finite result.
	if !finite(pred.Predicted) || !allFinite(noisy) {
		return nil, s.reject(fmt.Errorf("noiseLevel %g: %w", cfg.NoiseLevel, ErrNonFiniteResult))
	}
	alert := pred.Predicted < cfg.Threshold
	now := s.now()

	s.mu.Lock()
	s.config = cfg
	s.cursor = (cursor + 1) % s.engine.PoolSize()
	s.ticks++
	if alert {
		s.alerts++
	}
	if pred.Anomaly {
		s.anomalies++
	}
	s.mu.Unlock()

	s.metrics.Tick(metrics.OutcomeOK)
	s.metrics.ObserveInference(pred.Latency)
	if alert {
		s.metrics.Alert()
	}
	if pred.Anomaly {
		s.metrics.Anomaly()
	}

	latencyMs := float64(pred.Latency) / float64(time.Millisecond)
	s.sink.RecordPrediction(&models.PredictionRecord{
		Timestamp:    now,
		SessionID:    s.id,
		Cursor:       cursor,
		ActualPol:    actual,
		PredictedPol: pred.Predicted,
		InferenceMs:  latencyMs,
		Alert:        alert,
		Anomaly:      pred.Anomaly,
		NoiseLevel:   cfg.NoiseLevel,
		Threshold:    cfg.Threshold,
	})
	if alert || pred.Anomaly {
		s.sink.RecordAlert(&models.AlertEvent{
			SessionID:    s.id,
			Timestamp:    now,
			PredictedPol: pred.Predicted,
			Threshold:    cfg.Threshold,
			Alert:        alert,
			Anomaly:      pred.Anomaly,
		})
	}

	return &models.PredictionResult{
		Timestamp:     models.EpochSeconds(now),
		ActualPol:     actual,
		PredictedPol:  pred.Predicted,
		InferenceMs:   latencyMs,
		NoisySpectrum: noisy,
		Alert:         alert,
		Anomaly:       pred.Anomaly,
	}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if !finite(v) {
			return false
		}
	}
	return true
}

func (s *Session) reject(err error) error {
	s.mu.Lock()
	s.rejected++
	s.mu.Unlock()
	s.metrics.Tick(metrics.OutcomeRejected)
	return &MessageError{Err: err}
}

// Run serves the connection until the client disconnects, a reply cannot be
// written or ctx is cancelled. The connection is closed on return.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	s.state = Active
	s.mu.Unlock()
	s.logger.Info("Session: active")

	stop := context.AfterFunc(ctx, func() {
		s.conn.Close()
	})
	defer stop()
	defer s.close()

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Infow("Session: client disconnected", "reason", err)
			return nil
		}

		result, err := s.Tick(msg)
		var msgErr *MessageError
		switch {
		case errors.As(err, &msgErr):
			s.logger.Debugw("Session: rejected message", "error", msgErr.Err)
			err = s.conn.WriteJSON(models.ErrorAck{Error: msgErr.Error(), Code: models.ErrorCodeInvalidMessage})
		case err != nil:
			s.logger.Errorw("Session: tick failed", "error", err)
			_ = s.conn.WriteJSON(models.ErrorAck{Error: err.Error(), Code: ErrorCodeInternal})
			return err
		default:
			err = s.conn.WriteJSON(result)
		}
		if err != nil {
			return fmt.Errorf("failed to write reply: %w", err)
		}
	}
}

func (s *Session) close() {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Closed
	summary := &models.SessionSummary{
		SessionID: s.id,
		OpenedAt:  s.openedAt,
		ClosedAt:  s.now(),
		Ticks:     s.ticks,
		Alerts:    s.alerts,
		Anomalies: s.anomalies,
		Rejected:  s.rejected,
	}
	s.mu.Unlock()

	s.conn.Close()
	s.sink.RecordSession(summary)
	s.logger.Infow("Session: closed", "ticks", summary.Ticks, "alerts", summary.Alerts, "anomalies", summary.Anomalies)
}

type discardSink struct{}

func (discardSink) RecordPrediction(*models.PredictionRecord) {}
func (discardSink) RecordAlert(*models.AlertEvent)           {}
func (discardSink) RecordSession(*models.SessionSummary)     {}
