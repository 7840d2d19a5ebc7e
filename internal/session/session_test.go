package session

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nir-backend/internal/models"
	"nir-backend/internal/services"
	"nir-backend/internal/simulator"
)

// stillSource makes the noise simulator an identity: no jitter, zero drift.
type stillSource struct{}

func (stillSource) NormFloat64() float64 { return 0 }
func (stillSource) Float64() float64     { return 0.5 }

// indexEngine holds a pool where sample i is the one-point spectrum {i} with
// ground truth 10+i, and predicts 10+x[0]. Spectra from sample 4 upward are
// anomalous.
type indexEngine struct {
	size int
	fail bool
}

func (e *indexEngine) PoolSize() int { return e.size }

func (e *indexEngine) Sample(i int) ([]float64, float64) {
	return []float64{float64(i)}, 10 + float64(i)
}

func (e *indexEngine) Infer(raw []float64) (services.Prediction, error) {
	if e.fail {
		return services.Prediction{}, errors.New("model exploded")
	}
	return services.Prediction{Predicted: 10 + raw[0], Anomaly: raw[0] >= 4, Latency: time.Millisecond}, nil
}

// steadySource pushes every value one standard deviation up, with zero drift.
type steadySource struct{}

func (steadySource) NormFloat64() float64 { return 1 }
func (steadySource) Float64() float64     { return 0.5 }

// overflowEngine predicts NaN once amplitudes approach the float64 limit,
// as SNV does when its variance overflows.
type overflowEngine struct {
	indexEngine
}

func (e *overflowEngine) Infer(raw []float64) (services.Prediction, error) {
	if math.Abs(raw[0]) > 1e300 {
		return services.Prediction{Predicted: math.NaN(), Latency: time.Millisecond}, nil
	}
	return e.indexEngine.Infer(raw)
}

type recordingSink struct {
	mu          sync.Mutex
	predictions []*models.PredictionRecord
	alerts      []*models.AlertEvent
	summaries   []*models.SessionSummary
}

func (r *recordingSink) RecordPrediction(p *models.PredictionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predictions = append(r.predictions, p)
}

func (r *recordingSink) RecordAlert(a *models.AlertEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *recordingSink) RecordSession(s *models.SessionSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
}

func (r *recordingSink) summaryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.summaries)
}

type fakeConn struct {
	in     chan []byte
	out    chan any
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte),
		out:    make(chan any, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return 1, msg, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	c.out <- v
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func newTestSession(engine Engine, sink EventSink) *Session {
	return New("s-1", newFakeConn(), engine, Options{
		Defaults: models.DefaultSimulationConfig(),
		Noise:    simulator.NewNoiseSimulatorWithSource(stillSource{}),
		Sink:     sink,
	})
}

func TestTickCursorWrapsAroundPool(t *testing.T) {
	s := newTestSession(&indexEngine{size: 5}, nil)

	var actuals []float64
	for i := 0; i < 10; i++ {
		result, err := s.Tick([]byte(`{}`))
		require.NoError(t, err)
		actuals = append(actuals, result.ActualPol)
	}
	assert.Equal(t, []float64{10, 11, 12, 13, 14, 10, 11, 12, 13, 14}, actuals)
	assert.Equal(t, 0, s.Info().Cursor)
	assert.Equal(t, uint64(10), s.Info().Ticks)
}

func TestTickAlertIsStrictlyBelowThreshold(t *testing.T) {
	s := newTestSession(&indexEngine{size: 5}, nil)

	var alerts []bool
	for i := 0; i < 5; i++ {
		result, err := s.Tick([]byte(`{"threshold": 12}`))
		require.NoError(t, err)
		alerts = append(alerts, result.Alert)
	}
	// predictions 10..14; 12 equals the threshold and is not an alert
	assert.Equal(t, []bool{true, true, false, false, false}, alerts)
}

func TestTickMergesPartialConfig(t *testing.T) {
	s := newTestSession(&indexEngine{size: 5}, nil)

	_, err := s.Tick([]byte(`{"threshold": 11.5}`))
	require.NoError(t, err)
	_, err = s.Tick([]byte(`{"noiseLevel": 0}`))
	require.NoError(t, err)

	assert.Equal(t, models.SimulationConfig{NoiseLevel: 0, Threshold: 11.5}, s.Info().Config)

	result, err := s.Tick([]byte(`{}`))
	require.NoError(t, err)
	// sample 2 predicts 12, above the remembered 11.5
	assert.False(t, result.Alert)
}

func TestTickRejectsMalformedMessages(t *testing.T) {
	s := newTestSession(&indexEngine{size: 5}, nil)
	_, err := s.Tick([]byte(`{"threshold": 11}`))
	require.NoError(t, err)
	before := s.Info()

	for _, msg := range []string{`{bad json`, `{"noiseLevel": -1}`, `"noise"`, `{"threshold": "high"}`, ``} {
		result, err := s.Tick([]byte(msg))
		assert.Nil(t, result, msg)

		var msgErr *MessageError
		assert.ErrorAs(t, err, &msgErr, msg)
	}

	after := s.Info()
	assert.Equal(t, before.Cursor, after.Cursor)
	assert.Equal(t, before.Config, after.Config)
	assert.Equal(t, uint64(5), after.Rejected)
	assert.Equal(t, before.Ticks, after.Ticks)
}

func TestTickRejectsNonFiniteResult(t *testing.T) {
	s := New("s-overflow", newFakeConn(), &overflowEngine{indexEngine{size: 5}}, Options{
		Defaults: models.DefaultSimulationConfig(),
		Noise:    simulator.NewNoiseSimulatorWithSource(steadySource{}),
	})
	_, err := s.Tick([]byte(`{"noiseLevel": 0}`))
	require.NoError(t, err)
	before := s.Info()

	result, err := s.Tick([]byte(`{"noiseLevel": 1e306, "threshold": 50}`))
	assert.Nil(t, result)
	var msgErr *MessageError
	require.ErrorAs(t, err, &msgErr)
	assert.ErrorIs(t, err, ErrNonFiniteResult)

	after := s.Info()
	assert.Equal(t, before.Cursor, after.Cursor)
	assert.Equal(t, before.Config, after.Config)
	assert.Equal(t, before.Ticks, after.Ticks)
	assert.Equal(t, uint64(1), after.Rejected)

	// the next tick runs with the previous settings
	result, err = s.Tick([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 11.0, result.ActualPol)
	assert.Equal(t, 11.0, result.PredictedPol)
}

func TestTickZeroNoiseReturnsReference(t *testing.T) {
	s := newTestSession(&indexEngine{size: 5}, nil)
	_, err := s.Tick([]byte(`{}`))
	require.NoError(t, err)

	result, err := s.Tick([]byte(`{"noiseLevel": 0}`))
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, result.NoisySpectrum)
	assert.Equal(t, result.ActualPol, result.PredictedPol)
	assert.Equal(t, 1.0, result.InferenceMs)
}

func TestTickEmitsEvents(t *testing.T) {
	sink := &recordingSink{}
	s := newTestSession(&indexEngine{size: 5}, sink)

	for i := 0; i < 5; i++ {
		_, err := s.Tick([]byte(`{"threshold": 11}`))
		require.NoError(t, err)
	}

	require.Len(t, sink.predictions, 5)
	assert.Equal(t, 3, sink.predictions[3].Cursor)
	assert.Equal(t, "s-1", sink.predictions[3].SessionID)
	assert.Equal(t, 11.0, sink.predictions[3].Threshold)

	// sample 0 alerts, sample 4 is anomalous
	require.Len(t, sink.alerts, 2)
	assert.True(t, sink.alerts[0].Alert)
	assert.False(t, sink.alerts[0].Anomaly)
	assert.True(t, sink.alerts[1].Anomaly)
}

func TestRunServesUntilDisconnect(t *testing.T) {
	sink := &recordingSink{}
	conn := newFakeConn()
	s := New("s-run", conn, &indexEngine{size: 3}, Options{
		Defaults: models.DefaultSimulationConfig(),
		Noise:    simulator.NewNoiseSimulatorWithSource(stillSource{}),
		Sink:     sink,
	})
	assert.Equal(t, Connecting, s.State())

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	conn.in <- []byte(`{"noiseLevel": 0}`)
	reply := (<-conn.out).(*models.PredictionResult)
	assert.Equal(t, 10.0, reply.ActualPol)
	assert.Equal(t, Active, s.State())

	conn.in <- []byte(`nope`)
	ack := (<-conn.out).(models.ErrorAck)
	assert.Equal(t, models.ErrorCodeInvalidMessage, ack.Code)

	conn.in <- []byte(`{}`)
	reply = (<-conn.out).(*models.PredictionResult)
	assert.Equal(t, 11.0, reply.ActualPol)

	close(conn.in)
	require.NoError(t, <-done)
	assert.Equal(t, Closed, s.State())

	require.Len(t, sink.summaries, 1)
	assert.Equal(t, uint64(2), sink.summaries[0].Ticks)
	assert.Equal(t, uint64(1), sink.summaries[0].Rejected)
}

func TestRunSurvivesNonFiniteResult(t *testing.T) {
	conn := newFakeConn()
	s := New("s-huge-noise", conn, &overflowEngine{indexEngine{size: 3}}, Options{
		Defaults: models.DefaultSimulationConfig(),
		Noise:    simulator.NewNoiseSimulatorWithSource(steadySource{}),
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	conn.in <- []byte(`{"noiseLevel": 0}`)
	reply := (<-conn.out).(*models.PredictionResult)
	assert.Equal(t, 10.0, reply.ActualPol)

	conn.in <- []byte(`{"noiseLevel": 1e308}`)
	ack := (<-conn.out).(models.ErrorAck)
	assert.Equal(t, models.ErrorCodeInvalidMessage, ack.Code)
	assert.Equal(t, Active, s.State())

	conn.in <- []byte(`{}`)
	reply = (<-conn.out).(*models.PredictionResult)
	assert.Equal(t, 11.0, reply.ActualPol)

	close(conn.in)
	require.NoError(t, <-done)
}

func TestRunStopsOnInferenceFailure(t *testing.T) {
	conn := newFakeConn()
	s := New("s-fail", conn, &indexEngine{size: 3, fail: true}, Options{Defaults: models.DefaultSimulationConfig()})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	conn.in <- []byte(`{}`)
	ack := (<-conn.out).(models.ErrorAck)
	assert.Equal(t, ErrorCodeInternal, ack.Code)
	assert.Error(t, <-done)
	assert.Equal(t, Closed, s.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "State(9)", State(9).String())
}
