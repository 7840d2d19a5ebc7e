// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nir"

// Tick outcomes
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics owns a dedicated registry so tests can create as many as they like
type Metrics struct {
	registry *prometheus.Registry

	ticks          *prometheus.CounterVec
	inference      prometheus.Histogram
	activeSessions prometheus.Gauge
	alerts         prometheus.Counter
	anomalies      prometheus.Counter
	dropped        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Streaming ticks handled, by outcome.",
		}, []string{"outcome"}),
		inference: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Time spent preprocessing, predicting and scoring one spectrum.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Streaming sessions currently registered.",
		}),
		alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Ticks whose prediction fell below the session threshold.",
		}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Ticks flagged by the anomaly scorer.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a sink channel was full.",
		}, []string{"sink"}),
	}

	m.registry.MustRegister(
		m.ticks,
		m.inference,
		m.activeSessions,
		m.alerts,
		m.anomalies,
		m.dropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Tick(outcome string) {
	m.ticks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveInference(d time.Duration) {
	m.inference.Observe(d.Seconds())
}

func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) Alert() {
	m.alerts.Inc()
}

func (m *Metrics) Anomaly() {
	m.anomalies.Inc()
}

func (m *Metrics) Dropped(sink string) {
	m.dropped.WithLabelValues(sink).Inc()
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
