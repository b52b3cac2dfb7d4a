package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the execution engine.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal     *prometheus.CounterVec
	ExecutionDuration   *prometheus.HistogramVec
	QueueWaitDuration   prometheus.Histogram
	AdmissionRejections *prometheus.CounterVec
	QueueDepth          *prometheus.GaugeVec
	ActiveExecutions    *prometheus.GaugeVec
	EventSubscribers    prometheus.Gauge
	RequestsInFlight    prometheus.Gauge
	CodeSizeBytes       prometheus.Histogram
}

// NewMetrics creates and registers all engine metrics on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "collabquest",
				Name:      "executions_total",
				Help:      "Total executions by language and terminal status.",
			},
			[]string{"language", "status"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "collabquest",
				Name:      "execution_duration_seconds",
				Help:      "Sandbox run duration in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"language"},
		),

		QueueWaitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "collabquest",
				Name:      "queue_wait_duration_seconds",
				Help:      "Time spent queued before execution starts.",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
		),

		AdmissionRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "collabquest",
				Name:      "admission_rejections_total",
				Help:      "Submissions rejected at admission, by reason.",
			},
			[]string{"reason"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "collabquest",
				Name:      "queue_depth",
				Help:      "Queued executions per room.",
			},
			[]string{"room"},
		),

		ActiveExecutions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "collabquest",
				Name:      "active_executions",
				Help:      "Currently running executions per room.",
			},
			[]string{"room"},
		),

		EventSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "collabquest",
				Name:      "event_subscribers",
				Help:      "Connected room event subscribers.",
			},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "collabquest",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "HTTP requests currently being processed.",
			},
		),

		CodeSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "collabquest",
				Name:      "code_size_bytes",
				Help:      "Size of submitted code in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.QueueWaitDuration,
		m.AdmissionRejections,
		m.QueueDepth,
		m.ActiveExecutions,
		m.EventSubscribers,
		m.RequestsInFlight,
		m.CodeSizeBytes,
	)

	return m
}

// RecordExecution records a terminal execution outcome.
func (m *Metrics) RecordExecution(language, status string, durationSec float64) {
	m.ExecutionsTotal.WithLabelValues(language, status).Inc()
	m.ExecutionDuration.WithLabelValues(language).Observe(durationSec)
}

// RecordRejection records an admission rejection.
func (m *Metrics) RecordRejection(reason string) {
	m.AdmissionRejections.WithLabelValues(reason).Inc()
}

// SetRoomGauges updates the per-room queue and active gauges.
func (m *Metrics) SetRoomGauges(roomID string, queued, active int) {
	m.QueueDepth.WithLabelValues(roomID).Set(float64(queued))
	m.ActiveExecutions.WithLabelValues(roomID).Set(float64(active))
}
