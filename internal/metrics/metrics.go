// Package metrics exposes Prometheus instrumentation for the daemon's
// ingest and notification pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors. Create one per process with
// NewMetrics and thread it into the components that record.
type Metrics struct {
	// EventCounter counts ingested events by type and project.
	EventCounter *prometheus.CounterVec

	// ActiveTransactions tracks the tracker's in-memory map size.
	ActiveTransactions prometheus.Gauge

	// TransactionDuration observes completed transaction durations.
	TransactionDuration prometheus.Histogram

	// NotificationCounter counts channel dispatches by channel and status.
	NotificationCounter *prometheus.CounterVec

	// SummaryCounter counts generated summaries by source (llm, fallback).
	SummaryCounter *prometheus.CounterVec

	// AudioQueueDepth tracks pending audio clips.
	AudioQueueDepth prometheus.Gauge

	// HTTPRequestDuration observes HTTP handler latency.
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors with the default
// registry; they surface on the /metrics endpoint.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trak_events_total",
				Help: "Total number of ingested events by type and project",
			},
			[]string{"event_type", "project"},
		),

		ActiveTransactions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "trak_active_transactions",
				Help: "Current number of in-flight transactions",
			},
		),

		TransactionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trak_transaction_duration_seconds",
				Help:    "Duration of completed transactions in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),

		NotificationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trak_notifications_total",
				Help: "Total number of channel dispatches by channel and status",
			},
			[]string{"channel", "status"},
		),

		SummaryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trak_summaries_total",
				Help: "Total number of generated summaries by source",
			},
			[]string{"source"},
		),

		AudioQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "trak_audio_queue_depth",
				Help: "Number of audio clips waiting for playback",
			},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trak_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trak_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// EventIngested records one accepted event.
func (m *Metrics) EventIngested(eventType, project string) {
	m.EventCounter.WithLabelValues(eventType, project).Inc()
}

// TransactionCompleted records one finished transaction.
func (m *Metrics) TransactionCompleted(durationMs int64) {
	m.TransactionDuration.Observe(float64(durationMs) / 1000)
}

// SetActiveTransactions updates the in-flight gauge.
func (m *Metrics) SetActiveTransactions(n int) {
	m.ActiveTransactions.Set(float64(n))
}

// NotificationDispatched records one channel attempt.
func (m *Metrics) NotificationDispatched(channel, status string) {
	m.NotificationCounter.WithLabelValues(channel, status).Inc()
}

// SummaryGenerated records a summary and its source ("llm" or
// "fallback").
func (m *Metrics) SummaryGenerated(source string) {
	m.SummaryCounter.WithLabelValues(source).Inc()
}

// SetAudioQueueDepth updates the queue gauge.
func (m *Metrics) SetAudioQueueDepth(n int) {
	m.AudioQueueDepth.Set(float64(n))
}

// ObserveHTTPRequest records one handled request.
func (m *Metrics) ObserveHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	code := strconv.Itoa(statusCode)
	m.HTTPRequestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	m.HTTPRequestCounter.WithLabelValues(method, path, code).Inc()
}
