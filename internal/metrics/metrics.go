// Package metrics provides Prometheus metrics for the relay server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lecture_relay"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Relay session metrics
	SessionsTotal    prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionsRejected *prometheus.CounterVec
	SessionDuration  *prometheus.HistogramVec

	// Audio metrics
	AudioBytesReceived prometheus.Counter
	FramesForwarded    prometheus.Counter
	FramesDropped      *prometheus.CounterVec

	// Transcript metrics
	TranscriptsPublished prometheus.Counter
	TranscriptsDiscarded *prometheus.CounterVec

	// Link metrics
	LinkOpenLatency *prometheus.HistogramVec
	LinkErrors      *prometheus.CounterVec

	// Polling endpoint metrics
	ChunkRequests *prometheus.CounterVec
	ChunkLatency  prometheus.Histogram

	// Kafka publish metrics
	KafkaPublishTotal  *prometheus.CounterVec
	KafkaPublishErrors *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of relay sessions opened",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently open relay sessions",
		}),
		SessionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_rejected_total",
			Help:      "Relay connections rejected before upgrade",
		}, []string{"reason"}),
		SessionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of relay sessions in seconds",
			Buckets:   []float64{1, 5, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"status"}),

		AudioBytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received from clients",
		}),
		FramesForwarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_forwarded_total",
			Help:      "Audio frames forwarded to a recognition link",
		}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Audio frames not forwarded to a recognition link",
		}, []string{"reason"}),

		TranscriptsPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_published_total",
			Help:      "Transcript events sent to clients",
		}),
		TranscriptsDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_discarded_total",
			Help:      "Recognition results not sent to clients",
		}, []string{"reason"}),

		LinkOpenLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "link_open_seconds",
			Help:      "Time from session start until the recognition link was ready",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"provider"}),
		LinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_errors_total",
			Help:      "Recognition link failures",
		}, []string{"provider"}),

		ChunkRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_requests_total",
			Help:      "Polling transcription requests by outcome",
		}, []string{"outcome"}),
		ChunkLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_latency_seconds",
			Help:      "Latency of polling transcription requests",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),

		KafkaPublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total Kafka publish attempts",
		}, []string{"topic"}),
		KafkaPublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total Kafka publish failures",
		}, []string{"topic"}),
	}
}

// RecordSessionStart records a new relay session.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a relay session ending.
func (m *Metrics) RecordSessionEnd(status string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordSessionRejected records a connection refused before upgrade.
func (m *Metrics) RecordSessionRejected(reason string) {
	m.SessionsRejected.WithLabelValues(reason).Inc()
}

// RecordFrame records one inbound audio frame.
func (m *Metrics) RecordFrame(bytes int, forwarded bool, dropReason string) {
	m.AudioBytesReceived.Add(float64(bytes))
	if forwarded {
		m.FramesForwarded.Inc()
		return
	}
	m.FramesDropped.WithLabelValues(dropReason).Inc()
}

// RecordTranscript records a transcript event sent to a client.
func (m *Metrics) RecordTranscript() {
	m.TranscriptsPublished.Inc()
}

// RecordTranscriptDiscarded records a recognition result that was not relayed.
func (m *Metrics) RecordTranscriptDiscarded(reason string) {
	m.TranscriptsDiscarded.WithLabelValues(reason).Inc()
}

// RecordLinkOpen records how long a link took to become ready.
func (m *Metrics) RecordLinkOpen(provider string, seconds float64) {
	m.LinkOpenLatency.WithLabelValues(provider).Observe(seconds)
}

// RecordLinkError records a recognition link failure.
func (m *Metrics) RecordLinkError(provider string) {
	m.LinkErrors.WithLabelValues(provider).Inc()
}

// RecordChunkRequest records a polling transcription request.
func (m *Metrics) RecordChunkRequest(outcome string, latencySeconds float64) {
	m.ChunkRequests.WithLabelValues(outcome).Inc()
	m.ChunkLatency.Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic string, err error) {
	m.KafkaPublishTotal.WithLabelValues(topic).Inc()
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic).Inc()
	}
}
