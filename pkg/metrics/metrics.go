// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// PhaseTransitionsTotal counts conversation phase changes.
	PhaseTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "negotiation_phase_transitions_total",
			Help: "Conversation phase transitions",
		},
		[]string{"from", "to"},
	)

	// RealtimeEventsTotal counts realtime call events handled by the engine.
	RealtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "negotiation_realtime_events_total",
			Help: "Realtime call events received",
		},
		[]string{"type"},
	)

	// RealtimeFramesDropped counts inbound frames that failed to decode.
	RealtimeFramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "negotiation_realtime_frames_dropped_total",
			Help: "Malformed realtime frames dropped",
		},
	)

	// RealtimeChannelsActive tracks live realtime connections.
	RealtimeChannelsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "negotiation_realtime_channels_active",
			Help: "Number of open realtime call connections",
		},
	)

	// AnalysisFetchesTotal counts post-call analysis retrievals.
	AnalysisFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "negotiation_analysis_fetches_total",
			Help: "Post-call analysis fetch attempts",
		},
		[]string{"trigger", "result"},
	)

	// SnapshotWritesTotal counts session snapshot writes to the local store.
	SnapshotWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "negotiation_snapshot_writes_total",
			Help: "Session snapshot writes",
		},
		[]string{"result"},
	)

	// MirrorWritesTotal counts best-effort remote snapshot mirroring.
	MirrorWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "negotiation_mirror_writes_total",
			Help: "Remote session snapshot mirror writes",
		},
		[]string{"target", "result"},
	)

	// BackendRequestDuration tracks task/call backend latency.
	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "negotiation_backend_request_duration_seconds",
			Help:    "Task/call backend request duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation", "status"},
	)

	// SessionsActive tracks engines held by the session registry.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "negotiation_sessions_active",
			Help: "Number of live negotiation sessions",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordTransition records a phase change.
func RecordTransition(from, to string) {
	PhaseTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordBackend records one backend call.
func RecordBackend(operation, status string, duration float64) {
	BackendRequestDuration.WithLabelValues(operation, status).Observe(duration)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
