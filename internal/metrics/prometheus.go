package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dictation"

// Metrics contains all Prometheus metrics for the dictation service
type Metrics struct {
	// Session metrics
	SessionState    *prometheus.GaugeVec
	SessionStarts   *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	StopFailures    prometheus.Counter

	// Frame metrics
	Frames *prometheus.CounterVec

	// Backend metrics
	BackendConnects        *prometheus.CounterVec
	BackendConnectDuration prometheus.Histogram
	BackendMessages        *prometheus.CounterVec

	// Transcript metrics
	TranscriptEvents *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec

	states []string
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		SessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current session state, 1 for the active state label",
		}, []string{"state"}),
		SessionStarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_starts_total",
			Help:      "Total number of session start attempts by result",
		}, []string{"result"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of dictation sessions in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		StopFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_stop_failures_total",
			Help:      "Total number of backend stop calls that failed",
		}),

		// Frame metrics
		Frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total number of audio frames by outcome",
		}, []string{"outcome"}),

		// Backend metrics
		BackendConnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_connects_total",
			Help:      "Total number of backend connection attempts by result",
		}, []string{"result"}),
		BackendConnectDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_connect_duration_seconds",
			Help:      "Time to open a backend streaming session",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		BackendMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_messages_total",
			Help:      "Total number of messages received from the backend by kind",
		}, []string{"kind"}),

		// Transcript metrics
		TranscriptEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_events_total",
			Help:      "Total number of transcript events applied by kind",
		}, []string{"kind"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),

		states: []string{"idle", "connecting", "active", "stopping"},
	}
}

// RecordState sets the state gauge so exactly one state reads 1
func (m *Metrics) RecordState(state string) {
	for _, s := range m.states {
		if s == state {
			m.SessionState.WithLabelValues(s).Set(1)
		} else {
			m.SessionState.WithLabelValues(s).Set(0)
		}
	}
}

// RecordStart counts a start attempt by result
func (m *Metrics) RecordStart(result string) {
	m.SessionStarts.WithLabelValues(result).Inc()
}

// RecordFrame counts a frame by outcome
func (m *Metrics) RecordFrame(outcome string) {
	m.Frames.WithLabelValues(outcome).Inc()
}

// RecordSessionEnd records the duration of a finished session
func (m *Metrics) RecordSessionEnd(d time.Duration) {
	m.SessionDuration.Observe(d.Seconds())
}

// RecordStopFailure increments the backend stop failures counter
func (m *Metrics) RecordStopFailure() {
	m.StopFailures.Inc()
}

// RecordBackendConnect records a connection attempt and its latency
func (m *Metrics) RecordBackendConnect(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.BackendConnects.WithLabelValues(result).Inc()
	m.BackendConnectDuration.Observe(d.Seconds())
}

// RecordBackendMessage counts a backend message by kind
func (m *Metrics) RecordBackendMessage(kind string) {
	m.BackendMessages.WithLabelValues(kind).Inc()
}

// RecordTranscriptEvent counts a transcript event by kind
func (m *Metrics) RecordTranscriptEvent(kind string) {
	m.TranscriptEvents.WithLabelValues(kind).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
