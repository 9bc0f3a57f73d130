package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/kalishhhh/wispr-flow-clone/internal/backend"
	"github.com/kalishhhh/wispr-flow-clone/internal/config"
	"github.com/kalishhhh/wispr-flow-clone/internal/metrics"
	"github.com/kalishhhh/wispr-flow-clone/internal/session"
	"github.com/kalishhhh/wispr-flow-clone/internal/transcript"
)

// SessionController is the session lifecycle as driven over HTTP
type SessionController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Toggle(ctx context.Context) error
	Status() session.Status
}

// Transcript is the reconciled transcript as exposed over HTTP
type Transcript interface {
	Snapshot() transcript.Display
	Reset()
	Subscribe() (<-chan transcript.Display, func())
	GetStats() transcript.Stats
}

// BackendStats reports transcription backend statistics
type BackendStats interface {
	GetStats() backend.Stats
}

// HTTPServer provides the control API, the transcript feed and monitoring
// endpoints
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	session    SessionController
	transcript Transcript
	backend    BackendStats
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. backendStats may be nil;
// a nil gatherer serves the default Prometheus registry.
func NewHTTPServer(logger *slog.Logger, appConfig *config.Config, ctrl SessionController,
	tr Transcript, backendStats BackendStats, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     appConfig,
		session:    ctrl,
		transcript: tr,
		backend:    backendStats,
		metrics:    m,
		gatherer:   gatherer,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session control
	mux.HandleFunc("/session", h.withMetrics("/session", h.handleSession))
	mux.HandleFunc("/session/start", h.withMetrics("/session/start", h.handleSessionStart))
	mux.HandleFunc("/session/stop", h.withMetrics("/session/stop", h.handleSessionStop))
	mux.HandleFunc("/session/toggle", h.withMetrics("/session/toggle", h.handleSessionToggle))

	// Transcript
	mux.HandleFunc("/transcript", h.withMetrics("/transcript", h.handleTranscript))
	mux.HandleFunc("/transcript/reset", h.withMetrics("/transcript/reset", h.handleTranscriptReset))
	mux.HandleFunc("/transcript/ws", h.withMetrics("/transcript/ws", h.handleTranscriptFeed))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if h.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		if h.metrics == nil {
			return
		}
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the transcript feed upgrade through the metrics wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now().UTC(),
	})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.session.Status()
	components := map[string]interface{}{
		"session": map[string]interface{}{
			"state":         status.State,
			"sessions":      status.Sessions,
			"failed_starts": status.FailedStarts,
		},
		"transcript": h.transcript.GetStats(),
	}
	if h.backend != nil {
		components["backend"] = h.backend.GetStats()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "wispr-flow-clone",
			"version": "1.0.0",
		},
		"components": components,
	})
}

// handleSession implements the /session endpoint
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.session.Status())
}

// handleSessionStart implements the /session/start endpoint
func (h *HTTPServer) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, h.session.Start)
}

// handleSessionStop implements the /session/stop endpoint
func (h *HTTPServer) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, h.session.Stop)
}

// handleSessionToggle implements the /session/toggle endpoint
func (h *HTTPServer) handleSessionToggle(w http.ResponseWriter, r *http.Request) {
	h.sessionAction(w, r, h.session.Toggle)
}

// sessionAction runs a lifecycle request detached from the client
// connection, so a dropped request cannot abort a start half way.
func (h *HTTPServer) sessionAction(w http.ResponseWriter, r *http.Request, action func(context.Context) error) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := action(context.WithoutCancel(r.Context())); err != nil {
		h.logger.Warn("Session request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		writeJSON(w, statusForError(err), map[string]interface{}{
			"error":   err.Error(),
			"session": h.session.Status(),
		})
		return
	}

	writeJSON(w, http.StatusOK, h.session.Status())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, session.ErrAborted):
		return http.StatusConflict
	case errors.Is(err, session.ErrBackendStart):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrAcquire), errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleTranscript implements the /transcript endpoint
func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	display := h.transcript.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"live_text":     display.LiveText,
		"finalized_log": display.FinalizedLog,
		"text":          display.String(),
	})
}

// handleTranscriptReset implements the /transcript/reset endpoint
func (h *HTTPServer) handleTranscriptReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.transcript.Reset()
	writeJSON(w, http.StatusOK, h.transcript.Snapshot())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Round-trip through YAML so the keys match the config file.
	redacted := h.config.Redacted()
	data, err := yaml.Marshal(&redacted)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode config")
		return
	}
	var view map[string]interface{}
	if err := yaml.Unmarshal(data, &view); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode config")
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "Dictation Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                  "API documentation",
			"GET /health":            "Service health check",
			"GET /session":           "Current session status",
			"POST /session/start":    "Start a dictation session",
			"POST /session/stop":     "Stop the active session",
			"POST /session/toggle":   "Start or stop",
			"GET /transcript":        "Current transcript",
			"POST /transcript/reset": "Clear the transcript",
			"GET /transcript/ws":     "WebSocket feed of transcript snapshots",
			"GET /config":            "Service configuration without secrets",
			"GET /metrics":           "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
