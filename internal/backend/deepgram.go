package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalishhhh/wispr-flow-clone/internal/audio"
	"github.com/kalishhhh/wispr-flow-clone/internal/protocol"
)

// DefaultURL is the Deepgram live transcription endpoint
const DefaultURL = "wss://api.deepgram.com/v1/listen"

var (
	// ErrNotRunning is returned by SendAudio outside a session.
	ErrNotRunning = errors.New("transcription session not running")

	// ErrAlreadyRunning is returned by Start while a session is open.
	ErrAlreadyRunning = errors.New("transcription session already running")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transcription backend closed")
)

// Config contains Deepgram client configuration
type Config struct {
	URL               string
	APIKey            string
	SampleRate        int
	Model             string
	Language          string
	Punctuate         bool
	InterimResults    bool
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	KeepAliveInterval time.Duration

	// CloseGrace bounds the wait for final results after CloseStream, and
	// how long a final event may wait for room in the events buffer.
	// Non-positive selects 2s.
	CloseGrace  time.Duration
	EventBuffer int
}

// Observer receives backend activity notifications
type Observer interface {
	RecordBackendConnect(d time.Duration, err error)
	RecordBackendMessage(kind string)
}

// Stats represents backend statistics
type Stats struct {
	Running       bool      `json:"running"`
	Sessions      uint64    `json:"sessions"`
	ConnectErrors uint64    `json:"connect_errors"`
	FramesSent    uint64    `json:"frames_sent"`
	BytesSent     uint64    `json:"bytes_sent"`
	SendErrors    uint64    `json:"send_errors"`
	Results       uint64    `json:"results"`
	EventsDropped uint64    `json:"events_dropped"`
	ParseErrors   uint64    `json:"parse_errors"`
	LastError     string    `json:"last_error,omitempty"`
	LastConnected time.Time `json:"last_connected,omitempty"`
}

// Deepgram streams PCM-16 frames to the Deepgram live listen API and
// publishes transcript events on a channel that outlives individual sessions.
type Deepgram struct {
	config   Config
	logger   *slog.Logger
	observer Observer
	dialer   *websocket.Dialer

	// events carries protocol.EncodeTranscript payloads. It is created here
	// and closed only by Close.
	events chan []byte

	conn     *websocket.Conn
	readDone chan struct{}
	stopKeep chan struct{}
	running  atomic.Bool
	closed   bool
	writeMu  sync.Mutex

	// Statistics
	sessions      uint64
	connectErrors uint64
	framesSent    uint64
	bytesSent     uint64
	sendErrors    uint64
	results       uint64
	eventsDropped uint64
	parseErrors   uint64
	lastError     string
	lastConnected time.Time
	statsMu       sync.RWMutex

	// opMu serializes Start, Stop and Close; mu guards the fields above.
	opMu sync.Mutex
	mu   sync.Mutex
}

// NewDeepgram creates a Deepgram backend. observer may be nil.
func NewDeepgram(config Config, logger *slog.Logger, observer Observer) *Deepgram {
	if config.URL == "" {
		config.URL = DefaultURL
	}
	if config.SampleRate <= 0 {
		config.SampleRate = audio.DefaultSampleRate
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.CloseGrace <= 0 {
		config.CloseGrace = 2 * time.Second
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Deepgram{
		config:   config,
		logger:   logger,
		observer: observer,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		events: make(chan []byte, config.EventBuffer),
	}
}

// Events returns the transcript payload stream. Subscribe once; the channel
// is closed by Close.
func (d *Deepgram) Events() <-chan []byte {
	return d.events
}

// ListenURL returns the socket URL including the query parameters.
func (d *Deepgram) ListenURL() (string, error) {
	u, err := url.Parse(d.config.URL)
	if err != nil {
		return "", fmt.Errorf("parse listen URL: %w", err)
	}

	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(d.config.SampleRate))
	q.Set("channels", "1")
	q.Set("punctuate", strconv.FormatBool(d.config.Punctuate))
	q.Set("interim_results", strconv.FormatBool(d.config.InterimResults))
	if d.config.Model != "" {
		q.Set("model", d.config.Model)
	}
	if d.config.Language != "" {
		q.Set("language", d.config.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Start opens a live transcription session.
func (d *Deepgram) Start(ctx context.Context) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	d.mu.Lock()
	closed, open := d.closed, d.conn != nil
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if open {
		return ErrAlreadyRunning
	}

	listenURL, err := d.ListenURL()
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.config.APIKey)

	started := time.Now()
	conn, resp, err := d.dialer.DialContext(ctx, listenURL, headers)
	if err != nil {
		err = dialError(resp, err)
		d.recordConnect(time.Since(started), err)
		return err
	}
	d.recordConnect(time.Since(started), nil)

	readDone := make(chan struct{})
	var stopKeep chan struct{}
	if d.config.KeepAliveInterval > 0 {
		stopKeep = make(chan struct{})
	}

	d.mu.Lock()
	d.conn = conn
	d.readDone = readDone
	d.stopKeep = stopKeep
	d.mu.Unlock()
	d.running.Store(true)

	go d.readLoop(conn, readDone)
	if stopKeep != nil {
		go d.keepAlive(conn, stopKeep)
	}

	d.logger.Info("Transcription session opened",
		slog.String("url", d.config.URL),
		slog.Int("sample_rate", d.config.SampleRate),
		slog.Duration("connect_time", time.Since(started)))
	return nil
}

func dialError(resp *http.Response, err error) error {
	if resp == nil {
		return fmt.Errorf("websocket connect: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if len(body) > 0 {
		return fmt.Errorf("websocket connect (status %d): %s: %w", resp.StatusCode, string(body), err)
	}
	return fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
}

// SendAudio writes one frame as a binary little-endian PCM-16 message.
func (d *Deepgram) SendAudio(ctx context.Context, frame audio.Frame) error {
	if !d.running.Load() {
		return ErrNotRunning
	}

	payload := protocol.EncodePCM16LE(frame)

	d.writeMu.Lock()
	err := d.write(ctx, websocket.BinaryMessage, payload)
	d.writeMu.Unlock()

	d.statsMu.Lock()
	if err != nil {
		d.sendErrors++
		d.lastError = err.Error()
	} else {
		d.framesSent++
		d.bytesSent += uint64(len(payload))
	}
	d.statsMu.Unlock()

	if err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	return nil
}

// write must be called with writeMu held.
func (d *Deepgram) write(ctx context.Context, messageType int, data []byte) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil || !d.running.Load() {
		return ErrNotRunning
	}

	deadline := time.Now().Add(d.config.WriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(messageType, data)
}

// Stop asks the service to flush pending results, waits for the socket to
// drain (bounded by ctx and CloseGrace), then closes the connection.
func (d *Deepgram) Stop(ctx context.Context) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	return d.stop(ctx)
}

func (d *Deepgram) stop(ctx context.Context) error {
	d.mu.Lock()
	conn, readDone, stopKeep := d.conn, d.readDone, d.stopKeep
	d.mu.Unlock()

	if conn == nil {
		return nil
	}

	// Further SendAudio calls fail fast from here on.
	d.running.Store(false)
	if stopKeep != nil {
		close(stopKeep)
	}

	var stopErr error

	d.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(d.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, protocol.EncodeControl(protocol.MessageTypeCloseStream)); err != nil {
		stopErr = fmt.Errorf("send close stream: %w", err)
	}
	d.writeMu.Unlock()

	if stopErr == nil {
		grace := time.NewTimer(d.config.CloseGrace)
		select {
		case <-readDone:
		case <-grace.C:
			d.logger.Debug("Transcription socket did not close within grace period")
		case <-ctx.Done():
			stopErr = fmt.Errorf("waiting for final results: %w", ctx.Err())
		}
		grace.Stop()
	}

	d.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	d.writeMu.Unlock()

	conn.Close()
	<-readDone

	d.mu.Lock()
	d.conn = nil
	d.readDone = nil
	d.stopKeep = nil
	d.mu.Unlock()

	if stopErr != nil {
		d.statsMu.Lock()
		d.lastError = stopErr.Error()
		d.statsMu.Unlock()
		return stopErr
	}

	d.logger.Info("Transcription session closed")
	return nil
}

// Close stops any open session and closes the events channel.
func (d *Deepgram) Close() error {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), d.config.CloseGrace+d.config.WriteTimeout)
	defer cancel()
	err := d.stop(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	return err
}

func (d *Deepgram) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if d.running.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				d.logger.Warn("Transcription socket read failed", slog.String("error", err.Error()))
				d.statsMu.Lock()
				d.lastError = err.Error()
				d.statsMu.Unlock()
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		d.handleMessage(data)
	}
}

func (d *Deepgram) handleMessage(data []byte) {
	result, err := protocol.ParseLiveResult(data)
	if err != nil {
		d.statsMu.Lock()
		d.parseErrors++
		d.statsMu.Unlock()
		d.logger.Warn("Failed to parse transcription message", slog.String("error", err.Error()))
		return
	}

	switch result.Type {
	case protocol.MessageTypeError:
		d.logger.Error("Transcription service error",
			slog.String("description", result.Description),
			slog.String("message", result.Message))
		d.recordMessage("error")
		return
	case protocol.MessageTypeMetadata:
		d.logger.Debug("Transcription metadata", slog.String("request_id", result.RequestID))
		d.recordMessage("metadata")
		return
	case protocol.MessageTypeSpeechStarted:
		d.logger.Debug("Speech started", slog.Float64("timestamp", result.Timestamp))
		d.recordMessage("speech_started")
		return
	case protocol.MessageTypeUtteranceEnd:
		d.logger.Debug("Utterance ended", slog.Float64("last_word_end", result.LastWordEnd))
		d.recordMessage("utterance_end")
		return
	}

	ev, ok := result.Event()
	if !ok {
		d.recordMessage("other")
		return
	}

	payload, err := protocol.EncodeTranscript(ev)
	if err != nil {
		d.logger.Warn("Failed to encode transcript event", slog.String("error", err.Error()))
		return
	}

	d.statsMu.Lock()
	d.results++
	d.statsMu.Unlock()
	d.recordMessage("results")

	if !d.publish(payload, ev.Final) {
		d.statsMu.Lock()
		d.eventsDropped++
		d.statsMu.Unlock()
		d.logger.Warn("Transcript event dropped, consumer too slow",
			slog.Bool("final", ev.Final))
	}
}

// publish hands a payload to the events channel. A partial is dropped when
// the buffer is full since the next one supersedes it; a final waits up to
// CloseGrace for room.
func (d *Deepgram) publish(payload []byte, final bool) bool {
	select {
	case d.events <- payload:
		return true
	default:
	}
	if !final {
		return false
	}

	wait := time.NewTimer(d.config.CloseGrace)
	defer wait.Stop()
	select {
	case d.events <- payload:
		return true
	case <-wait.C:
		return false
	}
}

func (d *Deepgram) keepAlive(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(d.config.KeepAliveInterval)
	defer ticker.Stop()

	msg := protocol.EncodeControl(protocol.MessageTypeKeepAlive)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(d.config.WriteTimeout))
			err := conn.WriteMessage(websocket.TextMessage, msg)
			d.writeMu.Unlock()
			if err != nil {
				d.logger.Debug("Keepalive failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (d *Deepgram) recordConnect(elapsed time.Duration, err error) {
	d.statsMu.Lock()
	if err != nil {
		d.connectErrors++
		d.lastError = err.Error()
	} else {
		d.sessions++
		d.lastConnected = time.Now()
	}
	d.statsMu.Unlock()

	if d.observer != nil {
		d.observer.RecordBackendConnect(elapsed, err)
	}
}

func (d *Deepgram) recordMessage(kind string) {
	if d.observer != nil {
		d.observer.RecordBackendMessage(kind)
	}
}

// GetStats returns current backend statistics
func (d *Deepgram) GetStats() Stats {
	d.statsMu.RLock()
	defer d.statsMu.RUnlock()

	return Stats{
		Running:       d.running.Load(),
		Sessions:      d.sessions,
		ConnectErrors: d.connectErrors,
		FramesSent:    d.framesSent,
		BytesSent:     d.bytesSent,
		SendErrors:    d.sendErrors,
		Results:       d.results,
		EventsDropped: d.eventsDropped,
		ParseErrors:   d.parseErrors,
		LastError:     d.lastError,
		LastConnected: d.lastConnected,
	}
}
