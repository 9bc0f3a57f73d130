package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalishhhh/wispr-flow-clone/internal/audio"
	"github.com/kalishhhh/wispr-flow-clone/internal/capture"
)

// DefaultCooldown is the post-stop quiescence period used when none is
// configured. A new session never starts before it elapses.
const DefaultCooldown = 600 * time.Millisecond

var (
	// ErrAcquire means the audio source could not be opened.
	ErrAcquire = errors.New("audio source acquisition failed")

	// ErrBackendStart means the transcription session could not be opened.
	ErrBackendStart = errors.New("backend start failed")

	// ErrAttach means capture could not be started after the backend was ready.
	ErrAttach = errors.New("audio graph attach failed")

	// ErrAborted means the start was cancelled by Stop or by its context.
	ErrAborted = errors.New("session start aborted")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("session controller closed")
)

// Backend is the transcription service as seen by the controller
type Backend interface {
	Start(ctx context.Context) error
	SendAudio(ctx context.Context, frame audio.Frame) error
	Stop(ctx context.Context) error
}

// Observer receives lifecycle and frame notifications, typically metrics
type Observer interface {
	RecordState(state string)
	RecordStart(result string)
	RecordFrame(outcome string)
	RecordSessionEnd(d time.Duration)
	RecordStopFailure()
}

// Config contains session controller configuration
type Config struct {
	FrameSize    int
	QueueFrames  int
	Cooldown     time.Duration
	StartTimeout time.Duration
	StopTimeout  time.Duration
	SendTimeout  time.Duration
	FlushOnStop  bool
}

// Status is a point-in-time view of the controller
type Status struct {
	State        State               `json:"state"`
	Recording    bool                `json:"recording"`
	SessionID    string              `json:"session_id,omitempty"`
	StartedAt    time.Time           `json:"started_at,omitempty"`
	Frames       FrameStats          `json:"frames"`
	Batcher      *audio.BatcherStats `json:"batcher,omitempty"`
	Sessions     uint64              `json:"sessions"`
	FailedStarts uint64              `json:"failed_starts"`
	LastError    string              `json:"last_error,omitempty"`
}

// Option configures optional controller collaborators
type Option func(*Controller)

// WithObserver attaches an observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithRecorder writes every session's frames to a WAV file.
func WithRecorder(r *audio.Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// Controller owns one capture lifecycle: Idle, Connecting, Active, Stopping
// and back to Idle once the cooldown elapses. Transitions are serialized by
// mu. A start request outside Idle and a stop request outside Active are
// ignored; a stop during Connecting aborts the start in flight.
type Controller struct {
	config   Config
	source   capture.Source
	backend  Backend
	logger   *slog.Logger
	observer Observer
	recorder *audio.Recorder

	state    State
	pipeline *pipeline
	closed   bool

	// Start in flight
	abort          context.CancelFunc
	abortRequested bool
	starting       sync.WaitGroup

	// Cooldown timer; gen invalidates a timer that fires after being replaced
	cooldown    *time.Timer
	cooldownGen uint64

	// Statistics
	sessions     uint64
	failedStarts uint64
	lastError    string
	lastFrames   FrameStats
	lastID       string

	mu sync.Mutex
}

// New creates a controller in the Idle state.
func New(config Config, source capture.Source, backend Backend, logger *slog.Logger, opts ...Option) *Controller {
	if config.FrameSize <= 0 {
		config.FrameSize = audio.DefaultFrameSize
	}
	if config.QueueFrames <= 0 {
		config.QueueFrames = 50
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultCooldown
	}
	if config.StartTimeout <= 0 {
		config.StartTimeout = 10 * time.Second
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 5 * time.Second
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		config:  config,
		source:  source,
		backend: backend,
		logger:  logger,
		state:   Idle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.observer != nil {
		c.observer.RecordState(Idle.String())
	}
	return c
}

// Start moves Idle to Connecting and then Active. It acquires the source,
// opens the backend session and attaches the audio graph; any failure rolls
// back to Idle and is returned. A request outside Idle is ignored and
// returns nil.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Idle {
		state := c.state
		c.mu.Unlock()
		c.logger.Info("Start request ignored", slog.String("state", state.String()))
		return nil
	}

	startCtx, cancel := context.WithCancel(ctx)
	c.abort = cancel
	c.abortRequested = false
	c.setStateLocked(Connecting)
	c.starting.Add(1)
	c.mu.Unlock()

	defer c.starting.Done()
	defer cancel()

	id := uuid.NewString()
	logger := c.logger.With(slog.String("session_id", id))
	logger.Info("Starting session")

	p, backendStarted, err := c.connect(startCtx, id, logger)

	c.mu.Lock()
	aborted := c.abortRequested
	c.abort = nil
	c.abortRequested = false

	if err == nil && !aborted {
		c.pipeline = p
		c.sessions++
		c.lastID = id
		c.setStateLocked(Active)
		c.mu.Unlock()

		c.recordStart("ok")
		logger.Info("Session active",
			slog.Int("frame_size", p.batcher.FrameSize()),
			slog.Int("queue_frames", c.config.QueueFrames))
		return nil
	}
	c.mu.Unlock()

	if err == nil {
		// Stop arrived after the last connect step succeeded.
		c.teardown(context.Background(), p, logger)
		err = ErrAborted
	} else if aborted && !errors.Is(err, ErrAborted) {
		err = fmt.Errorf("%w: %w", ErrAborted, err)
	}

	c.mu.Lock()
	c.failedStarts++
	c.lastError = err.Error()
	if aborted && backendStarted {
		c.beginCooldownLocked()
	} else {
		c.setStateLocked(Idle)
	}
	c.mu.Unlock()

	reason := "error"
	switch {
	case errors.Is(err, ErrAborted):
		reason = "aborted"
	case errors.Is(err, ErrAcquire):
		reason = "acquire"
	case errors.Is(err, ErrBackendStart):
		reason = "backend"
	case errors.Is(err, ErrAttach):
		reason = "attach"
	}
	c.recordStart(reason)

	if errors.Is(err, ErrAborted) {
		logger.Info("Session start aborted")
	} else {
		logger.Error("Session start failed", slog.String("error", err.Error()))
	}
	return err
}

// connect runs the three start steps. On failure everything it acquired is
// released before returning. backendStarted reports whether the backend
// session was opened at any point.
func (c *Controller) connect(ctx context.Context, id string, logger *slog.Logger) (p *pipeline, backendStarted bool, err error) {
	if err := c.source.Open(ctx); err != nil {
		c.closeSource(logger)
		if ctx.Err() != nil {
			return nil, false, fmt.Errorf("%w: %w", ErrAborted, err)
		}
		return nil, false, fmt.Errorf("%w: %w", ErrAcquire, err)
	}

	startCtx, cancel := context.WithTimeout(ctx, c.config.StartTimeout)
	err = c.backend.Start(startCtx)
	cancel()
	if err != nil {
		c.closeSource(logger)
		if ctx.Err() != nil {
			return nil, false, fmt.Errorf("%w: %w", ErrAborted, err)
		}
		return nil, false, fmt.Errorf("%w: %w", ErrBackendStart, err)
	}

	if err := ctx.Err(); err != nil {
		c.stopBackend(logger)
		c.closeSource(logger)
		return nil, true, fmt.Errorf("%w: %w", ErrAborted, err)
	}

	p = newPipeline(id, c.config.FrameSize, c.config.QueueFrames, c.observer)
	if c.recorder != nil {
		rec, err := c.recorder.Open(id)
		if err != nil {
			logger.Warn("Session recording disabled", slog.String("error", err.Error()))
		} else {
			p.recording = rec
		}
	}
	go c.send(p, logger)

	p.forwarding.Store(true)
	if err := c.source.Start(p.onSamples); err != nil {
		p.forwarding.Store(false)
		p.shutQueue()
		<-p.senderDone
		p.cancel()
		c.closeRecording(p, logger)
		c.stopBackend(logger)
		c.closeSource(logger)
		return nil, true, fmt.Errorf("%w: %w", ErrAttach, err)
	}

	return p, true, nil
}

// send drains the queue in order. Per-frame failures are counted and
// swallowed.
func (c *Controller) send(p *pipeline, logger *slog.Logger) {
	defer close(p.senderDone)

	for frame := range p.queue {
		if p.recording != nil {
			if err := p.recording.WriteFrame(frame); err != nil {
				logger.Warn("Failed to record frame", slog.String("error", err.Error()))
				c.closeRecording(p, logger)
			}
		}

		ctx, cancel := context.WithTimeout(p.ctx, c.config.SendTimeout)
		err := c.backend.SendAudio(ctx, frame)
		cancel()

		if err != nil {
			failed := p.failed.Add(1)
			p.record("failed")
			if failed == 1 {
				logger.Warn("Failed to send audio frame", slog.String("error", err.Error()))
			} else {
				logger.Debug("Failed to send audio frame",
					slog.String("error", err.Error()),
					slog.Uint64("failed_frames", failed))
			}
			continue
		}
		p.sent.Add(1)
		p.record("sent")
	}
}

// Stop moves Active to Stopping, tears the session down and starts the
// cooldown. During Connecting it aborts the start in flight. Other states
// ignore the request. Backend stop failures are logged, never returned.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Connecting:
		c.abortRequested = true
		if c.abort != nil {
			c.abort()
		}
		c.mu.Unlock()
		c.logger.Info("Stop requested while connecting, aborting start")
		return nil
	case Active:
	default:
		state := c.state
		c.mu.Unlock()
		c.logger.Info("Stop request ignored", slog.String("state", state.String()))
		return nil
	}

	p := c.pipeline
	c.pipeline = nil
	c.setStateLocked(Stopping)
	c.mu.Unlock()

	logger := c.logger.With(slog.String("session_id", p.id))
	logger.Info("Stopping session")

	c.teardown(ctx, p, logger)

	c.mu.Lock()
	c.beginCooldownLocked()
	c.mu.Unlock()
	return nil
}

// teardown releases the audio graph, the source and the backend session.
func (c *Controller) teardown(ctx context.Context, p *pipeline, logger *slog.Logger) {
	p.forwarding.Store(false)
	if err := c.source.Stop(); err != nil {
		logger.Warn("Failed to stop audio source", slog.String("error", err.Error()))
	}
	c.closeSource(logger)

	if c.config.FlushOnStop {
		if frame, ok := p.batcher.Flush(); ok {
			p.enqueue(frame)
		}
	}
	p.shutQueue()

	select {
	case <-p.senderDone:
	case <-ctx.Done():
		logger.Warn("Frame queue drain interrupted", slog.String("error", ctx.Err().Error()))
		p.cancel()
		<-p.senderDone
	}
	p.cancel()

	c.stopBackend(logger)
	c.closeRecording(p, logger)

	stats := p.stats()
	batched := p.batcher.GetStats()
	elapsed := time.Since(p.startedAt)

	c.mu.Lock()
	c.lastFrames = stats
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.RecordSessionEnd(elapsed)
	}

	attrs := []any{
		slog.Duration("duration", elapsed),
		slog.Uint64("samples_captured", batched.SamplesPushed),
		slog.Uint64("frames_produced", stats.Produced),
		slog.Uint64("frames_sent", stats.Sent),
		slog.Uint64("frames_failed", stats.Failed),
		slog.Uint64("frames_dropped", stats.Dropped),
	}
	if p.recording != nil {
		attrs = append(attrs,
			slog.String("recording", p.recording.Path()),
			slog.Duration("recorded", p.recording.Duration()))
	}
	logger.Info("Session stopped", attrs...)
}

func (c *Controller) stopBackend(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.StopTimeout)
	defer cancel()

	if err := c.backend.Stop(ctx); err != nil {
		logger.Warn("Backend stop failed", slog.String("error", err.Error()))
		c.mu.Lock()
		c.lastError = err.Error()
		c.mu.Unlock()
		if c.observer != nil {
			c.observer.RecordStopFailure()
		}
	}
}

func (c *Controller) closeSource(logger *slog.Logger) {
	if err := c.source.Close(); err != nil {
		logger.Warn("Failed to close audio source", slog.String("error", err.Error()))
	}
}

func (c *Controller) closeRecording(p *pipeline, logger *slog.Logger) {
	if p.recording == nil {
		return
	}
	if err := p.recording.Close(); err != nil {
		logger.Warn("Failed to finalize recording", slog.String("error", err.Error()))
	}
}

// beginCooldownLocked holds the state at Stopping for the cooldown period.
func (c *Controller) beginCooldownLocked() {
	c.setStateLocked(Stopping)
	c.cooldownGen++
	if c.cooldown != nil {
		c.cooldown.Stop()
		c.cooldown = nil
	}

	gen := c.cooldownGen
	c.cooldown = time.AfterFunc(c.config.Cooldown, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.cooldownGen != gen || c.state != Stopping {
			return
		}
		c.cooldown = nil
		c.setStateLocked(Idle)
		c.logger.Debug("Cooldown elapsed")
	})
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug("Session state changed",
		slog.String("from", c.state.String()),
		slog.String("to", s.String()))
	c.state = s
	if c.observer != nil {
		c.observer.RecordState(s.String())
	}
}

func (c *Controller) recordStart(result string) {
	if c.observer != nil {
		c.observer.RecordStart(result)
	}
}

// Toggle stops an active session and starts one otherwise.
func (c *Controller) Toggle(ctx context.Context) error {
	switch c.State() {
	case Active, Connecting:
		return c.Stop(ctx)
	default:
		return c.Start(ctx)
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Recording reports whether frames are being captured. It reads false as
// soon as Stopping begins, while the cooldown still rejects new starts.
func (c *Controller) Recording() bool {
	return c.State() == Active
}

// Status returns current controller status
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		State:        c.state,
		Recording:    c.state == Active,
		Sessions:     c.sessions,
		FailedStarts: c.failedStarts,
		LastError:    c.lastError,
		SessionID:    c.lastID,
		Frames:       c.lastFrames,
	}
	if c.pipeline != nil {
		status.SessionID = c.pipeline.id
		status.StartedAt = c.pipeline.startedAt
		status.Frames = c.pipeline.stats()
		batched := c.pipeline.batcher.GetStats()
		status.Batcher = &batched
	}
	return status
}

// Close stops any session, cancels the cooldown and rejects further starts.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.config.StopTimeout+c.config.SendTimeout)
	defer cancel()

	c.Stop(ctx)
	c.starting.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cooldownGen++
	if c.cooldown != nil {
		c.cooldown.Stop()
		c.cooldown = nil
	}
	c.setStateLocked(Idle)
	c.logger.Info("Session controller closed")
	return nil
}
