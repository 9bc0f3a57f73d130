package audio

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Recorder writes each session's outgoing frames to <dir>/<session-id>.wav.
type Recorder struct {
	dir        string
	sampleRate int
	logger     *slog.Logger
}

// NewRecorder creates a recorder rooted at dir. The directory is created on
// the first Open.
func NewRecorder(dir string, sampleRate int, logger *slog.Logger) *Recorder {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		dir:        dir,
		sampleRate: sampleRate,
		logger:     logger,
	}
}

// Dir returns the output directory.
func (r *Recorder) Dir() string {
	return r.dir
}

// Open starts a new recording for sessionID.
func (r *Recorder) Open(sessionID string) (*Recording, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}

	path := filepath.Join(r.dir, sessionID+".wav")
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}

	w, err := NewWAVWriter(file, r.sampleRate)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	r.logger.Debug("Recording opened",
		slog.String("session_id", sessionID),
		slog.String("path", path))

	return &Recording{
		path:       path,
		file:       file,
		writer:     w,
		sampleRate: r.sampleRate,
		logger:     r.logger,
	}, nil
}

// Recording is one open session WAV file. It is safe for concurrent use.
type Recording struct {
	path       string
	file       *os.File
	writer     *WAVWriter
	sampleRate int
	logger     *slog.Logger

	mu       sync.Mutex
	duration time.Duration
	closed   bool
}

// Path returns the file being written.
func (rec *Recording) Path() string {
	return rec.path
}

// WriteFrame appends a frame to the recording.
func (rec *Recording) WriteFrame(frame Frame) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.closed {
		return fmt.Errorf("recording closed")
	}
	if err := rec.writer.WriteFrame(frame); err != nil {
		return err
	}
	rec.duration += frame.Duration(rec.sampleRate)
	return nil
}

// Duration returns the length of audio written so far.
func (rec *Recording) Duration() time.Duration {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.duration
}

// Close finalizes the WAV header and closes the file. Empty recordings are
// removed.
func (rec *Recording) Close() error {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.closed {
		return nil
	}
	rec.closed = true

	samples := rec.writer.Samples()
	werr := rec.writer.Close()
	if err := rec.file.Close(); err != nil && werr == nil {
		werr = fmt.Errorf("failed to close recording file: %w", err)
	}

	if samples == 0 {
		os.Remove(rec.path)
		return werr
	}

	if werr == nil {
		rec.logger.Info("Recording saved",
			slog.String("path", rec.path),
			slog.Int("samples", samples),
			slog.Duration("duration", rec.duration))
	}
	return werr
}
