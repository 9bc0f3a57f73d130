package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/kalishhhh/wispr-flow-clone/internal/audio"
)

// FileConfig holds settings for replaying a WAV file as a capture device
type FileConfig struct {
	Path            string
	FramesPerBuffer int
	Loop            bool
}

// File replays a mono PCM-16 WAV file in real time, one block per tick.
// It stands in for a microphone on headless hosts and in demos.
type File struct {
	config FileConfig
	logger *slog.Logger

	samples    []float32
	sampleRate int

	cancel context.CancelFunc
	done   chan struct{}

	mu sync.Mutex
}

// NewFile creates a file-backed source. The file is read on Open.
func NewFile(config FileConfig, logger *slog.Logger) *File {
	if config.FramesPerBuffer <= 0 {
		config.FramesPerBuffer = 512
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &File{
		config: config,
		logger: logger,
	}
}

// Open reads and decodes the WAV file.
func (f *File) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.samples != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(f.config.Path)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}
	pcm, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return fmt.Errorf("failed to decode input file %s: %w", f.config.Path, err)
	}

	f.samples = make([]float32, len(pcm))
	for i, s := range pcm {
		f.samples[i] = float32(s) / audio.MaxSampleValue
	}
	f.sampleRate = rate

	f.logger.Info("Input file opened",
		slog.String("path", f.config.Path),
		slog.Int("sample_rate", rate),
		slog.Int("samples", len(pcm)))
	return nil
}

// Start begins replay on a background goroutine.
func (f *File) Start(cb Callback) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.samples == nil {
		return ErrNotOpen
	}
	if f.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})

	go f.replay(ctx, cb, f.samples, f.done)
	return nil
}

func (f *File) replay(ctx context.Context, cb Callback, samples []float32, done chan struct{}) {
	defer close(done)

	block := f.config.FramesPerBuffer
	interval := time.Duration(block) * time.Second / time.Duration(f.sampleRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	buf := make([]float32, block)
	pos := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if pos >= len(samples) {
			if !f.config.Loop {
				f.logger.Debug("Input file exhausted", slog.String("path", f.config.Path))
				return
			}
			pos = 0
		}

		n := copy(buf, samples[pos:])
		pos += n
		cb(buf[:n])
	}
}

// Stop halts replay and waits for the replay goroutine to exit.
func (f *File) Stop() error {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Close stops replay and drops the decoded samples.
func (f *File) Close() error {
	if err := f.Stop(); err != nil {
		return err
	}
	f.mu.Lock()
	f.samples = nil
	f.mu.Unlock()
	return nil
}

// SampleRate returns the rate of the opened file, or 0 before Open.
func (f *File) SampleRate() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sampleRate
}
