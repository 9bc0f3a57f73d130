package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// PortAudioConfig holds microphone settings
type PortAudioConfig struct {
	SampleRate      int
	FramesPerBuffer int
}

// PortAudio captures mono float32 audio from the default input device.
type PortAudio struct {
	config PortAudioConfig
	logger *slog.Logger

	stream  *portaudio.Stream
	handler atomic.Pointer[Callback]
	running bool

	mu sync.Mutex
}

// NewPortAudio creates a microphone source. The device is not touched until Open.
func NewPortAudio(config PortAudioConfig, logger *slog.Logger) *PortAudio {
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if config.FramesPerBuffer <= 0 {
		config.FramesPerBuffer = 512
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PortAudio{
		config: config,
		logger: logger,
	}
}

// Open initializes PortAudio and opens the default input stream.
func (p *PortAudio) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init failed: %w", err)
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(p.config.SampleRate), p.config.FramesPerBuffer, p.process)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open input stream failed: %w", err)
	}

	// The caller may have given up while the driver was opening.
	if err := ctx.Err(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return err
	}

	p.stream = stream
	p.logger.Info("Microphone opened",
		slog.Int("sample_rate", p.config.SampleRate),
		slog.Int("frames_per_buffer", p.config.FramesPerBuffer))
	return nil
}

// process is the PortAudio callback.
func (p *PortAudio) process(in []float32) {
	if cb := p.handler.Load(); cb != nil {
		(*cb)(in)
	}
}

// Start begins delivering blocks to cb.
func (p *PortAudio) Start(cb Callback) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return ErrNotOpen
	}
	if p.running {
		return ErrAlreadyStarted
	}

	p.handler.Store(&cb)
	if err := p.stream.Start(); err != nil {
		p.handler.Store(nil)
		return fmt.Errorf("start input stream failed: %w", err)
	}
	p.running = true
	return nil
}

// Stop halts the input stream and detaches the callback.
func (p *PortAudio) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil || !p.running {
		return nil
	}
	p.running = false
	err := p.stream.Stop()
	p.handler.Store(nil)
	if err != nil {
		return fmt.Errorf("stop input stream failed: %w", err)
	}
	return nil
}

// Close releases the stream and terminates PortAudio.
func (p *PortAudio) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	if p.running {
		p.stream.Stop()
		p.running = false
	}
	p.handler.Store(nil)

	err := p.stream.Close()
	p.stream = nil
	if terr := portaudio.Terminate(); terr != nil && err == nil {
		err = terr
	}
	if err != nil {
		return fmt.Errorf("close input stream failed: %w", err)
	}

	p.logger.Info("Microphone closed")
	return nil
}

// SampleRate returns the capture rate in Hz.
func (p *PortAudio) SampleRate() int {
	return p.config.SampleRate
}
