package session

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/kalishhhh/wispr-flow-clone/internal/audio"
	"github.com/kalishhhh/wispr-flow-clone/internal/capture"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeSource is a capture.Source driven by the test through push.
type fakeSource struct {
	mu        sync.Mutex
	opens     int
	starts    int
	stops     int
	closes    int
	openErr   error
	startErr  error
	openBlock chan struct{}
	cb        capture.Callback
}

func (s *fakeSource) Open(ctx context.Context) error {
	s.mu.Lock()
	s.opens++
	block, err := s.openBlock, s.openErr
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *fakeSource) Start(cb capture.Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.startErr != nil {
		return s.startErr
	}
	s.cb = cb
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.cb = nil
	return nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.cb = nil
	return nil
}

func (s *fakeSource) SampleRate() int {
	return audio.DefaultSampleRate
}

// push delivers one callback block, as the audio thread would.
func (s *fakeSource) push(samples []float32) {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb != nil {
		cb(samples)
	}
}

func (s *fakeSource) counts() (opens, starts, stops, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens, s.starts, s.stops, s.closes
}

// fakeBackend records calls and frames.
type fakeBackend struct {
	mu         sync.Mutex
	starts     int
	stops      int
	startErr   error
	sendErr    error
	stopErr    error
	startBlock chan struct{}
	sendBlock  chan struct{}
	frames     []audio.Frame
	sendCalls  int
}

func (b *fakeBackend) Start(ctx context.Context) error {
	b.mu.Lock()
	b.starts++
	block, err := b.startBlock, b.startErr
	b.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (b *fakeBackend) SendAudio(ctx context.Context, frame audio.Frame) error {
	b.mu.Lock()
	b.sendCalls++
	block := b.sendBlock
	b.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.frames = append(b.frames, frame)
	return nil
}

func (b *fakeBackend) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops++
	return b.stopErr
}

func (b *fakeBackend) snapshot() (starts, stops int, frames []audio.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts, b.stops, append([]audio.Frame(nil), b.frames...)
}

// fakeObserver counts notifications by name.
type fakeObserver struct {
	mu     sync.Mutex
	states []string
	starts map[string]int
	frames map[string]int
	ends   int
	stopFs int
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{starts: map[string]int{}, frames: map[string]int{}}
}

func (o *fakeObserver) RecordState(state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *fakeObserver) RecordStart(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts[result]++
}

func (o *fakeObserver) RecordFrame(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames[outcome]++
}

func (o *fakeObserver) RecordSessionEnd(time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ends++
}

func (o *fakeObserver) RecordStopFailure() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopFs++
}

// ramp returns n samples that quantize to start, start+1, ...
func ramp(start, n int) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = (float32(start+i) + 0.5) / audio.MaxSampleValue
	}
	return samples
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func testConfig() Config {
	return Config{
		FrameSize:    4,
		QueueFrames:  16,
		Cooldown:     50 * time.Millisecond,
		StartTimeout: time.Second,
		StopTimeout:  time.Second,
		SendTimeout:  time.Second,
	}
}
