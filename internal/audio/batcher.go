package audio

import (
	"sync"
	"time"
)

const (
	// DefaultSampleRate is the capture rate expected by the transcription backend.
	DefaultSampleRate = 16000

	// DefaultFrameSize is 100ms of audio at DefaultSampleRate.
	DefaultFrameSize = 1600
)

// Frame is a batch of quantized PCM-16 samples sent to the backend as one unit.
// Every frame emitted by a Batcher holds exactly the configured frame size,
// except the one returned by Flush.
type Frame []int16

// Duration returns the playback length of the frame at the given sample rate.
func (f Frame) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f)) * time.Second / time.Duration(sampleRate)
}

// FrameSizeFor returns the number of samples covering d at sampleRate,
// rounded to the nearest sample.
func FrameSizeFor(sampleRate int, d time.Duration) int {
	return int((int64(sampleRate)*int64(d) + int64(time.Second)/2) / int64(time.Second))
}

// BatcherStats represents batcher statistics
type BatcherStats struct {
	FrameSize      int    `json:"frame_size"`
	Pending        int    `json:"pending_samples"`
	FramesEmitted  uint64 `json:"frames_emitted"`
	SamplesPushed  uint64 `json:"samples_pushed"`
	FlushedSamples uint64 `json:"flushed_samples"`
}

// Batcher accumulates variably sized callback blocks into fixed-size frames.
// Samples are quantized as they enter the accumulator; the accumulator only
// ever holds less than one frame between calls.
type Batcher struct {
	frameSize int
	pending   []int16

	framesEmitted  uint64
	samplesPushed  uint64
	flushedSamples uint64

	mu sync.Mutex
}

// NewBatcher creates a batcher emitting frames of frameSize samples.
// A non-positive size falls back to DefaultFrameSize.
func NewBatcher(frameSize int) *Batcher {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	return &Batcher{
		frameSize: frameSize,
		pending:   make([]int16, 0, frameSize),
	}
}

// Push appends samples and calls emit once for every complete frame, oldest
// samples first. A single call may emit several frames when the block is
// larger than a frame. Each emitted frame is a fresh slice owned by the callee.
// emit must not block: Push runs on the audio callback.
func (b *Batcher) Push(samples []float32, emit func(Frame)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samplesPushed += uint64(len(samples))

	for len(samples) > 0 {
		room := b.frameSize - len(b.pending)
		n := len(samples)
		if n > room {
			n = room
		}

		start := len(b.pending)
		b.pending = b.pending[:start+n]
		QuantizeInto(b.pending[start:], samples[:n])
		samples = samples[n:]

		if len(b.pending) == b.frameSize {
			frame := make(Frame, b.frameSize)
			copy(frame, b.pending)
			b.pending = b.pending[:0]
			b.framesEmitted++
			if emit != nil {
				emit(frame)
			}
		}
	}
}

// Flush returns the partial remainder as a final, shorter frame and empties
// the accumulator. ok is false when nothing is pending.
func (b *Batcher) Flush() (frame Frame, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return nil, false
	}
	frame = make(Frame, len(b.pending))
	copy(frame, b.pending)
	b.flushedSamples += uint64(len(b.pending))
	b.pending = b.pending[:0]
	return frame, true
}

// FrameSize returns the configured frame size in samples.
func (b *Batcher) FrameSize() int {
	return b.frameSize
}

// GetStats returns current batcher statistics
func (b *Batcher) GetStats() BatcherStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BatcherStats{
		FrameSize:      b.frameSize,
		Pending:        len(b.pending),
		FramesEmitted:  b.framesEmitted,
		SamplesPushed:  b.samplesPushed,
		FlushedSamples: b.flushedSamples,
	}
}
