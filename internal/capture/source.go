package capture

import (
	"context"
	"errors"
)

var (
	// ErrNotOpen is returned by Start when the device has not been acquired.
	ErrNotOpen = errors.New("audio source not open")

	// ErrAlreadyStarted is returned by Start on a running source.
	ErrAlreadyStarted = errors.New("audio source already started")
)

// Callback receives one block of mono float samples in [-1, 1]. It runs on
// the audio thread and must not block. The slice is reused after return.
type Callback func(samples []float32)

// Source is a capture device delivering float samples at a fixed rate.
//
// Open acquires the device and may block (permission prompts, driver
// start-up). Start registers the callback and begins delivery. Stop halts
// delivery; no callback runs after Stop returns. Close releases the device
// and is safe to call on a source that was never opened.
type Source interface {
	Open(ctx context.Context) error
	Start(cb Callback) error
	Stop() error
	Close() error
	SampleRate() int
}
