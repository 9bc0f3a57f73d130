package main

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/kalishhhh/wispr-flow-clone/internal/config"
	"github.com/kalishhhh/wispr-flow-clone/internal/transcript"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestShutdownAppliesFinalFlushedOnClose(t *testing.T) {
	rec := transcript.NewReconciler(testLogger(), nil)
	events := make(chan []byte, 4)
	reconciled := startReconciler(rec, events)

	events <- []byte(`{"text":"hello","final":false}`)

	var mu sync.Mutex
	var order []string
	controller := closerFunc(func() error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "controller")
		return nil
	})
	// Closing the backend flushes the last utterance, then closes the stream.
	backend := closerFunc(func() error {
		mu.Lock()
		order = append(order, "backend")
		mu.Unlock()
		events <- []byte(`{"text":"hello world.","final":true}`)
		close(events)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	shutdown(ctx, testLogger(), nil, controller, backend, reconciled)

	select {
	case <-reconciled:
	default:
		t.Fatal("Expected the reconciler to have returned")
	}

	d := rec.Snapshot()
	if len(d.FinalizedLog) != 1 || d.FinalizedLog[0] != "hello world." {
		t.Errorf("Expected final 'hello world.' in the log, got %v", d.FinalizedLog)
	}
	if d.LiveText != "" {
		t.Errorf("Expected live text cleared by the final, got %q", d.LiveText)
	}
	if rec.Text() != "hello world." {
		t.Errorf("Expected text 'hello world.', got %q", rec.Text())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "controller" || order[1] != "backend" {
		t.Errorf("Expected controller then backend to close, got %v", order)
	}
}

func TestShutdownDeadline(t *testing.T) {
	rec := transcript.NewReconciler(testLogger(), nil)
	events := make(chan []byte)
	reconciled := startReconciler(rec, events)
	defer close(events)

	noop := closerFunc(func() error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		shutdown(ctx, testLogger(), nil, noop, noop, reconciled)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected shutdown to give up at the deadline")
	}
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.LoggingConfig
		level slog.Level
	}{
		{"debug", config.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"}, slog.LevelDebug},
		{"warn", config.LoggingConfig{Level: "warn", Format: "text", Output: "stderr"}, slog.LevelWarn},
		{"unknown level", config.LoggingConfig{Level: "verbose", Format: "text", Output: "stdout"}, slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := initLogger(tt.cfg)
			ctx := context.Background()
			if !logger.Enabled(ctx, tt.level) {
				t.Errorf("Expected level %v to be enabled", tt.level)
			}
			if tt.level > slog.LevelDebug && logger.Enabled(ctx, tt.level-4) {
				t.Errorf("Expected level %v to be disabled", tt.level-4)
			}
		})
	}
}
