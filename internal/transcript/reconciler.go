package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalishhhh/wispr-flow-clone/internal/protocol"
)

// ErrMalformedEvent is returned by OnPayload for payloads that were discarded.
var ErrMalformedEvent = errors.New("malformed transcript event discarded")

// Event is a partial or final recognition result
type Event = protocol.TranscriptEvent

// Display is the presentation state: the current revisable candidate and the
// append-only log of finalized utterances.
type Display struct {
	LiveText     string   `json:"live_text"`
	FinalizedLog []string `json:"finalized_log"`
}

// Stats represents reconciler statistics
type Stats struct {
	Partials    uint64 `json:"partials"`
	Finals      uint64 `json:"finals"`
	Malformed   uint64 `json:"malformed"`
	Resets      uint64 `json:"resets"`
	Subscribers int    `json:"subscribers"`
}

// Observer receives a callback for each processed event
type Observer interface {
	RecordTranscriptEvent(kind string)
}

// Reconciler merges an ordered stream of partial and final transcript events
// into a Display. A partial replaces LiveText wholesale; a final is appended
// to FinalizedLog and clears LiveText. Events are applied in arrival order
// without reordering, deduplication or diffing.
type Reconciler struct {
	display Display
	stats   Stats

	subscribers map[int]chan Display
	nextSubID   int

	observer Observer
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewReconciler creates an empty reconciler. observer may be nil.
func NewReconciler(logger *slog.Logger, observer Observer) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		display:     Display{FinalizedLog: []string{}},
		subscribers: make(map[int]chan Display),
		observer:    observer,
		logger:      logger,
	}
}

// OnEvent applies one event.
func (r *Reconciler) OnEvent(ev Event) {
	r.mu.Lock()
	if ev.Final {
		r.display.FinalizedLog = append(r.display.FinalizedLog, ev.Text)
		r.display.LiveText = ""
		r.stats.Finals++
	} else {
		r.display.LiveText = ev.Text
		r.stats.Partials++
	}
	snapshot := r.snapshotLocked()
	r.publishLocked(snapshot)
	r.mu.Unlock()

	if ev.Final {
		r.record("final")
		r.logger.Debug("Transcript finalized",
			slog.String("text", ev.Text),
			slog.Int("log_length", len(snapshot.FinalizedLog)))
	} else {
		r.record("partial")
	}
}

// OnPayload decodes a raw event payload and applies it. A malformed payload
// leaves the state untouched and returns an error wrapping ErrMalformedEvent.
func (r *Reconciler) OnPayload(payload []byte) error {
	ev, err := protocol.DecodeTranscript(payload)
	if err != nil {
		r.mu.Lock()
		r.stats.Malformed++
		r.mu.Unlock()
		r.record("malformed")
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	r.OnEvent(ev)
	return nil
}

// Run consumes payloads until ctx is done or events is closed. Malformed
// payloads are logged and skipped.
func (r *Reconciler) Run(ctx context.Context, events <-chan []byte) {
	r.logger.Info("Transcript reconciler started")
	defer r.logger.Info("Transcript reconciler stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-events:
			if !ok {
				return
			}
			if err := r.OnPayload(payload); err != nil {
				r.logger.Warn("Discarding transcript event",
					slog.String("error", err.Error()),
					slog.Int("payload_bytes", len(payload)))
			}
		}
	}
}

// Snapshot returns a copy of the current display state.
func (r *Reconciler) Snapshot() Display {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Text returns the finalized log and the live candidate joined by spaces.
func (r *Reconciler) Text() string {
	d := r.Snapshot()
	return d.String()
}

// Reset clears both the live text and the finalized log.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.display = Display{FinalizedLog: []string{}}
	r.stats.Resets++
	r.publishLocked(r.snapshotLocked())
	r.mu.Unlock()

	r.logger.Info("Transcript reset")
}

// Subscribe registers for a snapshot after every change. The channel holds
// only the latest snapshot; a slow reader skips intermediate states. The
// returned function unsubscribes and closes the channel.
func (r *Reconciler) Subscribe() (<-chan Display, func()) {
	ch := make(chan Display, 1)

	r.mu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subscribers[id] = ch
	ch <- r.snapshotLocked()
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subscribers, id)
			close(ch)
			r.mu.Unlock()
		})
	}
}

// GetStats returns current reconciler statistics
func (r *Reconciler) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := r.stats
	stats.Subscribers = len(r.subscribers)
	return stats
}

func (r *Reconciler) snapshotLocked() Display {
	log := make([]string, len(r.display.FinalizedLog))
	copy(log, r.display.FinalizedLog)
	return Display{
		LiveText:     r.display.LiveText,
		FinalizedLog: log,
	}
}

// publishLocked replaces any unread snapshot in each subscriber channel.
func (r *Reconciler) publishLocked(d Display) {
	for _, ch := range r.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- d:
		default:
		}
	}
}

func (r *Reconciler) record(kind string) {
	if r.observer != nil {
		r.observer.RecordTranscriptEvent(kind)
	}
}
