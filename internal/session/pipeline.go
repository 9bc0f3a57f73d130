package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalishhhh/wispr-flow-clone/internal/audio"
)

// FrameStats counts frames for one session
type FrameStats struct {
	Produced uint64 `json:"produced"`
	Sent     uint64 `json:"sent"`
	Failed   uint64 `json:"failed"`
	Dropped  uint64 `json:"dropped"`
}

// pipeline is the per-session audio graph: the capture callback feeds the
// batcher, full frames go into a bounded queue, and a single sender drains
// the queue into the backend in production order.
type pipeline struct {
	id        string
	startedAt time.Time

	batcher    *audio.Batcher
	queue      chan audio.Frame
	queueMu    sync.Mutex
	queueShut  bool
	forwarding atomic.Bool

	recording *audio.Recording

	// ctx bounds in-flight sends; cancelled when a drain overruns.
	ctx        context.Context
	cancel     context.CancelFunc
	senderDone chan struct{}

	produced atomic.Uint64
	sent     atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64

	observer Observer
}

func newPipeline(id string, frameSize, queueFrames int, observer Observer) *pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &pipeline{
		id:         id,
		startedAt:  time.Now(),
		batcher:    audio.NewBatcher(frameSize),
		queue:      make(chan audio.Frame, queueFrames),
		ctx:        ctx,
		cancel:     cancel,
		senderDone: make(chan struct{}),
		observer:   observer,
	}
}

// onSamples is the capture callback. It never blocks.
func (p *pipeline) onSamples(samples []float32) {
	if !p.forwarding.Load() {
		return
	}
	p.batcher.Push(samples, p.enqueue)
}

// enqueue hands a frame to the sender, dropping it when the queue is full.
func (p *pipeline) enqueue(frame audio.Frame) {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()

	if p.queueShut {
		return
	}
	p.produced.Add(1)
	p.record("produced")

	select {
	case p.queue <- frame:
	default:
		p.dropped.Add(1)
		p.record("dropped")
	}
}

// shutQueue closes the queue so the sender exits after draining it.
func (p *pipeline) shutQueue() {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()

	if !p.queueShut {
		p.queueShut = true
		close(p.queue)
	}
}

func (p *pipeline) record(outcome string) {
	if p.observer != nil {
		p.observer.RecordFrame(outcome)
	}
}

func (p *pipeline) stats() FrameStats {
	return FrameStats{
		Produced: p.produced.Load(),
		Sent:     p.sent.Load(),
		Failed:   p.failed.Load(),
		Dropped:  p.dropped.Load(),
	}
}
