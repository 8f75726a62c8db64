package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub. Zero values select
// defaults: a 4096-event buffer, 1000-event batches, a 500ms batch wait and a
// 10s per-sink timeout.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	// MaxBatchWait bounds how long the oldest buffered event waits for a flush.
	MaxBatchWait time.Duration
	SinkTimeout  time.Duration
	BaseContext  context.Context
	Logger       *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
	// Enough for every year outcome of a full CVPR range plus RUN_DONE.
	outcomeLaneSize = 64
)

// Hub batches harvest events and fans them out to sinks. Emit never blocks,
// so fetch workers are not slowed by a slow database or log sink.
//
// Year and run outcomes (see Stage.Outcome) travel on their own lane so a
// burst of fetch and record events cannot crowd them out. When one arrives,
// everything already queued ahead of it is pulled into the current batch and
// the batch is flushed at once: sinks see a year's records before its
// YEAR_DONE, and a finished year is visible without waiting for the timer.
type Hub struct {
	cfg      Config
	sinks    []Sink
	events   chan Event
	outcomes chan Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *zap.Logger

	dropLog    rateLimiter
	unreported atomic.Int64
	closed     atomic.Bool
	counters   hubCounters

	closeOnce sync.Once
	closeCtx  context.Context
}

type hubCounters struct {
	accepted   atomic.Int64
	dropped    atomic.Int64
	batches    atomic.Int64
	sinkErrors atomic.Int64
	outcomes   atomic.Int64
}

// Stats summarizes what the Hub has done since it started.
type Stats struct {
	Accepted   int64 `json:"accepted"`
	Dropped    int64 `json:"dropped"`
	Batches    int64 `json:"batches"`
	SinkErrors int64 `json:"sink_errors"`
	// Outcomes counts delivered YEAR_DONE, YEAR_ERROR and RUN_DONE events.
	Outcomes int64 `json:"outcomes"`
}

// NewHub starts the batching goroutine over sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:      cfg,
		sinks:    append([]Sink(nil), sinks...),
		events:   make(chan Event, cfg.BufferSize),
		outcomes: make(chan Event, outcomeLaneSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
		dropLog:  rateLimiter{interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit enqueues evt. When its lane is full the event is dropped and a
// rate-limited warning is logged. An outcome whose lane is full falls back to
// the regular buffer before being dropped.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	if evt.Stage.Outcome() {
		select {
		case h.outcomes <- evt:
			h.counters.accepted.Add(1)
			return
		default:
		}
	}
	select {
	case h.events <- evt:
		h.counters.accepted.Add(1)
	default:
		h.drop(evt)
	}
}

func (h *Hub) drop(evt Event) {
	h.counters.dropped.Add(1)
	h.unreported.Add(1)
	if evt.Stage.Outcome() {
		h.logger.Warn("progress outcome dropped", zap.String("stage", string(evt.Stage)), zap.Int("year", evt.Year))
		return
	}
	if h.dropLog.Allow(time.Now()) {
		h.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped", h.unreported.Swap(0)))
	}
}

// Close drains buffered events into the sinks, closes them and waits for the
// batching goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// Stats returns counters since start.
func (h *Hub) Stats() Stats {
	if h == nil {
		return Stats{}
	}
	return Stats{
		Accepted:   h.counters.accepted.Load(),
		Dropped:    h.counters.dropped.Load(),
		Batches:    h.counters.batches.Load(),
		SinkErrors: h.counters.sinkErrors.Load(),
		Outcomes:   h.counters.outcomes.Load(),
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	b := newBatch(h.cfg.MaxBatchEvents, h.cfg.MaxBatchWait)
	defer b.disarm()
	for {
		select {
		case evt := <-h.events:
			if b.add(evt) {
				h.flush(b.take())
			}
		case evt := <-h.outcomes:
			h.pullQueued(b, len(h.events))
			b.add(evt)
			h.flush(b.take())
		case <-b.due():
			h.flush(b.take())
		case <-h.stopCh:
			h.pullQueued(b, len(h.events))
			for len(h.outcomes) > 0 {
				b.add(<-h.outcomes)
			}
			h.pullQueued(b, len(h.events))
			h.flush(b.take())
			h.closeSinks()
			return
		}
	}
}

// pullQueued moves up to n already-buffered events into b, flushing whenever
// b fills. n is fixed up front so a steady stream of new events cannot hold
// an outcome back.
func (h *Hub) pullQueued(b *batch, n int) {
	for range n {
		select {
		case evt := <-h.events:
			if b.add(evt) {
				h.flush(b.take())
			}
		default:
			return
		}
	}
}

func (h *Hub) flush(events []Event) {
	if len(events) == 0 {
		return
	}
	h.counters.batches.Add(1)
	for _, evt := range events {
		if evt.Stage.Outcome() {
			h.counters.outcomes.Add(1)
		}
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, events); err != nil {
			h.counters.sinkErrors.Add(1)
			h.logger.Warn("progress sink consume failed", zap.Int("events", len(events)), zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

// batch accumulates events until it is full or its oldest event is due.
type batch struct {
	events []Event
	limit  int
	wait   time.Duration
	timer  *time.Timer
	armed  bool
}

func newBatch(limit int, wait time.Duration) *batch {
	t := time.NewTimer(wait)
	t.Stop()
	return &batch{limit: limit, wait: wait, timer: t}
}

// add appends evt and reports whether the batch is full.
func (b *batch) add(evt Event) bool {
	b.events = append(b.events, evt)
	if len(b.events) >= b.limit {
		return true
	}
	if !b.armed {
		b.timer.Reset(b.wait)
		b.armed = true
	}
	return false
}

func (b *batch) due() <-chan time.Time {
	if !b.armed {
		return nil
	}
	return b.timer.C
}

// take hands the pending events to the caller and starts a fresh batch.
func (b *batch) take() []Event {
	b.disarm()
	out := b.events
	b.events = nil
	return out
}

func (b *batch) disarm() {
	if b.armed {
		b.timer.Stop()
		b.armed = false
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
