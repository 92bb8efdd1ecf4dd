package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering and shutdown.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit count and discard events instead of waiting for
	// room in the buffer.
	DropIfFull bool
	// DrainTimeout bounds how long Close keeps delivering buffered events.
	// Zero waits until the buffer is empty.
	DrainTimeout time.Duration
	// Logger reports sink panics. Nil means slog.Default().
	Logger *slog.Logger
}

// Dispatcher forwards events to a sink from a single goroutine, so a sink
// sees events in emission order.
type Dispatcher struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger

	queue    chan Event
	stop     chan struct{}
	finished chan struct{}

	// sinkCtx is handed to the sink and canceled when the drain deadline
	// passes, which unblocks sinks that honor it.
	sinkCtx    context.Context
	cancelSink context.CancelFunc

	dropped   atomic.Uint64
	failed    atomic.Uint64
	closing   atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher. It returns nil when auditing is
// disabled; every method is safe on a nil Dispatcher.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:        cfg,
		sink:       sink,
		logger:     logger,
		queue:      make(chan Event, cfg.BufferSize),
		stop:       make(chan struct{}),
		finished:   make(chan struct{}),
		sinkCtx:    ctx,
		cancelSink: cancel,
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.finished)
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

// drain empties the buffer after Close.
func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

// deliver hands ev to the sink. Once the drain deadline has passed, events
// are counted as dropped instead.
func (d *Dispatcher) deliver(ev Event) {
	if d.sinkCtx.Err() != nil {
		d.dropped.Add(1)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.logger.Error("audit sink panicked", "event_type", ev.EventType, "event_id", ev.ID, "panic", r)
		}
	}()
	d.sink.Emit(d.sinkCtx, ev)
}

// Emit queues ev. Without DropIfFull it waits for buffer room until ctx is
// done. Events emitted after Close are discarded.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.closing.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- ev:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- ev:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stop:
	}
}

// Close stops accepting events and delivers what is buffered, bounded by
// DrainTimeout. It is idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closing.Store(true)
		close(d.stop)
		defer d.cancelSink()

		if d.cfg.DrainTimeout <= 0 {
			<-d.finished
			return
		}
		timer := time.NewTimer(d.cfg.DrainTimeout)
		defer timer.Stop()
		select {
		case <-d.finished:
		case <-timer.C:
			d.cancelSink()
			<-d.finished
		}
	})
}

// Dropped counts events discarded on a full buffer, a canceled Emit, or
// an expired drain.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed counts events whose sink panicked.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
