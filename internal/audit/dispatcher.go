package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events when the buffer is full instead of blocking
	// the caller until there is room or its context ends.
	DropIfFull bool
}

// Dispatcher hands audit events to a Sink on a single background goroutine
// so request paths never wait on sink I/O.
type Dispatcher struct {
	cfg     Config
	sink    Sink
	events  chan Event
	stopped chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
}

// NewDispatcher starts the delivery goroutine. It returns nil when disabled;
// every method is safe on a nil dispatcher.
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

	d := &Dispatcher{
		cfg:     cfg,
		sink:    sink,
		events:  make(chan Event, cfg.BufferSize),
		stopped: make(chan struct{}),
	}
	go d.drain()
	return d
}

// drain delivers until Close closes the channel, so buffered events are
// flushed before Close returns.
func (d *Dispatcher) drain() {
	defer close(d.stopped)
	for ev := range d.events {
		d.sink.Emit(context.Background(), ev)
	}
}

// Emit stamps ev with an id and timestamp when missing and queues it.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.ID == "" {
		ev.ID = NewID(ev.Timestamp)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.events <- ev:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.events <- ev:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close stops accepting events and waits for the buffer to drain.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()
	<-d.stopped
}

// Dropped is the number of events lost to a full buffer or a cancelled caller.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
