package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"school-service/internal/metrics"
)

var ErrDispatcherClosed = errors.New("audit dispatcher closed")

// Writer persists events. Writers are only called from the dispatcher worker,
// one event at a time, in enqueue order.
type Writer interface {
	Name() string
	Write(ctx context.Context, e Event) error
	Close() error
}

// Flusher is implemented by writers that buffer events.
type Flusher interface {
	Flush(ctx context.Context) error
}

type DispatcherOptions struct {
	QueueSize    int
	MinLevel     Level
	WriteTimeout time.Duration
	// Logger receives writer failures and drops. It is the best-effort error
	// channel and never affects the request path.
	Logger *zap.Logger
	Clock  func() time.Time
}

type item struct {
	event Event
	ack   chan struct{}
}

// Dispatcher is an asynchronous Sink. Record enqueues without blocking and a
// single worker goroutine hands events to every writer in FIFO order, which
// keeps the events of one request in causal order. When the queue is full the
// event is dropped and counted.
type Dispatcher struct {
	queue   chan item
	writers []Writer
	opts    DispatcherOptions
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	dropped atomic.Int64
	written atomic.Int64
}

func NewDispatcher(opts DispatcherOptions, writers ...Writer) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 4096
	}
	if opts.MinLevel == "" {
		opts.MinLevel = LevelDebug
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		queue:   make(chan item, opts.QueueSize),
		writers: writers,
		opts:    opts,
		logger:  logger.Named("audit"),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Record fills in ID and Timestamp when missing, applies the minimum level
// and enqueues e.
func (d *Dispatcher) Record(e Event) {
	if !e.Level.AtLeast(d.opts.MinLevel) {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = d.opts.Clock()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop("closed", e)
		return
	}

	select {
	case d.queue <- item{event: e}:
		metrics.AuditQueueDepth.Inc()
	default:
		d.drop("queue_full", e)
	}
}

// Flush blocks until every event enqueued before the call has been written
// and buffering writers have flushed.
func (d *Dispatcher) Flush(ctx context.Context) error {
	ack := make(chan struct{})

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- item{ack: ack}:
		d.mu.RUnlock()
	case <-ctx.Done():
		d.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, drains the queue and closes every writer.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var errs []error
	for _, w := range d.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dropped returns the number of events lost to a full or closed queue.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Written returns the number of events handed to all writers.
func (d *Dispatcher) Written() int64 { return d.written.Load() }

func (d *Dispatcher) run() {
	defer close(d.done)

	for it := range d.queue {
		if it.ack != nil {
			d.flushWriters()
			close(it.ack)
			continue
		}
		metrics.AuditQueueDepth.Dec()
		d.write(it.event)
	}
	d.flushWriters()
}

func (d *Dispatcher) write(e Event) {
	for _, w := range d.writers {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.WriteTimeout)
		err := w.Write(ctx, e)
		cancel()

		if err != nil {
			metrics.AuditEventsTotal.WithLabelValues(w.Name(), "failed").Inc()
			d.logger.Warn("audit writer failed",
				zap.String("writer", w.Name()),
				zap.String("event_id", e.ID),
				zap.Error(err),
			)
			continue
		}
		metrics.AuditEventsTotal.WithLabelValues(w.Name(), "written").Inc()
	}
	d.written.Add(1)
}

func (d *Dispatcher) flushWriters() {
	for _, w := range d.writers {
		f, ok := w.(Flusher)
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.WriteTimeout)
		if err := f.Flush(ctx); err != nil {
			d.logger.Warn("audit writer flush failed",
				zap.String("writer", w.Name()),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (d *Dispatcher) drop(reason string, e Event) {
	d.dropped.Add(1)
	metrics.AuditEventsDropped.WithLabelValues(reason).Inc()
	d.logger.Warn("audit event dropped",
		zap.String("reason", reason),
		zap.String("level", string(e.Level)),
		zap.String("category", string(e.Category)),
	)
}
