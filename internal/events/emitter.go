package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Sink receives batches of events. Implementations may block; the emitter
// calls them from its own goroutine with a bounded context.
type Sink interface {
	Send(ctx context.Context, batch []Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, batch []Event) error

func (f SinkFunc) Send(ctx context.Context, batch []Event) error { return f(ctx, batch) }

// Emitter defaults
const (
	DefaultQueueSize   = 1024
	DefaultBatchSize   = 64
	DefaultSendTimeout = 5 * time.Second
)

// Emitter fans events out to sinks in the background.
type Emitter struct {
	sinks       []Sink
	queue       chan Event
	batchSize   int
	sendTimeout time.Duration
	log         *slog.Logger

	emitted atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64

	// queue is never closed, so Emit needs no lock; stop ends the loop.
	closed    atomic.Bool
	stop      chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// EmitterOptions tunes an Emitter. Zero values pick defaults.
type EmitterOptions struct {
	QueueSize   int
	BatchSize   int
	SendTimeout time.Duration
	Logger      *slog.Logger
}

// Stats is a point-in-time view of emitter counters.
type Stats struct {
	Emitted int64 `json:"emitted"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

// NewEmitter starts the delivery goroutine. With no sinks it still accepts
// events and discards them.
func NewEmitter(opts EmitterOptions, sinks ...Sink) *Emitter {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	e := &Emitter{
		sinks:       sinks,
		queue:       make(chan Event, opts.QueueSize),
		batchSize:   opts.BatchSize,
		sendTimeout: opts.SendTimeout,
		log:         opts.Logger,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go e.run()
	return e
}

// Emit enqueues ev. It never blocks or locks: a full queue drops the event.
// Events racing with Close may be dropped uncounted.
func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	if e.closed.Load() {
		e.dropped.Add(1)
		return
	}
	select {
	case e.queue <- ev:
		e.emitted.Add(1)
	default:
		e.dropped.Add(1)
	}
}

// Stats returns the emitter counters.
func (e *Emitter) Stats() Stats {
	if e == nil {
		return Stats{}
	}
	return Stats{
		Emitted: e.emitted.Load(),
		Dropped: e.dropped.Load(),
		Failed:  e.failed.Load(),
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for {
		select {
		case ev := <-e.queue:
			e.deliver(e.fill([]Event{ev}))
		case <-e.stop:
			// flush what was queued before Close
			for {
				select {
				case ev := <-e.queue:
					e.deliver(e.fill([]Event{ev}))
				default:
					return
				}
			}
		}
	}
}

// fill tops batch up from the queue without waiting.
func (e *Emitter) fill(batch []Event) []Event {
	for len(batch) < e.batchSize {
		select {
		case next := <-e.queue:
			batch = append(batch, next)
		default:
			return batch
		}
	}
	return batch
}

func (e *Emitter) deliver(batch []Event) {
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.NewString()
		}
	}
	for _, s := range e.sinks {
		if err := e.send(s, batch); err != nil {
			e.failed.Add(int64(len(batch)))
			e.log.Debug("events: sink failed", "events", len(batch), "err", err)
		}
	}
}

// send isolates a sink so a panic in it cannot kill the delivery goroutine.
func (e *Emitter) send(s Sink, batch []Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), e.sendTimeout)
	defer cancel()
	return s.Send(ctx, batch)
}

// Close stops accepting events and waits for queued ones to be delivered
// or for ctx to end.
func (e *Emitter) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.stop)
	})

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
