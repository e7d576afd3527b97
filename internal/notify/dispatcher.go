// Package notify delivers status-change notifications after a mutation has
// committed. Delivery is best effort: failures are logged and never reach the
// caller whose mutation triggered them.
package notify

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"pmhub/pkg/platform/circuit"
)

// Event describes one committed status change.
type Event struct {
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Actor      string    `json:"actor"`
	Version    int64     `json:"version"`
	OccurredAt time.Time `json:"occurred_at"`
	RequestID  string    `json:"request_id,omitempty"`
}

// Sink is one delivery target.
type Sink interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

type target struct {
	sink    Sink
	breaker *circuit.Breaker
}

// Dispatcher queues events and fans them out to sinks from a single worker.
type Dispatcher struct {
	inbox   chan Event
	targets []target
	logger  *slog.Logger
	timeout time.Duration
	dropped atomic.Int64
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option { return func(d *Dispatcher) { d.logger = logger } }

// WithBuffer sets how many events may wait for delivery before new ones are dropped.
func WithBuffer(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.inbox = make(chan Event, n)
		}
	}
}

// WithSendTimeout bounds each sink call.
func WithSendTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

func NewDispatcher(sinks []Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		inbox:   make(chan Event, 1024),
		logger:  slog.Default(),
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, s := range sinks {
		d.targets = append(d.targets, target{
			sink:    s,
			breaker: circuit.New("notify-"+s.Name(), circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second)),
		})
	}
	return d
}

// Notify enqueues e without blocking. When the queue is full the event is
// dropped and counted.
func (d *Dispatcher) Notify(ctx context.Context, e Event) {
	select {
	case d.inbox <- e:
	default:
		d.dropped.Add(1)
		d.logger.WarnContext(ctx, "notification dropped, queue full",
			"entity_type", e.EntityType,
			"entity_id", e.EntityID,
			"to", e.To,
		)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Run delivers queued events until ctx is cancelled, then flushes what is
// already queued and returns ctx.Err().
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain(context.WithoutCancel(ctx))
			return ctx.Err()
		case e := <-d.inbox:
			d.deliver(ctx, e)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case e := <-d.inbox:
			d.deliver(ctx, e)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, e Event) {
	for _, t := range d.targets {
		if !t.breaker.Allow() {
			d.logger.DebugContext(ctx, "notification sink skipped, circuit open", "sink", t.sink.Name())
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := t.sink.Send(sendCtx, e)
		cancel()
		if err != nil {
			_, change := t.breaker.RecordFailure()
			d.logger.WarnContext(ctx, "notification delivery failed",
				"sink", t.sink.Name(),
				"entity_type", e.EntityType,
				"entity_id", e.EntityID,
				"error", err,
			)
			if change.Opened {
				d.logger.ErrorContext(ctx, "notification sink circuit opened", "sink", t.sink.Name())
			}
			continue
		}
		if _, change := t.breaker.RecordSuccess(); change.Closed {
			d.logger.InfoContext(ctx, "notification sink recovered", "sink", t.sink.Name())
		}
	}
}
