package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gatekeeper/pkg/platform/circuit"
)

// ErrBufferFull is returned by AsyncPublisher.Emit when the worker lags.
var ErrBufferFull = errors.New("audit buffer full")

// AsyncPublisher hands events to a Worker through a bounded buffer so slow
// sinks never stall chat handling. Events are dropped when the buffer is full.
type AsyncPublisher struct {
	inbox chan Event
}

func NewAsyncPublisher(size int) *AsyncPublisher {
	if size <= 0 {
		size = 256
	}
	return &AsyncPublisher{inbox: make(chan Event, size)}
}

func (p *AsyncPublisher) Emit(ctx context.Context, event Event) error {
	select {
	case p.inbox <- stamp(ctx, event):
		return nil
	default:
		return ErrBufferFull
	}
}

// Inbox exposes the buffer for the worker.
func (p *AsyncPublisher) Inbox() <-chan Event {
	return p.inbox
}

// Worker consumes audit events from a channel and appends them to a sink. A
// failing append is logged and the event dropped. After repeated failures
// the breaker opens and events are dropped without reaching the sink until a
// probe succeeds.
type Worker struct {
	sink    Sink
	inbox   <-chan Event
	logger  *slog.Logger
	breaker *circuit.Breaker
}

type WorkerOption func(*Worker)

func WithBreaker(b *circuit.Breaker) WorkerOption {
	return func(w *Worker) {
		w.breaker = b
	}
}

func NewWorker(sink Sink, inbox <-chan Event, logger *slog.Logger, opts ...WorkerOption) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		sink:    sink,
		inbox:   inbox,
		logger:  logger,
		breaker: circuit.New("audit-sink", circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run drains the inbox until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			w.append(ctx, event)
		}
	}
}

func (w *Worker) append(ctx context.Context, event Event) {
	if !w.breaker.Allow() {
		w.logger.DebugContext(ctx, "audit sink circuit open, dropping event", "action", event.Action)
		return
	}
	if err := w.sink.Append(ctx, event); err != nil {
		w.logger.WarnContext(ctx, "failed to append audit event",
			"action", event.Action,
			"chat_id", event.ChatID,
			"user_id", event.UserID,
			"error", err,
		)
		if _, change := w.breaker.RecordFailure(); change.Opened {
			w.logger.ErrorContext(ctx, "audit sink circuit opened", "breaker", w.breaker.Name())
		}
		return
	}
	if _, change := w.breaker.RecordSuccess(); change.Closed {
		w.logger.InfoContext(ctx, "audit sink circuit closed", "breaker", w.breaker.Name())
	}
}
