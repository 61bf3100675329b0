package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"gatekeeper/pkg/requestcontext"
)

// Publisher accepts audit events from services.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// Sink persists or forwards audit events.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// SyncPublisher stamps events and appends them to a sink on the caller's
// goroutine.
type SyncPublisher struct {
	sink Sink
}

func NewSyncPublisher(sink Sink) *SyncPublisher {
	return &SyncPublisher{sink: sink}
}

func (p *SyncPublisher) Emit(ctx context.Context, event Event) error {
	return p.sink.Append(ctx, stamp(ctx, event))
}

func stamp(ctx context.Context, event Event) Event {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	event.Timestamp = event.Timestamp.UTC().Truncate(time.Millisecond)
	return event
}
