package audit

import (
	"context"
	"log/slog"
	"time"

	"backoffice/pkg/requestcontext"
)

const defaultBuffer = 256

// Publisher queues audit events for a Worker. Emit never blocks and never
// fails the calling operation; a full queue drops the event with a log line.
type Publisher struct {
	inbox  chan Event
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.inbox = make(chan Event, n)
		}
	}
}

func NewPublisher(opts ...Option) *Publisher {
	p := &Publisher{
		inbox:  make(chan Event, defaultBuffer),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit fills request-scoped fields from ctx and queues the event.
func (p *Publisher) Emit(ctx context.Context, e Event) {
	if p == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = p.now()
	}
	if e.RequestID == "" {
		e.RequestID = requestcontext.RequestID(ctx)
	}
	if e.ClientIP == "" {
		e.ClientIP = requestcontext.ClientIP(ctx)
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeSuccess
	}
	select {
	case p.inbox <- e:
	default:
		p.logger.WarnContext(ctx, "audit queue full, dropping event", "action", e.Action, "actor_id", e.ActorID)
	}
}

// Inbox is the channel a Worker drains.
func (p *Publisher) Inbox() <-chan Event {
	return p.inbox
}
