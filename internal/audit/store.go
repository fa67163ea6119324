package audit

import (
	"context"
	"log/slog"
	"sync"
)

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, e Event) error
}

// MemoryStore keeps events in process. Used by tests and local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// ListByActor returns the events recorded for actorID in arrival order.
func (s *MemoryStore) ListByActor(_ context.Context, actorID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.ActorID == actorID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) All() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.events...)
}

// LogStore writes each event as a structured log line.
type LogStore struct {
	logger *slog.Logger
}

func NewLogStore(logger *slog.Logger) *LogStore {
	return &LogStore{logger: logger.With("component", "audit")}
}

func (s *LogStore) Append(ctx context.Context, e Event) error {
	s.logger.InfoContext(ctx, "audit",
		"action", e.Action,
		"outcome", e.Outcome,
		"actor_id", e.ActorID,
		"session_id", e.SessionID,
		"subject", e.Subject,
		"reason", e.Reason,
		"request_id", e.RequestID,
		"client_ip", e.ClientIP,
		"timestamp", e.Timestamp,
	)
	return nil
}
