package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/pkg/requestcontext"
)

func TestPublisher_EmitFillsRequestFields(t *testing.T) {
	p := NewPublisher()
	ctx := requestcontext.WithRequestID(context.Background(), "req-1")
	ctx = requestcontext.WithClientMetadata(ctx, "10.0.0.1", "curl")

	p.Emit(ctx, Event{ActorID: "a1", Action: ActionLogin})

	e := <-p.Inbox()
	assert.Equal(t, "req-1", e.RequestID)
	assert.Equal(t, "10.0.0.1", e.ClientIP)
	assert.Equal(t, OutcomeSuccess, e.Outcome)
	assert.False(t, e.Timestamp.IsZero())
}

func TestPublisher_FullQueueDropsWithoutBlocking(t *testing.T) {
	p := NewPublisher(WithBuffer(1))
	p.Emit(context.Background(), Event{Action: ActionLogin})
	p.Emit(context.Background(), Event{Action: ActionLogout})

	assert.Len(t, p.Inbox(), 1)
}

func TestPublisher_NilIsNoop(t *testing.T) {
	var p *Publisher
	assert.NotPanics(t, func() { p.Emit(context.Background(), Event{}) })
}

func TestWorker_PersistsAndDrainsOnShutdown(t *testing.T) {
	store := NewMemoryStore()
	p := NewPublisher()
	w := NewWorker(store, p.Inbox(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	p.Emit(context.Background(), Event{ActorID: "a1", Action: ActionAdminCreated})
	p.Emit(context.Background(), Event{ActorID: "a2", Action: ActionAdminDeleted})
	require.Eventually(t, func() bool { return len(store.All()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	events, err := store.ListByActor(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ActionAdminCreated, events[0].Action)
}
