package audit_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitorlog/internal/audit"
	"visitorlog/internal/queue"
	"visitorlog/internal/store"
)

func TestPublisherToWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := queue.NewInMemory(8)
	mem := store.NewMemory()
	pub := audit.NewPublisher(q, nil)

	pub.Record(ctx, audit.Event{Action: audit.ActionCheckIn, VisitorID: "v-1", Outcome: audit.OutcomeSuccess})
	require.NoError(t, q.Publish(ctx, queue.Message{Type: "other", Body: json.RawMessage(`{}`)}))
	require.NoError(t, q.Publish(ctx, queue.Message{Type: audit.MessageType, Body: json.RawMessage(`not json`)}))
	pub.Record(ctx, audit.Event{Action: audit.ActionCheckOut, VisitorID: "v-1", Outcome: audit.OutcomeSuccess})

	done := make(chan error, 1)
	go func() { done <- audit.NewWorker(mem, q, nil).Run(ctx) }()

	require.Eventually(t, func() bool {
		events, err := mem.ListAudit(context.Background(), 10)
		return err == nil && len(events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	events, err := mem.ListAudit(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, audit.ActionCheckOut, events[0].Action)
	assert.Equal(t, audit.ActionCheckIn, events[1].Action)
	assert.False(t, events[1].Timestamp.IsZero(), "publisher stamps the event time")
}

func TestDecodeMessage(t *testing.T) {
	_, err := audit.DecodeMessage(queue.Message{Type: "other"})
	assert.Error(t, err)

	body, err := json.Marshal(audit.Event{Action: audit.ActionPurge, Detail: "deleted 3 visitors"})
	require.NoError(t, err)
	evt, err := audit.DecodeMessage(queue.Message{Type: audit.MessageType, Body: body})
	require.NoError(t, err)
	assert.Equal(t, "deleted 3 visitors", evt.Detail)
}
