package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryDeliversInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewInMemory(4)

	for _, body := range []string{`{"n":1}`, `{"n":2}`} {
		require.NoError(t, q.Publish(ctx, Message{Type: "test", Body: json.RawMessage(body)}))
	}
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	for _, want := range []string{`{"n":1}`, `{"n":2}`} {
		select {
		case msg := <-msgs:
			assert.JSONEq(t, want, string(msg.Body))
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-msgs
		return !open
	}, time.Second, 10*time.Millisecond, "consumer channel closes with the context")
}

func TestInMemoryPublishHonorsContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: "test"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "test"}), context.DeadlineExceeded)
}

func TestEncodeDecode(t *testing.T) {
	raw, err := Encode(Message{Type: "audit", Body: json.RawMessage(`{"action":"checkin"}`)})
	require.NoError(t, err)

	msg, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "audit", msg.Type)
	assert.JSONEq(t, `{"action":"checkin"}`, string(msg.Body))

	_, err = Encode(Message{})
	assert.Error(t, err)
	_, err = Decode([]byte(`{"body":{}}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}
