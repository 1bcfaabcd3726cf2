package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"visitorlog/internal/queue"
)

// MessageType tags audit events on the shared queue.
const MessageType = "audit"

// Recorder is what domain components depend on to leave an audit trail.
type Recorder interface {
	Record(ctx context.Context, evt Event)
}

// Publisher pushes events onto the queue for the worker to persist.
// Publish failures are logged and never fail the calling request.
type Publisher struct {
	q      queue.Queue
	logger *slog.Logger
	now    func() time.Time
}

func NewPublisher(q queue.Queue, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{q: q, logger: logger, now: time.Now}
}

func (p *Publisher) Record(ctx context.Context, evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = p.now().UTC()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("audit encode failed", "action", evt.Action, "error", err)
		return
	}
	if err := p.q.Publish(ctx, queue.Message{Type: MessageType, Body: body}); err != nil {
		p.logger.Error("audit publish failed", "action", evt.Action, "visitor_id", evt.VisitorID, "error", err)
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(context.Context, Event) {}

// DecodeMessage extracts an event from a queue message.
func DecodeMessage(msg queue.Message) (Event, error) {
	if msg.Type != MessageType {
		return Event{}, fmt.Errorf("audit: unexpected message type %q", msg.Type)
	}
	var evt Event
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return Event{}, fmt.Errorf("audit: decode event: %w", err)
	}
	return evt, nil
}
