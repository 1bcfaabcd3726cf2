package audit

import (
	"context"
	"log/slog"

	"visitorlog/internal/queue"
)

// Store persists audit events.
type Store interface {
	AppendAudit(ctx context.Context, evt Event) error
}

// Worker consumes audit messages and persists them. A failed write is logged
// and the worker moves on; the queue is not replayed.
type Worker struct {
	store  Store
	q      queue.Queue
	logger *slog.Logger
}

func NewWorker(store Store, q queue.Queue, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, q: q, logger: logger}
}

// Run blocks until ctx is cancelled and the queue channel drains.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.q.Consume(ctx)
	if err != nil {
		return err
	}
	w.logger.Info("audit worker started")
	for msg := range messages {
		if msg.Type != MessageType {
			w.logger.Debug("skipping non-audit message", "type", msg.Type)
			continue
		}
		evt, err := DecodeMessage(msg)
		if err != nil {
			w.logger.Warn("dropping malformed audit message", "error", err)
			continue
		}
		// Persist with a detached context so shutdown does not lose an in-flight event.
		if err := w.store.AppendAudit(context.WithoutCancel(ctx), evt); err != nil {
			w.logger.Error("audit append failed", "action", evt.Action, "visitor_id", evt.VisitorID, "error", err)
		}
	}
	w.logger.Info("audit worker stopped")
	return nil
}
