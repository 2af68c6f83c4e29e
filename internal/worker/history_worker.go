package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/queue-router/internal/events"
	"github.com/spec-kit/queue-router/internal/messaging"
)

// StartHistoryWorker flushes the outbox as soon as a terminal session event is
// dispatched, so the recorder normally hears about it without waiting for the
// next scheduled relay.
func StartHistoryWorker(dispatcher events.Dispatcher, relay *OutboxRelay, logger *zap.Logger) {
	if dispatcher == nil || relay == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := &historyRecorder{relay: relay, logger: logger}
	dispatcher.Subscribe(events.EventSessionCompleted, recorder.handle)
	dispatcher.Subscribe(events.EventSessionCancelled, recorder.handle)
}

type historyRecorder struct {
	relay  *OutboxRelay
	logger *zap.Logger
}

func (r *historyRecorder) handle(ctx context.Context, event events.Event) error {
	sent, err := r.relay.Flush(ctx)
	if err != nil {
		return fmt.Errorf("record %s for session %s: %w", event.Type, event.SessionID, err)
	}
	r.logger.Debug("outbox flushed", zap.String("session_id", event.SessionID), zap.Int("sent", sent))
	return nil
}

func routingKeyFor(eventType events.EventType) (string, error) {
	switch eventType {
	case events.EventSessionCompleted:
		return messaging.RoutingSessionCompleted, nil
	case events.EventSessionCancelled:
		return messaging.RoutingSessionCancelled, nil
	}
	return "", fmt.Errorf("no routing key for %s", eventType)
}
