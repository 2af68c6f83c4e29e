package events

import (
	"context"
	"errors"
	"testing"
)

func TestDispatcherRunsAllHandlersAndJoinsErrors(t *testing.T) {
	d := NewInMemoryDispatcher()
	boom := errors.New("boom")
	calls := 0
	d.Subscribe(EventSessionCompleted, func(context.Context, Event) error {
		calls++
		return boom
	})
	d.Subscribe(EventSessionCompleted, func(context.Context, Event) error {
		calls++
		return nil
	})
	d.Subscribe(EventSessionCancelled, func(context.Context, Event) error {
		t.Fatal("unrelated handler invoked")
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventSessionCompleted, SessionID: "s-1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined handler error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected both handlers to run, got %d", calls)
	}
}
