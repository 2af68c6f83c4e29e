package messaging

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestJitteredDelayStaysWithinBounds(t *testing.T) {
	for i := 0; i < 200; i++ {
		wait := jitteredDelay(time.Second, 30*time.Second, 25)
		if wait < 750*time.Millisecond || wait > 1250*time.Millisecond {
			t.Fatalf("delay %s outside 25%% of 1s", wait)
		}
	}
	if wait := jitteredDelay(time.Minute, 30*time.Second, 25); wait != 30*time.Second {
		t.Fatalf("expected cap of 30s, got %s", wait)
	}
}

func TestAMQPPublisherRedialsAfterConnectionLoss(t *testing.T) {
	var dials atomic.Int32
	refused := errors.New("connection refused")
	p := newAMQPPublisher("queue-router.events", func() (*amqp.Connection, error) {
		dials.Add(1)
		return nil, refused
	}, Backoff{Base: time.Millisecond, Cap: 4 * time.Millisecond}, nil)

	closed := make(chan *amqp.Error, 1)
	p.startSupervisor(closed)
	closed <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED"}

	deadline := time.Now().Add(2 * time.Second)
	for dials.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected repeated redials, got %d", dials.Load())
		}
		time.Sleep(time.Millisecond)
	}

	env := NewEnvelope("evt-1", RoutingSessionCompleted, "queue-router", "s-1", nil)
	if err := p.Publish(context.Background(), RoutingSessionCompleted, env); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected while down, got %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-p.stopped:
	default:
		t.Fatal("reconnect loop still running after close")
	}
	after := dials.Load()
	time.Sleep(20 * time.Millisecond)
	if dials.Load() != after {
		t.Fatalf("dialled after close: %d then %d", after, dials.Load())
	}
}

func TestAMQPPublisherCloseWithoutConnection(t *testing.T) {
	p := newAMQPPublisher("queue-router.events", func() (*amqp.Connection, error) {
		return nil, errors.New("unused")
	}, defaultBackoff, nil)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
