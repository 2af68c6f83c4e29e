package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Routing keys of the events this service emits.
const (
	RoutingSessionCompleted = "session.completed.v1"
	RoutingSessionCancelled = "session.cancelled.v1"
)

// Publisher sends envelopes to the broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, env Envelope) error
	Close() error
}

// ErrNotConnected is returned while the broker connection is down.
var ErrNotConnected = errors.New("amqp connection closed")

// Backoff bounds the delay between reconnect attempts.
type Backoff struct {
	Base          time.Duration
	Cap           time.Duration
	JitterPercent int
}

var defaultBackoff = Backoff{Base: time.Second, Cap: 30 * time.Second, JitterPercent: 25}

// AMQPPublisher publishes persistent JSON messages to a topic exchange and
// waits for the broker confirm of each one. A lost connection is redialled in
// the background; publishes fail fast with ErrNotConnected until it is back.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	exchange string
	dial     func() (*amqp.Connection, error)
	backoff  Backoff
	logger   *zap.Logger

	closing    chan struct{}
	stopped    chan struct{}
	supervised bool
	closeOnce  sync.Once
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string, dialTimeout time.Duration, logger *zap.Logger) (*AMQPPublisher, error) {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	cfg := amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout),
	}
	p := newAMQPPublisher(exchange, func() (*amqp.Connection, error) { return amqp.DialConfig(url, cfg) }, defaultBackoff, logger)

	p.mu.Lock()
	closed, err := p.connectLocked()
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	p.startSupervisor(closed)

	p.logger.Info("connected to amqp", zap.String("exchange", exchange))
	return p, nil
}

func newAMQPPublisher(exchange string, dial func() (*amqp.Connection, error), backoff Backoff, logger *zap.Logger) *AMQPPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPPublisher{
		exchange: exchange,
		dial:     dial,
		backoff:  backoff,
		logger:   logger,
		closing:  make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// connectLocked dials, declares the exchange and installs the connection.
// The caller holds p.mu.
func (p *AMQPPublisher) connectLocked() (<-chan *amqp.Error, error) {
	conn, err := p.dial()
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	p.conn = conn
	return conn.NotifyClose(make(chan *amqp.Error, 1)), nil
}

func (p *AMQPPublisher) startSupervisor(closed <-chan *amqp.Error) {
	p.supervised = true
	go p.supervise(closed)
}

// supervise waits for the connection to drop and redials until it is back
// or the publisher is closed.
func (p *AMQPPublisher) supervise(closed <-chan *amqp.Error) {
	defer close(p.stopped)
	for {
		select {
		case <-p.closing:
			return
		case amqpErr, ok := <-closed:
			reason := "connection closed"
			if ok && amqpErr != nil {
				reason = amqpErr.Error()
			}
			p.logger.Warn("amqp connection lost, reconnecting", zap.String("reason", reason))
			next, ok := p.reconnect()
			if !ok {
				return
			}
			closed = next
		}
	}
}

func (p *AMQPPublisher) reconnect() (<-chan *amqp.Error, bool) {
	wait := p.backoff.Base
	for attempt := 1; ; attempt++ {
		p.mu.Lock()
		select {
		case <-p.closing:
			p.mu.Unlock()
			return nil, false
		default:
		}
		closed, err := p.connectLocked()
		p.mu.Unlock()
		if err == nil {
			p.logger.Info("amqp reconnected", zap.Int("attempt", attempt))
			return closed, true
		}

		delay := jitteredDelay(wait, p.backoff.Cap, p.backoff.JitterPercent)
		p.logger.Error("amqp reconnect failed", zap.Int("attempt", attempt), zap.Duration("retry_in", delay), zap.Error(err))
		select {
		case <-p.closing:
			return nil, false
		case <-time.After(delay):
		}
		if wait*2 < p.backoff.Cap {
			wait *= 2
		} else {
			wait = p.backoff.Cap
		}
	}
}

// jitteredDelay spreads base by up to jitterPct percent either way, capped.
func jitteredDelay(base, limit time.Duration, jitterPct int) time.Duration {
	if jitterPct <= 0 {
		jitterPct = 25
	}
	delta := (rand.Float64()*2 - 1) * float64(jitterPct) / 100.0
	wait := time.Duration(float64(base) * (1 + delta))
	if wait < 0 {
		wait = base
	}
	if limit > 0 && wait > limit {
		wait = limit
	}
	return wait
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, env Envelope) error {
	if env.Meta.ID == "" {
		return errors.New("envelope meta id is required")
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil || conn.IsClosed() {
		return ErrNotConnected
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("confirm mode: %w", err)
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          env.Meta.Type,
		Timestamp:     env.Meta.Time,
		AppId:         env.Meta.Producer,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm %s: %w", routingKey, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked %s", routingKey)
	}

	p.logger.Debug("published", zap.String("key", routingKey), zap.String("exchange", p.exchange), zap.String("id", env.Meta.ID))
	return nil
}

// Close stops reconnecting, closes the connection and waits for the
// reconnect loop to exit.
func (p *AMQPPublisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closing)
		p.mu.Lock()
		if p.conn != nil && !p.conn.IsClosed() {
			err = p.conn.Close()
		}
		p.conn = nil
		p.mu.Unlock()
		if p.supervised {
			<-p.stopped
		}
	})
	return err
}

// LogPublisher writes envelopes to the log; used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, routingKey string, env Envelope) error {
	p.logger.Info("event",
		zap.String("key", routingKey),
		zap.String("id", env.Meta.ID),
		zap.String("type", env.Meta.Type),
		zap.Any("data", env.Data))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
