package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/queue-router/internal/domain"
	"github.com/spec-kit/queue-router/internal/events"
	"github.com/spec-kit/queue-router/internal/messaging"
	"github.com/spec-kit/queue-router/internal/repository"
)

// OutboxRelayConfig tunes the relay schedule.
type OutboxRelayConfig struct {
	Producer string
	Interval time.Duration
	Batch    int
}

// OutboxRelay publishes outbox rows written by terminal transitions and marks
// them sent. A row is only marked after the broker confirms it, so delivery is
// at least once; consumers deduplicate on the envelope id.
type OutboxRelay struct {
	outbox    repository.OutboxRepository
	publisher messaging.Publisher
	cfg       OutboxRelayConfig
	clock     func() time.Time
	logger    *zap.Logger

	flushing sync.Mutex
	cron     *cron.Cron
}

// NewOutboxRelay registers the relay job on its own schedule.
func NewOutboxRelay(outbox repository.OutboxRepository, publisher messaging.Publisher, cfg OutboxRelayConfig, logger *zap.Logger) (*OutboxRelay, error) {
	if outbox == nil || publisher == nil {
		return nil, errors.New("outbox relay needs an outbox and a publisher")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("outbox interval must be positive, got %s", cfg.Interval)
	}
	if cfg.Batch <= 0 {
		cfg.Batch = repository.DefaultOutboxBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &OutboxRelay{
		outbox:    outbox,
		publisher: publisher,
		cfg:       cfg,
		clock:     time.Now,
		logger:    logger,
		cron:      newCron(logger),
	}
	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %s", cfg.Interval), r.run); err != nil {
		return nil, fmt.Errorf("schedule outbox relay: %w", err)
	}
	return r, nil
}

func (r *OutboxRelay) Start() {
	r.cron.Start()
	r.logger.Info("outbox relay scheduled", zap.Duration("interval", r.cfg.Interval))
}

// Stop halts the schedule and waits for an in-flight flush or ctx.
func (r *OutboxRelay) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		r.logger.Warn("outbox relay stop timed out")
	}
}

// Flush relays one batch of pending rows in write order. It returns at the
// first publish failure so later rows are not sent ahead of an earlier one.
// A flush already in progress makes this call a no-op.
func (r *OutboxRelay) Flush(ctx context.Context) (int, error) {
	if !r.flushing.TryLock() {
		return 0, nil
	}
	defer r.flushing.Unlock()

	pending, err := r.outbox.ListPendingOutbox(ctx, r.cfg.Batch)
	if err != nil {
		return 0, fmt.Errorf("list pending outbox: %w", err)
	}
	sent := 0
	for _, row := range pending {
		key, err := routingKeyFor(events.EventType(row.EventType))
		if err != nil {
			r.markFailed(ctx, row, err)
			continue
		}
		if err := r.publisher.Publish(ctx, key, r.envelope(row, key)); err != nil {
			r.markFailed(ctx, row, err)
			return sent, fmt.Errorf("relay %s for session %s: %w", row.EventType, row.SessionID, err)
		}
		if err := r.outbox.MarkOutboxSent(ctx, row.ID, r.clock().UTC()); err != nil {
			return sent, fmt.Errorf("mark outbox %s sent: %w", row.ID, err)
		}
		sent++
		r.logger.Debug("completion relayed", zap.String("session_id", row.SessionID), zap.String("key", key))
	}
	return sent, nil
}

func (r *OutboxRelay) envelope(row domain.OutboxEvent, key string) messaging.Envelope {
	env := messaging.NewEnvelope(row.ID, key, r.cfg.Producer, row.SessionID, json.RawMessage(row.Payload))
	if !row.CreatedAt.IsZero() {
		env.Meta.Time = row.CreatedAt.UTC()
	}
	return env
}

func (r *OutboxRelay) markFailed(ctx context.Context, row domain.OutboxEvent, cause error) {
	if err := r.outbox.MarkOutboxFailed(ctx, row.ID, cause.Error()); err != nil {
		r.logger.Warn("record outbox failure", zap.String("outbox_id", row.ID), zap.Error(err))
	}
}

func (r *OutboxRelay) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Interval)
	defer cancel()

	sent, err := r.Flush(ctx)
	if err != nil {
		r.logger.Warn("outbox relay failed", zap.Int("sent", sent), zap.Error(err))
		return
	}
	if sent > 0 {
		r.logger.Info("outbox relayed", zap.Int("sent", sent))
	}
}
