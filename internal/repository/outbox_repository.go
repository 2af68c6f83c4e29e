package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/queue-router/internal/domain"
)

// DefaultOutboxBatch caps one relay pass when no limit is given.
const DefaultOutboxBatch = 100

// maxOutboxErrorLen bounds the stored failure text.
const maxOutboxErrorLen = 512

// OutboxRepository reads and settles events written alongside terminal transitions.
type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkOutboxSent(ctx context.Context, id string, at time.Time) error
	MarkOutboxFailed(ctx context.Context, id string, reason string) error
}

func prepareOutbox(event *domain.OutboxEvent, sessionID string, at time.Time) {
	if event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.SessionID = sessionID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = at
	}
}

// TruncateOutboxError shortens a failure message for storage.
func TruncateOutboxError(reason string) string {
	if len(reason) > maxOutboxErrorLen {
		return reason[:maxOutboxErrorLen]
	}
	return reason
}

func insertOutbox(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error {
	if event == nil {
		return nil
	}
	const query = `
        INSERT INTO session_outbox (id, session_id, event_type, payload, created_at, attempts)
        VALUES ($1,$2,$3,$4,$5,0)`
	_, err := tx.Exec(ctx, query, event.ID, event.SessionID, event.EventType, event.Payload, event.CreatedAt)
	return err
}

// NewOutboxRepository returns the Postgres outbox view of the session tables.
func NewOutboxRepository(pool *pgxpool.Pool) OutboxRepository {
	return &sessionRepository{pool: pool}
}

func (r *sessionRepository) ListPendingOutbox(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = DefaultOutboxBatch
	}
	const query = `
        SELECT id, session_id, event_type, payload, created_at, sent_at, attempts, COALESCE(last_error, '')
        FROM session_outbox WHERE sent_at IS NULL
        ORDER BY created_at ASC, id ASC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []domain.OutboxEvent
	for rows.Next() {
		var event domain.OutboxEvent
		if err := rows.Scan(
			&event.ID,
			&event.SessionID,
			&event.EventType,
			&event.Payload,
			&event.CreatedAt,
			&event.SentAt,
			&event.Attempts,
			&event.LastError,
		); err != nil {
			return nil, err
		}
		pending = append(pending, event)
	}
	return pending, rows.Err()
}

func (r *sessionRepository) MarkOutboxSent(ctx context.Context, id string, at time.Time) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE session_outbox SET sent_at=$1, attempts=attempts+1, last_error=NULL WHERE id=$2 AND sent_at IS NULL`, at, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sessionRepository) MarkOutboxFailed(ctx context.Context, id string, reason string) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE session_outbox SET attempts=attempts+1, last_error=$1 WHERE id=$2 AND sent_at IS NULL`, TruncateOutboxError(reason), id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
