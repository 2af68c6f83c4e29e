package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/queue-router/internal/domain"
)

// ActiveCustomerIndex is the partial unique index enforcing one live session per customer.
const ActiveCustomerIndex = "ux_sessions_active_customer"

// Transition is a compare-and-set write of a session together with its audit rows.
type Transition struct {
	ExpectedStatus  domain.SessionStatus
	ExpectedVersion int64
	Next            *domain.Session
	Change          *domain.StatusChange
	Outcome         *domain.SessionOutcome
	Outbox          *domain.OutboxEvent
}

// StaleFilter pages through automated sessions created before a cutoff.
// The cursor is the (created_at, id) of the last row of the previous page.
type StaleFilter struct {
	CreatedBefore  time.Time
	AfterCreatedAt *time.Time
	AfterID        string
	Limit          int
}

// SessionRepository encapsulates session persistence.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session, change *domain.StatusChange) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetActiveByCustomer(ctx context.Context, customerID string) (*domain.Session, error)
	Apply(ctx context.Context, t Transition) error
	ListStaleAutomated(ctx context.Context, filter StaleFilter) ([]domain.Session, error)
	CountInService(ctx context.Context, operatorIDs []string) (map[string]int, error)
	ListHistory(ctx context.Context, sessionID string) ([]domain.StatusChange, error)
	GetOutcome(ctx context.Context, sessionID string) (*domain.SessionOutcome, error)
}

// PrepareCreate stamps identifiers and the initial version.
func PrepareCreate(session *domain.Session, change *domain.StatusChange) {
	session.Version = 1
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}
	prepareChange(change, session.ID, session.CreatedAt)
}

// PrepareApply validates a transition and stamps the next version.
func PrepareApply(t *Transition) error {
	if t.Next == nil {
		return errors.New("transition without next state")
	}
	t.Next.Version = t.ExpectedVersion + 1
	if t.Next.UpdatedAt.IsZero() {
		t.Next.UpdatedAt = time.Now().UTC()
	}
	prepareChange(t.Change, t.Next.ID, t.Next.UpdatedAt)
	prepareOutbox(t.Outbox, t.Next.ID, t.Next.UpdatedAt)
	return nil
}

func prepareChange(change *domain.StatusChange, sessionID string, at time.Time) {
	if change == nil {
		return
	}
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	change.SessionID = sessionID
	if change.CreatedAt.IsZero() {
		change.CreatedAt = at
	}
}

type sessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository instantiates the Postgres repository.
func NewSessionRepository(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepository{pool: pool}
}

const sessionColumns = `id, customer_id, status, direction, department, requested_operator_id, assigned_operator_id,
        supervisor_id, cancel_reason, tabulation_code, created_at, automated_completed_at, assigned_at, ended_at,
        updated_at, version`

func (r *sessionRepository) Create(ctx context.Context, session *domain.Session, change *domain.StatusChange) error {
	PrepareCreate(session, change)
	const query = `
        INSERT INTO sessions (` + sessionColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, query, sessionArgs(session)...); err != nil {
		return translateUniqueViolation(err)
	}
	if err := insertChange(ctx, tx, change); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *sessionRepository) GetActiveByCustomer(ctx context.Context, customerID string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
        WHERE customer_id=$1 AND status IN ('automated','waiting','in_service')
        ORDER BY created_at DESC LIMIT 1`
	return r.fetchSingle(ctx, query, customerID)
}

func (r *sessionRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Session, error) {
	session, err := scanSession(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return session, err
}

func (r *sessionRepository) Apply(ctx context.Context, t Transition) error {
	if err := PrepareApply(&t); err != nil {
		return err
	}
	const query = `
        UPDATE sessions SET status=$1, department=$2, requested_operator_id=$3, assigned_operator_id=$4,
            supervisor_id=$5, cancel_reason=$6, tabulation_code=$7, automated_completed_at=$8, assigned_at=$9,
            ended_at=$10, updated_at=$11, version=$12
        WHERE id=$13 AND status=$14 AND version=$15`

	next := t.Next
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	cmd, err := tx.Exec(ctx, query,
		next.Status,
		next.Department,
		next.RequestedOperatorID,
		next.AssignedOperatorID,
		next.SupervisorID,
		next.CancelReason,
		next.TabulationCode,
		next.AutomatedCompletedAt,
		next.AssignedAt,
		next.EndedAt,
		next.UpdatedAt,
		next.Version,
		next.ID,
		t.ExpectedStatus,
		t.ExpectedVersion,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrStateMismatch
	}
	if err := insertChange(ctx, tx, t.Change); err != nil {
		return err
	}
	if t.Outcome != nil {
		if err := insertOutcome(ctx, tx, t.Outcome); err != nil {
			return err
		}
	}
	if err := insertOutbox(ctx, tx, t.Outbox); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *sessionRepository) ListStaleAutomated(ctx context.Context, filter StaleFilter) ([]domain.Session, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args := []any{filter.CreatedBefore}
	query := `SELECT ` + sessionColumns + ` FROM sessions
        WHERE status='automated' AND automated_completed_at IS NULL AND created_at < $1`
	if filter.AfterCreatedAt != nil {
		args = append(args, *filter.AfterCreatedAt, filter.AfterID)
		query += ` AND (created_at, id) > ($2, $3)`
	}
	query += fmt.Sprintf(` ORDER BY created_at ASC, id ASC LIMIT %d`, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *session)
	}
	return result, rows.Err()
}

func (r *sessionRepository) CountInService(ctx context.Context, operatorIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(operatorIDs))
	if len(operatorIDs) == 0 {
		return counts, nil
	}
	const query = `
        SELECT assigned_operator_id, COUNT(*) FROM sessions
        WHERE status='in_service' AND assigned_operator_id = ANY($1)
        GROUP BY assigned_operator_id`
	rows, err := r.pool.Query(ctx, query, operatorIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			operatorID string
			count      int
		)
		if err := rows.Scan(&operatorID, &count); err != nil {
			return nil, err
		}
		counts[operatorID] = count
	}
	return counts, rows.Err()
}

func (r *sessionRepository) ListHistory(ctx context.Context, sessionID string) ([]domain.StatusChange, error) {
	const query = `
        SELECT id, session_id, from_status, to_status, changed_by_kind, changed_by_id, reason, created_at
        FROM session_status_history WHERE session_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.StatusChange
	for rows.Next() {
		var (
			change  domain.StatusChange
			fromRaw *string
			byKind  *string
			byID    *string
		)
		if err := rows.Scan(
			&change.ID,
			&change.SessionID,
			&fromRaw,
			&change.ToStatus,
			&byKind,
			&byID,
			&change.Reason,
			&change.CreatedAt,
		); err != nil {
			return nil, err
		}
		if fromRaw != nil {
			change.FromStatus = domain.SessionStatus(*fromRaw)
		}
		if byKind != nil && byID != nil {
			change.ChangedBy = &domain.ParticipantRef{Kind: domain.ParticipantKind(*byKind), ID: *byID}
		}
		result = append(result, change)
	}
	return result, rows.Err()
}

func (r *sessionRepository) GetOutcome(ctx context.Context, sessionID string) (*domain.SessionOutcome, error) {
	const query = `
        SELECT session_id, customer_id, outcome, department, assigned_operator_id, supervisor_id,
               tabulation_code, cancel_reason, started_at, ended_at
        FROM session_outcomes WHERE session_id=$1`
	var outcome domain.SessionOutcome
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(
		&outcome.SessionID,
		&outcome.CustomerID,
		&outcome.Outcome,
		&outcome.Department,
		&outcome.AssignedOperatorID,
		&outcome.SupervisorID,
		&outcome.TabulationCode,
		&outcome.CancelReason,
		&outcome.StartedAt,
		&outcome.EndedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

func sessionArgs(s *domain.Session) []any {
	return []any{
		s.ID,
		s.CustomerID,
		s.Status,
		s.Direction,
		s.Department,
		s.RequestedOperatorID,
		s.AssignedOperatorID,
		s.SupervisorID,
		s.CancelReason,
		s.TabulationCode,
		s.CreatedAt,
		s.AutomatedCompletedAt,
		s.AssignedAt,
		s.EndedAt,
		s.UpdatedAt,
		s.Version,
	}
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	if err := row.Scan(
		&s.ID,
		&s.CustomerID,
		&s.Status,
		&s.Direction,
		&s.Department,
		&s.RequestedOperatorID,
		&s.AssignedOperatorID,
		&s.SupervisorID,
		&s.CancelReason,
		&s.TabulationCode,
		&s.CreatedAt,
		&s.AutomatedCompletedAt,
		&s.AssignedAt,
		&s.EndedAt,
		&s.UpdatedAt,
		&s.Version,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

func insertChange(ctx context.Context, tx pgx.Tx, change *domain.StatusChange) error {
	if change == nil {
		return nil
	}
	var fromStatus *domain.SessionStatus
	if change.FromStatus != "" {
		fromStatus = &change.FromStatus
	}
	var byKind, byID *string
	if change.ChangedBy != nil {
		kind := string(change.ChangedBy.Kind)
		byKind, byID = &kind, &change.ChangedBy.ID
	}
	const query = `
        INSERT INTO session_status_history (id, session_id, from_status, to_status, changed_by_kind, changed_by_id, reason, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := tx.Exec(ctx, query,
		change.ID,
		change.SessionID,
		fromStatus,
		change.ToStatus,
		byKind,
		byID,
		change.Reason,
		change.CreatedAt,
	)
	return err
}

func insertOutcome(ctx context.Context, tx pgx.Tx, outcome *domain.SessionOutcome) error {
	const query = `
        INSERT INTO session_outcomes (session_id, customer_id, outcome, department, assigned_operator_id, supervisor_id,
            tabulation_code, cancel_reason, started_at, ended_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := tx.Exec(ctx, query,
		outcome.SessionID,
		outcome.CustomerID,
		outcome.Outcome,
		outcome.Department,
		outcome.AssignedOperatorID,
		outcome.SupervisorID,
		outcome.TabulationCode,
		outcome.CancelReason,
		outcome.StartedAt,
		outcome.EndedAt,
	)
	return err
}

func translateUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == ActiveCustomerIndex {
			return ErrDuplicateActive
		}
		return ErrDuplicateSession
	}
	return err
}
