package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/spec-kit/queue-router/internal/domain"
	"github.com/spec-kit/queue-router/internal/persistence"
	"github.com/spec-kit/queue-router/internal/repository"
)

// Store is the gorm-backed session store, used with sqlite for local runs
// and tests, or with postgres when the pgx repositories are not wanted.
type Store struct {
	db *gorm.DB
}

// New opens the database and migrates the schema.
func New(driver, dsn string) (*Store, error) {
	gormDB, err := persistence.OpenGorm(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open gorm store: %w", err)
	}

	store := &Store{db: gormDB}
	if err := store.migrate(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(&sessionRow{}, &statusChangeRow{}, &outcomeRow{}, &outboxRow{}, &operatorRow{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	// Partial index: sqlite and postgres both accept this form.
	const activeIndex = `CREATE UNIQUE INDEX IF NOT EXISTS ` + repository.ActiveCustomerIndex + `
        ON sessions (customer_id) WHERE status IN ('automated','waiting','in_service')`
	if err := s.db.Exec(activeIndex).Error; err != nil {
		return fmt.Errorf("create active customer index: %w", err)
	}
	return nil
}

// Sessions returns the session repository view.
func (s *Store) Sessions() *SessionStore {
	return &SessionStore{db: s.db}
}

// Operators returns the operator directory view.
func (s *Store) Operators() *OperatorStore {
	return &OperatorStore{db: s.db}
}

// Ping checks the underlying connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}

// SessionStore implements repository.SessionRepository on gorm.
type SessionStore struct {
	db *gorm.DB
}

var (
	_ repository.SessionRepository = (*SessionStore)(nil)
	_ repository.OutboxRepository  = (*SessionStore)(nil)
)

func (s *SessionStore) Create(ctx context.Context, session *domain.Session, change *domain.StatusChange) error {
	repository.PrepareCreate(session, change)
	row := sessionRowFromDomain(session)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if change != nil {
			history := statusChangeRowFromDomain(change)
			if err := tx.Create(&history).Error; err != nil {
				return fmt.Errorf("create status change: %w", err)
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return fmt.Errorf("create session: %w", err)
	}

	var count int64
	if cerr := s.db.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", session.ID).Count(&count).Error; cerr != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if count > 0 {
		return repository.ErrDuplicateSession
	}
	return repository.ErrDuplicateActive
}

func (s *SessionStore) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return row.toDomain(), nil
}

func (s *SessionStore) GetActiveByCustomer(ctx context.Context, customerID string) (*domain.Session, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND status IN ?", customerID, activeStatuses()).
		Order("created_at DESC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return row.toDomain(), nil
}

func (s *SessionStore) Apply(ctx context.Context, t repository.Transition) error {
	if err := repository.PrepareApply(&t); err != nil {
		return err
	}
	row := sessionRowFromDomain(t.Next)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&sessionRow{}).
			Where("id = ? AND status = ? AND version = ?", row.ID, string(t.ExpectedStatus), t.ExpectedVersion).
			Updates(row.updates())
		if res.Error != nil {
			return fmt.Errorf("update session: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return repository.ErrStateMismatch
		}
		if t.Change != nil {
			history := statusChangeRowFromDomain(t.Change)
			if err := tx.Create(&history).Error; err != nil {
				return fmt.Errorf("create status change: %w", err)
			}
		}
		if t.Outcome != nil {
			outcome := outcomeRowFromDomain(t.Outcome)
			if err := tx.Create(&outcome).Error; err != nil {
				return fmt.Errorf("create outcome: %w", err)
			}
		}
		if t.Outbox != nil {
			event := outboxRowFromDomain(t.Outbox)
			if err := tx.Create(&event).Error; err != nil {
				return fmt.Errorf("create outbox event: %w", err)
			}
		}
		return nil
	})
}

func (s *SessionStore) ListStaleAutomated(ctx context.Context, filter repository.StaleFilter) ([]domain.Session, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := s.db.WithContext(ctx).
		Model(&sessionRow{}).
		Where("status = ? AND automated_completed_at IS NULL AND created_at < ?", string(domain.SessionStatusAutomated), filter.CreatedBefore)
	if filter.AfterCreatedAt != nil {
		query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", *filter.AfterCreatedAt, *filter.AfterCreatedAt, filter.AfterID)
	}

	var rows []sessionRow
	if err := query.Order("created_at ASC").Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list stale sessions: %w", err)
	}
	out := make([]domain.Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row.toDomain())
	}
	return out, nil
}

func (s *SessionStore) CountInService(ctx context.Context, operatorIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(operatorIDs))
	if len(operatorIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		AssignedOperatorID string
		Total              int
	}
	err := s.db.WithContext(ctx).
		Model(&sessionRow{}).
		Select("assigned_operator_id, COUNT(*) AS total").
		Where("status = ? AND assigned_operator_id IN ?", string(domain.SessionStatusInService), operatorIDs).
		Group("assigned_operator_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count in service: %w", err)
	}
	for _, row := range rows {
		counts[row.AssignedOperatorID] = row.Total
	}
	return counts, nil
}

func (s *SessionStore) ListHistory(ctx context.Context, sessionID string) ([]domain.StatusChange, error) {
	var rows []statusChangeRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	out := make([]domain.StatusChange, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *SessionStore) GetOutcome(ctx context.Context, sessionID string) (*domain.SessionOutcome, error) {
	var row outcomeRow
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get outcome: %w", err)
	}
	return row.toDomain(), nil
}

func (s *SessionStore) ListPendingOutbox(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = repository.DefaultOutboxBatch
	}
	var rows []outboxRow
	err := s.db.WithContext(ctx).
		Where("sent_at IS NULL").
		Order("created_at ASC").Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list pending outbox: %w", err)
	}
	out := make([]domain.OutboxEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *SessionStore) MarkOutboxSent(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&outboxRow{}).
		Where("id = ? AND sent_at IS NULL", id).
		Updates(map[string]any{
			"sent_at":    at,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("mark outbox sent: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *SessionStore) MarkOutboxFailed(ctx context.Context, id string, reason string) error {
	res := s.db.WithContext(ctx).Model(&outboxRow{}).
		Where("id = ? AND sent_at IS NULL", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": repository.TruncateOutboxError(reason),
		})
	if res.Error != nil {
		return fmt.Errorf("mark outbox failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// OperatorStore implements repository.OperatorRepository on gorm.
type OperatorStore struct {
	db *gorm.DB
}

var _ repository.OperatorRepository = (*OperatorStore)(nil)

// Upsert writes an operator record. The directory is owned elsewhere; this
// exists for local seeding and tests.
func (s *OperatorStore) Upsert(ctx context.Context, op domain.Operator) error {
	row := operatorRowFromDomain(op)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert operator: %w", err)
	}
	return nil
}

func (s *OperatorStore) GetByID(ctx context.Context, id string) (*domain.Operator, error) {
	var row operatorRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get operator: %w", err)
	}
	op := row.toDomain()
	return &op, nil
}

func (s *OperatorStore) List(ctx context.Context, filter repository.OperatorFilter) ([]domain.Operator, error) {
	query := s.db.WithContext(ctx).Model(&operatorRow{})
	if filter.Department != nil {
		query = query.Where("department = ?", string(*filter.Department))
	}
	if filter.Profile != nil {
		query = query.Where("profile = ?", string(*filter.Profile))
	}
	if filter.Active != nil {
		query = query.Where("active_flag = ?", *filter.Active)
	}
	if filter.Listable != nil {
		query = query.Where("list_flag = ?", *filter.Listable)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = repository.DefaultOperatorLimit
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var rows []operatorRow
	if err := query.Order("created_at ASC").Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	out := make([]domain.Operator, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func activeStatuses() []string {
	out := make([]string, 0, len(domain.ActiveStatuses))
	for _, status := range domain.ActiveStatuses {
		out = append(out, string(status))
	}
	return out
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
