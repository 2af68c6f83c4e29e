package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/queue-router/internal/domain"
)

// OperatorRepository is a read-only view of the operator directory owned by user management.
type OperatorRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Operator, error)
	List(ctx context.Context, filter OperatorFilter) ([]domain.Operator, error)
}

// OperatorFilter defines query params for operator listing.
// Results are always ordered by creation time, then id.
type OperatorFilter struct {
	Department *domain.Department
	Profile    *domain.ProfileTier
	Active     *bool
	Listable   *bool
	Limit      int
	Offset     int
}

// DefaultOperatorLimit caps a directory page when no limit is given.
const DefaultOperatorLimit = 500

// EligibleFilter selects active, listable operators of one profile in a department.
func EligibleFilter(department domain.Department, profile domain.ProfileTier) OperatorFilter {
	yes := true
	return OperatorFilter{
		Department: &department,
		Profile:    &profile,
		Active:     &yes,
		Listable:   &yes,
	}
}

// Matches reports whether op satisfies the filter, for stores that filter in memory.
func (f OperatorFilter) Matches(op domain.Operator) bool {
	if f.Department != nil && op.Department != *f.Department {
		return false
	}
	if f.Profile != nil && op.Profile != *f.Profile {
		return false
	}
	if f.Active != nil && op.Active != *f.Active {
		return false
	}
	if f.Listable != nil && op.Listable != *f.Listable {
		return false
	}
	return true
}

type operatorRepository struct {
	pool *pgxpool.Pool
}

// NewOperatorRepository instantiates the Postgres directory reader.
func NewOperatorRepository(pool *pgxpool.Pool) OperatorRepository {
	return &operatorRepository{pool: pool}
}

const operatorColumns = `id, name, department, profile, active_flag, list_flag, online_flag, created_at`

func (r *operatorRepository) GetByID(ctx context.Context, id string) (*domain.Operator, error) {
	query := `SELECT ` + operatorColumns + ` FROM operators WHERE id=$1`

	op, err := scanOperator(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return op, err
}

func (r *operatorRepository) List(ctx context.Context, filter OperatorFilter) ([]domain.Operator, error) {
	query := `SELECT ` + operatorColumns + ` FROM operators`
	args := []any{}
	clauses := []string{}

	if filter.Department != nil {
		args = append(args, *filter.Department)
		clauses = append(clauses, fmt.Sprintf("department=$%d", len(args)))
	}
	if filter.Profile != nil {
		args = append(args, *filter.Profile)
		clauses = append(clauses, fmt.Sprintf("profile=$%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		clauses = append(clauses, fmt.Sprintf("active_flag=$%d", len(args)))
	}
	if filter.Listable != nil {
		args = append(args, *filter.Listable)
		clauses = append(clauses, fmt.Sprintf("list_flag=$%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	query += " ORDER BY created_at ASC, id ASC"
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultOperatorLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *op)
	}
	return result, rows.Err()
}

func scanOperator(row pgx.Row) (*domain.Operator, error) {
	var op domain.Operator
	if err := row.Scan(
		&op.ID,
		&op.Name,
		&op.Department,
		&op.Profile,
		&op.Active,
		&op.Listable,
		&op.Online,
		&op.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &op, nil
}
