package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/spec-kit/queue-router/internal/domain"
	"github.com/spec-kit/queue-router/internal/repository"
)

// OperatorStore is an in-process operator directory, used for local runs and tests.
type OperatorStore struct {
	mu        sync.RWMutex
	operators map[string]domain.Operator
}

func NewOperatorStore(operators ...domain.Operator) *OperatorStore {
	store := &OperatorStore{operators: make(map[string]domain.Operator)}
	for _, op := range operators {
		store.operators[op.ID] = op
	}
	return store
}

var _ repository.OperatorRepository = (*OperatorStore)(nil)

// Put inserts or replaces an operator.
func (s *OperatorStore) Put(op domain.Operator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operators[op.ID] = op
}

// Remove deletes an operator from the directory.
func (s *OperatorStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.operators, id)
}

func (s *OperatorStore) GetByID(_ context.Context, id string) (*domain.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.operators[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &op, nil
}

func (s *OperatorStore) List(_ context.Context, filter repository.OperatorFilter) ([]domain.Operator, error) {
	s.mu.RLock()
	var result []domain.Operator
	for _, op := range s.operators {
		if filter.Matches(op) {
			result = append(result, op)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	limit := filter.Limit
	if limit <= 0 {
		limit = repository.DefaultOperatorLimit
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
