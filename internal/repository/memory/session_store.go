package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/queue-router/internal/domain"
	"github.com/spec-kit/queue-router/internal/repository"
)

// SessionStore keeps sessions in process. The single mutex gives the same
// compare-and-set guarantees as the durable stores for one instance.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	history  map[string][]domain.StatusChange
	outcomes map[string]*domain.SessionOutcome
	outbox   []domain.OutboxEvent
}

// NewSessionStore builds an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*domain.Session),
		history:  make(map[string][]domain.StatusChange),
		outcomes: make(map[string]*domain.SessionOutcome),
	}
}

var (
	_ repository.SessionRepository = (*SessionStore)(nil)
	_ repository.OutboxRepository  = (*SessionStore)(nil)
)

func (s *SessionStore) Create(_ context.Context, session *domain.Session, change *domain.StatusChange) error {
	repository.PrepareCreate(session, change)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return repository.ErrDuplicateSession
	}
	if session.Status.Active() {
		for _, existing := range s.sessions {
			if existing.CustomerID == session.CustomerID && existing.Status.Active() {
				return repository.ErrDuplicateActive
			}
		}
	}

	s.sessions[session.ID] = session.Clone()
	if change != nil {
		s.history[session.ID] = append(s.history[session.ID], *change)
	}
	return nil
}

func (s *SessionStore) GetByID(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *SessionStore) GetActiveByCustomer(_ context.Context, customerID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if sess.CustomerID == customerID && sess.Status.Active() {
			return sess.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *SessionStore) Apply(_ context.Context, t repository.Transition) error {
	if err := repository.PrepareApply(&t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[t.Next.ID]
	if !ok || current.Status != t.ExpectedStatus || current.Version != t.ExpectedVersion {
		return repository.ErrStateMismatch
	}

	s.sessions[t.Next.ID] = t.Next.Clone()
	if t.Change != nil {
		s.history[t.Next.ID] = append(s.history[t.Next.ID], *t.Change)
	}
	if t.Outcome != nil {
		outcome := *t.Outcome
		s.outcomes[t.Next.ID] = &outcome
	}
	if t.Outbox != nil {
		event := *t.Outbox
		event.Payload = append([]byte(nil), t.Outbox.Payload...)
		s.outbox = append(s.outbox, event)
	}
	return nil
}

func (s *SessionStore) ListStaleAutomated(_ context.Context, filter repository.StaleFilter) ([]domain.Session, error) {
	s.mu.RLock()
	var result []domain.Session
	for _, sess := range s.sessions {
		if sess.Status != domain.SessionStatusAutomated || sess.AutomatedCompletedAt != nil {
			continue
		}
		if !sess.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}
		if filter.AfterCreatedAt != nil && !afterCursor(sess, *filter.AfterCreatedAt, filter.AfterID) {
			continue
		}
		result = append(result, *sess.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func afterCursor(sess *domain.Session, createdAt time.Time, id string) bool {
	if sess.CreatedAt.Equal(createdAt) {
		return sess.ID > id
	}
	return sess.CreatedAt.After(createdAt)
}

func (s *SessionStore) CountInService(_ context.Context, operatorIDs []string) (map[string]int, error) {
	wanted := make(map[string]struct{}, len(operatorIDs))
	for _, id := range operatorIDs {
		wanted[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int, len(operatorIDs))
	for _, sess := range s.sessions {
		if sess.Status != domain.SessionStatusInService || sess.AssignedOperatorID == nil {
			continue
		}
		if _, ok := wanted[*sess.AssignedOperatorID]; ok {
			counts[*sess.AssignedOperatorID]++
		}
	}
	return counts, nil
}

func (s *SessionStore) ListHistory(_ context.Context, sessionID string) ([]domain.StatusChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[sessionID]
	out := make([]domain.StatusChange, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *SessionStore) GetOutcome(_ context.Context, sessionID string) (*domain.SessionOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	outcome, ok := s.outcomes[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *outcome
	return &copied, nil
}

// ListPendingOutbox returns unsent events in write order.
func (s *SessionStore) ListPendingOutbox(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = repository.DefaultOutboxBatch
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []domain.OutboxEvent
	for _, event := range s.outbox {
		if event.SentAt != nil {
			continue
		}
		event.Payload = append([]byte(nil), event.Payload...)
		pending = append(pending, event)
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (s *SessionStore) MarkOutboxSent(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event := s.pendingOutbox(id)
	if event == nil {
		return repository.ErrNotFound
	}
	sentAt := at
	event.SentAt = &sentAt
	event.Attempts++
	event.LastError = ""
	return nil
}

func (s *SessionStore) MarkOutboxFailed(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event := s.pendingOutbox(id)
	if event == nil {
		return repository.ErrNotFound
	}
	event.Attempts++
	event.LastError = repository.TruncateOutboxError(reason)
	return nil
}

// Outbox returns every stored event, sent or not.
func (s *SessionStore) Outbox() []domain.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.OutboxEvent, len(s.outbox))
	copy(out, s.outbox)
	return out
}

func (s *SessionStore) pendingOutbox(id string) *domain.OutboxEvent {
	for i := range s.outbox {
		if s.outbox[i].ID == id && s.outbox[i].SentAt == nil {
			return &s.outbox[i]
		}
	}
	return nil
}
