package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/queue-router/internal/domain"
	"github.com/spec-kit/queue-router/internal/events"
	"github.com/spec-kit/queue-router/internal/observability"
	"github.com/spec-kit/queue-router/internal/repository"
	apperrors "github.com/spec-kit/queue-router/pkg/util/errorutil"
)

// SessionService owns the session lifecycle.
type SessionService struct {
	sessions   repository.SessionRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	tx         transitioner
}

// SessionDependencies bundles collaborators for the session service.
type SessionDependencies struct {
	SessionRepo repository.SessionRepository
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Clock       func() time.Time
}

// CreateSessionInput describes a session creation signal.
type CreateSessionInput struct {
	SessionID           string
	CustomerID          string
	Direction           domain.Direction
	Department          *domain.Department
	RequestedOperatorID *string
}

// CompleteInput carries the optional resolution data of a completion.
type CompleteInput struct {
	TabulationCode *string
	By             *domain.ParticipantRef
}

// CancelInput describes a cancellation.
type CancelInput struct {
	Reason domain.CancelReason
	By     *domain.ParticipantRef
}

// NewSessionService constructs the service.
func NewSessionService(deps SessionDependencies) *SessionService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		sessions:   deps.SessionRepo,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		metrics:    deps.Metrics,
		tx:         newTransitioner(deps.SessionRepo, deps.Clock),
	}
}

// CreateSession opens a session for a customer. Inbound sessions start in
// automated; outbound sessions skip it and start waiting, so they need a department.
// Replaying a create with the id of the customer's live session returns that session.
func (s *SessionService) CreateSession(ctx context.Context, input CreateSessionInput) (*domain.Session, error) {
	customerID := strings.TrimSpace(input.CustomerID)
	if customerID == "" {
		return nil, apperrors.NewValidationError("customer_id is required", nil)
	}
	direction := input.Direction
	if direction == "" {
		direction = domain.DirectionInbound
	}
	if !direction.Valid() {
		return nil, apperrors.NewValidationError("invalid direction", map[string]any{"direction": direction})
	}
	if direction == domain.DirectionOutbound && input.Department == nil {
		return nil, apperrors.NewValidationError("department is required for outbound sessions", nil)
	}
	if input.Department != nil && !input.Department.Valid() {
		return nil, apperrors.NewValidationError("invalid department", map[string]any{"department": *input.Department})
	}

	sessionID := strings.TrimSpace(input.SessionID)
	existing, err := s.sessions.GetActiveByCustomer(ctx, customerID)
	switch {
	case err == nil:
		if sessionID != "" && existing.ID == sessionID {
			return existing, nil
		}
		return nil, apperrors.NewDuplicateActiveSession(customerID, existing.ID)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, apperrors.MapError(err)
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := s.tx.now(nil)
	session := &domain.Session{
		ID:         sessionID,
		CustomerID: customerID,
		Status:     direction.InitialStatus(),
		Direction:  direction,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if direction == domain.DirectionOutbound {
		session.Department = input.Department
		session.RequestedOperatorID = input.RequestedOperatorID
	}
	change := &domain.StatusChange{ToStatus: session.Status, Reason: "created", CreatedAt: now}

	if err := s.sessions.Create(ctx, session, change); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateActive):
			existingID := ""
			if current, lookupErr := s.sessions.GetActiveByCustomer(ctx, customerID); lookupErr == nil {
				existingID = current.ID
			}
			return nil, apperrors.NewDuplicateActiveSession(customerID, existingID)
		case errors.Is(err, repository.ErrDuplicateSession):
			return nil, apperrors.NewValidationError("session id already used", map[string]any{"session_id": sessionID})
		}
		return nil, apperrors.MapError(err)
	}

	s.publish(ctx, events.Event{
		Type:      events.EventSessionCreated,
		SessionID: session.ID,
		Actor:     domain.CustomerRef(customerID),
		Timestamp: now,
		Payload: events.SessionCreatedPayload{
			CustomerID: customerID,
			Direction:  direction,
			Status:     session.Status,
		},
	})
	return session, nil
}

// RecordAutomatedCompletion moves an automated session to waiting with its department and optional preference.
func (s *SessionService) RecordAutomatedCompletion(ctx context.Context, sessionID string, department domain.Department, requestedOperatorID *string) (*domain.Session, error) {
	if !department.Valid() {
		return nil, apperrors.NewValidationError("invalid department", map[string]any{"department": department})
	}
	if requestedOperatorID != nil && strings.TrimSpace(*requestedOperatorID) == "" {
		requestedOperatorID = nil
	}

	session, plan, err := s.tx.apply(ctx, sessionID, func(current *domain.Session) (*transitionPlan, error) {
		if current.Status != domain.SessionStatusAutomated {
			return nil, rejectMove(current, domain.SessionStatusWaiting)
		}
		now := s.tx.now(current)
		next := current.Clone()
		next.Status = domain.SessionStatusWaiting
		next.Department = &department
		next.RequestedOperatorID = requestedOperatorID
		next.AutomatedCompletedAt = &now
		next.UpdatedAt = now
		return &transitionPlan{
			next:   next,
			change: statusChange(current, next.Status, domain.CustomerRef(current.CustomerID), "automated_flow_completed", now),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if plan != nil {
		s.publish(ctx, events.Event{
			Type:      events.EventSessionWaiting,
			SessionID: session.ID,
			Actor:     plan.change.ChangedBy,
			Timestamp: session.UpdatedAt,
			Payload: events.SessionWaitingPayload{
				Department:          department,
				RequestedOperatorID: session.RequestedOperatorID,
			},
		})
	}
	return session, nil
}

// MarkCompleted closes an in-service session. Completing an already completed
// session returns it unchanged.
func (s *SessionService) MarkCompleted(ctx context.Context, sessionID string, input CompleteInput) (*domain.Session, error) {
	session, plan, err := s.tx.apply(ctx, sessionID, func(current *domain.Session) (*transitionPlan, error) {
		switch current.Status {
		case domain.SessionStatusCompleted:
			return nil, nil
		case domain.SessionStatusInService:
		default:
			return nil, rejectMove(current, domain.SessionStatusCompleted)
		}
		now := s.tx.now(current)
		next := current.Clone()
		next.Status = domain.SessionStatusCompleted
		next.EndedAt = &now
		next.UpdatedAt = now
		if input.TabulationCode != nil && strings.TrimSpace(*input.TabulationCode) != "" {
			code := strings.TrimSpace(*input.TabulationCode)
			next.TabulationCode = &code
		}
		return terminalPlan(next, statusChange(current, next.Status, input.By, "completed", now))
	})
	if err != nil {
		return nil, err
	}
	if plan != nil {
		s.publishTerminal(ctx, plan)
	}
	return session, nil
}

// MarkCancelled cancels a live session. Cancelling an already cancelled
// session returns it unchanged; a completed session cannot be cancelled.
func (s *SessionService) MarkCancelled(ctx context.Context, sessionID string, input CancelInput) (*domain.Session, error) {
	if input.Reason == "" {
		input.Reason = domain.CancelReasonCustomer
	}
	return s.cancel(ctx, sessionID, input, nil)
}

// ForceCancel is the supervisory cancellation.
func (s *SessionService) ForceCancel(ctx context.Context, sessionID string, by *domain.ParticipantRef) (*domain.Session, error) {
	return s.cancel(ctx, sessionID, CancelInput{Reason: domain.CancelReasonForced, By: by}, nil)
}

// expireStale cancels a session with reason timeout only while it is still an
// unfinished automated session created before cutoff. It reports whether this
// call performed the cancellation.
func (s *SessionService) expireStale(ctx context.Context, sessionID string, cutoff time.Time) (bool, error) {
	stillStale := func(current *domain.Session) bool {
		return current.Status == domain.SessionStatusAutomated &&
			current.AutomatedCompletedAt == nil &&
			current.CreatedAt.Before(cutoff)
	}
	var cancelled bool
	_, err := s.cancel(ctx, sessionID, CancelInput{Reason: domain.CancelReasonTimeout}, func(current *domain.Session) bool {
		cancelled = stillStale(current)
		return cancelled
	})
	return cancelled, err
}

func (s *SessionService) cancel(ctx context.Context, sessionID string, input CancelInput, guard func(*domain.Session) bool) (*domain.Session, error) {
	session, plan, err := s.tx.apply(ctx, sessionID, func(current *domain.Session) (*transitionPlan, error) {
		if guard != nil && !guard(current) {
			return nil, nil
		}
		if current.Status == domain.SessionStatusCancelled {
			return nil, nil
		}
		if !domain.CanTransition(current.Status, domain.SessionStatusCancelled) {
			return nil, rejectMove(current, domain.SessionStatusCancelled)
		}
		now := s.tx.now(current)
		reason := input.Reason
		next := current.Clone()
		next.Status = domain.SessionStatusCancelled
		next.CancelReason = &reason
		next.EndedAt = &now
		next.UpdatedAt = now
		return terminalPlan(next, statusChange(current, next.Status, input.By, string(reason), now))
	})
	if err != nil {
		return nil, err
	}
	if plan != nil {
		s.publishTerminal(ctx, plan)
	}
	return session, nil
}

// GetSession loads a session by id.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.tx.load(ctx, sessionID)
}

// GetActiveSessionForCustomer returns the customer's live session, or nil when there is none.
func (s *SessionService) GetActiveSessionForCustomer(ctx context.Context, customerID string) (*domain.Session, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, apperrors.NewValidationError("customer_id is required", nil)
	}
	session, err := s.sessions.GetActiveByCustomer(ctx, customerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return session, nil
}

// ListHistory returns the status history of a session, oldest first.
func (s *SessionService) ListHistory(ctx context.Context, sessionID string) ([]domain.StatusChange, error) {
	if _, err := s.tx.load(ctx, sessionID); err != nil {
		return nil, err
	}
	history, err := s.sessions.ListHistory(ctx, sessionID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return history, nil
}

// GetOutcome returns the outcome row of a finished session.
func (s *SessionService) GetOutcome(ctx context.Context, sessionID string) (*domain.SessionOutcome, error) {
	outcome, err := s.sessions.GetOutcome(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("session outcome", map[string]any{"session_id": sessionID})
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return outcome, nil
}

func (s *SessionService) publishTerminal(ctx context.Context, plan *transitionPlan) {
	s.metrics.RecordCompletion(string(plan.next.Status))
	s.publish(ctx, events.Event{
		ID:        plan.outbox.ID,
		Type:      terminalEventType(plan.next.Status),
		SessionID: plan.next.ID,
		Actor:     plan.change.ChangedBy,
		Timestamp: plan.next.UpdatedAt,
		Payload:   events.CompletionFromOutcome(plan.outcome),
	})
}

func (s *SessionService) publish(ctx context.Context, event events.Event) {
	publishEvent(ctx, s.dispatcher, s.logger, event)
}

func publishEvent(ctx context.Context, dispatcher events.Dispatcher, logger *zap.Logger, event events.Event) {
	if dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if err := dispatcher.Publish(ctx, event); err != nil {
		logger.Warn("event handler failed",
			zap.String("event_type", string(event.Type)),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
	}
}
