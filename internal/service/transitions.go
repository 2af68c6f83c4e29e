package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/queue-router/internal/domain"
	"github.com/spec-kit/queue-router/internal/events"
	"github.com/spec-kit/queue-router/internal/repository"
	apperrors "github.com/spec-kit/queue-router/pkg/util/errorutil"
)

// maxTransitionAttempts bounds reload-and-retry after a lost compare-and-set.
const maxTransitionAttempts = 5

// transitionPlan is the write a planner wants applied to the loaded session.
type transitionPlan struct {
	next    *domain.Session
	change  *domain.StatusChange
	outcome *domain.SessionOutcome
	outbox  *domain.OutboxEvent
}

// planner inspects the committed session and returns the write to apply.
// A nil plan with a nil error means there is nothing to do.
type planner func(current *domain.Session) (*transitionPlan, error)

// transitioner runs every session mutation as load, plan, compare-and-set.
// When the compare-and-set loses, the session is reloaded and planned again,
// so a planner always decides against committed state.
type transitioner struct {
	sessions repository.SessionRepository
	clock    func() time.Time
}

func newTransitioner(sessions repository.SessionRepository, clock func() time.Time) transitioner {
	if clock == nil {
		clock = time.Now
	}
	return transitioner{sessions: sessions, clock: clock}
}

// now returns a timestamp never earlier than the session's last lifecycle event.
func (t transitioner) now(session *domain.Session) time.Time {
	ts := t.clock().UTC()
	if session != nil {
		if last := session.LastEventAt(); ts.Before(last) {
			return last
		}
	}
	return ts
}

func (t transitioner) load(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := t.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewSessionNotFound(sessionID)
		}
		return nil, apperrors.MapError(err)
	}
	return session, nil
}

// apply returns the resulting session and whether a write was committed.
func (t transitioner) apply(ctx context.Context, sessionID string, plan planner) (*domain.Session, *transitionPlan, error) {
	var current *domain.Session
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		var err error
		current, err = t.load(ctx, sessionID)
		if err != nil {
			return nil, nil, err
		}
		p, err := plan(current)
		if err != nil {
			return nil, nil, err
		}
		if p == nil {
			return current, nil, nil
		}

		err = t.sessions.Apply(ctx, repository.Transition{
			ExpectedStatus:  current.Status,
			ExpectedVersion: current.Version,
			Next:            p.next,
			Change:          p.change,
			Outcome:         p.outcome,
			Outbox:          p.outbox,
		})
		if err == nil {
			return p.next, p, nil
		}
		if !errors.Is(err, repository.ErrStateMismatch) {
			return nil, nil, apperrors.MapError(err)
		}
	}
	// Contention outlasted the retry budget; the caller may retry the request.
	return nil, nil, apperrors.NewInternalError(fmt.Errorf("session %s: %d attempts: %w", sessionID, maxTransitionAttempts, repository.ErrStateMismatch))
}

// statusChange builds the audit entry for a move out of current.
func statusChange(current *domain.Session, to domain.SessionStatus, by *domain.ParticipantRef, reason string, at time.Time) *domain.StatusChange {
	return &domain.StatusChange{
		SessionID:  current.ID,
		FromStatus: current.Status,
		ToStatus:   to,
		ChangedBy:  by,
		Reason:     reason,
		CreatedAt:  at,
	}
}

// terminalPlan finishes a move into completed or cancelled: the outcome row
// and the outbox event are written with the session in one transaction.
func terminalPlan(next *domain.Session, change *domain.StatusChange) (*transitionPlan, error) {
	outcome := domain.OutcomeFor(next)
	payload, err := json.Marshal(events.CompletionFromOutcome(outcome))
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("encode completion: %w", err))
	}
	return &transitionPlan{
		next:    next,
		change:  change,
		outcome: outcome,
		outbox: &domain.OutboxEvent{
			ID:        uuid.NewString(),
			SessionID: next.ID,
			EventType: string(terminalEventType(next.Status)),
			Payload:   payload,
			CreatedAt: next.UpdatedAt,
		},
	}, nil
}

func terminalEventType(status domain.SessionStatus) events.EventType {
	if status == domain.SessionStatusCancelled {
		return events.EventSessionCancelled
	}
	return events.EventSessionCompleted
}

// rejectMove maps an illegal move from current to the caller-facing error.
func rejectMove(current *domain.Session, to domain.SessionStatus) error {
	if current.Status.Terminal() {
		return apperrors.NewConflictState(current.ID, current.Status)
	}
	return apperrors.NewInvalidTransition(current.ID, current.Status, to)
}
