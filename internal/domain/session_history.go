package domain

import "time"

// StatusChange is an immutable audit entry for one session transition.
type StatusChange struct {
	ID         string
	SessionID  string
	FromStatus SessionStatus
	ToStatus   SessionStatus
	ChangedBy  *ParticipantRef
	Reason     string
	CreatedAt  time.Time
}

// Outcome is the terminal result of a session.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
)

// SessionOutcome is the append-only record written once per terminal session.
type SessionOutcome struct {
	SessionID          string
	CustomerID         string
	Outcome            Outcome
	Department         *Department
	AssignedOperatorID *string
	SupervisorID       *string
	TabulationCode     *string
	CancelReason       *CancelReason
	StartedAt          time.Time
	EndedAt            time.Time
}

// OutcomeFor derives the outcome record of a session that just reached a terminal status.
func OutcomeFor(s *Session) *SessionOutcome {
	if s == nil || !s.Status.Terminal() || s.EndedAt == nil {
		return nil
	}
	outcome := OutcomeCompleted
	if s.Status == SessionStatusCancelled {
		outcome = OutcomeCancelled
	}
	return &SessionOutcome{
		SessionID:          s.ID,
		CustomerID:         s.CustomerID,
		Outcome:            outcome,
		Department:         clonePtr(s.Department),
		AssignedOperatorID: clonePtr(s.AssignedOperatorID),
		SupervisorID:       clonePtr(s.SupervisorID),
		TabulationCode:     clonePtr(s.TabulationCode),
		CancelReason:       clonePtr(s.CancelReason),
		StartedAt:          s.StartedAt(),
		EndedAt:            *s.EndedAt,
	}
}
