package domain

import "time"

// SessionStatus enumerates lifecycle states for a routing session.
type SessionStatus string

const (
	SessionStatusAutomated SessionStatus = "automated"
	SessionStatusWaiting   SessionStatus = "waiting"
	SessionStatusInService SessionStatus = "in_service"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// ActiveStatuses are the non-terminal statuses covered by the one-active-session-per-customer rule.
var ActiveStatuses = []SessionStatus{
	SessionStatusAutomated,
	SessionStatusWaiting,
	SessionStatusInService,
}

// Terminal reports whether no further transition is legal.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusCancelled
}

// Active reports whether s is a non-terminal status.
func (s SessionStatus) Active() bool {
	switch s {
	case SessionStatusAutomated, SessionStatusWaiting, SessionStatusInService:
		return true
	}
	return false
}

// Direction tells who started the conversation.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// InitialStatus returns the status a new session starts in.
func (d Direction) InitialStatus() SessionStatus {
	if d == DirectionOutbound {
		return SessionStatusWaiting
	}
	return SessionStatusAutomated
}

// CancelReason records why a session was cancelled.
type CancelReason string

const (
	CancelReasonTimeout  CancelReason = "timeout"
	CancelReasonForced   CancelReason = "forced"
	CancelReasonCustomer CancelReason = "customer"
)

// Session is one customer-service interaction, from automated intake to resolution.
type Session struct {
	ID                   string
	CustomerID           string
	Status               SessionStatus
	Direction            Direction
	Department           *Department
	RequestedOperatorID  *string
	AssignedOperatorID   *string
	SupervisorID         *string
	CancelReason         *CancelReason
	TabulationCode       *string
	CreatedAt            time.Time
	AutomatedCompletedAt *time.Time
	AssignedAt           *time.Time
	EndedAt              *time.Time
	UpdatedAt            time.Time
	Version              int64
}

// Clone returns a deep copy so callers can stage a transition without touching the loaded value.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Department = clonePtr(s.Department)
	out.RequestedOperatorID = clonePtr(s.RequestedOperatorID)
	out.AssignedOperatorID = clonePtr(s.AssignedOperatorID)
	out.SupervisorID = clonePtr(s.SupervisorID)
	out.CancelReason = clonePtr(s.CancelReason)
	out.TabulationCode = clonePtr(s.TabulationCode)
	out.AutomatedCompletedAt = clonePtr(s.AutomatedCompletedAt)
	out.AssignedAt = clonePtr(s.AssignedAt)
	out.EndedAt = clonePtr(s.EndedAt)
	return &out
}

// StartedAt is when service began: assignment time, or creation when never assigned.
func (s *Session) StartedAt() time.Time {
	if s.AssignedAt != nil {
		return *s.AssignedAt
	}
	return s.CreatedAt
}

// LastEventAt is the most recent lifecycle timestamp, used to keep timestamps monotonic.
func (s *Session) LastEventAt() time.Time {
	last := s.CreatedAt
	for _, ts := range []*time.Time{s.AutomatedCompletedAt, s.AssignedAt, s.EndedAt} {
		if ts != nil && ts.After(last) {
			last = *ts
		}
	}
	return last
}

var allowedTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusAutomated: {SessionStatusWaiting, SessionStatusCancelled},
	SessionStatusWaiting:   {SessionStatusInService, SessionStatusCancelled},
	SessionStatusInService: {SessionStatusCompleted, SessionStatusCancelled},
	SessionStatusCompleted: {},
	SessionStatusCancelled: {},
}

// CanTransition reports whether the state machine allows current -> next.
func CanTransition(current, next SessionStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
