package events

import (
	"time"

	"github.com/spec-kit/queue-router/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventSessionCreated   EventType = "session_created"
	EventSessionWaiting   EventType = "session_waiting"
	EventSessionAssigned  EventType = "session_assigned"
	EventSessionCompleted EventType = "session_completed"
	EventSessionCancelled EventType = "session_cancelled"
)

// Event represents a domain event emitted by services after a committed write.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	SessionID string                 `json:"session_id"`
	Actor     *domain.ParticipantRef `json:"actor,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   interface{}            `json:"payload"`
}

// SessionCreatedPayload payload.
type SessionCreatedPayload struct {
	CustomerID string               `json:"customer_id"`
	Direction  domain.Direction     `json:"direction"`
	Status     domain.SessionStatus `json:"status"`
}

// SessionWaitingPayload payload.
type SessionWaitingPayload struct {
	Department          domain.Department `json:"department"`
	RequestedOperatorID *string           `json:"requested_operator_id,omitempty"`
}

// SessionAssignedPayload payload.
type SessionAssignedPayload struct {
	OperatorID string                  `json:"operator_id"`
	TargetKind domain.TargetKind       `json:"target_kind"`
	Reason     domain.AssignmentReason `json:"reason"`
	Department domain.Department       `json:"department"`
}

// CompletionEvent is handed to the history and tabulation recorder once per terminal session.
type CompletionEvent struct {
	SessionRef       string               `json:"session_ref"`
	CustomerID       string               `json:"customer_id"`
	Outcome          domain.Outcome       `json:"outcome"`
	AssignedOperator *string              `json:"assigned_operator,omitempty"`
	SupervisorID     *string              `json:"supervisor_id,omitempty"`
	StartedAt        time.Time            `json:"started_at"`
	EndedAt          time.Time            `json:"ended_at"`
	Department       *domain.Department   `json:"department,omitempty"`
	TabulationCode   *string              `json:"tabulation_code,omitempty"`
	CancelReason     *domain.CancelReason `json:"cancel_reason,omitempty"`
}

// CompletionFromOutcome builds the recorder payload from the stored outcome row.
func CompletionFromOutcome(o *domain.SessionOutcome) CompletionEvent {
	return CompletionEvent{
		SessionRef:       o.SessionID,
		CustomerID:       o.CustomerID,
		Outcome:          o.Outcome,
		AssignedOperator: o.AssignedOperatorID,
		SupervisorID:     o.SupervisorID,
		StartedAt:        o.StartedAt,
		EndedAt:          o.EndedAt,
		Department:       o.Department,
		TabulationCode:   o.TabulationCode,
		CancelReason:     o.CancelReason,
	}
}
