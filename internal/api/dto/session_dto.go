package dto

import (
	"time"

	"github.com/spec-kit/queue-router/internal/domain"
)

// CreateSessionRequest payload.
type CreateSessionRequest struct {
	SessionID           string  `json:"session_id"`
	CustomerID          string  `json:"customer_id"`
	Direction           string  `json:"direction"`
	Department          *string `json:"department"`
	RequestedOperatorID *string `json:"requested_operator_id"`
}

// AutomatedCompletionRequest is sent when the chat flow hands the customer over.
type AutomatedCompletionRequest struct {
	Department          string  `json:"department"`
	RequestedOperatorID *string `json:"requested_operator_id"`
}

// PresentOperatorsRequest payload. Department is required while the session is automated.
type PresentOperatorsRequest struct {
	Department *string `json:"department"`
}

// SelectOperatorRequest resolves a position against a presented list.
// An empty list id means the latest list of the session.
type SelectOperatorRequest struct {
	ListID   string `json:"list_id"`
	Position int    `json:"position"`
}

// ParticipantRefRequest identifies who triggered a transition.
type ParticipantRefRequest struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// CompleteSessionRequest payload.
type CompleteSessionRequest struct {
	TabulationCode *string                `json:"tabulation_code"`
	ChangedBy      *ParticipantRefRequest `json:"changed_by"`
}

// SessionResponse represents a session.
type SessionResponse struct {
	ID                   string               `json:"id"`
	CustomerID           string               `json:"customer_id"`
	Status               domain.SessionStatus `json:"status"`
	Direction            domain.Direction     `json:"direction"`
	Department           *domain.Department   `json:"department"`
	RequestedOperatorID  *string              `json:"requested_operator_id"`
	AssignedOperatorID   *string              `json:"assigned_operator_id"`
	SupervisorID         *string              `json:"supervisor_id"`
	CancelReason         *domain.CancelReason `json:"cancel_reason,omitempty"`
	TabulationCode       *string              `json:"tabulation_code,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
	AutomatedCompletedAt *time.Time           `json:"automated_completed_at"`
	AssignedAt           *time.Time           `json:"assigned_at"`
	EndedAt              *time.Time           `json:"ended_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
	Version              int64                `json:"version"`
}

// StatusChangeResponse is one history entry.
type StatusChangeResponse struct {
	ID         string                 `json:"id"`
	FromStatus domain.SessionStatus   `json:"from_status,omitempty"`
	ToStatus   domain.SessionStatus   `json:"to_status"`
	ChangedBy  *domain.ParticipantRef `json:"changed_by,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// DecisionResponse describes who received the session and why.
type DecisionResponse struct {
	OperatorID string                  `json:"operator_id"`
	TargetKind domain.TargetKind       `json:"target_kind"`
	Reason     domain.AssignmentReason `json:"reason"`
}

// AssignmentResponse is returned by assign and select.
type AssignmentResponse struct {
	Session  SessionResponse  `json:"session"`
	Decision DecisionResponse `json:"decision"`
}

// OutcomeResponse is the terminal record of a session.
type OutcomeResponse struct {
	SessionID          string               `json:"session_id"`
	CustomerID         string               `json:"customer_id"`
	Outcome            domain.Outcome       `json:"outcome"`
	Department         *domain.Department   `json:"department"`
	AssignedOperatorID *string              `json:"assigned_operator_id"`
	SupervisorID       *string              `json:"supervisor_id"`
	TabulationCode     *string              `json:"tabulation_code"`
	CancelReason       *domain.CancelReason `json:"cancel_reason"`
	StartedAt          time.Time            `json:"started_at"`
	EndedAt            time.Time            `json:"ended_at"`
}
