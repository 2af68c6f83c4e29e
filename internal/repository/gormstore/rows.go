package gormstore

import (
	"time"

	"github.com/spec-kit/queue-router/internal/domain"
)

type sessionRow struct {
	ID                   string    `gorm:"primaryKey;size:191"`
	CustomerID           string    `gorm:"size:191;not null;index"`
	Status               string    `gorm:"size:32;not null;index:idx_sessions_status_created,priority:1"`
	Direction            string    `gorm:"size:16;not null"`
	Department           *string   `gorm:"size:32"`
	RequestedOperatorID  *string   `gorm:"size:191"`
	AssignedOperatorID   *string   `gorm:"size:191;index"`
	SupervisorID         *string   `gorm:"size:191"`
	CancelReason         *string   `gorm:"size:32"`
	TabulationCode       *string   `gorm:"size:191"`
	CreatedAt            time.Time `gorm:"not null;index:idx_sessions_status_created,priority:2"`
	AutomatedCompletedAt *time.Time
	AssignedAt           *time.Time
	EndedAt              *time.Time
	UpdatedAt            time.Time `gorm:"not null"`
	Version              int64     `gorm:"not null"`
}

func (sessionRow) TableName() string {
	return "sessions"
}

func (r sessionRow) toDomain() *domain.Session {
	return &domain.Session{
		ID:                   r.ID,
		CustomerID:           r.CustomerID,
		Status:               domain.SessionStatus(r.Status),
		Direction:            domain.Direction(r.Direction),
		Department:           castPtr[domain.Department](r.Department),
		RequestedOperatorID:  r.RequestedOperatorID,
		AssignedOperatorID:   r.AssignedOperatorID,
		SupervisorID:         r.SupervisorID,
		CancelReason:         castPtr[domain.CancelReason](r.CancelReason),
		TabulationCode:       r.TabulationCode,
		CreatedAt:            r.CreatedAt.UTC(),
		AutomatedCompletedAt: utcPtr(r.AutomatedCompletedAt),
		AssignedAt:           utcPtr(r.AssignedAt),
		EndedAt:              utcPtr(r.EndedAt),
		UpdatedAt:            r.UpdatedAt.UTC(),
		Version:              r.Version,
	}
}

func sessionRowFromDomain(s *domain.Session) sessionRow {
	return sessionRow{
		ID:                   s.ID,
		CustomerID:           s.CustomerID,
		Status:               string(s.Status),
		Direction:            string(s.Direction),
		Department:           castPtr[string](s.Department),
		RequestedOperatorID:  s.RequestedOperatorID,
		AssignedOperatorID:   s.AssignedOperatorID,
		SupervisorID:         s.SupervisorID,
		CancelReason:         castPtr[string](s.CancelReason),
		TabulationCode:       s.TabulationCode,
		CreatedAt:            s.CreatedAt,
		AutomatedCompletedAt: s.AutomatedCompletedAt,
		AssignedAt:           s.AssignedAt,
		EndedAt:              s.EndedAt,
		UpdatedAt:            s.UpdatedAt,
		Version:              s.Version,
	}
}

// updates lists the mutable columns; nil pointers clear the column.
func (r sessionRow) updates() map[string]any {
	return map[string]any{
		"status":                 r.Status,
		"department":             r.Department,
		"requested_operator_id":  r.RequestedOperatorID,
		"assigned_operator_id":   r.AssignedOperatorID,
		"supervisor_id":          r.SupervisorID,
		"cancel_reason":          r.CancelReason,
		"tabulation_code":        r.TabulationCode,
		"automated_completed_at": r.AutomatedCompletedAt,
		"assigned_at":            r.AssignedAt,
		"ended_at":               r.EndedAt,
		"updated_at":             r.UpdatedAt,
		"version":                r.Version,
	}
}

type statusChangeRow struct {
	ID            string    `gorm:"primaryKey;size:64"`
	SessionID     string    `gorm:"size:191;not null;index:idx_history_session_created,priority:1"`
	FromStatus    *string   `gorm:"size:32"`
	ToStatus      string    `gorm:"size:32;not null"`
	ChangedByKind *string   `gorm:"size:16"`
	ChangedByID   *string   `gorm:"size:191"`
	Reason        string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null;index:idx_history_session_created,priority:2"`
}

func (statusChangeRow) TableName() string {
	return "session_status_history"
}

func statusChangeRowFromDomain(c *domain.StatusChange) statusChangeRow {
	row := statusChangeRow{
		ID:        c.ID,
		SessionID: c.SessionID,
		ToStatus:  string(c.ToStatus),
		Reason:    c.Reason,
		CreatedAt: c.CreatedAt,
	}
	if c.FromStatus != "" {
		from := string(c.FromStatus)
		row.FromStatus = &from
	}
	if c.ChangedBy != nil {
		kind, id := string(c.ChangedBy.Kind), c.ChangedBy.ID
		row.ChangedByKind, row.ChangedByID = &kind, &id
	}
	return row
}

func (r statusChangeRow) toDomain() domain.StatusChange {
	change := domain.StatusChange{
		ID:        r.ID,
		SessionID: r.SessionID,
		ToStatus:  domain.SessionStatus(r.ToStatus),
		Reason:    r.Reason,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.FromStatus != nil {
		change.FromStatus = domain.SessionStatus(*r.FromStatus)
	}
	if r.ChangedByKind != nil && r.ChangedByID != nil {
		change.ChangedBy = &domain.ParticipantRef{Kind: domain.ParticipantKind(*r.ChangedByKind), ID: *r.ChangedByID}
	}
	return change
}

type outcomeRow struct {
	SessionID          string    `gorm:"primaryKey;size:191"`
	CustomerID         string    `gorm:"size:191;not null;index"`
	Outcome            string    `gorm:"size:16;not null"`
	Department         *string   `gorm:"size:32"`
	AssignedOperatorID *string   `gorm:"size:191"`
	SupervisorID       *string   `gorm:"size:191"`
	TabulationCode     *string   `gorm:"size:191"`
	CancelReason       *string   `gorm:"size:32"`
	StartedAt          time.Time `gorm:"not null"`
	EndedAt            time.Time `gorm:"not null"`
}

func (outcomeRow) TableName() string {
	return "session_outcomes"
}

func outcomeRowFromDomain(o *domain.SessionOutcome) outcomeRow {
	return outcomeRow{
		SessionID:          o.SessionID,
		CustomerID:         o.CustomerID,
		Outcome:            string(o.Outcome),
		Department:         castPtr[string](o.Department),
		AssignedOperatorID: o.AssignedOperatorID,
		SupervisorID:       o.SupervisorID,
		TabulationCode:     o.TabulationCode,
		CancelReason:       castPtr[string](o.CancelReason),
		StartedAt:          o.StartedAt,
		EndedAt:            o.EndedAt,
	}
}

func (r outcomeRow) toDomain() *domain.SessionOutcome {
	return &domain.SessionOutcome{
		SessionID:          r.SessionID,
		CustomerID:         r.CustomerID,
		Outcome:            domain.Outcome(r.Outcome),
		Department:         castPtr[domain.Department](r.Department),
		AssignedOperatorID: r.AssignedOperatorID,
		SupervisorID:       r.SupervisorID,
		TabulationCode:     r.TabulationCode,
		CancelReason:       castPtr[domain.CancelReason](r.CancelReason),
		StartedAt:          r.StartedAt.UTC(),
		EndedAt:            r.EndedAt.UTC(),
	}
}

type outboxRow struct {
	ID        string    `gorm:"primaryKey;size:191"`
	SessionID string    `gorm:"size:191;not null;index"`
	EventType string    `gorm:"size:64;not null"`
	Payload   []byte    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index:idx_session_outbox_created"`
	SentAt    *time.Time
	Attempts  int     `gorm:"not null;default:0"`
	LastError *string `gorm:"size:512"`
}

func (outboxRow) TableName() string {
	return "session_outbox"
}

func outboxRowFromDomain(e *domain.OutboxEvent) outboxRow {
	return outboxRow{
		ID:        e.ID,
		SessionID: e.SessionID,
		EventType: e.EventType,
		Payload:   e.Payload,
		CreatedAt: e.CreatedAt,
	}
}

func (r outboxRow) toDomain() domain.OutboxEvent {
	event := domain.OutboxEvent{
		ID:        r.ID,
		SessionID: r.SessionID,
		EventType: r.EventType,
		Payload:   r.Payload,
		CreatedAt: r.CreatedAt.UTC(),
		SentAt:    utcPtr(r.SentAt),
		Attempts:  r.Attempts,
	}
	if r.LastError != nil {
		event.LastError = *r.LastError
	}
	return event
}

type operatorRow struct {
	ID         string    `gorm:"primaryKey;size:191"`
	Name       string    `gorm:"size:191;not null"`
	Department string    `gorm:"size:32;not null;index"`
	Profile    string    `gorm:"size:32;not null"`
	Active     bool      `gorm:"column:active_flag;not null"`
	Listable   bool      `gorm:"column:list_flag;not null"`
	Online     bool      `gorm:"column:online_flag;not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (operatorRow) TableName() string {
	return "operators"
}

func operatorRowFromDomain(op domain.Operator) operatorRow {
	return operatorRow{
		ID:         op.ID,
		Name:       op.Name,
		Department: string(op.Department),
		Profile:    string(op.Profile),
		Active:     op.Active,
		Listable:   op.Listable,
		Online:     op.Online,
		CreatedAt:  op.CreatedAt,
	}
}

func (r operatorRow) toDomain() domain.Operator {
	return domain.Operator{
		ID:         r.ID,
		Name:       r.Name,
		Department: domain.Department(r.Department),
		Profile:    domain.ProfileTier(r.Profile),
		Active:     r.Active,
		Listable:   r.Listable,
		Online:     r.Online,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

func castPtr[T ~string, S ~string](v *S) *T {
	if v == nil {
		return nil
	}
	out := T(*v)
	return &out
}

func utcPtr(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := v.UTC()
	return &out
}
