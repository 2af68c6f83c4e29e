package domain

import "time"

// TargetKind tells whether a session went to a regular operator or was escalated.
type TargetKind string

const (
	TargetOperator   TargetKind = "operator"
	TargetSupervisor TargetKind = "supervisor"
)

// AssignmentReason explains a routing decision.
type AssignmentReason string

const (
	ReasonPreferredOperator    AssignmentReason = "preferred_operator"
	ReasonFirstAvailable       AssignmentReason = "first_available"
	ReasonPreferredUnavailable AssignmentReason = "preferred_unavailable"
	ReasonNoOperatorOnline     AssignmentReason = "no_operator_online"
)

// AssignmentDecision is produced per assignment attempt and never persisted as such.
type AssignmentDecision struct {
	TargetOperatorID string
	TargetKind       TargetKind
	Reason           AssignmentReason
}

// Candidate is an eligible operator annotated with live availability.
type Candidate struct {
	Operator Operator
	Online   bool
}

// CandidateEntry is one row of a presented operator list.
type CandidateEntry struct {
	Position   int    `json:"position"`
	OperatorID string `json:"operator_id"`
	Name       string `json:"name"`
	Online     bool   `json:"online"`
}

// CandidateList is the snapshot shown to a customer choosing an operator by position.
type CandidateList struct {
	ListID      string           `json:"list_id"`
	SessionID   string           `json:"session_id"`
	Department  Department       `json:"department"`
	GeneratedAt time.Time        `json:"generated_at"`
	Entries     []CandidateEntry `json:"entries"`
}

// At resolves a 1-based position.
func (l *CandidateList) At(position int) (CandidateEntry, bool) {
	if l == nil || position < 1 || position > len(l.Entries) {
		return CandidateEntry{}, false
	}
	return l.Entries[position-1], true
}
