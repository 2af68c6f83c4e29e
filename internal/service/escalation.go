package service

import (
	"errors"

	"github.com/spec-kit/queue-router/internal/domain"
)

// ErrNoSupervisor is returned by Escalate when the department has no eligible supervisor.
var ErrNoSupervisor = errors.New("no eligible supervisor in department")

// SupervisorCandidate is a supervisor with an optional load signal: the
// number of sessions currently in service with them. Nil means unknown.
type SupervisorCandidate struct {
	Operator domain.Operator
	Load     *int
}

// EscalationInput is everything the escalation decision looks at.
type EscalationInput struct {
	Department  domain.Department
	Reason      domain.AssignmentReason
	Supervisors []SupervisorCandidate
}

// Escalate picks the supervisor that takes a session no regular operator can.
// Only active, listable supervisors of the same department qualify. Among
// them the least loaded wins, ties and unknown loads keep the input order.
func Escalate(input EscalationInput) (domain.AssignmentDecision, error) {
	var (
		chosen    *SupervisorCandidate
		firstSeen *SupervisorCandidate
	)
	for i := range input.Supervisors {
		candidate := &input.Supervisors[i]
		op := candidate.Operator
		if op.Profile != domain.ProfileSupervisor || !op.Eligible() || op.Department != input.Department {
			continue
		}
		if firstSeen == nil {
			firstSeen = candidate
		}
		if candidate.Load == nil {
			continue
		}
		if chosen == nil || *candidate.Load < *chosen.Load {
			chosen = candidate
		}
	}
	if chosen == nil {
		chosen = firstSeen
	}
	if chosen == nil {
		return domain.AssignmentDecision{}, ErrNoSupervisor
	}
	return domain.AssignmentDecision{
		TargetOperatorID: chosen.Operator.ID,
		TargetKind:       domain.TargetSupervisor,
		Reason:           input.Reason,
	}, nil
}
