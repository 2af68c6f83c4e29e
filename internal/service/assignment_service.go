package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/queue-router/internal/config"
	"github.com/spec-kit/queue-router/internal/domain"
	"github.com/spec-kit/queue-router/internal/events"
	"github.com/spec-kit/queue-router/internal/observability"
	"github.com/spec-kit/queue-router/internal/presence"
	"github.com/spec-kit/queue-router/internal/repository"
	"github.com/spec-kit/queue-router/internal/snapshot"
	apperrors "github.com/spec-kit/queue-router/pkg/util/errorutil"
)

// AssignmentService selects and locks in the operator of a waiting session.
type AssignmentService struct {
	lifecycle  *SessionService
	snapshots  snapshot.Store
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	source     candidateSource
	tx         transitioner
	cfg        config.EngineConfig
}

// AssignmentDependencies bundles collaborators.
type AssignmentDependencies struct {
	SessionRepo  repository.SessionRepository
	OperatorRepo repository.OperatorRepository
	Oracle       presence.Oracle
	Snapshots    snapshot.Store
	Lifecycle    *SessionService
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Clock        func() time.Time
	Config       config.EngineConfig
}

// AssignmentResult is the committed session plus the decision that produced it.
type AssignmentResult struct {
	Session  *domain.Session
	Decision domain.AssignmentDecision
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config.WithDefaults()
	return &AssignmentService{
		lifecycle:  deps.Lifecycle,
		snapshots:  deps.Snapshots,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		metrics:    deps.Metrics,
		source: candidateSource{
			operators:   deps.OperatorRepo,
			sessions:    deps.SessionRepo,
			oracle:      deps.Oracle,
			timeout:     cfg.DependencyTimeout,
			concurrency: cfg.ProbeConcurrency,
			logger:      logger,
			metrics:     deps.Metrics,
		},
		tx:  newTransitioner(deps.SessionRepo, deps.Clock),
		cfg: cfg,
	}
}

// Assign routes a waiting session. A named preference is honoured when that
// operator is online; when they are offline the session escalates rather than
// going to someone else. Without a usable preference the first online
// operator in directory order wins. Only one concurrent caller can commit;
// the others get AlreadyAssigned.
func (s *AssignmentService) Assign(ctx context.Context, sessionID string) (*AssignmentResult, error) {
	var decision domain.AssignmentDecision
	session, _, err := s.tx.apply(ctx, sessionID, func(current *domain.Session) (*transitionPlan, error) {
		if err := requireWaiting(current); err != nil {
			return nil, err
		}
		if current.Department == nil {
			return nil, apperrors.NewValidationError("session has no department", map[string]any{"session_id": current.ID})
		}

		var err error
		decision, err = s.decide(ctx, current)
		if err != nil {
			return nil, err
		}

		now := s.tx.now(current)
		target := decision.TargetOperatorID
		next := current.Clone()
		next.Status = domain.SessionStatusInService
		next.AssignedOperatorID = &target
		if decision.TargetKind == domain.TargetSupervisor {
			supervisorID := target
			next.SupervisorID = &supervisorID
		}
		next.AssignedAt = &now
		next.UpdatedAt = now
		return &transitionPlan{
			next:   next,
			change: statusChange(current, next.Status, nil, string(decision.Reason), now),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordAssignment(string(decision.TargetKind), string(decision.Reason))
	s.logger.Info("session assigned",
		zap.String("session_id", session.ID),
		zap.String("operator_id", decision.TargetOperatorID),
		zap.String("target_kind", string(decision.TargetKind)),
		zap.String("reason", string(decision.Reason)))
	publishEvent(ctx, s.dispatcher, s.logger, events.Event{
		Type:      events.EventSessionAssigned,
		SessionID: session.ID,
		Timestamp: session.UpdatedAt,
		Payload: events.SessionAssignedPayload{
			OperatorID: decision.TargetOperatorID,
			TargetKind: decision.TargetKind,
			Reason:     decision.Reason,
			Department: *session.Department,
		},
	})
	return &AssignmentResult{Session: session, Decision: decision}, nil
}

func (s *AssignmentService) decide(ctx context.Context, session *domain.Session) (domain.AssignmentDecision, error) {
	department := *session.Department
	candidates := s.source.candidates(ctx, department)

	if session.RequestedOperatorID != nil {
		for _, c := range candidates {
			if c.Operator.ID != *session.RequestedOperatorID {
				continue
			}
			if c.Online {
				return domain.AssignmentDecision{
					TargetOperatorID: c.Operator.ID,
					TargetKind:       domain.TargetOperator,
					Reason:           domain.ReasonPreferredOperator,
				}, nil
			}
			return s.escalate(ctx, session, domain.ReasonPreferredUnavailable)
		}
	}

	for _, c := range candidates {
		if c.Online {
			return domain.AssignmentDecision{
				TargetOperatorID: c.Operator.ID,
				TargetKind:       domain.TargetOperator,
				Reason:           domain.ReasonFirstAvailable,
			}, nil
		}
	}
	return s.escalate(ctx, session, domain.ReasonNoOperatorOnline)
}

func (s *AssignmentService) escalate(ctx context.Context, session *domain.Session, reason domain.AssignmentReason) (domain.AssignmentDecision, error) {
	department := *session.Department
	decision, err := Escalate(EscalationInput{
		Department:  department,
		Reason:      reason,
		Supervisors: s.source.supervisors(ctx, department),
	})
	if errors.Is(err, ErrNoSupervisor) {
		s.metrics.RecordNoOperator()
		s.logger.Warn("no operator available",
			zap.String("session_id", session.ID),
			zap.String("department", string(department)),
			zap.String("reason", string(reason)))
		return domain.AssignmentDecision{}, apperrors.NewNoOperatorAvailable(session.ID, department)
	}
	return decision, err
}

// PresentOperators snapshots the candidate list shown to the customer. An
// automated session needs the department the customer picked; a waiting
// session uses its own.
func (s *AssignmentService) PresentOperators(ctx context.Context, sessionID string, department *domain.Department) (*domain.CandidateList, error) {
	session, err := s.tx.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var dept domain.Department
	switch session.Status {
	case domain.SessionStatusAutomated:
		if department == nil {
			return nil, apperrors.NewValidationError("department is required", map[string]any{"session_id": sessionID})
		}
		dept = *department
	case domain.SessionStatusWaiting:
		if session.Department == nil {
			return nil, apperrors.NewValidationError("session has no department", map[string]any{"session_id": sessionID})
		}
		if department != nil && *department != *session.Department {
			return nil, apperrors.NewValidationError("department does not match session", map[string]any{
				"session_id": sessionID,
				"department": *session.Department,
			})
		}
		dept = *session.Department
	default:
		return nil, requireWaiting(session)
	}
	if !dept.Valid() {
		return nil, apperrors.NewValidationError("invalid department", map[string]any{"department": dept})
	}

	list := s.buildList(ctx, sessionID, dept)
	if err := s.snapshots.Save(ctx, list, s.cfg.SnapshotTTL); err != nil {
		return nil, apperrors.MapError(err)
	}
	return list, nil
}

// ListOperators returns the live candidate view of a department without snapshotting it.
func (s *AssignmentService) ListOperators(ctx context.Context, department domain.Department) (*domain.CandidateList, error) {
	if !department.Valid() {
		return nil, apperrors.NewValidationError("invalid department", map[string]any{"department": department})
	}
	list := s.buildList(ctx, "", department)
	list.ListID = ""
	return list, nil
}

func (s *AssignmentService) buildList(ctx context.Context, sessionID string, department domain.Department) *domain.CandidateList {
	candidates := s.source.candidates(ctx, department)
	entries := make([]domain.CandidateEntry, len(candidates))
	for i, c := range candidates {
		entries[i] = domain.CandidateEntry{
			Position:   i + 1,
			OperatorID: c.Operator.ID,
			Name:       c.Operator.Name,
			Online:     c.Online,
		}
	}
	return &domain.CandidateList{
		ListID:      uuid.NewString(),
		SessionID:   sessionID,
		Department:  department,
		GeneratedAt: s.tx.now(nil),
		Entries:     entries,
	}
}

// ResolvePreferenceByPosition turns the customer's 1-based pick into a
// preference and assigns. The position is read from the stored list, never a
// fresh directory query, so roster changes after presentation cannot shift
// it. An empty listID means the session's latest list.
func (s *AssignmentService) ResolvePreferenceByPosition(ctx context.Context, sessionID, listID string, position int) (*AssignmentResult, error) {
	if position < 1 {
		return nil, apperrors.NewValidationError("position must be 1 or greater", map[string]any{"position": position})
	}

	var (
		list *domain.CandidateList
		err  error
	)
	if listID == "" {
		list, err = s.snapshots.Latest(ctx, sessionID)
	} else {
		list, err = s.snapshots.Get(ctx, sessionID, listID)
	}
	if errors.Is(err, snapshot.ErrNotFound) {
		return nil, apperrors.NewNotFound("candidate list", map[string]any{"session_id": sessionID, "list_id": listID})
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	entry, ok := list.At(position)
	if !ok {
		return nil, apperrors.NewValidationError("position out of range", map[string]any{
			"position": position,
			"size":     len(list.Entries),
			"list_id":  list.ListID,
		})
	}
	operatorID := entry.OperatorID

	session, err := s.tx.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.SessionStatusAutomated {
		if _, err := s.lifecycle.RecordAutomatedCompletion(ctx, sessionID, list.Department, &operatorID); err != nil {
			return nil, err
		}
	} else if err := s.setPreference(ctx, sessionID, list.Department, operatorID); err != nil {
		return nil, err
	}
	return s.Assign(ctx, sessionID)
}

func (s *AssignmentService) setPreference(ctx context.Context, sessionID string, department domain.Department, operatorID string) error {
	_, _, err := s.tx.apply(ctx, sessionID, func(current *domain.Session) (*transitionPlan, error) {
		if err := requireWaiting(current); err != nil {
			return nil, err
		}
		if current.Department == nil || *current.Department != department {
			return nil, apperrors.NewValidationError("candidate list department does not match session", map[string]any{
				"session_id": sessionID,
				"department": department,
			})
		}
		if current.RequestedOperatorID != nil && *current.RequestedOperatorID == operatorID {
			return nil, nil
		}
		next := current.Clone()
		next.RequestedOperatorID = &operatorID
		next.UpdatedAt = s.tx.now(current)
		return &transitionPlan{next: next}, nil
	})
	return err
}

func requireWaiting(session *domain.Session) error {
	switch session.Status {
	case domain.SessionStatusWaiting:
		return nil
	case domain.SessionStatusInService:
		return apperrors.NewAlreadyAssigned(session.ID, session.AssignedOperatorID)
	default:
		return rejectMove(session, domain.SessionStatusInService)
	}
}
