package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/queue-router/internal/api/dto"
	"github.com/spec-kit/queue-router/internal/auth"
	"github.com/spec-kit/queue-router/internal/domain"
	"github.com/spec-kit/queue-router/internal/service"
	apperrors "github.com/spec-kit/queue-router/pkg/util/errorutil"
)

// SessionsHandler exposes the session lifecycle and assignment endpoints.
type SessionsHandler struct {
	sessions    *service.SessionService
	assignments *service.AssignmentService
}

// NewSessionsHandler constructs handler.
func NewSessionsHandler(sessions *service.SessionService, assignments *service.AssignmentService) *SessionsHandler {
	return &SessionsHandler{sessions: sessions, assignments: assignments}
}

// CreateSession POST /v1/sessions.
func (h *SessionsHandler) CreateSession(c *fiber.Ctx) error {
	var req dto.CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.CustomerID) == "" {
		return apperrors.NewValidationError("customer_id required", nil)
	}
	input := service.CreateSessionInput{
		SessionID:           req.SessionID,
		CustomerID:          req.CustomerID,
		Direction:           domain.Direction(strings.ToLower(strings.TrimSpace(req.Direction))),
		RequestedOperatorID: req.RequestedOperatorID,
	}
	if req.Department != nil {
		dept, err := parseDepartment(*req.Department)
		if err != nil {
			return err
		}
		input.Department = &dept
	}
	session, err := h.sessions.CreateSession(c.UserContext(), input)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": sessionResponse(session)})
}

// GetSession GET /v1/sessions/:id.
func (h *SessionsHandler) GetSession(c *fiber.Ctx) error {
	session, err := h.sessions.GetSession(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionResponse(session)})
}

// ListHistory GET /v1/sessions/:id/history.
func (h *SessionsHandler) ListHistory(c *fiber.Ctx) error {
	changes, err := h.sessions.ListHistory(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.StatusChangeResponse, 0, len(changes))
	for _, change := range changes {
		items = append(items, dto.StatusChangeResponse{
			ID:         change.ID,
			FromStatus: change.FromStatus,
			ToStatus:   change.ToStatus,
			ChangedBy:  change.ChangedBy,
			Reason:     change.Reason,
			CreatedAt:  change.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetOutcome GET /v1/sessions/:id/outcome.
func (h *SessionsHandler) GetOutcome(c *fiber.Ctx) error {
	outcome, err := h.sessions.GetOutcome(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.OutcomeResponse{
		SessionID:          outcome.SessionID,
		CustomerID:         outcome.CustomerID,
		Outcome:            outcome.Outcome,
		Department:         outcome.Department,
		AssignedOperatorID: outcome.AssignedOperatorID,
		SupervisorID:       outcome.SupervisorID,
		TabulationCode:     outcome.TabulationCode,
		CancelReason:       outcome.CancelReason,
		StartedAt:          outcome.StartedAt,
		EndedAt:            outcome.EndedAt,
	}})
}

// CompleteAutomatedFlow POST /v1/sessions/:id/automated-completion.
func (h *SessionsHandler) CompleteAutomatedFlow(c *fiber.Ctx) error {
	var req dto.AutomatedCompletionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	dept, err := parseDepartment(req.Department)
	if err != nil {
		return err
	}
	session, err := h.sessions.RecordAutomatedCompletion(c.UserContext(), c.Params("id"), dept, req.RequestedOperatorID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionResponse(session)})
}

// Assign POST /v1/sessions/:id/assign.
func (h *SessionsHandler) Assign(c *fiber.Ctx) error {
	result, err := h.assignments.Assign(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": assignmentResponse(result)})
}

// PresentOperators POST /v1/sessions/:id/operator-lists.
func (h *SessionsHandler) PresentOperators(c *fiber.Ctx) error {
	var req dto.PresentOperatorsRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	var department *domain.Department
	if req.Department != nil {
		dept, err := parseDepartment(*req.Department)
		if err != nil {
			return err
		}
		department = &dept
	}
	list, err := h.assignments.PresentOperators(c.UserContext(), c.Params("id"), department)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": list})
}

// SelectOperator POST /v1/sessions/:id/operator-lists/select.
func (h *SessionsHandler) SelectOperator(c *fiber.Ctx) error {
	var req dto.SelectOperatorRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Position < 1 {
		return apperrors.NewValidationError("position must be at least 1", map[string]any{"position": req.Position})
	}
	result, err := h.assignments.ResolvePreferenceByPosition(c.UserContext(), c.Params("id"), strings.TrimSpace(req.ListID), req.Position)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": assignmentResponse(result)})
}

// Complete POST /v1/sessions/:id/complete.
func (h *SessionsHandler) Complete(c *fiber.Ctx) error {
	var req dto.CompleteSessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	input := service.CompleteInput{TabulationCode: req.TabulationCode, By: callerActor(c)}
	if req.ChangedBy != nil {
		// An identified caller is recorded as itself.
		if principal, _ := auth.PrincipalFromContext(c); principal.Identified() {
			return apperrors.NewForbidden("changed_by is not accepted from authenticated callers")
		}
		ref, err := domain.ParseParticipantRef(req.ChangedBy.Kind, req.ChangedBy.ID)
		if err != nil {
			return apperrors.NewValidationError("invalid changed_by", map[string]any{"reason": err.Error()})
		}
		input.By = ref
	}
	session, err := h.sessions.MarkCompleted(c.UserContext(), c.Params("id"), input)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionResponse(session)})
}

// CustomerCancel POST /v1/sessions/:id/customer-cancel.
func (h *SessionsHandler) CustomerCancel(c *fiber.Ctx) error {
	ctx := c.UserContext()
	current, err := h.sessions.GetSession(ctx, c.Params("id"))
	if err != nil {
		return err
	}
	session, err := h.sessions.MarkCancelled(ctx, current.ID, service.CancelInput{
		Reason: domain.CancelReasonCustomer,
		By:     domain.CustomerRef(current.CustomerID),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionResponse(session)})
}

// ForceCancel POST /v1/sessions/:id/cancel.
func (h *SessionsHandler) ForceCancel(c *fiber.Ctx) error {
	session, err := h.sessions.ForceCancel(c.UserContext(), c.Params("id"), callerActor(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionResponse(session)})
}

// GetActiveSession GET /v1/customers/:id/active-session.
func (h *SessionsHandler) GetActiveSession(c *fiber.Ctx) error {
	session, err := h.sessions.GetActiveSessionForCustomer(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if session == nil {
		return c.JSON(fiber.Map{"data": nil})
	}
	return c.JSON(fiber.Map{"data": sessionResponse(session)})
}

func callerActor(c *fiber.Ctx) *domain.ParticipantRef {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil
	}
	return principal.Actor()
}

func parseDepartment(raw string) (domain.Department, error) {
	dept, ok := domain.ParseDepartment(raw)
	if !ok {
		return "", apperrors.NewValidationError("invalid department", map[string]any{"department": raw})
	}
	return dept, nil
}

func sessionResponse(s *domain.Session) dto.SessionResponse {
	return dto.SessionResponse{
		ID:                   s.ID,
		CustomerID:           s.CustomerID,
		Status:               s.Status,
		Direction:            s.Direction,
		Department:           s.Department,
		RequestedOperatorID:  s.RequestedOperatorID,
		AssignedOperatorID:   s.AssignedOperatorID,
		SupervisorID:         s.SupervisorID,
		CancelReason:         s.CancelReason,
		TabulationCode:       s.TabulationCode,
		CreatedAt:            s.CreatedAt,
		AutomatedCompletedAt: s.AutomatedCompletedAt,
		AssignedAt:           s.AssignedAt,
		EndedAt:              s.EndedAt,
		UpdatedAt:            s.UpdatedAt,
		Version:              s.Version,
	}
}

func assignmentResponse(r *service.AssignmentResult) dto.AssignmentResponse {
	return dto.AssignmentResponse{
		Session: sessionResponse(r.Session),
		Decision: dto.DecisionResponse{
			OperatorID: r.Decision.TargetOperatorID,
			TargetKind: r.Decision.TargetKind,
			Reason:     r.Decision.Reason,
		},
	}
}
