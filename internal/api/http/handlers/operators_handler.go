package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/queue-router/internal/service"
)

// OperatorsHandler serves the live candidate view of a department.
type OperatorsHandler struct {
	assignments *service.AssignmentService
}

func NewOperatorsHandler(assignments *service.AssignmentService) *OperatorsHandler {
	return &OperatorsHandler{assignments: assignments}
}

// ListOperators GET /v1/departments/:department/operators.
func (h *OperatorsHandler) ListOperators(c *fiber.Ctx) error {
	dept, err := parseDepartment(c.Params("department"))
	if err != nil {
		return err
	}
	list, err := h.assignments.ListOperators(c.UserContext(), dept)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": list})
}
