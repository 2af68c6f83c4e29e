package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/queue-router/internal/observability"
	"github.com/spec-kit/queue-router/internal/service"
)

// Sweeper runs one reap pass.
type Sweeper interface {
	Sweep(ctx context.Context) (service.ReapResult, error)
}

// AdminHandler exposes operational triggers and counters.
type AdminHandler struct {
	reaper  Sweeper
	metrics *observability.Metrics
}

func NewAdminHandler(reaper Sweeper, metrics *observability.Metrics) *AdminHandler {
	return &AdminHandler{reaper: reaper, metrics: metrics}
}

// Reap POST /v1/admin/reap.
func (h *AdminHandler) Reap(c *fiber.Ctx) error {
	result, err := h.reaper.Sweep(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}

// Metrics GET /metrics.
func (h *AdminHandler) Metrics(c *fiber.Ctx) error {
	return c.JSON(h.metrics.Snapshot())
}
