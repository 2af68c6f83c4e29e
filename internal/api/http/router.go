package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/queue-router/internal/api/http/handlers"
	"github.com/spec-kit/queue-router/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Sessions       *handlers.SessionsHandler
	Operators      *handlers.OperatorsHandler
	Admin          *handlers.AdminHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Admin.Metrics)

	v1 := app.Group("/v1", cfg.AuthMiddleware.Handle, auth.RequireScope(auth.ScopeAutomation))
	supervisor := auth.RequireScope(auth.ScopeSupervisor)

	sessions := v1.Group("/sessions")
	sessions.Post("/", cfg.Sessions.CreateSession)
	sessions.Get("/:id", cfg.Sessions.GetSession)
	sessions.Get("/:id/history", cfg.Sessions.ListHistory)
	sessions.Get("/:id/outcome", cfg.Sessions.GetOutcome)
	sessions.Post("/:id/automated-completion", cfg.Sessions.CompleteAutomatedFlow)
	sessions.Post("/:id/assign", cfg.Sessions.Assign)
	sessions.Post("/:id/operator-lists", cfg.Sessions.PresentOperators)
	sessions.Post("/:id/operator-lists/select", cfg.Sessions.SelectOperator)
	sessions.Post("/:id/complete", cfg.Sessions.Complete)
	sessions.Post("/:id/customer-cancel", cfg.Sessions.CustomerCancel)
	sessions.Post("/:id/cancel", supervisor, cfg.Sessions.ForceCancel)

	v1.Get("/customers/:id/active-session", cfg.Sessions.GetActiveSession)
	v1.Get("/departments/:department/operators", cfg.Operators.ListOperators)
	v1.Post("/admin/reap", supervisor, cfg.Admin.Reap)
}
