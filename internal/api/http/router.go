package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/ticketdesk/internal/api/http/handlers"
	"github.com/spec-kit/ticketdesk/internal/auth"
	"github.com/spec-kit/ticketdesk/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Interactions   *handlers.InteractionsHandler
	StaffTickets   *handlers.StaffTicketsHandler
	AuthMiddleware *auth.AuthMiddleware
	RateLimiter    *RateLimiter
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	v1 := app.Group("/v1", cfg.AuthMiddleware.Handle)

	interactionHandlers := []fiber.Handler{auth.RequireBridge()}
	if cfg.RateLimiter != nil {
		interactionHandlers = append(interactionHandlers, cfg.RateLimiter.Handler())
	}
	interactions := v1.Group("/interactions", interactionHandlers...)
	interactions.Post("/forms", cfg.Interactions.SubmitForm)
	interactions.Post("/controls", cfg.Interactions.ActivateControl)
	interactions.Post("/messages", cfg.Interactions.ReceiveMessage)

	staff := v1.Group("/staff/tickets", auth.RequireStaffRole())
	staff.Get("/search", cfg.StaffTickets.Search)
	staff.Get("/:id", cfg.StaffTickets.GetTicket)
	staff.Post("/:id/actions", cfg.StaffTickets.ApplyAction)
	staff.Post("/:id/notes", cfg.StaffTickets.AddNote)
	staff.Post("/:id/messages", cfg.StaffTickets.SendMessage)
	staff.Post("/:id/force-close", cfg.StaffTickets.ForceClose)
	staff.Post("/:id/refresh", cfg.StaffTickets.RefreshControls)
}
