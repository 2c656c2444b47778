package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/ticket-tracker/internal/api/http/handlers"
	"github.com/spec-kit/ticket-tracker/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	// Prefix mounts the API routes, e.g. "/api". Probes and metrics stay at the root.
	Prefix         string
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	AuthMiddleware *auth.AuthMiddleware
	Gatherer       prometheus.Gatherer
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group(cfg.Prefix)

	authGroup := api.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)

	users := api.Group("/users", cfg.AuthMiddleware.Handle)
	users.Get("/", auth.RequireAdmin(), cfg.Auth.ListUsers)

	tickets := api.Group("/tickets", cfg.AuthMiddleware.Handle)
	tickets.Post("/", auth.RequireAdmin(), cfg.Tickets.CreateTicket)
	tickets.Get("/", auth.RequireAdmin(), cfg.Tickets.ListTickets)
	tickets.Get("/my", cfg.Tickets.ListMyTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Patch("/:id", auth.RequireAdmin(), cfg.Tickets.UpdateTicket)
	tickets.Patch("/:id/status", cfg.Tickets.UpdateStatus)
}
