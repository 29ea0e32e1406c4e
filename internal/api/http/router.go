package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/helpdeskhq/ticket-triage/internal/api/http/handlers"
	"github.com/helpdeskhq/ticket-triage/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	Admin          *handlers.AdminHandler
	AuthMiddleware *auth.AuthMiddleware
	Users          auth.UserLookup
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/health/metrics", cfg.Health.Metrics)

	api := app.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Delete("/logout", cfg.AuthMiddleware.Handle, cfg.Auth.Logout)
	authGroup.Get("/profile", cfg.AuthMiddleware.Handle, cfg.Auth.Profile)

	tickets := api.Group("/ticket", cfg.AuthMiddleware.Handle)
	tickets.Post("/create", cfg.Tickets.CreateTicket)
	tickets.Get("/all", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)

	admin := api.Group("/admin", cfg.AuthMiddleware.Handle, auth.RequireAdmin(cfg.Users))
	admin.Post("/update-users", cfg.Admin.UpdateUser)
	admin.Get("/allusers", cfg.Admin.ListUsers)
}
