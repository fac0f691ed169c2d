package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/api/ws"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	Chats          *handlers.ChatsHandler
	Users          *handlers.UsersHandler
	Realtime       *ws.Handler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	api := app.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Post("/signup", cfg.Auth.Signup)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/logout", cfg.AuthMiddleware.Handle, cfg.Auth.Logout)

	tickets := api.Group("/tickets", cfg.AuthMiddleware.Handle)
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Post("/accept/:id", auth.RequireRole(domain.RoleMember, domain.RoleAdmin), cfg.Tickets.AcceptTicket)
	tickets.Post("/reject/:id", auth.RequireRole(domain.RoleMember, domain.RoleAdmin), cfg.Tickets.RejectTicket)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Put("/:id/close", auth.RequireRole(domain.RoleMember, domain.RoleAdmin), cfg.Tickets.CloseTicket)
	tickets.Put("/:id/reopen", cfg.Tickets.ReopenTicket)
	tickets.Get("/:id/history", auth.RequireRole(domain.RoleAdmin), cfg.Tickets.ListHistory)

	chats := api.Group("/chats", cfg.AuthMiddleware.Handle)
	chats.Get("/:ticketId", cfg.Chats.ListMessages)

	users := api.Group("/users", cfg.AuthMiddleware.Handle)
	users.Get("/me", cfg.Users.Me)
	users.Get("/", auth.RequireRole(domain.RoleMember, domain.RoleAdmin), cfg.Users.ListUsers)
	users.Get("/:id", auth.RequireRole(domain.RoleMember, domain.RoleAdmin), cfg.Users.GetUser)

	cfg.Realtime.Register(app)
}
