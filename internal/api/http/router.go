package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/conversation-service/internal/api/http/handlers"
	"github.com/spec-kit/conversation-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Conversations  *handlers.ConversationsHandler
	Insights       *handlers.InsightsHandler
	Rooms          *handlers.RoomsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	conversations := app.Group("/conversations", cfg.AuthMiddleware.Handle)
	conversations.Post("", cfg.Conversations.Create)
	conversations.Get("/:id", cfg.Conversations.Get)
	conversations.Post("/:id/messages", cfg.Conversations.PostMessage)
	conversations.Post("/:id/close", cfg.Conversations.Close)
	conversations.Post("/:id/reopen", cfg.Conversations.Reopen)
	conversations.Post("/:id/archive", cfg.Conversations.Archive)
	conversations.Post("/:id/unarchive", cfg.Conversations.Unarchive)
	conversations.Post("/:id/snooze", cfg.Conversations.Snooze)
	conversations.Post("/:id/wake", cfg.Conversations.Wake)
	conversations.Post("/:id/hub", cfg.Conversations.AttachHub)
	conversations.Post("/:id/links", cfg.Conversations.AttachLink)

	app.Get("/insights", cfg.AuthMiddleware.Handle, cfg.Insights.Query)
	app.Put("/rooms/:id/threshold", cfg.AuthMiddleware.Handle, cfg.Rooms.SetThreshold)
}
