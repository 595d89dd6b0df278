package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/stepline/stepline/cmd/procedures/container"
	"github.com/stepline/stepline/cmd/procedures/handlers"
)

// RegisterAuditRoutes registers audit trail routes
func RegisterAuditRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewAuditHandler(c.AuditService, c.Components.Logger)

	audit := e.Group("/api/v1/audit")
	{
		audit.GET("/events", h.ListEvents) // GET /api/v1/audit/events
	}
}
