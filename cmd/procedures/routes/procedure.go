package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/stepline/stepline/cmd/procedures/container"
	"github.com/stepline/stepline/cmd/procedures/handlers"
)

// RegisterProcedureRoutes registers procedure definition routes
func RegisterProcedureRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewProcedureHandler(c.ProcedureService, c.Components.Logger)

	procedures := e.Group("/api/v1/procedures")
	{
		procedures.GET("", h.ListProcedures)   // GET /api/v1/procedures
		procedures.GET("/:id", h.GetProcedure) // GET /api/v1/procedures/{procedure_id}
	}
}
