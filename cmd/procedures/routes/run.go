package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/stepline/stepline/cmd/procedures/container"
	"github.com/stepline/stepline/cmd/procedures/handlers"
)

// RegisterRunRoutes registers run lifecycle routes
func RegisterRunRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewRunHandler(c.RunService, c.Components.Logger)

	runs := e.Group("/api/v1/runs")
	{
		runs.POST("", h.StartRun)                         // POST /api/v1/runs
		runs.GET("/:id", h.GetRun)                        // GET /api/v1/runs/{run_id}
		runs.POST("/:id/steps/:key/commit", h.CommitStep) // POST /api/v1/runs/{run_id}/steps/{step_key}/commit
		runs.POST("/:id/fail", h.FailRun)                 // POST /api/v1/runs/{run_id}/fail
	}
}
