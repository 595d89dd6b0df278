package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stepline/stepline/cmd/procedures/service"
	"github.com/stepline/stepline/common/logger"
)

// RunHandler handles run lifecycle requests
type RunHandler struct {
	runs *service.RunService
	log  *logger.Logger
}

// NewRunHandler creates a new run handler
func NewRunHandler(runs *service.RunService, log *logger.Logger) *RunHandler {
	return &RunHandler{
		runs: runs,
		log:  log,
	}
}

type startRunRequest struct {
	ProcedureID string `json:"procedure_id"`
	UserID      string `json:"user_id"`
}

type failRunRequest struct {
	Reason string `json:"reason"`
}

// StartRun creates a new pending run
// POST /api/v1/runs
func (h *RunHandler) StartRun(c echo.Context) error {
	var req startRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid request body"})
	}

	procedureID, err := uuid.Parse(req.ProcedureID)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid procedure_id"})
	}

	run, err := h.runs.StartRun(c.Request().Context(), procedureID, req.UserID, actorFrom(c, req.UserID))
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(http.StatusCreated, run)
}

// GetRun returns the current snapshot of a run
// GET /api/v1/runs/:id
func (h *RunHandler) GetRun(c echo.Context) error {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid run id"})
	}

	data, err := h.runs.GetSnapshotJSON(c.Request().Context(), runID)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSONBlob(http.StatusOK, data)
}

// CommitStep commits one step submission
// POST /api/v1/runs/:id/steps/:key/commit
func (h *RunHandler) CommitStep(c echo.Context) error {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid run id"})
	}
	stepKey := c.Param("key")

	var req service.CommitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid request body"})
	}

	snapshot, err := h.runs.CommitStep(c.Request().Context(), runID, stepKey, req, actorFrom(c, ""))
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(http.StatusOK, snapshot)
}

// FailRun moves a run to the failed state
// POST /api/v1/runs/:id/fail
func (h *RunHandler) FailRun(c echo.Context) error {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid run id"})
	}

	var req failRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid request body"})
	}

	run, err := h.runs.FailRun(c.Request().Context(), runID, actorFrom(c, ""), req.Reason)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(http.StatusOK, run)
}

// actorFrom resolves the acting identity for the audit trail
func actorFrom(c echo.Context, fallback string) string {
	if actor := c.Request().Header.Get("X-Actor"); actor != "" {
		return actor
	}
	if fallback != "" {
		return fallback
	}
	return "system"
}
