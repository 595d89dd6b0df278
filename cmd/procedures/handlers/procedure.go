package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stepline/stepline/cmd/procedures/service"
	"github.com/stepline/stepline/common/logger"
)

// ProcedureHandler handles procedure definition requests
type ProcedureHandler struct {
	procedures *service.ProcedureService
	log        *logger.Logger
}

// NewProcedureHandler creates a new procedure handler
func NewProcedureHandler(procedures *service.ProcedureService, log *logger.Logger) *ProcedureHandler {
	return &ProcedureHandler{
		procedures: procedures,
		log:        log,
	}
}

// ListProcedures lists all procedure summaries
// GET /api/v1/procedures
func (h *ProcedureHandler) ListProcedures(c echo.Context) error {
	data, err := h.procedures.ListJSON(c.Request().Context())
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSONBlob(http.StatusOK, data)
}

// GetProcedure returns one full procedure definition
// GET /api/v1/procedures/:id
func (h *ProcedureHandler) GetProcedure(c echo.Context) error {
	procedureID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid procedure id"})
	}

	data, err := h.procedures.GetJSON(c.Request().Context(), procedureID)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSONBlob(http.StatusOK, data)
}
