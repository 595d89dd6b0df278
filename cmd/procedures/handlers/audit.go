package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/stepline/stepline/cmd/procedures/service"
	"github.com/stepline/stepline/common/logger"
	"github.com/stepline/stepline/common/repository"
)

// AuditHandler handles audit trail requests
type AuditHandler struct {
	audit *service.AuditService
	log   *logger.Logger
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(audit *service.AuditService, log *logger.Logger) *AuditHandler {
	return &AuditHandler{
		audit: audit,
		log:   log,
	}
}

// ListEvents lists audit events, oldest first
// GET /api/v1/audit/events?entity_type=procedure_run&entity_id=...&limit=50
func (h *AuditHandler) ListEvents(c echo.Context) error {
	filter := repository.AuditFilter{
		EntityType: c.QueryParam("entity_type"),
		EntityID:   c.QueryParam("entity_id"),
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid limit"})
		}
		filter.Limit = limit
	}

	events, err := h.audit.List(c.Request().Context(), filter)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(http.StatusOK, map[string]any{"events": events})
}
