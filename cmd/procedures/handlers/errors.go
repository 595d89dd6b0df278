package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/stepline/stepline/cmd/procedures/service"
	"github.com/stepline/stepline/common/fsm"
	"github.com/stepline/stepline/common/logger"
)

// writeError maps service errors onto HTTP responses. Validation failures
// carry their full issue list so a client can render every problem at
// once; conflicts and lifecycle violations are 409s the client must not
// blindly retry.
func writeError(c echo.Context, log *logger.Logger, err error) error {
	var (
		procedureNotFound *service.ProcedureNotFoundError
		runNotFound       *service.RunNotFoundError
		stepNotFound      *service.StepNotFoundError
		alreadyCommitted  *service.StepAlreadyCommittedError
		outOfOrder        *service.StepOutOfOrderError
		invalidTransition *fsm.InvalidTransitionError
		slotValidation    *service.SlotValidationError
		checklistFailed   *service.ChecklistValidationError
	)

	switch {
	case errors.As(err, &procedureNotFound),
		errors.As(err, &runNotFound),
		errors.As(err, &stepNotFound):
		return c.JSON(http.StatusNotFound, map[string]any{
			"error": err.Error(),
		})

	case errors.As(err, &slotValidation):
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{
			"error":  slotValidation.Error(),
			"issues": slotValidation.Issues,
		})

	case errors.As(err, &checklistFailed):
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{
			"error":  checklistFailed.Error(),
			"issues": checklistFailed.Issues,
		})

	case errors.As(err, &alreadyCommitted),
		errors.As(err, &outOfOrder),
		errors.As(err, &invalidTransition):
		return c.JSON(http.StatusConflict, map[string]any{
			"error": err.Error(),
		})

	default:
		log.Error("request failed", "error", err, "path", c.Path())
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"error": "internal server error",
		})
	}
}
