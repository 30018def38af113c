package utils

import (
	"errors"
	"net/http"

	"medicine-dispatch/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// Error codes returned in models.ErrorResponse.Code.
const (
	CodeNotFound          = "not_found"
	CodeConflict          = "conflict"
	CodeInsufficientStock = "insufficient_stock"
	CodeNoStopsInWindow   = "no_stops_in_window"
	CodeNoFeasibleRoute   = "no_feasible_route"
	CodeNoMachine         = "no_machine_available"
	CodeInvalidCoordinate = "invalid_coordinate"
	CodeInvalidTimeWindow = "invalid_time_window"
	CodeValidation        = "validation_error"
	CodeTransportFailure  = "transport_failure"
	CodeUnauthorized      = "unauthorized"
	CodeForbidden         = "forbidden"
	CodeBadRequest        = "bad_request"
	CodeInternal          = "internal_error"
)

const loggerKey = "logger"

// RespondWithJSON writes payload with the given status.
func RespondWithJSON(c echo.Context, status int, payload any) error {
	return c.JSON(status, payload)
}

// RespondWithError writes a models.ErrorResponse whose code is derived from the status.
func RespondWithError(c echo.Context, status int, message string) error {
	return c.JSON(status, models.ErrorResponse{Code: codeForStatus(status), Message: message})
}

// HandleServiceError maps domain errors to HTTP responses. Anything not
// recognised becomes a 500 and the raw error is only logged.
func HandleServiceError(c echo.Context, err error) error {
	status, code := MapError(err)
	if status == http.StatusInternalServerError {
		LoggerFrom(c).WithError(err).Error("unhandled service error")
		return c.JSON(status, models.ErrorResponse{Code: code, Message: "internal server error"})
	}
	return c.JSON(status, models.ErrorResponse{Code: code, Message: err.Error()})
}

// MapError returns the HTTP status and error code for err.
func MapError(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrInsufficientStock):
		return http.StatusConflict, CodeInsufficientStock
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, models.ErrNoStopsInWindow):
		return http.StatusUnprocessableEntity, CodeNoStopsInWindow
	case errors.Is(err, models.ErrNoFeasibleRoute):
		return http.StatusUnprocessableEntity, CodeNoFeasibleRoute
	case errors.Is(err, models.ErrNoMachineAvailable):
		return http.StatusUnprocessableEntity, CodeNoMachine
	case errors.Is(err, models.ErrInvalidCoordinate):
		return http.StatusBadRequest, CodeInvalidCoordinate
	case errors.Is(err, models.ErrInvalidTimeWindow):
		return http.StatusBadRequest, CodeInvalidTimeWindow
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrUnknownTopic):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, models.ErrTransportFailure):
		return http.StatusBadGateway, CodeTransportFailure
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeBadRequest
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusBadGateway:
		return CodeTransportFailure
	default:
		return CodeInternal
	}
}

// SetLogger stores a request scoped logger in the echo context.
func SetLogger(c echo.Context, l logrus.FieldLogger) {
	c.Set(loggerKey, l)
}

// LoggerFrom returns the request scoped logger or the standard logger.
func LoggerFrom(c echo.Context) logrus.FieldLogger {
	if l, ok := c.Get(loggerKey).(logrus.FieldLogger); ok {
		return l
	}
	return logrus.StandardLogger()
}
