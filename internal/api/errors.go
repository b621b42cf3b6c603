package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"scalp-trading-bot/internal/database"
	"scalp-trading-bot/internal/exchange"
	"scalp-trading-bot/internal/position"
)

// apiError is the JSON error shape returned by every endpoint.
type apiError struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	Retryable     bool   `json:"retryable,omitempty"`
	RetryAfterSec int    `json:"retry_after_sec,omitempty"`
}

// writeError maps domain errors onto HTTP statuses and the shared error
// shape.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, position.ErrNoActivePosition), errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, apiError{Code: "NOT_FOUND", Message: err.Error()})

	case errors.Is(err, position.ErrCloseInProgress):
		c.JSON(http.StatusConflict, apiError{Code: "CLOSE_IN_PROGRESS", Message: err.Error(), Retryable: true})

	case errors.Is(err, position.ErrPositionExists):
		c.JSON(http.StatusConflict, apiError{Code: "POSITION_EXISTS", Message: err.Error()})

	case errors.Is(err, position.ErrMaxPositionsReached),
		errors.Is(err, position.ErrTradingHalted),
		errors.Is(err, position.ErrShortNotAllowed):
		c.JSON(http.StatusConflict, apiError{Code: "RISK_VIOLATION", Message: err.Error()})

	case errors.Is(err, position.ErrStopNotTighter),
		errors.Is(err, position.ErrNotEmergency),
		errors.Is(err, position.ErrSymbolNotConfigured):
		c.JSON(http.StatusBadRequest, apiError{Code: "VALIDATION_ERROR", Message: err.Error()})

	case exchange.IsRateLimited(err):
		c.JSON(http.StatusTooManyRequests, apiError{
			Code:          "RATE_LIMITED",
			Message:       err.Error(),
			Retryable:     true,
			RetryAfterSec: int(exchange.RetryAfter(err).Seconds()),
		})

	case exchange.IsUnreachable(err):
		c.JSON(http.StatusBadGateway, apiError{Code: "EXCHANGE_UNREACHABLE", Message: err.Error(), Retryable: true})

	default:
		var apiErr *exchange.APIError
		if errors.As(err, &apiErr) {
			c.JSON(http.StatusBadGateway, apiError{
				Code:      "EXCHANGE_ERROR",
				Message:   apiErr.Message,
				Retryable: apiErr.Retryable,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, apiError{Code: "INTERNAL_ERROR", Message: err.Error()})
	}
}

// badRequest reports a request-level validation failure.
func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, apiError{Code: "VALIDATION_ERROR", Message: message})
}
