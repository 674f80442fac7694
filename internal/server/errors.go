package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/storlock/internal/checkout"
	"github.com/smallbiznis/storlock/internal/invoicefile"
	"github.com/smallbiznis/storlock/internal/stripe"
	unitdomain "github.com/smallbiznis/storlock/internal/unit/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, invoicefile.ErrNotOwner):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, checkout.ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "invalid request",
		}
	case errors.Is(err, stripe.ErrInvalidSignature),
		errors.Is(err, stripe.ErrSignatureExpired),
		errors.Is(err, stripe.ErrInvalidPayload),
		errors.Is(err, stripe.ErrInvalidEvent):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_webhook",
			Message: err.Error(),
		}
	case errors.Is(err, unitdomain.ErrNotAvailable):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "unit not available",
		}
	case errors.Is(err, unitdomain.ErrNotFound),
		errors.Is(err, invoicefile.ErrPaymentNotFound),
		errors.Is(err, invoicefile.ErrNoInvoice),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}
