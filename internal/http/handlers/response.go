// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers shared by all endpoints. Every
// error is written as an ErrorResponse with a stable code; 5xx responses are
// logged with the request-scoped logger.
//
// Example error response:
//
//	HTTP/1.1 400 Bad Request
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "bad_request",
//	  "message": "invalid request",
//	  "details": [{"field": "id", "message": "must contain only digits"}]
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-haiku-backend/internal/http/middleware"
)

// ErrorDetail describes one rejected input field.
type ErrorDetail struct {
	Field   string `json:"field" example:"page.size"`
	Message string `json:"message" example:"must be at least 0"`
}

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"conflict"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"a haiku already exists for today"`
	// Per-field reasons for validation failures
	Details []ErrorDetail `json:"details,omitempty"`
}

// fail aborts the request with a structured error. Server errors are logged
// along with any errors attached to the context via c.Error.
func fail(c *gin.Context, status int, code, msg string, details ...ErrorDetail) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
		Details:   details,
	}

	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg)
		if len(c.Errors) > 0 {
			ev = ev.Str("cause", c.Errors.String())
		}
		ev.Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noBody answers status with an empty body. A compression middleware may
// already have announced an encoding; nothing is encoded, so drop it.
func noBody(c *gin.Context, status int) {
	c.Writer.Header().Del("Content-Encoding")
	c.Status(status)
}
