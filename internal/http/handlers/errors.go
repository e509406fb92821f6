// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Every error response carries one of these codes next to its HTTP status so
// clients can branch on a stable, machine-readable value. Codes are
// lowercase snake_case.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "conflict",
//	  "message": "a haiku already exists for today"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"

	// ErrCodeStorage marks a failure of the haiku store (connect, query,
	// insert). The cause is logged, never returned.
	ErrCodeStorage = "storage_error"
)
