package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// ValidationError is the typed result of a rejected request. It is produced
// before any service call and rendered as 400 bad_request.
type ValidationError struct {
	Message string
	Details []ErrorDetail
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, d.Field+" "+d.Message)
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

func init() {
	// Request bodies with unknown fields are rejected.
	binding.EnableDecoderDisallowUnknownFields = true

	// Report fields by their wire names (page.size, id, text).
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(wireName)
	}
}

func wireName(f reflect.StructField) string {
	for _, tag := range []string{"form", "uri", "json"} {
		name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return f.Name
}

// toValidationError converts a binding failure into a ValidationError.
// fallback is the message used when the failure is not per-field (a value
// that does not parse, malformed JSON).
func toValidationError(err error, fallback string) *ValidationError {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return &ValidationError{Message: fallback}
	}
	out := &ValidationError{Message: "invalid request", Details: make([]ErrorDetail, 0, len(ve))}
	for _, fe := range ve {
		out.Details = append(out.Details, ErrorDetail{Field: fe.Field(), Message: ruleMessage(fe)})
	}
	return out
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "number":
		return "must contain only digits"
	default:
		return fmt.Sprintf("failed the %q rule", fe.Tag())
	}
}
