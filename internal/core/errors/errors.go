package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the redemption path. Callers classify with errors.Is;
// layers wrap with %w so the classification survives propagation.
var (
	ErrNotFound       = errors.New("not found")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenUsed      = errors.New("token already used")
	ErrTokenConflict  = errors.New("a valid token already exists")
	ErrConflict       = errors.New("transaction conflict")
	ErrRetryExhausted = errors.New("retry budget exhausted")
	ErrValidation     = errors.New("validation failed")
	ErrUnavailable    = errors.New("store unavailable")
	ErrAlreadyExists  = errors.New("already exists")
)

// HTTP error_type values returned to the presentation layer. Distinct values
// per failure kind so the client can show the right guidance ("already
// scanned" vs "expired, generate a new one").
const (
	HttpInternalError      = "internal_error"
	HttpInvalidJsonError   = "invalid_json"
	HttpNotFoundError      = "not_found"
	HttpTokenExpiredError  = "token_expired"
	HttpTokenUsedError     = "token_already_used"
	HttpTokenConflictError = "token_conflict"
	HttpValidationError    = "validation_failed"
	HttpRetryExhausted     = "retry_exhausted"
)

// ErrorResponse is the JSON error body for ledger and query endpoints.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
