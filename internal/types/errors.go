package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and repositories MUST use these constants
// instead of hardcoded strings so the HTTP mapping stays consistent.
const (
	// Event intake (400) — the provider sent something we cannot accept.
	ErrCodeEventSignatureMissing ErrorCode = "event_signature_missing"
	ErrCodeEventSignatureInvalid ErrorCode = "event_signature_invalid"
	ErrCodeEventPayloadMalformed ErrorCode = "event_payload_malformed"

	// Validation (400)
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"

	// Auth (401) — ops endpoints only; the webhook itself is signature-gated.
	ErrCodeAuthKeyMissing ErrorCode = "auth_admin_key_missing"
	ErrCodeAuthKeyInvalid ErrorCode = "auth_admin_key_invalid"

	// Not Found (404)
	ErrCodeNotFoundSubscription ErrorCode = "not_found_subscription"
	ErrCodeNotFoundSlot         ErrorCode = "not_found_promo_slot"
	ErrCodeNotFoundUser         ErrorCode = "not_found_user"
	ErrCodeNotFoundTenant       ErrorCode = "not_found_tenant"

	// Conflict (409)
	ErrCodeConflictSlotState ErrorCode = "conflict_slot_state"

	// Internal/Upstream (500/502) — surfaced as 5xx so the provider redelivers.
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeInvariantViolation  ErrorCode = "internal_invariant_violation"
	ErrCodeUpstreamStripe      ErrorCode = "upstream_stripe_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "event_"), strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable reports whether an error carrying this code should surface as a
// 5xx so the payment provider's at-least-once delivery retries the event.
// Signature, validation, and not-found outcomes are terminal: redelivering the
// same payload cannot change them.
func (c ErrorCode) IsRetryable() bool {
	switch c {
	case ErrCodeInternalDB, ErrCodeInternalUnexpected,
		ErrCodeUpstreamStripe, ErrCodeUpstreamRateLimited, ErrCodeUpstreamUnavailable:
		return true
	default:
		return false
	}
}

// AppError is the standard application error type. All domain and handler
// errors are expressed as AppError to enable consistent error formatting,
// HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
