// Package errors provides a standardized error taxonomy for the retrieval
// and reprocessing engine, along with HTTP status mapping and remediation
// guidance for credential-related failures.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents semantic error codes for consistent error handling
// across every component of the engine (spec §7).
type ErrorCode string

const (
	ErrorCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// API key / credential errors (C1)
	ErrorCodeAPIKeyNotFound          ErrorCode = "API_KEY_NOT_FOUND"
	ErrorCodeAPIKeyInvalid           ErrorCode = "API_KEY_INVALID"
	ErrorCodeAPIKeyExpired           ErrorCode = "API_KEY_EXPIRED"
	ErrorCodeAPIKeyRateLimited       ErrorCode = "API_KEY_RATE_LIMITED"
	ErrorCodeAPIKeyValidationTimeout ErrorCode = "API_KEY_VALIDATION_TIMEOUT"
	ErrorCodeAPIKeyNetworkError      ErrorCode = "API_KEY_NETWORK_ERROR"

	ErrorCodeValidationError    ErrorCode = "VALIDATION_ERROR"
	ErrorCodeRetrievalError     ErrorCode = "RETRIEVAL_ERROR"
	ErrorCodeBlendingError      ErrorCode = "BLENDING_ERROR"
	ErrorCodeIntegrityCheckFailure ErrorCode = "INTEGRITY_CHECK_FAILURE"
	ErrorCodeOperationConflict  ErrorCode = "OPERATION_CONFLICT"
	ErrorCodeTimeout            ErrorCode = "TIMEOUT"
	ErrorCodeInternalError      ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents the unified error structure used across the
// engine.
type StandardError struct {
	ErrorInfo ErrorDetails `json:"error"`
}

// Error implements the Go error interface
func (e *StandardError) Error() string {
	return e.ErrorInfo.Message
}

// ErrorDetails contains the detailed error information
type ErrorDetails struct {
	Code             ErrorCode   `json:"code"`
	Message          string      `json:"message"`
	Details          interface{} `json:"details,omitempty"`
	TraceID          string      `json:"trace_id,omitempty"`
	RemediationSteps []string    `json:"remediation_steps,omitempty"`
}

// ValidationDetail provides specific validation error information
type ValidationDetail struct {
	Field  string      `json:"field"`
	Reason string      `json:"reason"`
	Value  interface{} `json:"value,omitempty"`
}

// RateLimitDetail provides rate limiting error information
type RateLimitDetail struct {
	Limit      int           `json:"limit"`
	Window     string        `json:"window"`
	RetryAfter time.Duration `json:"retry_after"`
	Remaining  int           `json:"remaining"`
}

// NewStandardError creates a new standardized error
func NewStandardError(code ErrorCode, message string, details interface{}) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// NewValidationError creates a validation error with field details
func NewValidationError(field, reason string, value interface{}) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeValidationError,
			Message: fmt.Sprintf("Validation failed for field '%s': %s", field, reason),
			Details: ValidationDetail{
				Field:  field,
				Reason: reason,
				Value:  value,
			},
		},
	}
}

// NewAPIKeyError creates a credential error of the given code, attaching
// the deduplicated remediation steps a caller should follow (§4.1).
func NewAPIKeyError(code ErrorCode, provider, message string, steps []string) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    code,
			Message: message,
			Details: map[string]interface{}{
				"provider": provider,
			},
			RemediationSteps: steps,
		},
	}
}

// NewRateLimitError creates a rate limiting error
func NewRateLimitError(limit int, window string, retryAfter time.Duration, remaining int) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeAPIKeyRateLimited,
			Message: fmt.Sprintf("Rate limit exceeded: %d requests per %s", limit, window),
			Details: RateLimitDetail{
				Limit:      limit,
				Window:     window,
				RetryAfter: retryAfter,
				Remaining:  remaining,
			},
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, originalError error) *StandardError {
	details := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if originalError != nil {
		details["original_error"] = originalError.Error()
	}

	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeInternalError,
			Message: message,
			Details: details,
		},
	}
}

// WithTraceID adds a trace ID to the error for debugging
func (e *StandardError) WithTraceID(traceID string) *StandardError {
	e.ErrorInfo.TraceID = traceID
	return e
}

// WithRemediationSteps attaches remediation guidance to the error.
func (e *StandardError) WithRemediationSteps(steps []string) *StandardError {
	e.ErrorInfo.RemediationSteps = steps
	return e
}

// ToHTTPStatus maps StandardError to appropriate HTTP status code
func (e *StandardError) ToHTTPStatus() int {
	switch e.ErrorInfo.Code {
	case ErrorCodePermissionDenied:
		return http.StatusForbidden
	case ErrorCodeAPIKeyNotFound, ErrorCodeAPIKeyInvalid, ErrorCodeAPIKeyExpired:
		return http.StatusUnauthorized
	case ErrorCodeValidationError:
		return http.StatusBadRequest
	case ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeOperationConflict:
		return http.StatusConflict
	case ErrorCodeAPIKeyRateLimited:
		return http.StatusTooManyRequests
	case ErrorCodeTimeout, ErrorCodeAPIKeyValidationTimeout:
		return http.StatusRequestTimeout
	case ErrorCodeAPIKeyNetworkError:
		return http.StatusBadGateway
	case ErrorCodeRetrievalError, ErrorCodeBlendingError, ErrorCodeIntegrityCheckFailure, ErrorCodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts StandardError to JSON bytes
func (e *StandardError) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// WriteHTTPError writes StandardError as HTTP response
func (e *StandardError) WriteHTTPError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")

	if e.ErrorInfo.TraceID != "" {
		w.Header().Set("X-Trace-ID", e.ErrorInfo.TraceID)
	}

	if e.ErrorInfo.Code == ErrorCodeAPIKeyRateLimited {
		if rateLimitDetail, ok := e.ErrorInfo.Details.(RateLimitDetail); ok {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", rateLimitDetail.RetryAfter.Seconds()))
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rateLimitDetail.Limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", rateLimitDetail.Remaining))
		}
	}

	w.WriteHeader(e.ToHTTPStatus())

	jsonBytes, _ := e.ToJSON()
	_, _ = w.Write(jsonBytes)
}

// Predefined common errors for convenience
var (
	ErrQueryRequired = NewValidationError("query", "missing_required_field", nil)
	ErrBotIDRequired = NewValidationError("bot_id", "missing_required_field", nil)

	ErrPermissionDenied = NewStandardError(ErrorCodePermissionDenied, "Permission denied", nil)

	ErrInternalServer = NewInternalError("Internal server error occurred", nil)
)

// IsValidationError checks if the error is a validation-related error
func IsValidationError(err *StandardError) bool {
	return err.ErrorInfo.Code == ErrorCodeValidationError
}

// IsAPIKeyError checks if the error is a credential-resolution error (C1).
func IsAPIKeyError(err *StandardError) bool {
	switch err.ErrorInfo.Code {
	case ErrorCodeAPIKeyNotFound, ErrorCodeAPIKeyInvalid, ErrorCodeAPIKeyExpired,
		ErrorCodeAPIKeyRateLimited, ErrorCodeAPIKeyValidationTimeout, ErrorCodeAPIKeyNetworkError:
		return true
	default:
		return false
	}
}

// IsSystemError checks if the error is a system-level failure.
func IsSystemError(err *StandardError) bool {
	return err.ErrorInfo.Code == ErrorCodeInternalError ||
		err.ErrorInfo.Code == ErrorCodeTimeout ||
		err.ErrorInfo.Code == ErrorCodeRetrievalError ||
		err.ErrorInfo.Code == ErrorCodeBlendingError ||
		err.ErrorInfo.Code == ErrorCodeIntegrityCheckFailure
}
