package types

import (
	"fmt"
	"time"
)

// ErrorCode represents a unified error code across the platform.
type ErrorCode string

// Failure taxonomy codes. New providers map onto these through
// faults.Classify; call sites never depend on provider-specific error types.
const (
	ErrTranscription ErrorCode = "TRANSCRIPTION_FAILED"
	ErrNetwork       ErrorCode = "NETWORK_ERROR"
	ErrStorage       ErrorCode = "STORAGE_ERROR"
	ErrValidation    ErrorCode = "VALIDATION_ERROR"
	ErrTimeout       ErrorCode = "TIMEOUT"
	ErrUnknown       ErrorCode = "UNKNOWN"
)

// Provider and API error codes
const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrNotFound            ErrorCode = "NOT_FOUND"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrPayloadTooLarge     ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrUnsupportedFormat   ErrorCode = "UNSUPPORTED_FORMAT"
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrAllProvidersFailed  ErrorCode = "ALL_PROVIDERS_FAILED"
	ErrInternal            ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, messages, and retry metadata.
// UserMessage is safe to surface to customers; Message carries technical
// detail and is never sent outside the platform.
type Error struct {
	Code        ErrorCode     `json:"code"`
	Message     string        `json:"message"`
	UserMessage string        `json:"user_message,omitempty"`
	HTTPStatus  int           `json:"http_status,omitempty"`
	Retryable   bool          `json:"retryable"`
	RetryAfter  time.Duration `json:"retry_after,omitempty"`
	Provider    string        `json:"provider,omitempty"`
	Cause       error         `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithUserMessage sets the customer-facing message.
func (e *Error) WithUserMessage(msg string) *Error {
	e.UserMessage = msg
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithRetryAfter sets the suggested backoff before the next attempt.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// ErrorDetail is the persisted form of a pipeline failure. It is stored on
// the call or run record when processing fails so operators can inspect and
// retry without digging through logs.
type ErrorDetail struct {
	Kind        ErrorCode `json:"kind"`
	Message     string    `json:"message"`
	UserMessage string    `json:"user_message"`
	Retryable   bool      `json:"retryable"`
	RetryCount  int       `json:"retry_count"`
}

// DetailFromError converts a classified *Error into its persisted form.
// The user message never falls back to the technical message; raw provider
// errors must not leak to customers.
func DetailFromError(err *Error, retryCount int) *ErrorDetail {
	userMsg := err.UserMessage
	if userMsg == "" {
		userMsg = defaultUserMessage(err.Code)
	}
	return &ErrorDetail{
		Kind:        err.Code,
		Message:     err.Message,
		UserMessage: userMsg,
		Retryable:   err.Retryable,
		RetryCount:  retryCount,
	}
}

func defaultUserMessage(code ErrorCode) string {
	switch code {
	case ErrTranscription, ErrAllProvidersFailed, ErrProviderUnavailable:
		return "We could not process the call audio. Please try again."
	case ErrNetwork, ErrTimeout:
		return "A temporary connectivity problem occurred. Please try again."
	case ErrStorage:
		return "A storage error occurred. Please try again."
	case ErrValidation, ErrInvalidRequest, ErrPayloadTooLarge, ErrUnsupportedFormat:
		return "The request could not be processed. Please check the input."
	case ErrNotFound:
		return "The requested resource was not found."
	default:
		return "An unexpected error occurred. Please try again."
	}
}
