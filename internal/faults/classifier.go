// Package faults classifies raw failures into the platform error taxonomy.
// Classification is pattern-based over error text and embedded status codes
// so new providers never require changes at the call sites.
package faults

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/voxlens/voxlens/types"
)

// Default backoff base used when computing retry delays.
const DefaultRetryAfter = 2 * time.Second

// Classify maps a raw failure into a *types.Error carrying kind, retryability,
// a suggested backoff, and a user-safe message. Already classified errors
// pass through unchanged.
func Classify(err error) *types.Error {
	if err == nil {
		return nil
	}

	var typed *types.Error
	if errors.As(err, &typed) {
		return typed
	}

	msg := strings.ToLower(err.Error())

	switch {
	case errors.Is(err, context.DeadlineExceeded) || containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return types.NewError(types.ErrTimeout, err.Error()).
			WithCause(err).
			WithRetryable(true).
			WithRetryAfter(DefaultRetryAfter).
			WithUserMessage("The operation took too long. Please try again.")

	case isNetworkError(err) || containsAny(msg, "connection refused", "connection reset", "no such host", "network", "eof", "broken pipe"):
		return types.NewError(types.ErrNetwork, err.Error()).
			WithCause(err).
			WithRetryable(true).
			WithRetryAfter(DefaultRetryAfter).
			WithUserMessage("A network error occurred. Please try again.")

	case containsAny(msg, "transcribe", "transcription", "speech", "audio decode", "unsupported audio"):
		return types.NewError(types.ErrTranscription, err.Error()).
			WithCause(err).
			WithRetryable(true).
			WithRetryAfter(DefaultRetryAfter).
			WithUserMessage("Transcription failed. Please try again.")

	case containsAny(msg, "storage", "disk", "no space", "read-only file system", "bucket", "object not found"):
		return types.NewError(types.ErrStorage, err.Error()).
			WithCause(err).
			WithRetryable(true).
			WithRetryAfter(DefaultRetryAfter).
			WithUserMessage("A storage error occurred. Please try again.")

	case containsAny(msg, "invalid", "validation", "missing required", "malformed", "bad request", "unprocessable"):
		return types.NewError(types.ErrValidation, err.Error()).
			WithCause(err).
			WithRetryable(false).
			WithUserMessage("The request was invalid. Please check the input and try again.")

	default:
		return types.NewError(types.ErrUnknown, err.Error()).
			WithCause(err).
			WithRetryable(true).
			WithRetryAfter(DefaultRetryAfter).
			WithUserMessage("An unexpected error occurred. Please try again.")
	}
}

// Backoff returns the exponential retry delay for the given attempt:
// base * 2^attempt. Attempt 0 is the first retry.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultRetryAfter
	}
	if attempt < 0 {
		attempt = 0
	}
	// Cap the shift to keep the delay within a sane range.
	if attempt > 16 {
		attempt = 16
	}
	return base * (1 << uint(attempt))
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
