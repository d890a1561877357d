// Package errors defines the service error taxonomy shared by the lifecycle
// engines and the HTTP layer. Domain-state failures carry enough detail for
// the caller to act (remaining cooldown, retry-after, attempt counts) and map
// onto stable HTTP statuses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies an error class.
type Code string

const (
	CodeInvalidRequest   Code = "invalid_request"
	CodeDuplicateRequest Code = "duplicate_request"
	CodeCooldown         Code = "cooldown"
	CodeAlreadyResolved  Code = "already_resolved"
	CodeExpired          Code = "expired"
	CodeThresholdNotMet  Code = "threshold_not_met"
	CodeForbidden        Code = "forbidden"
	CodeNotFound         Code = "not_found"
	CodeRateLimited      Code = "rate_limited"
	CodeStoreUnavailable Code = "store_unavailable"
)

// ServiceError is the error type surfaced to callers of the core services.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int

	// RetryAfter is set for rate-limit and cooldown errors.
	RetryAfter time.Duration
	// Attempts and Threshold are set for persuasion-gated ghost-ask errors.
	Attempts  int
	Threshold int
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// InvalidRequest reports malformed caller input. Never retried.
func InvalidRequest(format string, args ...interface{}) *ServiceError {
	return &ServiceError{
		Code:       CodeInvalidRequest,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusBadRequest,
	}
}

// DuplicateRequest reports an existing pending interaction for the same pair.
func DuplicateRequest(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeDuplicateRequest,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// Cooldown reports that the pair is still inside a post-resolution cooldown.
func Cooldown(remaining time.Duration) *ServiceError {
	return &ServiceError{
		Code:       CodeCooldown,
		Message:    fmt.Sprintf("cooldown active, retry in %s", remaining.Round(time.Second)),
		HTTPStatus: http.StatusConflict,
		RetryAfter: remaining,
	}
}

// AlreadyResolved reports a second response to a resolved interaction.
func AlreadyResolved(status string) *ServiceError {
	return &ServiceError{
		Code:       CodeAlreadyResolved,
		Message:    fmt.Sprintf("already %s", status),
		HTTPStatus: http.StatusConflict,
	}
}

// Expired reports a response arriving past the interaction's deadline.
func Expired() *ServiceError {
	return &ServiceError{
		Code:       CodeExpired,
		Message:    "request has expired",
		HTTPStatus: http.StatusGone,
	}
}

// ThresholdNotMet reports a forced send before enough persuasion attempts.
func ThresholdNotMet(attempts, threshold int) *ServiceError {
	return &ServiceError{
		Code:       CodeThresholdNotMet,
		Message:    fmt.Sprintf("%d of %d persuasion attempts", attempts, threshold),
		HTTPStatus: http.StatusConflict,
		Attempts:   attempts,
		Threshold:  threshold,
	}
}

// PersuasionRequired reports a locked ghost ask below the force threshold.
// It shares the threshold_not_met code but keeps attempt context for the
// caller's escalating persuasion copy.
func PersuasionRequired(attempts, threshold int) *ServiceError {
	return &ServiceError{
		Code:       CodeThresholdNotMet,
		Message:    fmt.Sprintf("still locked, persuasion attempt %d of %d", attempts, threshold),
		HTTPStatus: http.StatusConflict,
		Attempts:   attempts,
		Threshold:  threshold,
	}
}

// Forbidden reports a caller acting on an interaction they do not own.
func Forbidden(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NotFound reports an unknown identifier.
func NotFound(kind, id string) *ServiceError {
	return &ServiceError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s %s not found", kind, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// RateLimitExceeded reports an exhausted quota. RetryAfter is how long
// until the window admits one more call.
func RateLimitExceeded(scope string, retryAfter time.Duration) *ServiceError {
	return &ServiceError{
		Code:       CodeRateLimited,
		Message:    fmt.Sprintf("rate limit exceeded for %s", scope),
		HTTPStatus: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

// StoreUnavailable wraps an infrastructure failure from the entity store.
func StoreUnavailable(err error) *ServiceError {
	return &ServiceError{
		Code:       CodeStoreUnavailable,
		Message:    fmt.Sprintf("entity store unavailable: %v", err),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// CodeOf extracts the error code, or empty for non-service errors.
func CodeOf(err error) Code {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// AsService returns the underlying ServiceError when present.
func AsService(err error) (*ServiceError, bool) {
	var se *ServiceError
	ok := errors.As(err, &se)
	return se, ok
}
