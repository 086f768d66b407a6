// Package errors provides the unified error taxonomy used across the
// coordinator: a structured ServiceError carrying a stable code, an HTTP
// status for the admin surface, and optional machine-readable details.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of failure. Values are stable across releases
// since callers (and the admin UI) match on them.
type ErrorCode string

const (
	// ErrCodeNotFound: an identified entity is missing.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeInvalidTransition: a node state-machine edge is forbidden.
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	// ErrCodeConcurrentTransition: an optimistic compare-and-swap write lost a race.
	ErrCodeConcurrentTransition ErrorCode = "CONCURRENT_TRANSITION"
	// ErrCodeInsufficientBalance: a debit would push a tenant's balance below zero.
	ErrCodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"
	// ErrCodeInvalidArgument: caller-supplied input failed validation.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeTimeout: a command-bus call or health poll exceeded its deadline.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeConnectionUnavailable: no live link to the target node.
	ErrCodeConnectionUnavailable ErrorCode = "CONNECTION_UNAVAILABLE"
	// ErrCodeTransient: an I/O or database failure that callers should log and continue past.
	ErrCodeTransient ErrorCode = "TRANSIENT"
	// ErrCodeUnauthorized: missing or invalid credentials on the wire protocol or admin surface.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeAlreadyExists: a uniqueness constraint (e.g. referenceId) was violated.
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	// ErrCodeInternal: unclassified internal failure.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// ServiceError is a structured error with a stable code, message, HTTP
// status, and optional details for the admin surface.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value pair to the error's Details map.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a bare ServiceError.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap creates a ServiceError around an underlying cause.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// NotFound reports a missing entity, e.g. NotFound("node", nodeID).
func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// InvalidTransition reports a forbidden state-machine edge.
func InvalidTransition(from, to string) *ServiceError {
	return New(ErrCodeInvalidTransition, fmt.Sprintf("invalid transition %s -> %s", from, to), http.StatusConflict).
		WithDetails("from", from).
		WithDetails("to", to)
}

// ConcurrentTransition reports a lost optimistic-concurrency race.
func ConcurrentTransition(nodeID string) *ServiceError {
	return New(ErrCodeConcurrentTransition, "node status changed concurrently", http.StatusConflict).
		WithDetails("nodeId", nodeID)
}

// InsufficientBalance reports a debit that would push a tenant below zero.
func InsufficientBalance(currentBalanceCents int64) *ServiceError {
	return New(ErrCodeInsufficientBalance, "insufficient balance", http.StatusBadRequest).
		WithDetails("current_balance", currentBalanceCents)
}

// InvalidArgument reports malformed caller input.
func InvalidArgument(field, reason string) *ServiceError {
	return New(ErrCodeInvalidArgument, reason, http.StatusBadRequest).
		WithDetails("field", field)
}

// Timeout reports a command-bus call or health poll that exceeded its deadline.
func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

// ConnectionUnavailable reports that no live link exists to the target node.
func ConnectionUnavailable(nodeID string) *ServiceError {
	return New(ErrCodeConnectionUnavailable, "not connected", http.StatusServiceUnavailable).
		WithDetails("nodeId", nodeID)
}

// Transient wraps an I/O or database failure that callers should log and
// continue past rather than escalate.
func Transient(operation string, err error) *ServiceError {
	return Wrap(ErrCodeTransient, fmt.Sprintf("%s failed", operation), http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

// Unauthorized reports a missing or invalid credential.
func Unauthorized(message string) *ServiceError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

// AlreadyExists reports a uniqueness-constraint violation.
func AlreadyExists(resource, key string) *ServiceError {
	return New(ErrCodeAlreadyExists, fmt.Sprintf("%s already exists", resource), http.StatusConflict).
		WithDetails("resource", resource).
		WithDetails("key", key)
}

// Internal wraps an unclassified internal failure.
func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

// IsServiceError reports whether err (or something it wraps) is a *ServiceError.
func IsServiceError(err error) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr)
}

// GetServiceError extracts a *ServiceError from err's chain, if present.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// Is reports whether err carries the given ErrorCode.
func Is(err error, code ErrorCode) bool {
	if svcErr := GetServiceError(err); svcErr != nil {
		return svcErr.Code == code
	}
	return false
}

// GetHTTPStatus returns the HTTP status associated with err, defaulting to 500.
func GetHTTPStatus(err error) int {
	if svcErr := GetServiceError(err); svcErr != nil {
		return svcErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
