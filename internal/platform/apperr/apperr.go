// Package apperr defines the error kinds returned by core services. Handlers
// translate kinds to HTTP status codes; the core itself never imports echo.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports a malformed request. Field names the offending
// input so callers can highlight it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports that a resource does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ConflictError reports that a resource exists but is not in a state that
// permits the requested operation. OpenRuleIDs is populated when a case-scope
// acknowledgment is blocked; callers present the blockers to the user.
type ConflictError struct {
	Reason      string
	OpenRuleIDs []string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

// PermissionError reports a denied authorization decision.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	return e.Reason
}

// StorageError wraps persistence failures. The wrapped error is for logs
// only; it must never reach the caller.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func Conflict(reason string, openRules ...string) error {
	return &ConflictError{Reason: reason, OpenRuleIDs: openRules}
}

func Permission(reason string) error {
	return &PermissionError{Reason: reason}
}

func Storage(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// HTTPStatus maps an error kind to its HTTP status code. Unknown errors are
// treated as storage-grade failures.
func HTTPStatus(err error) int {
	var ve *ValidationError
	var nf *NotFoundError
	var ce *ConflictError
	var pe *PermissionError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &ce):
		return http.StatusConflict
	case errors.As(err, &pe):
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

// PublicMessage returns the caller-safe message for an error. Storage errors
// collapse to a generic retry hint so internal detail never leaks.
func PublicMessage(err error) string {
	var se *StorageError
	if errors.As(err, &se) {
		return "temporarily unavailable, retry"
	}
	return err.Error()
}
