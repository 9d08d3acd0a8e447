// Package apierrors defines the typed error taxonomy of spec §7: the store
// raises these, the lifecycle engine propagates them, and the API boundary
// translates them to HTTP status codes. Trimmed from the teacher's
// DistributedError/ErrorBuilder (pkg/errors/error_handling.go) down to the
// handful of fields EdgeMesh's single-process coordinator actually needs.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the §7 error categories.
type Kind string

const (
	NotFound          Kind = "NotFound"
	InvalidTransition Kind = "InvalidTransition"
	AssignmentMismatch Kind = "AssignmentMismatch"
	NotExecutable     Kind = "NotExecutable"
	Validation        Kind = "Validation"
	Unauthorized      Kind = "Unauthorized"
	Internal          Kind = "Internal"
)

// Error is the single error type raised by the store and lifecycle layers.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus maps a Kind to the status code spec §7 names.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case NotFound:
		return http.StatusNotFound
	case InvalidTransition, AssignmentMismatch, NotExecutable:
		return http.StatusConflict
	case Validation:
		return http.StatusUnprocessableEntity
	case Unauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NewNotFound(resource, id string) *Error {
	return New(NotFound, fmt.Sprintf("%s %q not found", resource, id))
}

func NewInvalidTransition(from, to string) *Error {
	return New(InvalidTransition, fmt.Sprintf("invalid transition from %s to %s", from, to))
}

func NewAssignmentMismatch(taskID, nodeID string) *Error {
	return New(AssignmentMismatch, fmt.Sprintf("task %q is not leased to node %q", taskID, nodeID))
}

func NewNotExecutable(taskID, status string) *Error {
	return New(NotExecutable, fmt.Sprintf("task %q is %s and cannot accept a result", taskID, status))
}

func NewValidation(message string) *Error {
	return New(Validation, message)
}

func NewUnauthorized() *Error {
	return New(Unauthorized, "invalid or missing authentication secret")
}

func NewInternal(message string, cause error) *Error {
	return Wrap(Internal, message, cause)
}

// As retrieves the *Error from err, if any, mirroring errors.As ergonomics.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
