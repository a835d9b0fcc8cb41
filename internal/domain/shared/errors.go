package shared

import "errors"

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// Is reports whether target is a DomainError with the same code, so that
// errors.Is(err, ErrNotFound) matches a not-found error with a custom message.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Error codes
const (
	CodeInvalidArgument      = "INVALID_ARGUMENT"
	CodeNotFound             = "NOT_FOUND"
	CodeConflict             = "CONFLICT"
	CodeForbidden            = "FORBIDDEN"
	CodeInvalidState         = "INVALID_STATE"
	CodeUnavailable          = "UNAVAILABLE"
	CodeConcurrencyConflict  = "CONCURRENCY_CONFLICT"
	CodeDuplicate            = "DUPLICATE"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeOptimisticLockFailed = "OPTIMISTIC_LOCK_ERROR"
)

// Common domain errors
var (
	ErrInvalidArgument     = NewDomainError(CodeInvalidArgument, "Invalid argument provided")
	ErrNotFound            = NewDomainError(CodeNotFound, "Resource not found")
	ErrConflict            = NewDomainError(CodeConflict, "Resource conflicts with current state")
	ErrForbidden           = NewDomainError(CodeForbidden, "Access to this resource is forbidden")
	ErrInvalidState        = NewDomainError(CodeInvalidState, "Operation not allowed in current state")
	ErrUnavailable         = NewDomainError(CodeUnavailable, "Operation could not complete, retry later")
	ErrConcurrencyConflict = NewDomainError(CodeConcurrencyConflict, "Resource was modified by another process")
	ErrDuplicate           = NewDomainError(CodeDuplicate, "Resource already exists")
	ErrUnauthorized        = NewDomainError(CodeUnauthorized, "Not authorized to perform this action")
)

// IsRetryable reports whether err signals a transient condition that the
// caller may retry as a whole.
func IsRetryable(err error) bool {
	var de *DomainError
	if !errors.As(err, &de) {
		return false
	}
	switch de.Code {
	case CodeUnavailable, CodeConcurrencyConflict, CodeOptimisticLockFailed:
		return true
	}
	return false
}
