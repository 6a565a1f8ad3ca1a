package errors

import (
	"errors"
	"fmt"
)

// Code classifies an error for propagation policy decisions.
type Code string

const (
	// CodeBadInput marks request-level validation failures. These abort the
	// whole batch before any row runs.
	CodeBadInput Code = "bad_input"
	// CodeNotFound marks a missing table, column or row.
	CodeNotFound Code = "resource_not_found"
	// CodeUpstream marks a cell whose dependency column already errored.
	CodeUpstream Code = "upstream_error"
	// CodeOverloaded marks provider overload / rate-limit after retries.
	CodeOverloaded Code = "model_overloaded"
	// CodePersistence marks a durable-write failure. Logged, never streamed.
	CodePersistence Code = "persistence_error"
)

// DomainError is the error type raised by the execution core. Cell-level
// errors are contained at the cell boundary; only bad-input errors abort a
// batch.
type DomainError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// New creates a DomainError with the given code.
func New(code Code, message string, cause error) *DomainError {
	return &DomainError{Code: code, Message: message, Cause: cause}
}

// BadInput creates a request-validation error.
func BadInput(format string, args ...any) *DomainError {
	return &DomainError{Code: CodeBadInput, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a missing-resource error.
func NotFound(format string, args ...any) *DomainError {
	return &DomainError{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Upstream creates an upstream-cell error naming the offending columns.
func Upstream(format string, args ...any) *DomainError {
	return &DomainError{Code: CodeUpstream, Message: fmt.Sprintf(format, args...)}
}

// Overloaded wraps a provider overload error surfaced by the router.
func Overloaded(message string, cause error) *DomainError {
	return &DomainError{Code: CodeOverloaded, Message: message, Cause: cause}
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *DomainError
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Cause
	}
	return false
}

// IsBadInput reports whether err is a request-validation error.
func IsBadInput(err error) bool { return HasCode(err, CodeBadInput) }

// IsNotFound reports whether err is a missing-resource error.
func IsNotFound(err error) bool { return HasCode(err, CodeNotFound) }

// IsUpstream reports whether err is an upstream-cell error.
func IsUpstream(err error) bool { return HasCode(err, CodeUpstream) }
