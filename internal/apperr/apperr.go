// Package apperr defines the error taxonomy shared by the conversation and
// scheduling components. Callers branch on the Code via errors.As or the
// Is* helpers; transport layers translate codes to status lines.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an application error.
type Code string

const (
	CodeNotFound            Code = "not_found"
	CodeConflict            Code = "conflict"
	CodePolicyViolation     Code = "policy_violation"
	CodeProviderUnavailable Code = "provider_unavailable"
	CodeValidation          Code = "validation_error"
)

// Error is a typed application error carrying a taxonomy code.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports code equality so sentinel comparisons via errors.Is work.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// NotFound builds a not-found error for an absent entity.
func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message}
}

// Conflict builds a conflict error (e.g. slot already booked).
func Conflict(message string) *Error {
	return &Error{Code: CodeConflict, Message: message}
}

// PolicyViolation builds a business-policy rejection.
func PolicyViolation(message string) *Error {
	return &Error{Code: CodePolicyViolation, Message: message}
}

// ProviderUnavailable wraps an upstream provider failure or timeout.
func ProviderUnavailable(message string, cause error) *Error {
	return &Error{Code: CodeProviderUnavailable, Message: message, cause: cause}
}

// Validation builds a malformed-input error.
func Validation(message string) *Error {
	return &Error{Code: CodeValidation, Message: message}
}

// CodeOf extracts the taxonomy code from err, or "" if err is untyped.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsConflict reports whether err carries CodeConflict.
func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }

// IsPolicyViolation reports whether err carries CodePolicyViolation.
func IsPolicyViolation(err error) bool { return CodeOf(err) == CodePolicyViolation }

// IsProviderUnavailable reports whether err carries CodeProviderUnavailable.
func IsProviderUnavailable(err error) bool { return CodeOf(err) == CodeProviderUnavailable }
