package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess     Code = 0
	CodeInternal    Code = 1
	CodeUsage       Code = 2
	CodeAuth        Code = 10
	CodeRateLimited Code = 11
	CodeUnavailable Code = 12
	CodeUnsupported Code = 13
	CodeValidation  Code = 14
	CodeResolution  Code = 15
	CodeBuild       Code = 16
)

// Error is a typed error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func Is(err error, code Code) bool {
	if e, ok := As(err); ok {
		return e.Code == code
	}
	return false
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}

// TypeName returns the envelope error type for a code.
func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "usage_error"
	case CodeAuth:
		return "auth_error"
	case CodeRateLimited:
		return "rate_limited"
	case CodeUnavailable:
		return "unavailable"
	case CodeUnsupported:
		return "unsupported"
	case CodeValidation:
		return "validation_error"
	case CodeResolution:
		return "resolution_error"
	case CodeBuild:
		return "build_error"
	default:
		return "internal_error"
	}
}

// UserMessage renders err as a short message suitable for an end user.
// Causes, response bodies and provider payloads are never included.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	e, ok := As(err)
	if !ok {
		return "Something went wrong while preparing the request."
	}
	switch e.Code {
	case CodeAuth:
		return "The permission service rejected our credentials."
	case CodeRateLimited:
		return "The permission service is busy. Please try again shortly."
	case CodeUnavailable:
		return "The permission service is currently unavailable."
	case CodeUnsupported:
		return "That protocol, action and chain combination is not supported: " + e.Message
	case CodeValidation, CodeUsage:
		return "The request is incomplete or invalid: " + e.Message
	case CodeResolution:
		return "A token or address could not be resolved: " + e.Message
	case CodeBuild:
		return "The transaction could not be built: " + e.Message
	default:
		return "Something went wrong while preparing the request."
	}
}
