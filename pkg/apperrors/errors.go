package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidSpec     = errors.New("invalid spec")
	ErrInvalidArgument = errors.New("invalid argument")
)

// UserError is caused by configuration or warehouse state the caller can fix.
// It is never retried.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string {
	return e.Message
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError builds a UserError with a formatted message and an optional cause.
func NewUserError(cause error, format string, args ...any) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...), Err: cause}
}

// ApplicationError signals an internal invariant violation.
type ApplicationError struct {
	Message string
	Err     error
}

func (e *ApplicationError) Error() string {
	return e.Message
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}

// NewApplicationError builds an ApplicationError with a formatted message and an optional cause.
func NewApplicationError(cause error, format string, args ...any) *ApplicationError {
	return &ApplicationError{Message: fmt.Sprintf(format, args...), Err: cause}
}

// IsUserError reports whether err or anything it wraps is a UserError.
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}

// IsApplicationError reports whether err or anything it wraps is an ApplicationError.
func IsApplicationError(err error) bool {
	var ae *ApplicationError
	return errors.As(err, &ae)
}

// Process exit codes.
const (
	ExitSuccess     = 0
	ExitUserError   = 1
	ExitApplication = 2
)

// ExitCode maps an error to the process exit code: 1 for a UserError, 2 for anything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case IsUserError(err):
		return ExitUserError
	default:
		return ExitApplication
	}
}
