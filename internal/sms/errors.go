package sms

import (
	"fmt"

	"github.com/thrillee/smppgateway/internal/database"
	"github.com/thrillee/smppgateway/pkg/errormapper"
)

// ValidationError rejects a send request before anything is stored.
type ValidationError struct {
	Code string
	Msg  string
}

func (e *ValidationError) Error() string     { return e.Msg }
func (e *ValidationError) ErrorCode() string { return e.Code }

func validationErrorf(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError is returned when a message id matches nothing.
type NotFoundError struct {
	MessageID string
}

func (e *NotFoundError) Error() string     { return fmt.Sprintf("message %s not found", e.MessageID) }
func (e *NotFoundError) ErrorCode() string { return errormapper.ErrorCodeNotFound }
func (e *NotFoundError) Unwrap() error     { return database.ErrNotFound }

// ConflictError is returned when a message is in the wrong state for the
// requested operation.
type ConflictError struct {
	MessageID string
	Reason    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("message %s: %s", e.MessageID, e.Reason)
}

func (e *ConflictError) ErrorCode() string { return errormapper.ErrorCodeConflict }
