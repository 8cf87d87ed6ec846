package mno

import (
	"errors"
	"fmt"

	"github.com/thrillee/smppgateway/pkg/errormapper"
	"github.com/thrillee/smppgateway/pkg/pdu"
)

// codedError is a sentinel that carries its own error code.
type codedError struct {
	code string
	msg  string
}

func (e *codedError) Error() string     { return e.msg }
func (e *codedError) ErrorCode() string { return e.code }

var (
	// ErrTimeout means no response arrived before the deadline. The request
	// may still have reached the SMSC.
	ErrTimeout = &codedError{code: errormapper.ErrorCodeTimeout, msg: "smpp: response timeout"}
	// ErrNotBound is returned for operations that need a bound session.
	ErrNotBound = &codedError{code: errormapper.ErrorCodeNotBound, msg: "smpp: session is not bound"}
	// ErrCircuitOpen is returned by the pool while a configuration is cooling down.
	ErrCircuitOpen = &codedError{code: errormapper.ErrorCodeCircuitOpen, msg: "smpp: circuit breaker open"}
	// ErrUnknownConfiguration is returned when no stored configuration matches.
	ErrUnknownConfiguration = &codedError{code: errormapper.ErrorCodeConfigurationNotFound, msg: "smpp: configuration not found"}
	// ErrPoolClosed is returned by Get after Shutdown.
	ErrPoolClosed = &codedError{code: errormapper.ErrorCodeNotBound, msg: "smpp: session pool is shut down"}
	// ErrSessionClosed is the cause recorded when a session is closed locally.
	ErrSessionClosed = errors.New("smpp: session closed")
	// ErrInvalidState is returned when bind is attempted on a used session.
	ErrInvalidState = errors.New("smpp: operation not valid in current session state")
)

// TransportError wraps connect, read and write failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("smpp transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error     { return e.Err }
func (e *TransportError) ErrorCode() string { return errormapper.ErrorCodeTransport }

// AuthenticationError is a bind rejected by the SMSC. It is not retried.
type AuthenticationError struct {
	SystemID string
	Status   pdu.CommandStatus
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("smpp bind rejected for %q: %s", e.SystemID, e.Status)
}

func (e *AuthenticationError) Unwrap() error     { return e.Status }
func (e *AuthenticationError) ErrorCode() string { return errormapper.ErrorCodeAuthentication }

// SendError is a submit_sm or query_sm answered with a non-zero command_status.
type SendError struct {
	Command pdu.CommandID
	Status  pdu.CommandStatus
}

func (e *SendError) Error() string {
	return fmt.Sprintf("smpp %s rejected: %s", e.Command, e.Status)
}

func (e *SendError) Unwrap() error     { return e.Status }
func (e *SendError) ErrorCode() string { return errormapper.ErrorCodeSubmitFail }

// ConfigurationError reports an unusable configuration row.
type ConfigurationError struct {
	Name   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid smpp configuration %q: %s", e.Name, e.Reason)
}

func (e *ConfigurationError) ErrorCode() string { return errormapper.ErrorCodeInvalidConfiguration }

// IsAuthentication reports whether err is a rejected bind.
func IsAuthentication(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}
