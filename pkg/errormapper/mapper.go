package errormapper

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/thrillee/smppgateway/pkg/pdu"
)

// Coder is implemented by errors that know their own machine-readable code.
type Coder interface {
	ErrorCode() string
}

// CodeOf classifies err into one of the ErrorCode constants. A nil error
// maps to the empty string.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}

	var coder Coder
	if errors.As(err, &coder) {
		return coder.ErrorCode()
	}

	var protoErr *pdu.ProtocolError
	if errors.As(err, &protoErr) {
		return ErrorCodeProtocol
	}
	var status pdu.CommandStatus
	if errors.As(err, &status) {
		return ErrorCodeSubmitFail
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeTimeout
	}
	return ErrorCodeSystemError
}

var internalToHTTP = map[string]int{
	ErrorCodeValidationFailure:     http.StatusBadRequest,
	ErrorCodeInvalidMSISDN:         http.StatusBadRequest,
	ErrorCodeMessageTooLong:        http.StatusBadRequest,
	ErrorCodeMultipartUnsupported:  http.StatusBadRequest,
	ErrorCodeInvalidPriority:       http.StatusBadRequest,
	ErrorCodeInvalidConfiguration:  http.StatusBadRequest,
	ErrorCodeConfigurationNotFound: http.StatusNotFound,
	ErrorCodeNotFound:              http.StatusNotFound,
	ErrorCodeConflict:              http.StatusConflict,
	ErrorCodeTransport:             http.StatusBadGateway,
	ErrorCodeAuthentication:        http.StatusBadGateway,
	ErrorCodeProtocol:              http.StatusBadGateway,
	ErrorCodeSubmitFail:            http.StatusBadGateway,
	ErrorCodeNotBound:              http.StatusServiceUnavailable,
	ErrorCodeCircuitOpen:           http.StatusServiceUnavailable,
	ErrorCodeTimeout:               http.StatusGatewayTimeout,
	ErrorCodeSystemError:           http.StatusInternalServerError,
	ErrorCodeDatabaseError:         http.StatusInternalServerError,
}

// HTTPStatus translates an internal error code to the status the manager API answers with.
func HTTPStatus(internalCode string) int {
	internalCode = strings.ToUpper(internalCode)
	if status, ok := internalToHTTP[internalCode]; ok {
		return status
	}

	slog.Debug("No specific HTTP mapping found for error code, returning default",
		slog.String("internal_code", internalCode),
	)
	return http.StatusInternalServerError
}
