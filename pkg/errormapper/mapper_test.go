package errormapper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/thrillee/smppgateway/pkg/pdu"
)

type codedErr struct{ code string }

func (e codedErr) Error() string     { return e.code }
func (e codedErr) ErrorCode() string { return e.code }

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"coder", fmt.Errorf("wrapped: %w", codedErr{ErrorCodeInvalidMSISDN}), ErrorCodeInvalidMSISDN},
		{"protocol", &pdu.ProtocolError{Reason: "bad"}, ErrorCodeProtocol},
		{"command status", fmt.Errorf("submit: %w", pdu.StatusThrottled), ErrorCodeSubmitFail},
		{"deadline", fmt.Errorf("waiting: %w", context.DeadlineExceeded), ErrorCodeTimeout},
		{"other", errors.New("boom"), ErrorCodeSystemError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	if got := HTTPStatus(ErrorCodeInvalidMSISDN); got != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", got)
	}
	if got := HTTPStatus("not_found"); got != http.StatusNotFound {
		t.Errorf("Expected lookup to be case-insensitive, got %d", got)
	}
	if got := HTTPStatus("SOMETHING_ELSE"); got != http.StatusInternalServerError {
		t.Errorf("Expected 500 default, got %d", got)
	}
}
