package dlr

import (
	"strings"

	"github.com/thrillee/smppgateway/pkg/codes"
	"github.com/thrillee/smppgateway/pkg/errormapper"
	"github.com/thrillee/smppgateway/pkg/pdu"
)

// MapStatus maps a receipt stat value onto a message status. Unknown values
// are treated as failures.
func MapStatus(stat string) string {
	switch strings.ToUpper(strings.TrimSpace(stat)) {
	case errormapper.StatusCodeDelivered, errormapper.StatusCodeAccepted:
		return codes.MsgStatusDelivered
	case errormapper.StatusCodeExpired:
		return codes.MsgStatusExpired
	case errormapper.StatusCodeDeleted, errormapper.StatusCodeUndeliverable, errormapper.StatusCodeUnknown:
		return codes.MsgStatusFailed
	case errormapper.StatusCodeRejected:
		return codes.MsgStatusRejected
	default:
		return codes.MsgStatusFailed
	}
}

// MapMessageState maps a query_sm_resp message_state. The boolean is false
// for states that are not final (enroute, unknown), which leave the message
// as it is.
func MapMessageState(state pdu.MessageState) (string, bool) {
	switch state {
	case pdu.StateDelivered, pdu.StateAccepted:
		return codes.MsgStatusDelivered, true
	case pdu.StateExpired:
		return codes.MsgStatusExpired, true
	case pdu.StateDeleted, pdu.StateUndeliverable:
		return codes.MsgStatusFailed, true
	case pdu.StateRejected:
		return codes.MsgStatusRejected, true
	default:
		return "", false
	}
}
