package pdu

import (
	"errors"
	"fmt"
)

// ErrIncomplete is returned by Decode when the buffer holds fewer bytes than
// the command_length prefix announces. Callers should read more and retry.
var ErrIncomplete = errors.New("pdu: incomplete")

// ProtocolError reports a malformed PDU. When Framed is false the length
// prefix itself was bad and the stream it came from is out of frame. When
// Framed is true only the body was malformed, the whole frame was consumed and
// SequenceNumber can be used to nack it.
type ProtocolError struct {
	CommandID      CommandID
	SequenceNumber uint32
	Framed         bool
	Reason         string
}

func (e *ProtocolError) Error() string {
	if e.CommandID != 0 {
		return fmt.Sprintf("smpp protocol error (%s): %s", e.CommandID, e.Reason)
	}
	return "smpp protocol error: " + e.Reason
}

func protocolErrorf(id CommandID, format string, args ...any) *ProtocolError {
	return &ProtocolError{CommandID: id, Reason: fmt.Sprintf(format, args...)}
}
