package pdu

import "fmt"

// CommandID identifies the SMPP operation carried by a PDU.
type CommandID uint32

const (
	GenericNackID         CommandID = 0x80000000
	BindReceiverID        CommandID = 0x00000001
	BindReceiverRespID    CommandID = 0x80000001
	BindTransmitterID     CommandID = 0x00000002
	BindTransmitterRespID CommandID = 0x80000002
	QuerySMID             CommandID = 0x00000003
	QuerySMRespID         CommandID = 0x80000003
	SubmitSMID            CommandID = 0x00000004
	SubmitSMRespID        CommandID = 0x80000004
	DeliverSMID           CommandID = 0x00000005
	DeliverSMRespID       CommandID = 0x80000005
	UnbindID              CommandID = 0x00000006
	UnbindRespID          CommandID = 0x80000006
	BindTransceiverID     CommandID = 0x00000009
	BindTransceiverRespID CommandID = 0x80000009
	EnquireLinkID         CommandID = 0x00000015
	EnquireLinkRespID     CommandID = 0x80000015
)

const responseBit CommandID = 0x80000000

// IsResponse reports whether the response bit is set.
func (c CommandID) IsResponse() bool {
	return c&responseBit != 0
}

// Response returns the id of the matching response command.
func (c CommandID) Response() CommandID {
	return c | responseBit
}

var commandNames = map[CommandID]string{
	GenericNackID:         "generic_nack",
	BindReceiverID:        "bind_receiver",
	BindReceiverRespID:    "bind_receiver_resp",
	BindTransmitterID:     "bind_transmitter",
	BindTransmitterRespID: "bind_transmitter_resp",
	QuerySMID:             "query_sm",
	QuerySMRespID:         "query_sm_resp",
	SubmitSMID:            "submit_sm",
	SubmitSMRespID:        "submit_sm_resp",
	DeliverSMID:           "deliver_sm",
	DeliverSMRespID:       "deliver_sm_resp",
	UnbindID:              "unbind",
	UnbindRespID:          "unbind_resp",
	BindTransceiverID:     "bind_transceiver",
	BindTransceiverRespID: "bind_transceiver_resp",
	EnquireLinkID:         "enquire_link",
	EnquireLinkRespID:     "enquire_link_resp",
}

func (c CommandID) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command_0x%08X", uint32(c))
}

// CommandStatus is the command_status header field. Zero means success.
type CommandStatus uint32

const (
	StatusOK                CommandStatus = 0x00000000
	StatusInvalidMsgLength  CommandStatus = 0x00000001
	StatusInvalidCmdLength  CommandStatus = 0x00000002
	StatusInvalidCommandID  CommandStatus = 0x00000003
	StatusIncorrectBind     CommandStatus = 0x00000004
	StatusAlreadyBound      CommandStatus = 0x00000005
	StatusSystemError       CommandStatus = 0x00000008
	StatusInvalidSourceAddr CommandStatus = 0x0000000A
	StatusInvalidDestAddr   CommandStatus = 0x0000000B
	StatusInvalidMessageID  CommandStatus = 0x0000000C
	StatusBindFailed        CommandStatus = 0x0000000D
	StatusInvalidPassword   CommandStatus = 0x0000000E
	StatusInvalidSystemID   CommandStatus = 0x0000000F
	StatusQueueFull         CommandStatus = 0x00000014
	StatusSubmitFailed      CommandStatus = 0x00000045
	StatusThrottled         CommandStatus = 0x00000058
	StatusInvalidSchedule   CommandStatus = 0x00000061
	StatusInvalidExpiry     CommandStatus = 0x00000062
	StatusTemporaryAppError CommandStatus = 0x00000064
	StatusQueryFailed       CommandStatus = 0x00000067
	StatusUnknownError      CommandStatus = 0x000000FF
)

var statusNames = map[CommandStatus]string{
	StatusOK:                "ESME_ROK",
	StatusInvalidMsgLength:  "ESME_RINVMSGLEN",
	StatusInvalidCmdLength:  "ESME_RINVCMDLEN",
	StatusInvalidCommandID:  "ESME_RINVCMDID",
	StatusIncorrectBind:     "ESME_RINVBNDSTS",
	StatusAlreadyBound:      "ESME_RALYBND",
	StatusSystemError:       "ESME_RSYSERR",
	StatusInvalidSourceAddr: "ESME_RINVSRCADR",
	StatusInvalidDestAddr:   "ESME_RINVDSTADR",
	StatusInvalidMessageID:  "ESME_RINVMSGID",
	StatusBindFailed:        "ESME_RBINDFAIL",
	StatusInvalidPassword:   "ESME_RINVPASWD",
	StatusInvalidSystemID:   "ESME_RINVSYSID",
	StatusQueueFull:         "ESME_RMSGQFUL",
	StatusSubmitFailed:      "ESME_RSUBMITFAIL",
	StatusThrottled:         "ESME_RTHROTTLED",
	StatusInvalidSchedule:   "ESME_RINVSCHED",
	StatusInvalidExpiry:     "ESME_RINVEXPIRY",
	StatusTemporaryAppError: "ESME_RX_T_APPN",
	StatusQueryFailed:       "ESME_RQUERYFAIL",
	StatusUnknownError:      "ESME_RUNKNOWNERR",
}

func (s CommandStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("0x%08X", uint32(s))
}

// Error lets a non-zero status travel as an error value.
func (s CommandStatus) Error() string {
	return "smpp status " + s.String()
}

// MessageState is the message_state value returned by query_sm_resp.
type MessageState uint8

const (
	StateEnroute       MessageState = 1
	StateDelivered     MessageState = 2
	StateExpired       MessageState = 3
	StateDeleted       MessageState = 4
	StateUndeliverable MessageState = 5
	StateAccepted      MessageState = 6
	StateUnknown       MessageState = 7
	StateRejected      MessageState = 8
)

func (s MessageState) String() string {
	switch s {
	case StateEnroute:
		return "ENROUTE"
	case StateDelivered:
		return "DELIVERED"
	case StateExpired:
		return "EXPIRED"
	case StateDeleted:
		return "DELETED"
	case StateUndeliverable:
		return "UNDELIVERABLE"
	case StateAccepted:
		return "ACCEPTED"
	case StateRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Optional parameter tags used by this package's callers.
const (
	TagReceiptedMessageID uint16 = 0x001E
	TagSCInterfaceVersion uint16 = 0x0210
	TagMessagePayload     uint16 = 0x0424
	TagMessageState       uint16 = 0x0427
)
