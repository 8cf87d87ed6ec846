package codes

// Session States
const (
	SessionUnbound   = "unbound"
	SessionBinding   = "binding"
	SessionBound     = "bound"
	SessionUnbinding = "unbinding"
	SessionClosed    = "closed"
	SessionFailed    = "failed"
)

// Bind Types
const (
	BindTransmitter = "transmitter"
	BindReceiver    = "receiver"
	BindTransceiver = "transceiver"
)

// Message Status Codes
const (
	MsgStatusDraft     = "draft"
	MsgStatusQueued    = "queued"
	MsgStatusSent      = "sent"
	MsgStatusDelivered = "delivered"
	MsgStatusExpired   = "expired"
	MsgStatusFailed    = "failed"
	MsgStatusRejected  = "rejected"
)

// Message Types
const (
	MsgTypeNormal = "normal"
	MsgTypeFlash  = "flash"
)

// Queue Entry Status Codes
const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusCompleted  = "completed"
	QueueStatusFailed     = "failed"
	QueueStatusRetrying   = "retrying"
)

// Connection Log Event Types
const (
	EventBindSuccess        = "bind_success"
	EventBindFailed         = "bind_failed"
	EventDisconnect         = "disconnect"
	EventEnquireLinkFailed  = "enquire_link_failed"
	EventSendMessage        = "send_message"
	EventReceiveReceipt     = "receive_receipt"
	EventHealthCheckSuccess = "health_check_success"
	EventHealthCheckFailed  = "health_check_failed"
	EventError              = "error"
)

// allowed lists the forward moves of the message lifecycle. Sent -> Failed
// covers both a receipt reporting failure and a send-time error.
var allowed = map[string][]string{
	MsgStatusDraft:  {MsgStatusQueued, MsgStatusFailed},
	MsgStatusQueued: {MsgStatusSent, MsgStatusFailed},
	MsgStatusSent:   {MsgStatusDelivered, MsgStatusExpired, MsgStatusFailed, MsgStatusRejected},
}

// CanTransition reports whether a message may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsFinalMessageStatus reports whether no further transition is possible.
func IsFinalMessageStatus(status string) bool {
	switch status {
	case MsgStatusDelivered, MsgStatusExpired, MsgStatusFailed, MsgStatusRejected:
		return true
	}
	return false
}

// IsClaimableQueueStatus reports whether a queue entry can be picked up by a tick.
func IsClaimableQueueStatus(status string) bool {
	return status == QueueStatusPending || status == QueueStatusRetrying
}
