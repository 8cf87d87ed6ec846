package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/thrillee/smppgateway/internal/database"
	"github.com/thrillee/smppgateway/internal/sms"
)

// Priority accepts either a named tier ("high") or a number (2).
type Priority string

func (p *Priority) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*p = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = Priority(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("priority must be a string or a number: %w", err)
	}
	if _, err := strconv.Atoi(n.String()); err != nil {
		return fmt.Errorf("priority must be an integer, got %s", n)
	}
	*p = Priority(n.String())
	return nil
}

// SendMessageRequest is the body for POST /messages.
type SendMessageRequest struct {
	Configuration      string     `json:"configuration"`
	Recipient          string     `json:"recipient" binding:"required"`
	Body               string     `json:"body" binding:"required"`
	SenderID           string     `json:"sender_id"`
	Priority           Priority   `json:"priority"`
	ServiceType        string     `json:"service_type"`
	MessageType        string     `json:"message_type" binding:"omitempty,oneof=normal flash"`
	RegisteredDelivery *bool      `json:"registered_delivery"`
	ReplaceIfPresent   bool       `json:"replace_if_present"`
	ScheduledTime      *time.Time `json:"scheduled_time"`
	ValidityPeriod     *time.Time `json:"validity_period"`
	ReferenceType      *string    `json:"reference_type"`
	ReferenceName      *string    `json:"reference_name"`
}

// ToSendRequest maps the API body onto the processor request.
func (r SendMessageRequest) ToSendRequest() sms.SendRequest {
	return sms.SendRequest{
		ConfigurationName:  r.Configuration,
		Recipient:          r.Recipient,
		Body:               r.Body,
		SenderID:           r.SenderID,
		Priority:           string(r.Priority),
		ServiceType:        r.ServiceType,
		MessageType:        r.MessageType,
		RegisteredDelivery: r.RegisteredDelivery,
		ReplaceIfPresent:   r.ReplaceIfPresent,
		ScheduledTime:      r.ScheduledTime,
		ValidityPeriod:     r.ValidityPeriod,
		ReferenceType:      r.ReferenceType,
		ReferenceName:      r.ReferenceName,
	}
}

// BulkSendRequest is the body for POST /messages/bulk.
type BulkSendRequest struct {
	Messages []SendMessageRequest `json:"messages" binding:"required,min=1,max=1000,dive"`
}

// BulkItemResponse reports the outcome for one entry of a bulk request.
type BulkItemResponse struct {
	Index   int                `json:"index"`
	Message *sms.EnqueueResult `json:"message,omitempty"`
	Error   *ErrorResponse     `json:"error,omitempty"`
}

// BulkSendResponse summarises a bulk request.
type BulkSendResponse struct {
	Accepted int                `json:"accepted"`
	Rejected int                `json:"rejected"`
	Results  []BulkItemResponse `json:"results"`
}

// MessageDetailResponse is a message with its queue entry and receipts.
type MessageDetailResponse struct {
	database.Message
	QueueEntry *database.QueueEntry        `json:"queue_entry,omitempty"`
	Receipts   []database.DeliveryReceipt `json:"receipts"`
}

// MessageStatsResponse counts messages and queue entries per status.
type MessageStatsResponse struct {
	Messages map[string]int64 `json:"messages"`
	Queue    map[string]int64 `json:"queue"`
}
