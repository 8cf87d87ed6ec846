package database

import (
	"time"
)

type Configuration struct {
	Name                    string    `json:"name"`
	Host                    string    `json:"host"`
	Port                    int32     `json:"port"`
	SystemID                string    `json:"system_id"`
	Password                string    `json:"-"`
	SystemType              string    `json:"system_type"`
	InterfaceVersion        int16     `json:"interface_version"`
	BindType                string    `json:"bind_type"`
	AddrTon                 int16     `json:"addr_ton"`
	AddrNpi                 int16     `json:"addr_npi"`
	AddressRange            string    `json:"address_range"`
	DefaultSenderID         *string   `json:"default_sender_id"`
	ConnectionTimeoutSecs   int32     `json:"connection_timeout_secs"`
	EnquireLinkIntervalSecs int32     `json:"enquire_link_interval_secs"`
	IsActive                bool      `json:"is_active"`
	IsDefault               bool      `json:"is_default"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

type Message struct {
	ID                 string     `json:"id"`
	ConfigurationName  string     `json:"configuration_name"`
	Recipient          string     `json:"recipient"`
	Body               string     `json:"body"`
	DataCoding         int16      `json:"data_coding"`
	Priority           int16      `json:"priority"`
	SenderID           string     `json:"sender_id"`
	ServiceType        string     `json:"service_type"`
	MessageType        string     `json:"message_type"`
	RegisteredDelivery bool       `json:"registered_delivery"`
	ReplaceIfPresent   bool       `json:"replace_if_present"`
	ScheduledTime      *time.Time `json:"scheduled_time"`
	ValidityPeriod     *time.Time `json:"validity_period"`
	Status             string     `json:"status"`
	SmscStatus         *string    `json:"smsc_status"`
	SmscMessageID      *string    `json:"smsc_message_id"`
	ErrorCode          *string    `json:"error_code"`
	ErrorMessage       *string    `json:"error_message"`
	RetryCount         int32      `json:"retry_count"`
	Parts              int32      `json:"parts"`
	ReferenceType      *string    `json:"reference_type"`
	ReferenceName      *string    `json:"reference_name"`
	CreatedAt          time.Time  `json:"created_at"`
	SentAt             *time.Time `json:"sent_at"`
	DeliveredAt        *time.Time `json:"delivered_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type QueueEntry struct {
	ID                int64      `json:"id"`
	MessageID         string     `json:"message_id"`
	Priority          int16      `json:"priority"`
	Attempts          int32      `json:"attempts"`
	MaxAttempts       int32      `json:"max_attempts"`
	RetryIntervalSecs int32      `json:"retry_interval_secs"`
	TimeoutSecs       int32      `json:"timeout_secs"`
	ScheduledFor      time.Time  `json:"scheduled_for"`
	LastAttemptAt     *time.Time `json:"last_attempt_at"`
	Status            string     `json:"status"`
	ErrorLog          string     `json:"error_log"`
	ProcessingNotes   *string    `json:"processing_notes"`
	LockedBy          *string    `json:"locked_by"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type DeliveryReceipt struct {
	ID            int64      `json:"id"`
	MessageID     *string    `json:"message_id"`
	SmscMessageID string     `json:"smsc_message_id"`
	Recipient     *string    `json:"recipient"`
	FinalStatus   string     `json:"final_status"`
	StatRaw       string     `json:"stat_raw"`
	SubmitDate    *time.Time `json:"submit_date"`
	DoneDate      *time.Time `json:"done_date"`
	ErrorCode     *string    `json:"error_code"`
	RawPayload    string     `json:"raw_payload"`
	PayloadHash   string     `json:"payload_hash"`
	ProcessedAt   time.Time  `json:"processed_at"`
}

type ConnectionLog struct {
	ID                int64     `json:"id"`
	ConfigurationName string    `json:"configuration_name"`
	EventType         string    `json:"event_type"`
	Details           string    `json:"details"`
	ErrorCode         *string   `json:"error_code"`
	EventTime         time.Time `json:"event_time"`
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}
