package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = pgx.ErrNoRows
	// ErrDuplicate is returned when an insert violates a uniqueness rule.
	ErrDuplicate = errors.New("duplicate row")
)

type Querier interface {
	// Configurations
	GetConfiguration(ctx context.Context, name string) (Configuration, error)
	GetDefaultConfiguration(ctx context.Context) (Configuration, error)
	ListConfigurations(ctx context.Context) ([]Configuration, error)
	ListActiveConfigurations(ctx context.Context) ([]Configuration, error)
	UpsertConfiguration(ctx context.Context, arg UpsertConfigurationParams) (Configuration, error)
	ClearDefaultConfiguration(ctx context.Context, exceptName string) error

	// Messages
	CreateMessage(ctx context.Context, arg CreateMessageParams) (Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	ListMessages(ctx context.Context, arg ListMessagesParams) ([]Message, error)
	CountMessagesByStatus(ctx context.Context) ([]StatusCount, error)
	FindMessageBySmscID(ctx context.Context, smscMessageID string) (Message, error)
	UpdateMessageStatus(ctx context.Context, arg UpdateMessageStatusParams) (int64, error)
	RecordMessageAttempt(ctx context.Context, arg RecordMessageAttemptParams) error

	// Queue
	CreateQueueEntry(ctx context.Context, arg CreateQueueEntryParams) (QueueEntry, error)
	GetQueueEntry(ctx context.Context, id int64) (QueueEntry, error)
	GetLatestQueueEntryForMessage(ctx context.Context, messageID string) (QueueEntry, error)
	ClaimDueQueueEntries(ctx context.Context, arg ClaimDueQueueEntriesParams) ([]QueueEntry, error)
	UpdateQueueEntry(ctx context.Context, arg UpdateQueueEntryParams) error
	ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) (int64, error)
	CountQueueEntriesByStatus(ctx context.Context) ([]StatusCount, error)

	// Delivery receipts
	CreateDeliveryReceipt(ctx context.Context, arg CreateDeliveryReceiptParams) (DeliveryReceipt, error)
	ListReceiptsForMessage(ctx context.Context, messageID string) ([]DeliveryReceipt, error)
	// LinkReceipts attaches unlinked receipts for an SMSC id to a message,
	// oldest first.
	LinkReceipts(ctx context.Context, arg LinkReceiptsParams) ([]DeliveryReceipt, error)

	// Connection logs
	CreateConnectionLog(ctx context.Context, arg CreateConnectionLogParams) error
	ListConnectionLogs(ctx context.Context, arg ListConnectionLogsParams) ([]ConnectionLog, error)
	TrimConnectionLogs(ctx context.Context, arg TrimConnectionLogsParams) (int64, error)

	// Retention
	DeleteConnectionLogsBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteReceiptsBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteCompletedQueueEntriesBefore(ctx context.Context, before time.Time) (int64, error)
}

// Store adds transactions on top of Querier.
type Store interface {
	Querier
	ExecTx(ctx context.Context, fn func(Querier) error) error
}

type UpsertConfigurationParams struct {
	Name                    string
	Host                    string
	Port                    int32
	SystemID                string
	Password                string
	SystemType              string
	InterfaceVersion        int16
	BindType                string
	AddrTon                 int16
	AddrNpi                 int16
	AddressRange            string
	DefaultSenderID         *string
	ConnectionTimeoutSecs   int32
	EnquireLinkIntervalSecs int32
	IsActive                bool
	IsDefault               bool
}

type CreateMessageParams struct {
	ID                 string
	ConfigurationName  string
	Recipient          string
	Body               string
	DataCoding         int16
	Priority           int16
	SenderID           string
	ServiceType        string
	MessageType        string
	RegisteredDelivery bool
	ReplaceIfPresent   bool
	ScheduledTime      *time.Time
	ValidityPeriod     *time.Time
	Status             string
	Parts              int32
	ReferenceType      *string
	ReferenceName      *string
}

type ListMessagesParams struct {
	Status *string
	Limit  int32
	Offset int32
}

// UpdateMessageStatusParams moves a message from FromStatus to Status. Nil
// fields keep their stored value. The update matches no row if the message
// has moved on since it was read.
type UpdateMessageStatusParams struct {
	ID            string
	FromStatus    string
	Status        string
	SmscMessageID *string
	SmscStatus    *string
	ErrorCode     *string
	ErrorMessage  *string
	SentAt        *time.Time
	DeliveredAt   *time.Time
}

type RecordMessageAttemptParams struct {
	ID           string
	ErrorCode    *string
	ErrorMessage *string
}

type CreateQueueEntryParams struct {
	MessageID         string
	Priority          int16
	MaxAttempts       int32
	RetryIntervalSecs int32
	TimeoutSecs       int32
	ScheduledFor      time.Time
	Status            string
}

type ClaimDueQueueEntriesParams struct {
	Now      time.Time
	LockedBy string
	Limit    int32
}

type UpdateQueueEntryParams struct {
	ID              int64
	Status          string
	Attempts        int32
	ScheduledFor    *time.Time
	LastAttemptAt   *time.Time
	ErrorLog        string
	ProcessingNotes *string
}

type CreateDeliveryReceiptParams struct {
	MessageID     *string
	SmscMessageID string
	Recipient     *string
	FinalStatus   string
	StatRaw       string
	SubmitDate    *time.Time
	DoneDate      *time.Time
	ErrorCode     *string
	RawPayload    string
	PayloadHash   string
}

type LinkReceiptsParams struct {
	SmscMessageID string
	MessageID     string
	Recipient     string
}

type CreateConnectionLogParams struct {
	ConfigurationName string
	EventType         string
	Details           string
	ErrorCode         *string
}

type ListConnectionLogsParams struct {
	ConfigurationName string
	Limit             int32
}

type TrimConnectionLogsParams struct {
	ConfigurationName string
	Keep              int32
}
