// Package memstore is an in-memory database.Store used by tests and local runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/thrillee/smppgateway/internal/database"
	"github.com/thrillee/smppgateway/pkg/codes"
)

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	// Now is the clock used for created/updated timestamps.
	Now func() time.Time

	configs  map[string]database.Configuration
	messages map[string]database.Message
	queue    map[int64]database.QueueEntry
	receipts map[int64]database.DeliveryReceipt
	logs     []database.ConnectionLog

	nextQueueID   int64
	nextReceiptID int64
	nextLogID     int64
}

var _ database.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		Now:      time.Now,
		configs:  make(map[string]database.Configuration),
		messages: make(map[string]database.Message),
		queue:    make(map[int64]database.QueueEntry),
		receipts: make(map[int64]database.DeliveryReceipt),
	}
}

// ExecTx restores every table if fn fails.
func (s *Store) ExecTx(ctx context.Context, fn func(database.Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	configs  map[string]database.Configuration
	messages map[string]database.Message
	queue    map[int64]database.QueueEntry
	receipts map[int64]database.DeliveryReceipt
	logs     []database.ConnectionLog
	ids      [3]int64
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		configs:  make(map[string]database.Configuration, len(s.configs)),
		messages: make(map[string]database.Message, len(s.messages)),
		queue:    make(map[int64]database.QueueEntry, len(s.queue)),
		receipts: make(map[int64]database.DeliveryReceipt, len(s.receipts)),
		logs:     append([]database.ConnectionLog(nil), s.logs...),
		ids:      [3]int64{s.nextQueueID, s.nextReceiptID, s.nextLogID},
	}
	for k, v := range s.configs {
		snap.configs[k] = v
	}
	for k, v := range s.messages {
		snap.messages[k] = v
	}
	for k, v := range s.queue {
		snap.queue[k] = v
	}
	for k, v := range s.receipts {
		snap.receipts[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = snap.configs
	s.messages = snap.messages
	s.queue = snap.queue
	s.receipts = snap.receipts
	s.logs = snap.logs
	s.nextQueueID, s.nextReceiptID, s.nextLogID = snap.ids[0], snap.ids[1], snap.ids[2]
}

// --- Configurations ---

func (s *Store) GetConfiguration(ctx context.Context, name string) (database.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configs[name]
	if !ok {
		return database.Configuration{}, database.ErrNotFound
	}
	return c, nil
}

func (s *Store) GetDefaultConfiguration(ctx context.Context) (database.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.configs {
		if c.IsDefault && c.IsActive {
			return c, nil
		}
	}
	return database.Configuration{}, database.ErrNotFound
}

func (s *Store) ListConfigurations(ctx context.Context) ([]database.Configuration, error) {
	return s.listConfigurations(false), nil
}

func (s *Store) ListActiveConfigurations(ctx context.Context) ([]database.Configuration, error) {
	return s.listConfigurations(true), nil
}

func (s *Store) listConfigurations(activeOnly bool) []database.Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.Configuration
	for _, c := range s.configs {
		if activeOnly && !c.IsActive {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

func (s *Store) UpsertConfiguration(ctx context.Context, arg database.UpsertConfigurationParams) (database.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if arg.IsDefault {
		for name, c := range s.configs {
			if c.IsDefault && name != arg.Name {
				return database.Configuration{}, fmt.Errorf("%w: smpp_configurations_one_default", database.ErrDuplicate)
			}
		}
	}
	now := s.Now()
	c, exists := s.configs[arg.Name]
	if !exists {
		c.CreatedAt = now
	}
	c.Name = arg.Name
	c.Host = arg.Host
	c.Port = arg.Port
	c.SystemID = arg.SystemID
	c.Password = arg.Password
	c.SystemType = arg.SystemType
	c.InterfaceVersion = arg.InterfaceVersion
	c.BindType = arg.BindType
	c.AddrTon = arg.AddrTon
	c.AddrNpi = arg.AddrNpi
	c.AddressRange = arg.AddressRange
	c.DefaultSenderID = arg.DefaultSenderID
	c.ConnectionTimeoutSecs = arg.ConnectionTimeoutSecs
	c.EnquireLinkIntervalSecs = arg.EnquireLinkIntervalSecs
	c.IsActive = arg.IsActive
	c.IsDefault = arg.IsDefault
	c.UpdatedAt = now
	s.configs[arg.Name] = c
	return c, nil
}

func (s *Store) ClearDefaultConfiguration(ctx context.Context, exceptName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, c := range s.configs {
		if c.IsDefault && name != exceptName {
			c.IsDefault = false
			c.UpdatedAt = s.Now()
			s.configs[name] = c
		}
	}
	return nil
}

// --- Messages ---

func (s *Store) CreateMessage(ctx context.Context, arg database.CreateMessageParams) (database.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[arg.ID]; exists {
		return database.Message{}, fmt.Errorf("%w: sms_messages_pkey", database.ErrDuplicate)
	}
	if _, ok := s.configs[arg.ConfigurationName]; !ok {
		return database.Message{}, fmt.Errorf("configuration %q does not exist", arg.ConfigurationName)
	}
	now := s.Now()
	m := database.Message{
		ID:                 arg.ID,
		ConfigurationName:  arg.ConfigurationName,
		Recipient:          arg.Recipient,
		Body:               arg.Body,
		DataCoding:         arg.DataCoding,
		Priority:           arg.Priority,
		SenderID:           arg.SenderID,
		ServiceType:        arg.ServiceType,
		MessageType:        arg.MessageType,
		RegisteredDelivery: arg.RegisteredDelivery,
		ReplaceIfPresent:   arg.ReplaceIfPresent,
		ScheduledTime:      arg.ScheduledTime,
		ValidityPeriod:     arg.ValidityPeriod,
		Status:             arg.Status,
		Parts:              arg.Parts,
		ReferenceType:      arg.ReferenceType,
		ReferenceName:      arg.ReferenceName,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.messages[m.ID] = m
	return m, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (database.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return database.Message{}, database.ErrNotFound
	}
	return m, nil
}

func (s *Store) ListMessages(ctx context.Context, arg database.ListMessagesParams) ([]database.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []database.Message
	for _, m := range s.messages {
		if arg.Status != nil && m.Status != *arg.Status {
			continue
		}
		all = append(all, m)
	}
	sort.Slice(all, func(a, b int) bool {
		if !all[a].CreatedAt.Equal(all[b].CreatedAt) {
			return all[a].CreatedAt.After(all[b].CreatedAt)
		}
		return all[a].ID > all[b].ID
	})
	start := int(arg.Offset)
	if start >= len(all) {
		return nil, nil
	}
	end := start + int(arg.Limit)
	if arg.Limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (s *Store) CountMessagesByStatus(ctx context.Context) ([]database.StatusCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int64)
	for _, m := range s.messages {
		counts[m.Status]++
	}
	return sortedCounts(counts), nil
}

func sortedCounts(counts map[string]int64) []database.StatusCount {
	out := make([]database.StatusCount, 0, len(counts))
	for status, n := range counts {
		out = append(out, database.StatusCount{Status: status, Count: n})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Status < out[b].Status })
	return out
}

func (s *Store) FindMessageBySmscID(ctx context.Context, smscMessageID string) (database.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.SmscMessageID != nil && *m.SmscMessageID == smscMessageID {
			return m, nil
		}
	}
	return database.Message{}, database.ErrNotFound
}

func (s *Store) UpdateMessageStatus(ctx context.Context, arg database.UpdateMessageStatusParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[arg.ID]
	if !ok || m.Status != arg.FromStatus {
		return 0, nil
	}
	if arg.SmscMessageID != nil {
		for id, other := range s.messages {
			if id != m.ID && other.SmscMessageID != nil && *other.SmscMessageID == *arg.SmscMessageID {
				return 0, fmt.Errorf("%w: sms_messages_smsc_message_id", database.ErrDuplicate)
			}
		}
		m.SmscMessageID = arg.SmscMessageID
	}
	m.Status = arg.Status
	if arg.SmscStatus != nil {
		m.SmscStatus = arg.SmscStatus
	}
	if arg.ErrorCode != nil {
		m.ErrorCode = arg.ErrorCode
	}
	if arg.ErrorMessage != nil {
		m.ErrorMessage = arg.ErrorMessage
	}
	if arg.SentAt != nil {
		m.SentAt = arg.SentAt
	}
	if arg.DeliveredAt != nil {
		m.DeliveredAt = arg.DeliveredAt
	}
	m.UpdatedAt = s.Now()
	s.messages[m.ID] = m
	return 1, nil
}

func (s *Store) RecordMessageAttempt(ctx context.Context, arg database.RecordMessageAttemptParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[arg.ID]
	if !ok {
		return nil
	}
	m.RetryCount++
	m.ErrorCode = arg.ErrorCode
	m.ErrorMessage = arg.ErrorMessage
	m.UpdatedAt = s.Now()
	s.messages[m.ID] = m
	return nil
}

// --- Queue ---

func (s *Store) CreateQueueEntry(ctx context.Context, arg database.CreateQueueEntryParams) (database.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[arg.MessageID]; !ok {
		return database.QueueEntry{}, fmt.Errorf("message %q does not exist", arg.MessageID)
	}
	s.nextQueueID++
	now := s.Now()
	e := database.QueueEntry{
		ID:                s.nextQueueID,
		MessageID:         arg.MessageID,
		Priority:          arg.Priority,
		MaxAttempts:       arg.MaxAttempts,
		RetryIntervalSecs: arg.RetryIntervalSecs,
		TimeoutSecs:       arg.TimeoutSecs,
		ScheduledFor:      arg.ScheduledFor,
		Status:            arg.Status,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.queue[e.ID] = e
	return e, nil
}

func (s *Store) GetQueueEntry(ctx context.Context, id int64) (database.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.queue[id]
	if !ok {
		return database.QueueEntry{}, database.ErrNotFound
	}
	return e, nil
}

func (s *Store) GetLatestQueueEntryForMessage(ctx context.Context, messageID string) (database.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *database.QueueEntry
	for _, e := range s.queue {
		if e.MessageID != messageID {
			continue
		}
		if latest == nil || e.ID > latest.ID {
			e := e
			latest = &e
		}
	}
	if latest == nil {
		return database.QueueEntry{}, database.ErrNotFound
	}
	return *latest, nil
}

// ClaimDueQueueEntries flips due rows to processing under the store lock, so
// concurrent callers never receive the same entry.
func (s *Store) ClaimDueQueueEntries(ctx context.Context, arg database.ClaimDueQueueEntriesParams) ([]database.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []database.QueueEntry
	for _, e := range s.queue {
		if codes.IsClaimableQueueStatus(e.Status) && !e.ScheduledFor.After(arg.Now) && e.Attempts < e.MaxAttempts {
			due = append(due, e)
		}
	}
	database.SortQueueEntries(due)
	if arg.Limit > 0 && len(due) > int(arg.Limit) {
		due = due[:arg.Limit]
	}
	now := s.Now()
	for i := range due {
		lockedBy := arg.LockedBy
		due[i].Status = codes.QueueStatusProcessing
		due[i].LockedBy = &lockedBy
		due[i].UpdatedAt = now
		s.queue[due[i].ID] = due[i]
	}
	return due, nil
}

func (s *Store) UpdateQueueEntry(ctx context.Context, arg database.UpdateQueueEntryParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.queue[arg.ID]
	if !ok {
		return nil
	}
	if arg.Attempts > e.MaxAttempts {
		return fmt.Errorf("queue entry %d: attempts %d exceed max %d", e.ID, arg.Attempts, e.MaxAttempts)
	}
	e.Status = arg.Status
	e.Attempts = arg.Attempts
	if arg.ScheduledFor != nil {
		e.ScheduledFor = *arg.ScheduledFor
	}
	if arg.LastAttemptAt != nil {
		e.LastAttemptAt = arg.LastAttemptAt
	}
	e.ErrorLog = arg.ErrorLog
	e.ProcessingNotes = arg.ProcessingNotes
	e.LockedBy = nil
	e.UpdatedAt = s.Now()
	s.queue[e.ID] = e
	return nil
}

func (s *Store) ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.queue {
		if e.Status == codes.QueueStatusProcessing && e.UpdatedAt.Before(claimedBefore) {
			e.Status = codes.QueueStatusRetrying
			e.LockedBy = nil
			e.UpdatedAt = s.Now()
			s.queue[id] = e
			n++
		}
	}
	return n, nil
}

func (s *Store) CountQueueEntriesByStatus(ctx context.Context) ([]database.StatusCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int64)
	for _, e := range s.queue {
		counts[e.Status]++
	}
	return sortedCounts(counts), nil
}

func (s *Store) DeleteCompletedQueueEntriesBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.queue {
		if e.Status == codes.QueueStatusCompleted && e.UpdatedAt.Before(before) {
			delete(s.queue, id)
			n++
		}
	}
	return n, nil
}

// --- Delivery receipts ---

func (s *Store) CreateDeliveryReceipt(ctx context.Context, arg database.CreateDeliveryReceiptParams) (database.DeliveryReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.receipts {
		if r.SmscMessageID == arg.SmscMessageID && r.PayloadHash == arg.PayloadHash {
			return database.DeliveryReceipt{}, fmt.Errorf("%w: delivery_receipts_smsc_message_id_payload_hash_key", database.ErrDuplicate)
		}
	}
	s.nextReceiptID++
	r := database.DeliveryReceipt{
		ID:            s.nextReceiptID,
		MessageID:     arg.MessageID,
		SmscMessageID: arg.SmscMessageID,
		Recipient:     arg.Recipient,
		FinalStatus:   arg.FinalStatus,
		StatRaw:       arg.StatRaw,
		SubmitDate:    arg.SubmitDate,
		DoneDate:      arg.DoneDate,
		ErrorCode:     arg.ErrorCode,
		RawPayload:    arg.RawPayload,
		PayloadHash:   arg.PayloadHash,
		ProcessedAt:   s.Now(),
	}
	s.receipts[r.ID] = r
	return r, nil
}

func (s *Store) ListReceiptsForMessage(ctx context.Context, messageID string) ([]database.DeliveryReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.DeliveryReceipt
	for _, r := range s.receipts {
		if r.MessageID != nil && *r.MessageID == messageID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *Store) LinkReceipts(ctx context.Context, arg database.LinkReceiptsParams) ([]database.DeliveryReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.DeliveryReceipt
	for id, r := range s.receipts {
		if r.SmscMessageID != arg.SmscMessageID || r.MessageID != nil {
			continue
		}
		msgID, recipient := arg.MessageID, arg.Recipient
		r.MessageID = &msgID
		r.Recipient = &recipient
		s.receipts[id] = r
		out = append(out, r)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *Store) DeleteReceiptsBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.receipts {
		if r.ProcessedAt.Before(before) {
			delete(s.receipts, id)
			n++
		}
	}
	return n, nil
}

// --- Connection logs ---

func (s *Store) CreateConnectionLog(ctx context.Context, arg database.CreateConnectionLogParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	s.logs = append(s.logs, database.ConnectionLog{
		ID:                s.nextLogID,
		ConfigurationName: arg.ConfigurationName,
		EventType:         arg.EventType,
		Details:           arg.Details,
		ErrorCode:         arg.ErrorCode,
		EventTime:         s.Now(),
	})
	return nil
}

// ListConnectionLogs returns newest first.
func (s *Store) ListConnectionLogs(ctx context.Context, arg database.ListConnectionLogsParams) ([]database.ConnectionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.ConnectionLog
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].ConfigurationName != arg.ConfigurationName {
			continue
		}
		out = append(out, s.logs[i])
		if arg.Limit > 0 && len(out) == int(arg.Limit) {
			break
		}
	}
	return out, nil
}

func (s *Store) TrimConnectionLogs(ctx context.Context, arg database.TrimConnectionLogsParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := 0
	var n int64
	out := s.logs[:0]
	// walk newest to oldest so the newest rows survive
	keep := make([]bool, len(s.logs))
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].ConfigurationName != arg.ConfigurationName {
			keep[i] = true
			continue
		}
		if kept < int(arg.Keep) {
			keep[i] = true
			kept++
		}
	}
	for i, l := range s.logs {
		if keep[i] {
			out = append(out, l)
		} else {
			n++
		}
	}
	s.logs = out
	return n, nil
}

func (s *Store) DeleteConnectionLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	out := s.logs[:0]
	for _, l := range s.logs {
		if l.EventTime.Before(before) {
			n++
			continue
		}
		out = append(out, l)
	}
	s.logs = out
	return n, nil
}
