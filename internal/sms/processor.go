package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/thrillee/smppgateway/internal/config"
	"github.com/thrillee/smppgateway/internal/database"
	"github.com/thrillee/smppgateway/internal/logging"
	"github.com/thrillee/smppgateway/internal/metrics"
	"github.com/thrillee/smppgateway/internal/mno"
	"github.com/thrillee/smppgateway/internal/notification"
	"github.com/thrillee/smppgateway/pkg/codes"
	"github.com/thrillee/smppgateway/pkg/errormapper"
	"github.com/thrillee/smppgateway/pkg/segmenter"
)

const (
	defaultBatchSize = 100
	// maxErrorLogLen caps the audit trail kept on a queue entry.
	maxErrorLogLen = 4000
	// recordTimeout bounds the store writes that record an attempt.
	recordTimeout = 15 * time.Second
)

// Processor owns the send path: it validates and stores new messages, then
// drains the retry queue into SMPP sessions.
type Processor struct {
	store        database.Store
	sessions     mno.SessionProvider
	segmenter    segmenter.Segmenter
	reconciler   *Reconciler
	notifier     notification.Notifier
	metrics      *metrics.Metrics
	limiter      *SubmitLimiter
	queue        config.QueueConfig
	notifyTarget string
	workerID     string
	now          func() time.Time
}

// ProcessorDependencies holds all dependencies needed to create a Processor.
type ProcessorDependencies struct {
	Store      database.Store
	Sessions   mno.SessionProvider
	Segmenter  segmenter.Segmenter   // defaults to segmenter.NewDefaultSegmenter
	Reconciler *Reconciler           // defaults to a reconciler on Store
	Notifier   notification.Notifier // optional
	Metrics    *metrics.Metrics      // optional

	Queue        config.QueueConfig
	NotifyTarget string
	WorkerID     string           // defaults to hostname plus a random suffix
	Now          func() time.Time // defaults to time.Now
}

// NewProcessor creates a new Processor with explicit dependencies.
func NewProcessor(deps ProcessorDependencies) *Processor {
	var missing []string
	if deps.Store == nil {
		missing = append(missing, "Store")
	}
	if deps.Sessions == nil {
		missing = append(missing, "Sessions")
	}
	if len(missing) > 0 {
		panic(fmt.Sprintf(
			"Missing required dependencies for SMS Processor: %s",
			strings.Join(missing, ", "),
		))
	}

	p := &Processor{
		store:        deps.Store,
		sessions:     deps.Sessions,
		segmenter:    deps.Segmenter,
		reconciler:   deps.Reconciler,
		notifier:     deps.Notifier,
		metrics:      deps.Metrics,
		queue:        deps.Queue,
		notifyTarget: deps.NotifyTarget,
		workerID:     deps.WorkerID,
		now:          deps.Now,
	}
	if p.segmenter == nil {
		p.segmenter = segmenter.NewDefaultSegmenter()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.reconciler == nil {
		p.reconciler = NewReconciler(deps.Store, deps.Metrics)
	}
	if p.workerID == "" {
		p.workerID = defaultWorkerID()
	}
	if p.queue.MaxAttempts <= 0 {
		p.queue.MaxAttempts = 3
	}
	p.limiter = NewSubmitLimiter(p.queue.SubmitRate, p.queue.SubmitBurst, p.now)
	return p
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

// WorkerID is the value written to locked_by on claimed entries.
func (p *Processor) WorkerID() string { return p.workerID }

// ========================================================================================
// Enqueue
// ========================================================================================

// SendRequest is one outbound message as submitted by a caller.
type SendRequest struct {
	ConfigurationName  string // empty selects the default configuration
	Recipient          string
	Body               string
	SenderID           string
	Priority           string // named tier or 0..3
	ServiceType        string
	MessageType        string // normal or flash
	RegisteredDelivery *bool  // defaults to true
	ReplaceIfPresent   bool
	ScheduledTime      *time.Time
	ValidityPeriod     *time.Time
	ReferenceType      *string
	ReferenceName      *string
}

// EnqueueResult identifies the stored message and its queue entry.
type EnqueueResult struct {
	MessageID         string `json:"message_id"`
	QueueEntryID      int64  `json:"queue_entry_id"`
	ConfigurationName string `json:"configuration_name"`
	Status            string `json:"status"`
	Parts             int    `json:"parts"`
}

// EnqueueSend validates req, stores the message as queued and creates its
// first queue entry. Invalid requests fail with *ValidationError and leave
// nothing behind.
func (p *Processor) EnqueueSend(ctx context.Context, req SendRequest) (EnqueueResult, error) {
	cfg, err := p.resolveConfiguration(ctx, req.ConfigurationName)
	if err != nil {
		return EnqueueResult{}, err
	}
	ctx = logging.ContextWithConfigName(ctx, cfg.Name)

	params, enc, err := p.buildMessage(cfg, req)
	if err != nil {
		slog.InfoContext(ctx, "Rejected send request", slog.Any("error", err))
		p.metrics.QueueOutcome("rejected")
		return EnqueueResult{}, err
	}
	ctx = logging.ContextWithMessageID(ctx, params.ID)

	var entry database.QueueEntry
	err = p.store.ExecTx(ctx, func(q database.Querier) error {
		_, err := q.CreateMessage(ctx, params)
		if err != nil {
			return fmt.Errorf("creating message: %w", err)
		}
		entry, err = q.CreateQueueEntry(ctx, p.newQueueEntry(params.ID, params.Priority))
		if err != nil {
			return fmt.Errorf("creating queue entry: %w", err)
		}
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to store message", slog.Any("error", err))
		return EnqueueResult{}, err
	}

	p.metrics.QueueOutcome("enqueued")
	slog.InfoContext(ctx, "Message queued",
		slog.Int64("queue_entry_id", entry.ID),
		slog.Int("priority", int(params.Priority)),
		slog.Int("data_coding", int(enc.DataCoding)),
	)
	return EnqueueResult{
		MessageID:         params.ID,
		QueueEntryID:      entry.ID,
		ConfigurationName: cfg.Name,
		Status:            codes.MsgStatusQueued,
		Parts:             enc.Parts,
	}, nil
}

// BulkResult is the outcome of one request in EnqueueBulk.
type BulkResult struct {
	Index  int
	Result EnqueueResult
	Err    error
}

// EnqueueBulk enqueues every request independently; one bad request does
// not stop the others.
func (p *Processor) EnqueueBulk(ctx context.Context, reqs []SendRequest) []BulkResult {
	out := make([]BulkResult, 0, len(reqs))
	for i, req := range reqs {
		res, err := p.EnqueueSend(ctx, req)
		out = append(out, BulkResult{Index: i, Result: res, Err: err})
	}
	return out
}

func (p *Processor) resolveConfiguration(ctx context.Context, name string) (database.Configuration, error) {
	var (
		cfg database.Configuration
		err error
	)
	if strings.TrimSpace(name) == "" {
		cfg, err = p.store.GetDefaultConfiguration(ctx)
	} else {
		cfg, err = p.store.GetConfiguration(ctx, name)
	}
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			if name == "" {
				name = "default"
			}
			return cfg, fmt.Errorf("%w: %s", mno.ErrUnknownConfiguration, name)
		}
		return cfg, fmt.Errorf("loading configuration: %w", err)
	}
	if !cfg.IsActive {
		return cfg, &mno.ConfigurationError{Name: cfg.Name, Reason: "configuration is inactive"}
	}
	return cfg, nil
}

func (p *Processor) buildMessage(cfg database.Configuration, req SendRequest) (database.CreateMessageParams, segmenter.Encoded, error) {
	recipient, err := CleanPhoneNumber(req.Recipient)
	if err != nil {
		return database.CreateMessageParams{}, segmenter.Encoded{}, err
	}
	if strings.TrimSpace(req.Body) == "" {
		return database.CreateMessageParams{}, segmenter.Encoded{}, validationErrorf(errormapper.ErrorCodeValidationFailure, "message body is empty")
	}
	if err := checkBodyLength(req.Body, p.queue.MaxMessageSize); err != nil {
		return database.CreateMessageParams{}, segmenter.Encoded{}, err
	}
	enc, err := encodeBody(p.segmenter, req.Body)
	if err != nil {
		return database.CreateMessageParams{}, segmenter.Encoded{}, err
	}
	msgType, err := normalizeMessageType(req.MessageType)
	if err != nil {
		return database.CreateMessageParams{}, segmenter.Encoded{}, err
	}
	if req.ValidityPeriod != nil && !req.ValidityPeriod.After(p.now()) {
		return database.CreateMessageParams{}, segmenter.Encoded{}, validationErrorf(errormapper.ErrorCodeValidationFailure, "validity period is already over")
	}
	if req.ScheduledTime != nil && req.ValidityPeriod != nil && !req.ValidityPeriod.After(*req.ScheduledTime) {
		return database.CreateMessageParams{}, segmenter.Encoded{}, validationErrorf(errormapper.ErrorCodeValidationFailure, "validity period ends before the scheduled delivery time")
	}

	sender := strings.TrimSpace(req.SenderID)
	if sender == "" && cfg.DefaultSenderID != nil {
		sender = *cfg.DefaultSenderID
	}
	if sender == "" {
		sender = cfg.SystemID
	}

	registered := true
	if req.RegisteredDelivery != nil {
		registered = *req.RegisteredDelivery
	}

	return database.CreateMessageParams{
		ID:                 uuid.NewString(),
		ConfigurationName:  cfg.Name,
		Recipient:          recipient,
		Body:               req.Body,
		DataCoding:         int16(enc.DataCoding),
		Priority:           NormalizePriority(req.Priority),
		SenderID:           sender,
		ServiceType:        req.ServiceType,
		MessageType:        msgType,
		RegisteredDelivery: registered,
		ReplaceIfPresent:   req.ReplaceIfPresent,
		ScheduledTime:      req.ScheduledTime,
		ValidityPeriod:     req.ValidityPeriod,
		Status:             codes.MsgStatusQueued,
		Parts:              int32(enc.Parts),
		ReferenceType:      req.ReferenceType,
		ReferenceName:      req.ReferenceName,
	}, enc, nil
}

func (p *Processor) newQueueEntry(messageID string, priority int16) database.CreateQueueEntryParams {
	return database.CreateQueueEntryParams{
		MessageID:         messageID,
		Priority:          priority,
		MaxAttempts:       int32(p.queue.MaxAttempts),
		RetryIntervalSecs: int32(p.queue.RetryInterval / time.Second),
		TimeoutSecs:       int32(p.queue.SubmitTimeout / time.Second),
		ScheduledFor:      p.now(),
		Status:            codes.QueueStatusPending,
	}
}

// ========================================================================================
// Queue processing (called by the worker manager)
// ========================================================================================

// ProcessQueueStep claims due queue entries and submits each one. Entries
// are handled in claim order: priority first, then age.
func (p *Processor) ProcessQueueStep(ctx context.Context, batchSize int) (processedCount int, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "PANIC recovered in ProcessQueueStep loop", slog.Any("panic_info", r))
			err = fmt.Errorf("panic occurred during queue step: %v", r)
		}
	}()

	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	ctx = logging.ContextWithWorkerID(ctx, p.workerID)

	entries, fetchErr := p.store.ClaimDueQueueEntries(ctx, database.ClaimDueQueueEntriesParams{
		Now:      p.now(),
		LockedBy: p.workerID,
		Limit:    int32(batchSize),
	})
	if fetchErr != nil {
		slog.ErrorContext(ctx, "Failed claiming due queue entries", slog.Any("error", fetchErr))
		return 0, fmt.Errorf("fetching due queue entries: %w", fetchErr)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	for i, entry := range entries {
		if ctx.Err() != nil {
			// Hand the rest back rather than leave them claimed until the
			// stale-claim sweep.
			for _, rest := range entries[i:] {
				p.release(ctx, rest, "released on shutdown")
			}
			return processedCount, ctx.Err()
		}

		logCtx := logging.ContextWithQueueEntryID(ctx, entry.ID)
		logCtx = logging.ContextWithMessageID(logCtx, entry.MessageID)
		if processErr := p.processEntry(logCtx, entry); processErr != nil {
			slog.ErrorContext(logCtx, "Failed to process queue entry", slog.Any("error", processErr))
			continue
		}
		processedCount++
	}
	return processedCount, nil
}

func (p *Processor) processEntry(ctx context.Context, entry database.QueueEntry) error {
	msg, err := p.store.GetMessage(ctx, entry.MessageID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return p.finishEntry(ctx, entry, codes.QueueStatusFailed, entry.Attempts, "message no longer exists")
		}
		p.release(ctx, entry, "could not load message")
		return fmt.Errorf("fetching message: %w", err)
	}
	ctx = logging.ContextWithConfigName(ctx, msg.ConfigurationName)

	// A message that already reached the SMSC is never submitted again.
	if msg.SmscMessageID != nil || msg.Status == codes.MsgStatusSent || msg.Status == codes.MsgStatusDelivered {
		slog.InfoContext(ctx, "Message already submitted, completing queue entry", slog.String("status", msg.Status))
		p.metrics.QueueOutcome("skipped")
		return p.finishEntry(ctx, entry, codes.QueueStatusCompleted, entry.Attempts, "already submitted, status "+msg.Status)
	}
	if codes.IsFinalMessageStatus(msg.Status) {
		p.metrics.QueueOutcome("skipped")
		return p.finishEntry(ctx, entry, codes.QueueStatusFailed, entry.Attempts, "message already "+msg.Status)
	}

	if !p.limiter.Allow(msg.ConfigurationName) {
		slog.DebugContext(ctx, "Submit rate limit reached, deferring entry")
		p.metrics.QueueOutcome("throttled")
		p.release(ctx, entry, "deferred by submit rate limit")
		return nil
	}

	sm, err := buildSubmitSM(p.segmenter, msg)
	if err != nil {
		return p.handleFailure(ctx, entry, msg, err)
	}

	session, err := p.sessions.Get(ctx, msg.ConfigurationName)
	if err != nil {
		return p.handleFailure(ctx, entry, msg, err)
	}

	submitCtx, cancel := context.WithTimeout(ctx, p.submitTimeout(entry))
	start := time.Now()
	smscID, err := session.Submit(submitCtx, sm)
	cancel()
	p.sessions.Report(msg.ConfigurationName, err)
	p.metrics.SubmitResult(msg.ConfigurationName, errormapper.CodeOf(err), time.Since(start))
	if err != nil {
		return p.handleFailure(ctx, entry, msg, err)
	}
	return p.handleSuccess(logging.ContextWithSmscMsgID(ctx, smscID), entry, msg, smscID)
}

func (p *Processor) submitTimeout(entry database.QueueEntry) time.Duration {
	if entry.TimeoutSecs > 0 {
		return time.Duration(entry.TimeoutSecs) * time.Second
	}
	if p.queue.SubmitTimeout > 0 {
		return p.queue.SubmitTimeout
	}
	return 30 * time.Second
}

// recordContext keeps ctx's values but not its deadline or cancellation.
// Once a submit has happened its outcome must be written even if the run
// budget is spent or shutdown has begun; otherwise the entry stays claimed.
func recordContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
}

func (p *Processor) handleSuccess(ctx context.Context, entry database.QueueEntry, msg database.Message, smscID string) error {
	ctx, cancel := recordContext(ctx)
	defer cancel()
	now := p.now()
	attempts := entry.Attempts + 1
	notes := fmt.Sprintf("Submitted on attempt %d, SMSC id %s", attempts, smscID)

	err := p.store.ExecTx(ctx, func(q database.Querier) error {
		arg := database.UpdateMessageStatusParams{
			ID:            msg.ID,
			FromStatus:    msg.Status,
			Status:        codes.MsgStatusSent,
			SmscMessageID: &smscID,
			SentAt:        &now,
		}
		n, err := q.UpdateMessageStatus(ctx, arg)
		if errors.Is(err, database.ErrDuplicate) {
			// Another message already owns this id; keep the send but
			// leave receipts for it unmatched.
			slog.ErrorContext(ctx, "SMSC returned a message id already in use", slog.String("smsc_msg_id", smscID))
			reason := "SMSC message id " + smscID + " already assigned to another message"
			arg.SmscMessageID = nil
			arg.ErrorMessage = &reason
			n, err = q.UpdateMessageStatus(ctx, arg)
		}
		if err != nil {
			return fmt.Errorf("updating message status: %w", err)
		}
		if n == 0 {
			slog.WarnContext(ctx, "Message status changed during submit", slog.String("expected_status", msg.Status))
		} else if arg.SmscMessageID != nil {
			sent := msg
			sent.Status = codes.MsgStatusSent
			sent.SmscMessageID = &smscID
			if err := p.reconciler.linkEarlyReceipts(ctx, q, sent); err != nil {
				return err
			}
		}
		return q.UpdateQueueEntry(ctx, database.UpdateQueueEntryParams{
			ID:              entry.ID,
			Status:          codes.QueueStatusCompleted,
			Attempts:        attempts,
			LastAttemptAt:   &now,
			ErrorLog:        entry.ErrorLog,
			ProcessingNotes: &notes,
		})
	})
	if err != nil {
		return fmt.Errorf("recording successful submit: %w", err)
	}

	p.metrics.QueueOutcome("completed")
	p.logConnectionEvent(ctx, msg.ConfigurationName, codes.EventSendMessage,
		fmt.Sprintf("message %s submitted to %s, SMSC id %s", msg.ID, msg.Recipient, smscID), nil)
	slog.InfoContext(ctx, "Message submitted", slog.Int("attempt", int(attempts)))
	return nil
}

// handleFailure records a failed attempt. The entry is retried after its
// retry interval until attempts reach max_attempts; errors that cannot be
// fixed by retrying fail it at once.
func (p *Processor) handleFailure(ctx context.Context, entry database.QueueEntry, msg database.Message, cause error) error {
	ctx, cancel := recordContext(ctx)
	defer cancel()
	now := p.now()
	attempts := entry.Attempts + 1
	code := errormapper.CodeOf(cause)
	reason := cause.Error()
	errorLog := prependErrorLog(entry.ErrorLog,
		fmt.Sprintf("Attempt %d at %s: [%s] %s", attempts, now.UTC().Format(time.RFC3339), code, reason))

	if mno.IsAuthentication(cause) {
		p.sessions.Invalidate(ctx, msg.ConfigurationName, cause)
		p.notify(ctx, "SMPP bind rejected for "+msg.ConfigurationName,
			fmt.Sprintf("Configuration %s could not bind: %s. Check the credentials.", msg.ConfigurationName, reason))
	}
	p.logConnectionEvent(ctx, msg.ConfigurationName, codes.EventError,
		fmt.Sprintf("message %s attempt %d failed: %s", msg.ID, attempts, reason), cause)

	terminal := isPermanent(cause) || attempts >= entry.MaxAttempts
	if !terminal {
		next := now.Add(time.Duration(entry.RetryIntervalSecs) * time.Second)
		notes := fmt.Sprintf("Retry %d of %d scheduled for %s", attempts, entry.MaxAttempts, next.UTC().Format(time.RFC3339))
		err := p.store.ExecTx(ctx, func(q database.Querier) error {
			if err := q.RecordMessageAttempt(ctx, database.RecordMessageAttemptParams{
				ID:           msg.ID,
				ErrorCode:    &code,
				ErrorMessage: &reason,
			}); err != nil {
				return fmt.Errorf("recording message attempt: %w", err)
			}
			return q.UpdateQueueEntry(ctx, database.UpdateQueueEntryParams{
				ID:              entry.ID,
				Status:          codes.QueueStatusRetrying,
				Attempts:        attempts,
				ScheduledFor:    &next,
				LastAttemptAt:   &now,
				ErrorLog:        errorLog,
				ProcessingNotes: &notes,
			})
		})
		if err != nil {
			return fmt.Errorf("scheduling retry: %w", err)
		}
		p.metrics.QueueOutcome("retrying")
		slog.WarnContext(ctx, "Submit failed, will retry",
			slog.Int("attempt", int(attempts)),
			slog.Time("next_attempt", next),
			slog.String("error_code", code),
			slog.Any("error", cause),
		)
		return nil
	}

	notes := "Max attempts reached. Last error: " + reason
	if attempts < entry.MaxAttempts {
		notes = "Permanent failure: " + reason
	}
	err := p.store.ExecTx(ctx, func(q database.Querier) error {
		if err := q.RecordMessageAttempt(ctx, database.RecordMessageAttemptParams{
			ID:           msg.ID,
			ErrorCode:    &code,
			ErrorMessage: &reason,
		}); err != nil {
			return fmt.Errorf("recording message attempt: %w", err)
		}
		if codes.CanTransition(msg.Status, codes.MsgStatusFailed) {
			if _, err := q.UpdateMessageStatus(ctx, database.UpdateMessageStatusParams{
				ID:           msg.ID,
				FromStatus:   msg.Status,
				Status:       codes.MsgStatusFailed,
				ErrorCode:    &code,
				ErrorMessage: &reason,
			}); err != nil {
				return fmt.Errorf("updating message status: %w", err)
			}
		}
		// ScheduledFor stays nil: a failed entry is never rescheduled.
		return q.UpdateQueueEntry(ctx, database.UpdateQueueEntryParams{
			ID:              entry.ID,
			Status:          codes.QueueStatusFailed,
			Attempts:        attempts,
			LastAttemptAt:   &now,
			ErrorLog:        errorLog,
			ProcessingNotes: &notes,
		})
	})
	if err != nil {
		return fmt.Errorf("recording terminal failure: %w", err)
	}

	p.metrics.QueueOutcome("failed")
	slog.ErrorContext(ctx, "Message failed permanently",
		slog.Int("attempts", int(attempts)),
		slog.String("error_code", code),
		slog.Any("error", cause),
	)
	p.notify(ctx, "Message "+msg.ID+" failed",
		fmt.Sprintf("Message %s to %s via %s failed after %d attempt(s): %s", msg.ID, msg.Recipient, msg.ConfigurationName, attempts, reason))
	return nil
}

// isPermanent reports errors that a later attempt cannot fix.
func isPermanent(err error) bool {
	var cfgErr *mno.ConfigurationError
	var valErr *ValidationError
	return errors.Is(err, mno.ErrUnknownConfiguration) ||
		errors.As(err, &cfgErr) ||
		errors.As(err, &valErr)
}

func (p *Processor) finishEntry(ctx context.Context, entry database.QueueEntry, status string, attempts int32, notes string) error {
	ctx, cancel := recordContext(ctx)
	defer cancel()
	now := p.now()
	err := p.store.UpdateQueueEntry(ctx, database.UpdateQueueEntryParams{
		ID:              entry.ID,
		Status:          status,
		Attempts:        attempts,
		LastAttemptAt:   &now,
		ErrorLog:        entry.ErrorLog,
		ProcessingNotes: &notes,
	})
	if err != nil {
		return fmt.Errorf("updating queue entry: %w", err)
	}
	return nil
}

// release hands a claimed entry back to the queue without counting an attempt.
func (p *Processor) release(ctx context.Context, entry database.QueueEntry, notes string) {
	ctx, cancel := recordContext(ctx)
	defer cancel()
	now := p.now()
	status := codes.QueueStatusPending
	if entry.Attempts > 0 {
		status = codes.QueueStatusRetrying
	}
	err := p.store.UpdateQueueEntry(ctx, database.UpdateQueueEntryParams{
		ID:              entry.ID,
		Status:          status,
		Attempts:        entry.Attempts,
		ScheduledFor:    &now,
		LastAttemptAt:   entry.LastAttemptAt,
		ErrorLog:        entry.ErrorLog,
		ProcessingNotes: &notes,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to release queue entry", slog.Int64("queue_entry_id", entry.ID), slog.Any("error", err))
	}
}

func prependErrorLog(existing, line string) string {
	out := line
	if existing != "" {
		out = line + "\n" + existing
	}
	if len(out) > maxErrorLogLen {
		cut := maxErrorLogLen
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut]
	}
	return out
}

// ========================================================================================
// Status query and resubmission
// ========================================================================================

// QueryResult is the SMSC's view of a message and what it did to the
// stored status.
type QueryResult struct {
	MessageID      string `json:"message_id"`
	SmscMessageID  string `json:"smsc_message_id"`
	MessageState   string `json:"message_state"`
	FinalDate      string `json:"final_date,omitempty"`
	NetworkError   int    `json:"network_error_code"`
	PreviousStatus string `json:"previous_status"`
	Status         string `json:"status"`
	Updated        bool   `json:"updated"`
}

// QueryStatus asks the SMSC about a submitted message with query_sm and
// applies a final state to the stored message. Enroute and unknown states
// leave it untouched.
func (p *Processor) QueryStatus(ctx context.Context, messageID string) (QueryResult, error) {
	ctx = logging.ContextWithMessageID(ctx, messageID)
	msg, err := p.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return QueryResult{}, &NotFoundError{MessageID: messageID}
		}
		return QueryResult{}, fmt.Errorf("fetching message: %w", err)
	}
	if msg.SmscMessageID == nil {
		return QueryResult{}, &ConflictError{MessageID: messageID, Reason: "message has not been accepted by the SMSC yet"}
	}
	ctx = logging.ContextWithConfigName(ctx, msg.ConfigurationName)
	ctx = logging.ContextWithSmscMsgID(ctx, *msg.SmscMessageID)

	session, err := p.sessions.Get(ctx, msg.ConfigurationName)
	if err != nil {
		return QueryResult{}, err
	}
	resp, err := session.Query(ctx, buildQuerySM(msg))
	p.sessions.Report(msg.ConfigurationName, err)
	if err != nil {
		slog.WarnContext(ctx, "query_sm failed", slog.Any("error", err))
		return QueryResult{}, err
	}

	result := QueryResult{
		MessageID:      msg.ID,
		SmscMessageID:  *msg.SmscMessageID,
		MessageState:   resp.MessageState.String(),
		FinalDate:      resp.FinalDate,
		NetworkError:   int(resp.ErrorCode),
		PreviousStatus: msg.Status,
		Status:         msg.Status,
	}

	status, final := mapQueryState(resp)
	if !final {
		return result, nil
	}
	updated, err := p.reconciler.applyStatus(ctx, p.store, msg, statusUpdate{
		Status:     status,
		SmscStatus: resp.MessageState.String(),
		ErrorCode:  queryErrorCode(resp),
		DoneDate:   parseFinalDate(resp.FinalDate),
	})
	if err != nil {
		return result, err
	}
	if updated {
		result.Status = status
		result.Updated = true
	}
	return result, nil
}

// Resubmit queues a failed message again. It is allowed only when the
// message never reached the SMSC and its last queue entry failed for good.
func (p *Processor) Resubmit(ctx context.Context, messageID string) (EnqueueResult, error) {
	ctx = logging.ContextWithMessageID(ctx, messageID)
	var (
		msg   database.Message
		entry database.QueueEntry
	)
	err := p.store.ExecTx(ctx, func(q database.Querier) error {
		var err error
		msg, err = q.GetMessage(ctx, messageID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return &NotFoundError{MessageID: messageID}
			}
			return fmt.Errorf("fetching message: %w", err)
		}
		if msg.Status != codes.MsgStatusFailed {
			return &ConflictError{MessageID: messageID, Reason: "only failed messages can be resubmitted, status is " + msg.Status}
		}
		if msg.SmscMessageID != nil {
			return &ConflictError{MessageID: messageID, Reason: "message was accepted by the SMSC and cannot be resubmitted"}
		}

		last, err := q.GetLatestQueueEntryForMessage(ctx, messageID)
		switch {
		case err == nil && last.Status != codes.QueueStatusFailed:
			return &ConflictError{MessageID: messageID, Reason: "previous queue entry is still " + last.Status}
		case err != nil && !errors.Is(err, database.ErrNotFound):
			return fmt.Errorf("fetching queue entry: %w", err)
		}

		// Resubmission is the only way out of failed.
		n, err := q.UpdateMessageStatus(ctx, database.UpdateMessageStatusParams{
			ID:         msg.ID,
			FromStatus: codes.MsgStatusFailed,
			Status:     codes.MsgStatusQueued,
		})
		if err != nil {
			return fmt.Errorf("requeueing message: %w", err)
		}
		if n == 0 {
			return &ConflictError{MessageID: messageID, Reason: "message status changed concurrently"}
		}
		entry, err = q.CreateQueueEntry(ctx, p.newQueueEntry(msg.ID, msg.Priority))
		if err != nil {
			return fmt.Errorf("creating queue entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return EnqueueResult{}, err
	}

	p.metrics.QueueOutcome("resubmitted")
	slog.InfoContext(ctx, "Message resubmitted", slog.Int64("queue_entry_id", entry.ID))
	return EnqueueResult{
		MessageID:         msg.ID,
		QueueEntryID:      entry.ID,
		ConfigurationName: msg.ConfigurationName,
		Status:            codes.MsgStatusQueued,
		Parts:             int(msg.Parts),
	}, nil
}

// ========================================================================================
// Helpers
// ========================================================================================

func (p *Processor) notify(ctx context.Context, subject, body string) {
	if p.notifier == nil || p.notifyTarget == "" {
		return
	}
	if err := p.notifier.Send(context.WithoutCancel(ctx), p.notifyTarget, subject, body); err != nil {
		slog.WarnContext(ctx, "Failed to notify operator", slog.Any("error", err))
	}
}

func (p *Processor) logConnectionEvent(ctx context.Context, configName, event, details string, cause error) {
	logConnectionEvent(ctx, p.store, configName, event, details, cause)
}

func logConnectionEvent(ctx context.Context, q database.Querier, configName, event, details string, cause error) {
	arg := database.CreateConnectionLogParams{
		ConfigurationName: configName,
		EventType:         event,
		Details:           details,
	}
	if cause != nil {
		code := errormapper.CodeOf(cause)
		arg.ErrorCode = &code
	}
	if err := q.CreateConnectionLog(context.WithoutCancel(ctx), arg); err != nil {
		slog.WarnContext(ctx, "Failed to write connection log", slog.String("event", event), slog.Any("error", err))
	}
}
