package sms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/thrillee/smppgateway/internal/config"
	"github.com/thrillee/smppgateway/internal/database"
	"github.com/thrillee/smppgateway/internal/database/memstore"
	"github.com/thrillee/smppgateway/internal/mno"
	"github.com/thrillee/smppgateway/internal/smsctest"
	"github.com/thrillee/smppgateway/pkg/codes"
	"github.com/thrillee/smppgateway/pkg/errormapper"
	"github.com/thrillee/smppgateway/pkg/pdu"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeSession answers submits from a script of errors; a nil entry or an
// exhausted script means success. With waitForCancel set, each submit first
// blocks until its context is done.
type fakeSession struct {
	mu            sync.Mutex
	waitForCancel bool
	errs          []error
	submitted []*pdu.SubmitSM
	nextID    int
	queryResp *pdu.QuerySMResp
	queryErr  error
}

func (s *fakeSession) Name() string  { return "primary" }
func (s *fakeSession) State() string { return codes.SessionBound }

func (s *fakeSession) Submit(ctx context.Context, sm *pdu.SubmitSM) (string, error) {
	s.mu.Lock()
	wait := s.waitForCancel
	s.mu.Unlock()
	if wait {
		<-ctx.Done()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, sm)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return "", err
		}
	}
	s.nextID++
	return fmt.Sprintf("smsc-%d", s.nextID), nil
}

func (s *fakeSession) Query(ctx context.Context, q *pdu.QuerySM) (*pdu.QuerySMResp, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	resp := *s.queryResp
	resp.MessageID = q.MessageID
	return &resp, nil
}

func (s *fakeSession) Submitted() []*pdu.SubmitSM {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*pdu.SubmitSM(nil), s.submitted...)
}

type fakeSessions struct {
	mu          sync.Mutex
	session     *fakeSession
	getErr      error
	invalidated []string
	reports     []error
}

func (f *fakeSessions) Get(ctx context.Context, name string) (mno.Submitter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.session, nil
}

func (f *fakeSessions) Invalidate(ctx context.Context, name string, cause error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, name)
}

func (f *fakeSessions) Report(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, err)
}

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (n *recordingNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	return nil
}

type testEnv struct {
	store    *memstore.Store
	clock    *testClock
	session  *fakeSession
	sessions *fakeSessions
	notifier *recordingNotifier
	proc     *Processor
}

var testQueueConfig = config.QueueConfig{
	MaxAttempts:    3,
	RetryInterval:  300 * time.Second,
	SubmitTimeout:  5 * time.Second,
	MaxMessageSize: 1600,
}

func newTestEnv(t *testing.T, qc config.QueueConfig) *testEnv {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := memstore.New()
	store.Now = clock.Now

	if _, err := store.UpsertConfiguration(context.Background(), database.UpsertConfigurationParams{
		Name:      "primary",
		Host:      "127.0.0.1",
		Port:      2775,
		SystemID:  "esme",
		Password:  "secret",
		BindType:  codes.BindTransceiver,
		IsActive:  true,
		IsDefault: true,
	}); err != nil {
		t.Fatalf("UpsertConfiguration: %v", err)
	}

	session := &fakeSession{queryResp: &pdu.QuerySMResp{MessageState: pdu.StateEnroute}}
	sessions := &fakeSessions{session: session}
	notifier := &recordingNotifier{}
	proc := NewProcessor(ProcessorDependencies{
		Store:        store,
		Sessions:     sessions,
		Notifier:     notifier,
		Queue:        qc,
		NotifyTarget: "ops",
		WorkerID:     "test-worker",
		Now:          clock.Now,
	})
	return &testEnv{store: store, clock: clock, session: session, sessions: sessions, notifier: notifier, proc: proc}
}

func (e *testEnv) enqueue(t *testing.T, req SendRequest) EnqueueResult {
	t.Helper()
	if req.Recipient == "" {
		req.Recipient = "+2348031234567"
	}
	if req.Body == "" {
		req.Body = "hello"
	}
	res, err := e.proc.EnqueueSend(context.Background(), req)
	if err != nil {
		t.Fatalf("EnqueueSend: %v", err)
	}
	return res
}

func (e *testEnv) tick(t *testing.T) int {
	t.Helper()
	n, err := e.proc.ProcessQueueStep(context.Background(), 100)
	if err != nil {
		t.Fatalf("ProcessQueueStep: %v", err)
	}
	return n
}

func (e *testEnv) entry(t *testing.T, id int64) database.QueueEntry {
	t.Helper()
	entry, err := e.store.GetQueueEntry(context.Background(), id)
	if err != nil {
		t.Fatalf("GetQueueEntry: %v", err)
	}
	return entry
}

func (e *testEnv) message(t *testing.T, id string) database.Message {
	t.Helper()
	msg, err := e.store.GetMessage(context.Background(), id)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	return msg
}

func TestEnqueueSendStoresQueuedMessage(t *testing.T) {
	env := newTestEnv(t, testQueueConfig)

	res := env.enqueue(t, SendRequest{Recipient: "+234 803-123-4567", Body: "Your code is 1234", Priority: "High"})
	if res.Status != codes.MsgStatusQueued || res.ConfigurationName != "primary" || res.Parts != 1 {
		t.Errorf("Unexpected result: %+v", res)
	}

	msg := env.message(t, res.MessageID)
	if msg.Recipient != "+2348031234567" {
		t.Errorf("Expected cleaned recipient, got %q", msg.Recipient)
	}
	if msg.Priority != 2 || msg.DataCoding != 0 || msg.MessageType != codes.MsgTypeNormal {
		t.Errorf("Unexpected priority/coding/type: %d/%d/%s", msg.Priority, msg.DataCoding, msg.MessageType)
	}
	if msg.SenderID != "esme" {
		t.Errorf("Expected sender to fall back to system id, got %q", msg.SenderID)
	}
	if !msg.RegisteredDelivery {
		t.Error("Registered delivery should default to on")
	}

	entry := env.entry(t, res.QueueEntryID)
	if entry.Status != codes.QueueStatusPending || entry.Attempts != 0 || entry.MaxAttempts != 3 {
		t.Errorf("Unexpected entry: %+v", entry)
	}
	if entry.RetryIntervalSecs != 300 || entry.TimeoutSecs != 5 || entry.Priority != 2 {
		t.Errorf("Unexpected entry settings: %+v", entry)
	}
	if !entry.ScheduledFor.Equal(env.clock.Now()) {
		t.Errorf("Entry should be due now, scheduled for %s", entry.ScheduledFor)
	}
}

func TestEnqueueSendRejectsInvalidRequests(t *testing.T) {
	env := newTestEnv(t, testQueueConfig)
	past := env.clock.Now().Add(-time.Minute)

	tests := []struct {
		name string
		req  SendRequest
		code string
	}{
		{"short number", SendRequest{Recipient: "12345", Body: "hi"}, errormapper.ErrorCodeInvalidMSISDN},
		{"letters only", SendRequest{Recipient: "call me", Body: "hi"}, errormapper.ErrorCodeInvalidMSISDN},
		{"empty body", SendRequest{Recipient: "+2348031234567", Body: "   "}, errormapper.ErrorCodeValidationFailure},
		{"too long", SendRequest{Recipient: "+2348031234567", Body: strings.Repeat("a", 1601)}, errormapper.ErrorCodeMessageTooLong},
		{"needs concatenation", SendRequest{Recipient: "+2348031234567", Body: strings.Repeat("a", 300)}, errormapper.ErrorCodeMultipartUnsupported},
		{"unicode needs concatenation", SendRequest{Recipient: "+2348031234567", Body: strings.Repeat("é", 128)}, errormapper.ErrorCodeMultipartUnsupported},
		{"bad message type", SendRequest{Recipient: "+2348031234567", Body: "hi", MessageType: "binary"}, errormapper.ErrorCodeValidationFailure},
		{"expired validity", SendRequest{Recipient: "+2348031234567", Body: "hi", ValidityPeriod: &past}, errormapper.ErrorCodeValidationFailure},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.proc.EnqueueSend(context.Background(), tc.req)
			var valErr *ValidationError
			if !errors.As(err, &valErr) {
				t.Fatalf("Expected *ValidationError, got %v", err)
			}
			if got := errormapper.CodeOf(err); got != tc.code {
				t.Errorf("Expected code %s, got %s", tc.code, got)
			}
		})
	}

	msgs, err := env.store.ListMessages(context.Background(), database.ListMessagesParams{Limit: 100})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Rejected requests must not be stored, found %d messages", len(msgs))
	}
}

func TestEnqueueSendUnknownConfiguration(t *testing.T) {
	env := newTestEnv(t, testQueueConfig)

	_, err := env.proc.EnqueueSend(context.Background(), SendRequest{ConfigurationName: "nope", Recipient: "+2348031234567", Body: "hi"})
	if !errors.Is(err, mno.ErrUnknownConfiguration) {
		t.Fatalf("Expected ErrUnknownConfiguration, got %v", err)
	}
}

func TestEnqueueBulkIsolatesFailures(t *testing.T) {
	env := newTestEnv(t, testQueueConfig)

	results := env.proc.EnqueueBulk(context.Background(), []SendRequest{
		{Recipient: "+2348031234567", Body: "one"},
		{Recipient: "bad", Body: "two"},
		{Recipient: "+2348031234568", Body: "three"},
	})
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("Valid requests failed: %v / %v", results[0].Err, results[2].Err)
	}
	if results[1].Err == nil || results[1].Index != 1 {
		t.Errorf("Expected the invalid request to fail at index 1: %+v", results[1])
	}
}

func TestProcessQueueStepSubmitsAndCompletes(t *testing.T) {
	env := newTestEnv(t, testQueueConfig)
	res := env.enqueue(t, SendRequest{Body: "hello", SenderID: "ACME", MessageType: "flash"})

	if n := env.tick(t); n != 1 {
		t.Fatalf("Expected 1 processed, got %d", n)
	}

	entry := env.entry(t, res.QueueEntryID)
	if entry.Status != codes.QueueStatusCompleted || entry.Attempts != 1 || entry.LockedBy != nil {
		t.Errorf("Unexpected entry after submit: %+v", entry)
	}
	msg := env.message(t, res.MessageID)
	if msg.Status != codes.MsgStatusSent || msg.SmscMessageID == nil || *msg.SmscMessageID != "smsc-1" || msg.SentAt == nil {
		t.Errorf("Unexpected message after submit: %+v", msg)
	}

	sent := env.session.Submitted()
	if len(sent) != 1 {
		t.Fatalf("Expected 1 submit_sm, got %d", len(sent))
	}
	sm := sent[0]
	if sm.DestinationAddr != "2348031234567" || sm.DestAddrTON != 1 || sm.DestAddrNPI != 1 {
		t.Errorf("Unexpected destination %q ton=%d npi=%d", sm.DestinationAddr, sm.DestAddrTON, sm.DestAddrNPI)
	}
	if sm.SourceAddr != "ACME" || sm.SourceAddrTON != 5 {
		t.Errorf("Unexpected source %q ton=%d", sm.SourceAddr, sm.SourceAddrTON)
	}
	if sm.DataCoding != 0x10 || sm.RegisteredDelivery != 1 || string(sm.Message) != "hello" {
		t.Errorf("Unexpected body fields: coding=%#x rd=%d msg=%q", sm.DataCoding, sm.RegisteredDelivery, sm.Message)
	}
	if len(env.sessions.reports) != 1 || env.sessions.reports[0] != nil {
		t.Errorf("Expected one successful report, got %v", env.sessions.reports)
	}
}

func TestMaxAttemptsFailsWithoutReschedule(t *testing.T) {
	env := newTestEnv(t, testQueueConfig)
	sendErr := &mno.SendError{Command: pdu.SubmitSMID, Status: pdu.StatusSystemError}
	env.session.errs = []error{sendErr, sendErr, sendErr}
	res := env.enqueue(t, SendRequest{})

	env.tick(t)
	entry := env.entry(t, res.QueueEntryID)
	if entry.Status != codes.QueueStatusRetrying || entry.Attempts != 1 {
		t.Fatalf("After attempt 1: %+v", entry)
	}
	if want := env.clock.Now().Add(300 * time.Second); !entry.ScheduledFor.Equal(want) {
		t.Errorf("Expected retry at %s, got %s", want, entry.ScheduledFor)
	}

	// Not due yet.
	if n := env.tick(t); n != 0 {
		t.Fatalf("Entry processed before its retry time")
	}

	env.clock.Advance(300 * time.Second)
	env.tick(t)
	entry = env.entry(t, res.QueueEntryID)
	if entry.Status != codes.QueueStatusRetrying || entry.Attempts != 2 {
		t.Fatalf("After attempt 2: %+v", entry)
	}
	scheduled := entry.ScheduledFor

	env.clock.Advance(300 * time.Second)
	env.tick(t)
	entry = env.entry(t, res.QueueEntryID)
	if entry.Status != codes.QueueStatusFailed || entry.Attempts != 3 {
		t.Fatalf("After attempt 3: %+v", entry)
	}
	if !entry.ScheduledFor.Equal(scheduled) {
		t.Errorf("Terminal failure rescheduled the entry: %s -> %s", scheduled, entry.ScheduledFor)
	}
	if entry.ProcessingNotes == nil || !strings.HasPrefix(*entry.ProcessingNotes, "Max attempts reached") {
		t.Errorf("Unexpected notes: %v", entry.ProcessingNotes)
	}
	if got := strings.Count(entry.ErrorLog, "\n") + 1; got != 3 || !strings.HasPrefix(entry.ErrorLog, "Attempt 3") {
		t.Errorf("Expected 3 audit lines newest first, got %q", entry.ErrorLog)
	}

	msg := env.message(t, res.MessageID)
	if msg.Status != codes.MsgStatusFailed || msg.ErrorMessage == nil || msg.ErrorCode == nil || *msg.ErrorCode != errormapper.ErrorCodeSubmitFail {
		t.Errorf("Unexpected message after terminal failure: %+v", msg)
	}
	if msg.RetryCount != 3 {
		t.Errorf("Expected retry count 3, got %d", msg.RetryCount)
	}

	env.clock.Advance(time.Hour)
	if n := env.tick(t); n != 0 {
		t.Error("A failed entry must never be claimed again")
	}
	if len(env.session.Submitted()) != 3 {
		t.Errorf("Expected exactly 3 submits, got %d", len(env.session.Submitted()))
	}
	if len(env.notifier.subjects) != 1 {
		t.Errorf("Expected one operator notification, got %v", env.notifier.subjects)
	}
}

func TestSendErrorIncrementsAttemptsOnce(t *testing.T) {
	env := newTestEnv(t, testQueueConfig)
	env.session.errs = []error{&mno.SendError{Command: pdu.SubmitSMID, Status: pdu.StatusThrottled}}
	res := env.enqueue(t, SendRequest{})

	env.tick(t)
	entry := env.entry(t, res.QueueEntryID)
	if entry.Attempts != 1 {
		t.Errorf("Expected attempts 1, got %d", entry.Attempts)
	}
	if !strings.Contains(entry.ErrorLog, errormapper.ErrorCodeSubmitFail) {
		t.Errorf("Audit trail lacks the SMSC status: %q", entry.ErrorLog)
	}
	msg := env.message(t, res.MessageID)
	if msg.Status != codes.MsgStatusQueued || msg.RetryCount != 1 {
		t.Errorf("Message should stay queued with one recorded attempt: %+v", msg)
	}
}

func TestDeliveredMessageIsNotResubmitted(t *testing.T) {
	env := newTestEnv(t, testQueueConfig)
	res := env.enqueue(t, SendRequest{})
	ctx := context.Background()

	smscID := "smsc-already"
	if _, err := env.store.UpdateMessageStatus(ctx, database.UpdateMessageStatusParams{
		ID: res.MessageID, FromStatus: codes.MsgStatusQueued, Status: codes.MsgStatusSent, SmscMessageID: &smscID,
	}); err != nil {
		t.Fatalf("UpdateMessageStatus: %v", err)
	}
	if _, err := env.store.UpdateMessageStatus(ctx, database.UpdateMessageStatusParams{
		ID: res.MessageID, FromStatus: codes.MsgStatusSent, Status: codes.MsgStatusDelivered,
	}); err != nil {
		t.Fatalf("UpdateMessageStatus: %v", err)
	}

	// Simulate the same entry being picked up twice, as after a crash mid-tick.
	for i := 0; i < 2; i++ {
		if i == 1 {
			if err := env.store.UpdateQueueEntry(ctx, database.UpdateQueueEntryParams{
				ID: res.QueueEntryID, Status: codes.QueueStatusRetrying,
			}); err != nil {
				t.Fatalf("UpdateQueueEntry: %v", err)
			}
		}
		env.tick(t)
		entry := env.entry(t, res.QueueEntryID)
		if entry.Status != codes.QueueStatusCompleted {
			t.Fatalf("Pass %d: expected completed, got %s", i+1, entry.Status)
		}
	}

	if n := len(env.session.Submitted()); n != 0 {
		t.Errorf("Delivered message was submitted %d time(s)", n)
	}
	if msg := env.message(t, res.MessageID); msg.Status != codes.MsgStatusDelivered {
		t.Errorf("Status changed to %s", msg.Status)
	}
}

func TestPriorityOrder(t *testing.T) {
	env := newTestEnv(t, testQueueConfig)

	for i, p := range []string{"3", "0", "2"} {
		env.enqueue(t, SendRequest{Recipient: fmt.Sprintf("+23480312345%02d", i), Priority: p})
	}
	env.tick(t)

	var got []byte
	for _, sm := range env.session.Submitted() {
		got = append(got, '0'+sm.PriorityFlag)
	}
	if string(got) != "023" {
		t.Errorf("Expected submit order 0,2,3, got %s", got)
	}
}

func TestPermanentErrorFailsImmediately(t *testing.T) {
	env := newTestEnv(t, testQueueConfig)
	res := env.enqueue(t, SendRequest{})
	env.sessions.getErr = &mno.ConfigurationError{Name: "primary", Reason: "configuration is inactive"}

	env.tick(t)
	entry := env.entry(t, res.QueueEntryID)
	if entry.Status != codes.QueueStatusFailed || entry.Attempts != 1 {
		t.Errorf("Expected failure after one attempt, got %+v", entry)
	}
	if entry.ProcessingNotes == nil || !strings.HasPrefix(*entry.ProcessingNotes, "Permanent failure") {
		t.Errorf("Unexpected notes: %v", entry.ProcessingNotes)
	}
}

func TestAuthenticationFailureInvalidatesAndNotifies(t *testing.T) {
	env := newTestEnv(t, testQueueConfig)
	res := env.enqueue(t, SendRequest{})
	env.sessions.getErr = &mno.AuthenticationError{SystemID: "esme", Status: pdu.StatusInvalidPassword}

	env.tick(t)
	if len(env.sessions.invalidated) != 1 || env.sessions.invalidated[0] != "primary" {
		t.Errorf("Expected primary to be invalidated, got %v", env.sessions.invalidated)
	}
	if len(env.notifier.subjects) != 1 || !strings.Contains(env.notifier.subjects[0], "bind rejected") {
		t.Errorf("Expected a bind notification, got %v", env.notifier.subjects)
	}
	if entry := env.entry(t, res.QueueEntryID); entry.Status != codes.QueueStatusRetrying {
		t.Errorf("Expected retry after bind rejection, got %s", entry.Status)
	}
}

func TestRateLimitDefersWithoutAttempt(t *testing.T) {
	qc := testQueueConfig
	qc.SubmitRate = 1
	qc.SubmitBurst = 1
	env := newTestEnv(t, qc)
	first := env.enqueue(t, SendRequest{Recipient: "+2348031234561"})
	second := env.enqueue(t, SendRequest{Recipient: "+2348031234562"})

	env.tick(t)
	if e := env.entry(t, first.QueueEntryID); e.Status != codes.QueueStatusCompleted {
		t.Fatalf("First entry should be sent, got %s", e.Status)
	}
	deferred := env.entry(t, second.QueueEntryID)
	if deferred.Status != codes.QueueStatusPending || deferred.Attempts != 0 {
		t.Fatalf("Second entry should be handed back untouched, got %+v", deferred)
	}

	env.clock.Advance(time.Second)
	env.tick(t)
	if e := env.entry(t, second.QueueEntryID); e.Status != codes.QueueStatusCompleted || e.Attempts != 1 {
		t.Errorf("Second entry should go out once the bucket refills, got %+v", e)
	}
}

func TestQueryStatusAppliesFinalState(t *testing.T) {
	env := newTestEnv(t, testQueueConfig)
	res := env.enqueue(t, SendRequest{})
	env.tick(t)

	result, err := env.proc.QueryStatus(context.Background(), res.MessageID)
	if err != nil {
		t.Fatalf("QueryStatus: %v", err)
	}
	if result.MessageState != "ENROUTE" || result.Updated || result.Status != codes.MsgStatusSent {
		t.Errorf("Enroute should change nothing: %+v", result)
	}

	env.session.queryResp = &pdu.QuerySMResp{MessageState: pdu.StateDelivered, FinalDate: "240101120500000+"}
	result, err = env.proc.QueryStatus(context.Background(), res.MessageID)
	if err != nil {
		t.Fatalf("QueryStatus: %v", err)
	}
	if !result.Updated || result.Status != codes.MsgStatusDelivered || result.SmscMessageID != "smsc-1" {
		t.Errorf("Unexpected result: %+v", result)
	}
	msg := env.message(t, res.MessageID)
	if msg.Status != codes.MsgStatusDelivered || msg.DeliveredAt == nil {
		t.Fatalf("Message not delivered: %+v", msg)
	}
	if want := time.Date(2024, 1, 1, 12, 5, 0, 0, time.UTC); !msg.DeliveredAt.Equal(want) {
		t.Errorf("Expected delivered at %s, got %s", want, msg.DeliveredAt)
	}
}

func TestQueryStatusErrors(t *testing.T) {
	env := newTestEnv(t, testQueueConfig)

	_, err := env.proc.QueryStatus(context.Background(), "missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) || !errors.Is(err, database.ErrNotFound) {
		t.Errorf("Expected NotFoundError, got %v", err)
	}

	res := env.enqueue(t, SendRequest{})
	_, err = env.proc.QueryStatus(context.Background(), res.MessageID)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Errorf("Expected ConflictError for an unsent message, got %v", err)
	}
}

func TestResubmitAfterTerminalFailure(t *testing.T) {
	qc := testQueueConfig
	qc.MaxAttempts = 1
	env := newTestEnv(t, qc)
	env.session.errs = []error{mno.ErrTimeout}
	res := env.enqueue(t, SendRequest{})

	if _, err := env.proc.Resubmit(context.Background(), res.MessageID); err == nil {
		t.Fatal("Resubmit of a queued message should fail")
	}

	env.tick(t)
	if msg := env.message(t, res.MessageID); msg.Status != codes.MsgStatusFailed {
		t.Fatalf("Expected failed, got %s", msg.Status)
	}

	again, err := env.proc.Resubmit(context.Background(), res.MessageID)
	if err != nil {
		t.Fatalf("Resubmit: %v", err)
	}
	if again.QueueEntryID == res.QueueEntryID || again.Status != codes.MsgStatusQueued {
		t.Errorf("Expected a new queue entry, got %+v", again)
	}

	env.tick(t)
	msg := env.message(t, res.MessageID)
	if msg.Status != codes.MsgStatusSent || msg.SmscMessageID == nil {
		t.Errorf("Resubmitted message should be sent, got %+v", msg)
	}

	_, err = env.proc.Resubmit(context.Background(), res.MessageID)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Errorf("Expected ConflictError for a sent message, got %v", err)
	}
}

func TestProcessQueueStepReleasesOnCancel(t *testing.T) {
	env := newTestEnv(t, testQueueConfig)
	res := env.enqueue(t, SendRequest{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := env.proc.ProcessQueueStep(ctx, 10)
	if !errors.Is(err, context.Canceled) || n != 0 {
		t.Fatalf("Expected (0, context.Canceled), got (%d, %v)", n, err)
	}
	if e := env.entry(t, res.QueueEntryID); e.Status != codes.QueueStatusPending || e.LockedBy != nil {
		t.Errorf("Entry should be handed back, got %+v", e)
	}
}

// deadlineStore refuses writes on a finished context, as a pgx-backed store does.
type deadlineStore struct {
	*memstore.Store
}

func (s deadlineStore) ExecTx(ctx context.Context, fn func(database.Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.ExecTx(ctx, fn)
}

func (s deadlineStore) UpdateQueueEntry(ctx context.Context, arg database.UpdateQueueEntryParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.UpdateQueueEntry(ctx, arg)
}

func TestOutcomeRecordedAfterRunDeadline(t *testing.T) {
	tests := []struct {
		name          string
		errs          []error
		entryStatus   string
		messageStatus string
	}{
		{"submit timed out", []error{mno.ErrTimeout}, codes.QueueStatusRetrying, codes.MsgStatusQueued},
		{"submit accepted", nil, codes.QueueStatusCompleted, codes.MsgStatusSent},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, testQueueConfig)
			env.session.waitForCancel = true
			env.session.errs = tc.errs
			proc := NewProcessor(ProcessorDependencies{
				Store:    deadlineStore{env.store},
				Sessions: env.sessions,
				Queue:    testQueueConfig,
				WorkerID: "test-worker",
				Now:      env.clock.Now,
			})
			res := env.enqueue(t, SendRequest{})

			// The run budget ends while the submit is still waiting.
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			n, err := proc.ProcessQueueStep(ctx, 10)
			if err != nil || n != 1 {
				t.Fatalf("ProcessQueueStep = %d, %v", n, err)
			}

			entry := env.entry(t, res.QueueEntryID)
			if entry.Status != tc.entryStatus || entry.Attempts != 1 || entry.LockedBy != nil {
				t.Errorf("Expected %s after one attempt, got %+v", tc.entryStatus, entry)
			}
			if got := env.message(t, res.MessageID).Status; got != tc.messageStatus {
				t.Errorf("Expected message %s, got %s", tc.messageStatus, got)
			}
		})
	}
}

func TestPrependErrorLogKeepsRunesWhole(t *testing.T) {
	out := prependErrorLog(strings.Repeat("é", maxErrorLogLen), "ab")
	if !utf8.ValidString(out) {
		t.Fatal("Trimmed error log is not valid UTF-8")
	}
	if len(out) > maxErrorLogLen || len(out) < maxErrorLogLen-utf8.UTFMax {
		t.Errorf("Unexpected trimmed length %d", len(out))
	}
	if !strings.HasPrefix(out, "ab\n") {
		t.Errorf("Newest line should come first, got %q", out[:10])
	}
}

func TestReceiptBeforeSubmitResponseIsApplied(t *testing.T) {
	env := newTestEnv(t, testQueueConfig)
	ctx := context.Background()
	res := env.enqueue(t, SendRequest{})

	early, err := env.proc.reconciler.ApplyReceipt(ctx, "primary", smsctest.Receipt("smsc-1", "DELIVRD"))
	if err != nil || !early.Recorded || early.MessageID != "" {
		t.Fatalf("Expected an unlinked receipt, got %+v, %v", early, err)
	}

	env.tick(t)

	msg := env.message(t, res.MessageID)
	if msg.Status != codes.MsgStatusDelivered || msg.DeliveredAt == nil {
		t.Errorf("Early receipt not applied: status %s", msg.Status)
	}
	if msg.SmscMessageID == nil || *msg.SmscMessageID != "smsc-1" {
		t.Errorf("SMSC id not stored: %v", msg.SmscMessageID)
	}
	receipts, err := env.store.ListReceiptsForMessage(ctx, res.MessageID)
	if err != nil || len(receipts) != 1 {
		t.Fatalf("Expected the receipt linked to the message, got %d, %v", len(receipts), err)
	}
	if got := env.entry(t, res.QueueEntryID); got.Status != codes.QueueStatusCompleted {
		t.Errorf("Expected completed entry, got %s", got.Status)
	}
}
