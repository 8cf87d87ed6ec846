package mno

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/thrillee/smppgateway/internal/config"
	"github.com/thrillee/smppgateway/internal/database"
	"github.com/thrillee/smppgateway/internal/smsctest"
	"github.com/thrillee/smppgateway/pkg/codes"
	"github.com/thrillee/smppgateway/pkg/pdu"
)

var testSessionDefaults = config.SessionConfig{UnbindTimeout: time.Second}

func sessionConfig(t *testing.T, c database.Configuration) SessionConfig {
	t.Helper()
	cfg, err := NewSessionConfig(c, testSessionDefaults)
	if err != nil {
		t.Fatalf("NewSessionConfig: %v", err)
	}
	return cfg
}

func bindSession(t *testing.T, srv *smsctest.Server, handlers SessionHandlers) *Session {
	t.Helper()
	s := NewSession(sessionConfig(t, srv.Configuration("primary")), handlers)
	if err := s.Bind(context.Background()); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// fastKeepAliveConfig probes an idle link every 50ms and gives up on a
// response after 100ms.
func fastKeepAliveConfig(t *testing.T, srv *smsctest.Server) SessionConfig {
	t.Helper()
	cfg := sessionConfig(t, srv.Configuration("primary"))
	cfg.EnquireLinkInterval = 50 * time.Millisecond
	cfg.RequestTimeout = 100 * time.Millisecond
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionBindSubmitUnbind(t *testing.T) {
	srv := smsctest.New(t)
	s := bindSession(t, srv, SessionHandlers{})

	if s.State() != codes.SessionBound {
		t.Fatalf("Expected bound, got %s", s.State())
	}

	id, err := s.Submit(context.Background(), &pdu.SubmitSM{ShortMessage: pdu.ShortMessage{
		SourceAddr:      "INFO",
		DestinationAddr: "2348012345678",
		Message:         []byte("hello"),
	}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "smsc-1" {
		t.Errorf("Expected smsc-1, got %q", id)
	}
	if got := srv.Submitted(); len(got) != 1 || string(got[0].Message) != "hello" {
		t.Errorf("Unexpected submissions: %+v", got)
	}

	if err := s.Unbind(context.Background()); err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	if s.State() != codes.SessionClosed {
		t.Errorf("Expected closed after unbind, got %s", s.State())
	}
	if s.Err() != nil {
		t.Errorf("Orderly unbind should leave no error, got %v", s.Err())
	}
}

func TestSessionBindRejected(t *testing.T) {
	srv := smsctest.New(t)
	srv.SetBindStatus(pdu.StatusInvalidPassword)

	s := NewSession(sessionConfig(t, srv.Configuration("primary")), SessionHandlers{})
	err := s.Bind(context.Background())

	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("Expected *AuthenticationError, got %v", err)
	}
	if authErr.Status != pdu.StatusInvalidPassword {
		t.Errorf("Expected ESME_RINVPASWD, got %s", authErr.Status)
	}
	if s.State() != codes.SessionFailed {
		t.Errorf("Expected failed, got %s", s.State())
	}
	if err := s.Bind(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Rebinding a failed session should be refused, got %v", err)
	}
}

func TestSessionDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	cfg := sessionConfig(t, database.Configuration{
		Name: "dead", Host: "127.0.0.1", Port: int32(addr.Port), SystemID: "x", ConnectionTimeoutSecs: 5,
	})
	s := NewSession(cfg, SessionHandlers{})
	err = s.Bind(context.Background())

	var terr *TransportError
	if !errors.As(err, &terr) || terr.Op != "dial" {
		t.Fatalf("Expected dial *TransportError, got %v", err)
	}
	if s.State() != codes.SessionFailed {
		t.Errorf("Expected failed, got %s", s.State())
	}
}

func TestSessionSubmitRejected(t *testing.T) {
	srv := smsctest.New(t)
	srv.QueueSubmitStatus(pdu.StatusThrottled)
	s := bindSession(t, srv, SessionHandlers{})

	_, err := s.Submit(context.Background(), &pdu.SubmitSM{ShortMessage: pdu.ShortMessage{DestinationAddr: "1", Message: []byte("x")}})
	var sendErr *SendError
	if !errors.As(err, &sendErr) || sendErr.Status != pdu.StatusThrottled {
		t.Fatalf("Expected throttled *SendError, got %v", err)
	}
	if s.State() != codes.SessionBound {
		t.Errorf("A rejected submit must not affect the session, got %s", s.State())
	}
}

func TestSessionSubmitTimeoutIgnoresLateResponse(t *testing.T) {
	srv := smsctest.New(t)
	s := bindSession(t, srv, SessionHandlers{})
	srv.SetSilent(true)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := s.Submit(ctx, &pdu.SubmitSM{ShortMessage: pdu.ShortMessage{DestinationAddr: "1", Message: []byte("x")}})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}

	srv.SetSilent(false)
	id, err := s.Submit(context.Background(), &pdu.SubmitSM{ShortMessage: pdu.ShortMessage{DestinationAddr: "1", Message: []byte("y")}})
	if err != nil {
		t.Fatalf("Submit after timeout: %v", err)
	}
	if id != "smsc-2" {
		t.Errorf("Expected smsc-2, got %q", id)
	}
}

func TestConcurrentSubmitsAreCorrelated(t *testing.T) {
	srv := smsctest.New(t)
	s := bindSession(t, srv, SessionHandlers{})

	const n = 50
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.Submit(context.Background(), &pdu.SubmitSM{ShortMessage: pdu.ShortMessage{
				DestinationAddr: "1",
				Message:         []byte(fmt.Sprintf("m%d", i)),
			}})
			if err != nil {
				t.Errorf("Submit %d: %v", i, err)
				return
			}
			ids <- id
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("message id %s returned twice", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("Expected %d distinct ids, got %d", n, len(seen))
	}
}

func TestSequenceNumbersWrap(t *testing.T) {
	s := NewSession(SessionConfig{Name: "seq"}, SessionHandlers{})
	s.seq = maxSequence - 1

	if got := s.nextSequence(); got != maxSequence {
		t.Errorf("Expected %d, got %d", maxSequence, got)
	}
	if got := s.nextSequence(); got != 1 {
		t.Errorf("Expected wrap to 1, got %d", got)
	}
}

func TestSessionDispatchesDeliverSM(t *testing.T) {
	srv := smsctest.New(t)
	received := make(chan *pdu.DeliverSM, 1)
	bindSession(t, srv, SessionHandlers{
		OnDeliver: func(_ context.Context, name string, d *pdu.DeliverSM) {
			if name != "primary" {
				t.Errorf("Expected config name primary, got %q", name)
			}
			received <- d
		},
	})

	if err := srv.Deliver(smsctest.Receipt("smsc-9", "DELIVRD")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	select {
	case d := <-received:
		if !d.IsDeliveryReceipt() {
			t.Errorf("Expected a delivery receipt, esm_class %#x", d.ESMClass)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("deliver_sm never reached the handler")
	}
	waitFor(t, "deliver_sm_resp", func() bool { return srv.DeliverAcks() == 1 })
}

func TestSessionFailsWhenSMSCDrops(t *testing.T) {
	srv := smsctest.New(t)
	closed := make(chan error, 1)
	s := bindSession(t, srv, SessionHandlers{
		OnClosed: func(_ *Session, cause error) { closed <- cause },
	})

	srv.DropConnections()

	select {
	case cause := <-closed:
		var terr *TransportError
		if !errors.As(cause, &terr) {
			t.Errorf("Expected *TransportError cause, got %v", cause)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnClosed was not called")
	}
	if s.State() != codes.SessionFailed {
		t.Errorf("Expected failed, got %s", s.State())
	}
	if _, err := s.Submit(context.Background(), &pdu.SubmitSM{}); !errors.Is(err, ErrNotBound) {
		t.Errorf("Expected ErrNotBound, got %v", err)
	}
}

func TestSessionQuery(t *testing.T) {
	srv := smsctest.New(t)
	srv.SetQueryState(pdu.StateDelivered)
	s := bindSession(t, srv, SessionHandlers{})

	resp, err := s.Query(context.Background(), &pdu.QuerySM{MessageID: "smsc-1", SourceAddr: "INFO"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.MessageID != "smsc-1" || resp.MessageState != pdu.StateDelivered {
		t.Errorf("Unexpected query response: %+v", resp)
	}
}

func TestEnquireLink(t *testing.T) {
	srv := smsctest.New(t)
	s := bindSession(t, srv, SessionHandlers{})

	if err := s.EnquireLink(context.Background()); err != nil {
		t.Fatalf("EnquireLink: %v", err)
	}
	if srv.EnquireLinks() != 1 {
		t.Errorf("Expected 1 enquire_link at the SMSC, got %d", srv.EnquireLinks())
	}
}

func TestReceiverBindCannotSubmit(t *testing.T) {
	srv := smsctest.New(t)
	c := srv.Configuration("rx")
	c.BindType = "rx"
	s := NewSession(sessionConfig(t, c), SessionHandlers{})
	if err := s.Bind(context.Background()); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Close()

	_, err := s.Submit(context.Background(), &pdu.SubmitSM{})
	var sendErr *SendError
	if !errors.As(err, &sendErr) || sendErr.Status != pdu.StatusIncorrectBind {
		t.Errorf("Expected ESME_RINVBNDSTS, got %v", err)
	}
}

func TestKeepAliveProbesIdleLink(t *testing.T) {
	srv := smsctest.New(t)
	s := NewSession(fastKeepAliveConfig(t, srv), SessionHandlers{})
	if err := s.Bind(context.Background()); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	t.Cleanup(s.Close)

	waitFor(t, "enquire_link from an idle session", func() bool { return srv.EnquireLinks() >= 2 })
	if s.State() != codes.SessionBound {
		t.Errorf("Answered keep-alives should leave the session bound, got %s", s.State())
	}
}

func TestKeepAliveFailsSilentLink(t *testing.T) {
	srv := smsctest.New(t)
	srv.SetEnquireLinkSilent(true)

	closed := make(chan error, 1)
	s := NewSession(fastKeepAliveConfig(t, srv), SessionHandlers{
		OnClosed: func(_ *Session, cause error) { closed <- cause },
	})
	if err := s.Bind(context.Background()); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	t.Cleanup(s.Close)

	select {
	case cause := <-closed:
		var terr *TransportError
		if !errors.As(cause, &terr) || terr.Op != "enquire_link" {
			t.Fatalf("Expected enquire_link *TransportError, got %v", cause)
		}
		if !errors.Is(cause, ErrTimeout) {
			t.Errorf("Expected the probe to time out, got %v", cause)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Session was not closed after an unanswered enquire_link")
	}
	if s.State() != codes.SessionFailed {
		t.Errorf("Expected failed, got %s", s.State())
	}
}

func TestSessionAnswersSMSCEnquireLink(t *testing.T) {
	srv := smsctest.New(t)
	s := bindSession(t, srv, SessionHandlers{})

	if err := srv.Send(&pdu.EnquireLink{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "enquire_link_resp", func() bool { return len(srv.Responses(pdu.EnquireLinkRespID)) == 1 })
	if got := srv.Responses(pdu.EnquireLinkRespID)[0]; got.CommandStatus != pdu.StatusOK {
		t.Errorf("Expected ESME_ROK, got %s", got.CommandStatus)
	}
	if s.State() != codes.SessionBound {
		t.Errorf("Expected bound, got %s", s.State())
	}
}

func TestSessionHonoursSMSCUnbind(t *testing.T) {
	srv := smsctest.New(t)
	closed := make(chan error, 1)
	s := bindSession(t, srv, SessionHandlers{
		OnClosed: func(_ *Session, cause error) { closed <- cause },
	})

	if err := srv.Send(&pdu.Unbind{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case cause := <-closed:
		if cause != nil {
			t.Errorf("SMSC unbind is an orderly close, got %v", cause)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Session did not close after SMSC unbind")
	}
	waitFor(t, "unbind_resp", func() bool { return len(srv.Responses(pdu.UnbindRespID)) == 1 })
	if s.State() != codes.SessionClosed {
		t.Errorf("Expected closed, got %s", s.State())
	}
	if s.Err() != nil {
		t.Errorf("Expected no error, got %v", s.Err())
	}
}

func TestSessionNacksUnknownRequest(t *testing.T) {
	srv := smsctest.New(t)
	s := bindSession(t, srv, SessionHandlers{})

	// data_sm is not supported by this client.
	if err := srv.Send(&pdu.Generic{ID: pdu.CommandID(0x00000103)}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "generic_nack", func() bool { return len(srv.Responses(pdu.GenericNackID)) == 1 })
	if got := srv.Responses(pdu.GenericNackID)[0]; got.CommandStatus != pdu.StatusInvalidCommandID {
		t.Errorf("Expected ESME_RINVCMDID, got %s", got.CommandStatus)
	}
	if s.State() != codes.SessionBound {
		t.Errorf("An unknown request should not end the session, got %s", s.State())
	}
}
