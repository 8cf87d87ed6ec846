package mno

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"github.com/thrillee/smppgateway/internal/logging"
	"github.com/thrillee/smppgateway/pkg/codes"
	"github.com/thrillee/smppgateway/pkg/pdu"
)

// maxSequence is the largest sequence number before wrapping back to 1.
const maxSequence = 0x7FFFFFFF

const (
	eventBind   = "bind"
	eventBound  = "bound"
	eventUnbind = "unbind"
	eventClose  = "close"
	eventFail   = "fail"
)

var liveStates = []string{codes.SessionUnbound, codes.SessionBinding, codes.SessionBound, codes.SessionUnbinding}

func newSessionFSM() *fsm.FSM {
	return fsm.NewFSM(
		codes.SessionUnbound,
		fsm.Events{
			{Name: eventBind, Src: []string{codes.SessionUnbound}, Dst: codes.SessionBinding},
			{Name: eventBound, Src: []string{codes.SessionBinding}, Dst: codes.SessionBound},
			{Name: eventUnbind, Src: []string{codes.SessionBound}, Dst: codes.SessionUnbinding},
			{Name: eventClose, Src: liveStates, Dst: codes.SessionClosed},
			{Name: eventFail, Src: liveStates, Dst: codes.SessionFailed},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				slog.DebugContext(ctx, "SMPP session state changed", slog.String("from", e.Src), slog.String("to", e.Dst))
			},
		},
	)
}

// SessionHandlers are the callbacks a Session invokes from its reader.
type SessionHandlers struct {
	OnDeliver DeliverHandlerFunc
	// OnClosed runs once, on its own goroutine, after the transport is gone.
	// cause is nil for an orderly unbind.
	OnClosed func(s *Session, cause error)
}

// Session owns one TCP connection to an SMSC. Writes are serialized by a
// single mutex; a reader goroutine routes responses to waiting callers by
// sequence number, so any number of requests may be in flight at once.
type Session struct {
	cfg      SessionConfig
	handlers SessionHandlers
	state    *fsm.FSM
	logCtx   context.Context

	conn    net.Conn
	writeMu sync.Mutex

	seqMu sync.Mutex
	seq   uint32

	pendingMu sync.Mutex
	pending   map[uint32]chan *pdu.PDU

	lastActivity atomic.Int64
	bound        atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
	inbound   sync.WaitGroup
}

// NewSession returns an unbound session. Call Bind to connect.
func NewSession(cfg SessionConfig, handlers SessionHandlers) *Session {
	return &Session{
		cfg:      cfg,
		handlers: handlers,
		state:    newSessionFSM(),
		logCtx:   logging.ContextWithConfigName(context.Background(), cfg.Name),
		pending:  make(map[uint32]chan *pdu.PDU),
		done:     make(chan struct{}),
	}
}

// Name returns the configuration name the session was built from.
func (s *Session) Name() string { return s.cfg.Name }

// State returns one of the codes.Session* states.
func (s *Session) State() string { return s.state.Current() }

// LastActivity is the time of the last PDU read or written.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Done is closed once the transport is gone.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended, or nil while it is alive or after a clean unbind.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.closeErr
	default:
		return nil
	}
}

// wasBound reports whether the bind handshake ever succeeded.
func (s *Session) wasBound() bool { return s.bound.Load() }

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) nextSequence() uint32 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.seq++
	if s.seq > maxSequence {
		s.seq = 1
	}
	return s.seq
}

// Bind dials the SMSC and performs the bind handshake. A rejected bind
// returns *AuthenticationError and leaves the session failed.
func (s *Session) Bind(ctx context.Context) error {
	if err := s.state.Event(s.logCtx, eventBind); err != nil {
		return ErrInvalidState
	}

	bindCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	slog.InfoContext(s.logCtx, "Connecting to SMSC",
		slog.String("address", s.cfg.Address()),
		slog.String("system_id", s.cfg.SystemID),
		slog.String("bind_type", s.cfg.BindType),
	)

	dialer := net.Dialer{Timeout: s.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(bindCtx, "tcp", s.cfg.Address())
	if err != nil {
		terr := &TransportError{Op: "dial", Err: err}
		s.terminate(terr)
		return terr
	}
	s.conn = conn
	s.touch()

	s.wg.Add(1)
	go s.readLoop()

	resp, err := s.request(bindCtx, &pdu.Bind{
		ID:               s.cfg.BindCommand(),
		SystemID:         s.cfg.SystemID,
		Password:         s.cfg.Password,
		SystemType:       s.cfg.SystemType,
		InterfaceVersion: s.cfg.InterfaceVersion,
		AddrTON:          s.cfg.AddrTON,
		AddrNPI:          s.cfg.AddrNPI,
		AddressRange:     s.cfg.AddressRange,
	})
	if err != nil {
		var terr *TransportError
		if !errors.As(err, &terr) {
			terr = &TransportError{Op: "bind", Err: err}
		}
		s.terminate(terr)
		s.wg.Wait()
		return terr
	}
	if status := resp.Header.CommandStatus; status != pdu.StatusOK {
		authErr := &AuthenticationError{SystemID: s.cfg.SystemID, Status: status}
		s.terminate(authErr)
		s.wg.Wait()
		return authErr
	}

	if err := s.state.Event(s.logCtx, eventBound); err != nil {
		// The reader lost the connection between the response and here.
		return &TransportError{Op: "bind", Err: s.closeCause()}
	}

	s.bound.Store(true)
	slog.InfoContext(s.logCtx, "SMPP session bound", slog.String("system_id", s.cfg.SystemID))
	s.wg.Add(1)
	go s.keepAlive()
	return nil
}

// Submit sends submit_sm and returns the SMSC message id.
func (s *Session) Submit(ctx context.Context, sm *pdu.SubmitSM) (string, error) {
	if s.State() != codes.SessionBound {
		return "", ErrNotBound
	}
	if !s.cfg.CanSubmit() {
		return "", &SendError{Command: pdu.SubmitSMID, Status: pdu.StatusIncorrectBind}
	}

	resp, err := s.request(ctx, sm)
	if err != nil {
		return "", err
	}
	if status := resp.Header.CommandStatus; status != pdu.StatusOK {
		return "", &SendError{Command: pdu.SubmitSMID, Status: status}
	}
	body, ok := resp.Body.(*pdu.SubmitSMResp)
	if !ok {
		return "", &pdu.ProtocolError{CommandID: resp.Header.CommandID, SequenceNumber: resp.Header.SequenceNumber, Framed: true, Reason: "generic_nack with success status"}
	}
	return body.MessageID, nil
}

// Query sends query_sm for a message previously submitted on this bind.
func (s *Session) Query(ctx context.Context, q *pdu.QuerySM) (*pdu.QuerySMResp, error) {
	if s.State() != codes.SessionBound {
		return nil, ErrNotBound
	}
	resp, err := s.request(ctx, q)
	if err != nil {
		return nil, err
	}
	if status := resp.Header.CommandStatus; status != pdu.StatusOK {
		return nil, &SendError{Command: pdu.QuerySMID, Status: status}
	}
	body, ok := resp.Body.(*pdu.QuerySMResp)
	if !ok {
		return nil, &pdu.ProtocolError{CommandID: resp.Header.CommandID, SequenceNumber: resp.Header.SequenceNumber, Framed: true, Reason: "generic_nack with success status"}
	}
	return body, nil
}

// EnquireLink sends one enquire_link and waits for the response.
func (s *Session) EnquireLink(ctx context.Context) error {
	if s.State() != codes.SessionBound {
		return ErrNotBound
	}
	resp, err := s.request(ctx, &pdu.EnquireLink{})
	if err != nil {
		return err
	}
	if status := resp.Header.CommandStatus; status != pdu.StatusOK {
		return &SendError{Command: pdu.EnquireLinkID, Status: status}
	}
	return nil
}

// Unbind sends unbind, waits up to UnbindTimeout for the response and closes
// the transport either way.
func (s *Session) Unbind(ctx context.Context) error {
	if err := s.state.Event(s.logCtx, eventUnbind); err != nil {
		s.Close()
		return nil
	}

	unbindCtx, cancel := context.WithTimeout(ctx, s.cfg.UnbindTimeout)
	defer cancel()

	_, err := s.request(unbindCtx, &pdu.Unbind{})
	if err != nil {
		slog.WarnContext(s.logCtx, "Unbind not acknowledged, forcing close", slog.Any("error", err))
	} else {
		slog.InfoContext(s.logCtx, "SMPP session unbound")
	}
	s.terminate(nil)
	s.wait()
	return err
}

// Close drops the transport without unbinding.
func (s *Session) Close() {
	s.terminate(nil)
	s.wait()
}

func (s *Session) wait() {
	s.wg.Wait()
	s.inbound.Wait()
}

// request writes body with a fresh sequence number and waits for the
// matching response. A late response after a timeout finds no waiter and is
// dropped by the reader.
func (s *Session) request(ctx context.Context, body pdu.Body) (*pdu.PDU, error) {
	if _, ok := ctx.Deadline(); !ok && s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	seq := s.nextSequence()
	ch := make(chan *pdu.PDU, 1)
	s.pendingMu.Lock()
	s.pending[seq] = ch
	s.pendingMu.Unlock()

	if err := s.send(pdu.New(seq, body)); err != nil {
		s.forget(seq)
		return nil, err
	}

	select {
	case resp := <-ch:
		return checkResponse(body, resp)
	case <-ctx.Done():
		s.forget(seq)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	case <-s.done:
		s.forget(seq)
		// The SMSC may answer and hang up in one go, as on a rejected bind.
		select {
		case resp := <-ch:
			return checkResponse(body, resp)
		default:
		}
		return nil, &TransportError{Op: body.CommandID().String(), Err: s.closeCause()}
	}
}

func checkResponse(req pdu.Body, resp *pdu.PDU) (*pdu.PDU, error) {
	want := req.CommandID().Response()
	if id := resp.Header.CommandID; id != want && id != pdu.GenericNackID {
		return nil, &pdu.ProtocolError{CommandID: id, SequenceNumber: resp.Header.SequenceNumber, Framed: true, Reason: "unexpected response to " + req.CommandID().String()}
	}
	return resp, nil
}

func (s *Session) forget(seq uint32) {
	s.pendingMu.Lock()
	delete(s.pending, seq)
	s.pendingMu.Unlock()
}

// send encodes and writes one PDU under the writer lock.
func (s *Session) send(p *pdu.PDU) error {
	b, err := pdu.Encode(p)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return &TransportError{Op: "write", Err: s.closeCause()}
	default:
	}

	if s.cfg.RequestTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.RequestTimeout))
	}
	if _, err := s.conn.Write(b); err != nil {
		terr := &TransportError{Op: "write", Err: err}
		s.terminate(terr)
		return terr
	}
	s.touch()
	return nil
}

func (s *Session) readLoop() {
	defer s.wg.Done()

	r := pdu.NewReader(s.conn)
	r.MaxLength = s.cfg.MaxPDULength

	for {
		p, err := r.Read()
		if err != nil {
			var perr *pdu.ProtocolError
			if errors.As(err, &perr) && perr.Framed {
				slog.WarnContext(s.logCtx, "Dropping malformed PDU", slog.Any("error", err))
				if !perr.CommandID.IsResponse() {
					_ = s.send(pdu.NewResponse(perr.SequenceNumber, pdu.StatusInvalidCmdLength, &pdu.GenericNack{}))
				}
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				if s.State() == codes.SessionUnbinding {
					// SMSC hung up after unbind_resp.
					s.terminate(nil)
					return
				}
				err = &TransportError{Op: "read", Err: io.EOF}
			} else if !errors.As(err, &perr) {
				err = &TransportError{Op: "read", Err: err}
			}
			s.terminate(err)
			return
		}

		s.touch()
		s.dispatch(p)
	}
}

func (s *Session) dispatch(p *pdu.PDU) {
	seq := p.Header.SequenceNumber
	ctx := logging.ContextWithPDUInfo(s.logCtx, p.Header.CommandID.String(), seq)

	if p.Header.CommandID.IsResponse() {
		s.pendingMu.Lock()
		ch, ok := s.pending[seq]
		delete(s.pending, seq)
		s.pendingMu.Unlock()

		if !ok {
			slog.DebugContext(ctx, "Ignoring response with no waiter")
			return
		}
		ch <- p
		return
	}

	switch body := p.Body.(type) {
	case *pdu.DeliverSM:
		// Run the handler off the reader so pending responses keep flowing.
		s.inbound.Add(1)
		go func() {
			defer s.inbound.Done()
			if s.handlers.OnDeliver != nil {
				s.handlers.OnDeliver(ctx, s.cfg.Name, body)
			}
			if err := s.send(pdu.NewResponse(seq, pdu.StatusOK, &pdu.DeliverSMResp{})); err != nil {
				slog.WarnContext(ctx, "Failed to acknowledge deliver_sm", slog.Any("error", err))
			}
		}()

	case *pdu.EnquireLink:
		_ = s.send(pdu.NewResponse(seq, pdu.StatusOK, &pdu.EnquireLinkResp{}))

	case *pdu.Unbind:
		slog.InfoContext(ctx, "SMSC requested unbind")
		_ = s.send(pdu.NewResponse(seq, pdu.StatusOK, &pdu.UnbindResp{}))
		s.terminate(nil)

	default:
		slog.WarnContext(ctx, "Rejecting unsupported request from SMSC")
		_ = s.send(pdu.NewResponse(seq, pdu.StatusInvalidCommandID, &pdu.GenericNack{}))
	}
}

// keepAlive sends enquire_link whenever the link has been idle for a full
// interval. A failed probe fails the session.
func (s *Session) keepAlive() {
	defer s.wg.Done()

	interval := s.cfg.EnquireLinkInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if time.Since(s.LastActivity()) < interval {
				continue
			}
			if err := s.EnquireLink(s.logCtx); err != nil {
				if errors.Is(err, ErrNotBound) {
					return
				}
				slog.WarnContext(s.logCtx, "enquire_link failed", slog.Any("error", err))
				s.terminate(&TransportError{Op: "enquire_link", Err: err})
				return
			}
		}
	}
}

// terminate closes the transport once. A nil cause is an orderly close.
func (s *Session) terminate(cause error) {
	s.closeOnce.Do(func() {
		s.closeErr = cause
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}

		event := eventClose
		if cause != nil {
			event = eventFail
			slog.WarnContext(s.logCtx, "SMPP session failed", slog.Any("error", cause))
		}
		if err := s.state.Event(s.logCtx, event); err != nil {
			slog.DebugContext(s.logCtx, "Session state unchanged on close", slog.Any("error", err))
		}

		if s.handlers.OnClosed != nil {
			go s.handlers.OnClosed(s, cause)
		}
	})
}

func (s *Session) closeCause() error {
	if s.closeErr != nil {
		return s.closeErr
	}
	return ErrSessionClosed
}
