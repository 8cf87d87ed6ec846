// Package smsctest runs an in-process SMSC on a loopback listener for tests.
package smsctest

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/thrillee/smppgateway/internal/database"
	"github.com/thrillee/smppgateway/pkg/pdu"
)

const (
	SystemID = "tester"
	Password = "secret"
)

// Server accepts ESME connections and answers binds, submits, queries and
// keep-alives. Behaviour is adjusted through the exported setters.
type Server struct {
	ln net.Listener
	tb testing.TB

	mu           sync.Mutex
	conns        map[*serverConn]struct{}
	bindStatus   pdu.CommandStatus
	submitStatus []pdu.CommandStatus // consumed one per submit; OK once empty
	silent       bool                // never answer submit_sm
	linkSilent   bool                // never answer enquire_link
	queryState   pdu.MessageState
	submitted    []*pdu.SubmitSM
	deliverAcks  int
	enquireLinks int
	responses    []pdu.Header // responses to requests this server sent
	nextID       int

	wg sync.WaitGroup
}

type serverConn struct {
	net.Conn
	writeMu sync.Mutex
	seq     uint32
	bound   bool
}

// New starts a server and stops it when the test ends.
func New(tb testing.TB) *Server {
	tb.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("smsctest: listen: %v", err)
	}
	s := &Server{
		ln:         ln,
		tb:         tb,
		conns:      make(map[*serverConn]struct{}),
		queryState: pdu.StateEnroute,
	}
	s.wg.Add(1)
	go s.acceptLoop()
	tb.Cleanup(s.Close)
	return s
}

// HostPort returns the listener address split for a configuration row.
func (s *Server) HostPort() (string, int) {
	host, port, _ := net.SplitHostPort(s.ln.Addr().String())
	p, _ := strconv.Atoi(port)
	return host, p
}

// Configuration returns an active transceiver configuration pointing here.
func (s *Server) Configuration(name string) database.Configuration {
	host, port := s.HostPort()
	return database.Configuration{
		Name:                    name,
		Host:                    host,
		Port:                    int32(port),
		SystemID:                SystemID,
		Password:                Password,
		BindType:                "transceiver",
		ConnectionTimeoutSecs:   5,
		EnquireLinkIntervalSecs: 30,
		IsActive:                true,
		IsDefault:               true,
	}
}

// SetBindStatus makes every bind answer with status.
func (s *Server) SetBindStatus(status pdu.CommandStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindStatus = status
}

// QueueSubmitStatus answers the next submits with the given statuses, in order.
func (s *Server) QueueSubmitStatus(statuses ...pdu.CommandStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitStatus = append(s.submitStatus, statuses...)
}

// SetSilent stops the server answering submit_sm.
func (s *Server) SetSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

// SetEnquireLinkSilent stops the server answering enquire_link. Requests
// are still counted.
func (s *Server) SetEnquireLinkSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkSilent = silent
}

// SetQueryState sets the message_state returned by query_sm.
func (s *Server) SetQueryState(state pdu.MessageState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryState = state
}

// Submitted returns the submit_sm bodies received so far.
func (s *Server) Submitted() []*pdu.SubmitSM {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*pdu.SubmitSM(nil), s.submitted...)
}

// DeliverAcks counts deliver_sm_resp received from clients.
func (s *Server) DeliverAcks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliverAcks
}

// EnquireLinks counts enquire_link requests received from clients.
func (s *Server) EnquireLinks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enquireLinks
}

// Responses returns the headers of client responses with the given command id,
// oldest first. deliver_sm_resp is counted by DeliverAcks instead.
func (s *Server) Responses(id pdu.CommandID) []pdu.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pdu.Header
	for _, h := range s.responses {
		if h.CommandID == id {
			out = append(out, h)
		}
	}
	return out
}

// BoundConns counts connections that completed a bind.
func (s *Server) BoundConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for c := range s.conns {
		if c.bound {
			n++
		}
	}
	return n
}

// Deliver sends deliver_sm to every bound connection.
func (s *Server) Deliver(d *pdu.DeliverSM) error {
	return s.Send(d)
}

// Send writes a request with a fresh sequence number to every bound connection.
func (s *Server) Send(body pdu.Body) error {
	s.mu.Lock()
	var targets []*serverConn
	for c := range s.conns {
		if c.bound {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		return errors.New("smsctest: no bound connection")
	}
	for _, c := range targets {
		c.writeMu.Lock()
		c.seq++
		seq := c.seq
		c.writeMu.Unlock()
		if err := c.write(pdu.New(seq, body)); err != nil {
			return err
		}
	}
	return nil
}

// Receipt builds a delivery receipt deliver_sm for smscID.
func Receipt(smscID, stat string) *pdu.DeliverSM {
	text := fmt.Sprintf("id:%s sub:001 dlvrd:001 submit date:2401011200 done date:2401011201 stat:%s err:000 text:", smscID, stat)
	return &pdu.DeliverSM{ShortMessage: pdu.ShortMessage{
		ESMClass: 0x04,
		Message:  []byte(text),
	}}
}

// DropConnections closes every client connection without unbinding.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

// Close stops accepting and closes every connection.
func (s *Server) Close() {
	_ = s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		c := &serverConn{Conn: conn, seq: 1000}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(c)
	}
}

func (s *Server) serve(c *serverConn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = c.Close()
	}()

	r := pdu.NewReader(c)
	for {
		p, err := r.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.tb.Logf("smsctest: read: %v", err)
			}
			return
		}
		if !s.handle(c, p) {
			return
		}
	}
}

// handle answers one PDU and reports whether the connection stays open.
func (s *Server) handle(c *serverConn, p *pdu.PDU) bool {
	seq := p.Header.SequenceNumber

	switch body := p.Body.(type) {
	case *pdu.Bind:
		s.mu.Lock()
		status := s.bindStatus
		if status == pdu.StatusOK && (body.SystemID != SystemID || body.Password != Password) {
			status = pdu.StatusInvalidPassword
		}
		if status == pdu.StatusOK {
			c.bound = true
		}
		s.mu.Unlock()
		_ = c.write(pdu.NewResponse(seq, status, &pdu.BindResp{ID: body.ID.Response(), SystemID: "smsctest"}))
		return status == pdu.StatusOK

	case *pdu.SubmitSM:
		s.mu.Lock()
		s.submitted = append(s.submitted, body)
		silent := s.silent
		status := pdu.StatusOK
		if len(s.submitStatus) > 0 {
			status = s.submitStatus[0]
			s.submitStatus = s.submitStatus[1:]
		}
		s.nextID++
		id := fmt.Sprintf("smsc-%d", s.nextID)
		s.mu.Unlock()

		if silent {
			return true
		}
		if status != pdu.StatusOK {
			_ = c.write(&pdu.PDU{Header: pdu.Header{CommandID: pdu.SubmitSMRespID, CommandStatus: status, SequenceNumber: seq}})
			return true
		}
		_ = c.write(pdu.NewResponse(seq, pdu.StatusOK, &pdu.SubmitSMResp{MessageID: id}))

	case *pdu.QuerySM:
		s.mu.Lock()
		state := s.queryState
		s.mu.Unlock()
		_ = c.write(pdu.NewResponse(seq, pdu.StatusOK, &pdu.QuerySMResp{
			MessageID:    body.MessageID,
			FinalDate:    time.Now().UTC().Format("060102150405") + "000+",
			MessageState: state,
		}))

	case *pdu.EnquireLink:
		s.mu.Lock()
		s.enquireLinks++
		silent := s.linkSilent
		s.mu.Unlock()
		if silent {
			return true
		}
		_ = c.write(pdu.NewResponse(seq, pdu.StatusOK, &pdu.EnquireLinkResp{}))

	case *pdu.Unbind:
		_ = c.write(pdu.NewResponse(seq, pdu.StatusOK, &pdu.UnbindResp{}))
		return false

	case *pdu.DeliverSMResp:
		s.mu.Lock()
		s.deliverAcks++
		s.mu.Unlock()

	default:
		if p.Header.CommandID.IsResponse() {
			s.mu.Lock()
			s.responses = append(s.responses, p.Header)
			s.mu.Unlock()
			return true
		}
		_ = c.write(pdu.NewResponse(seq, pdu.StatusInvalidCommandID, &pdu.GenericNack{}))
	}
	return true
}

func (c *serverConn) write(p *pdu.PDU) error {
	b, err := pdu.Encode(p)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.Write(b)
	return err
}
