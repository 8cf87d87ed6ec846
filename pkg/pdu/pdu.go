// Package pdu encodes and decodes SMPP v3.4 protocol data units.
package pdu

const (
	// HeaderLength is the fixed size of every PDU header.
	HeaderLength = 16
	// MaxPDULength is the default upper bound accepted for command_length.
	MaxPDULength = 64 * 1024
	// MaxShortMessageLength is the largest short_message the length octet can describe.
	MaxShortMessageLength = 254
	// InterfaceVersion34 is the interface_version sent in bind requests.
	InterfaceVersion34 byte = 0x34
)

// Header is the 16-byte big-endian header shared by all PDUs.
type Header struct {
	CommandLength  uint32
	CommandID      CommandID
	CommandStatus  CommandStatus
	SequenceNumber uint32
}

// Body is implemented by every concrete PDU body in this package.
type Body interface {
	CommandID() CommandID
	marshal(w *writer) error
	unmarshal(r *reader) error
}

// PDU is a decoded header plus its body.
type PDU struct {
	Header Header
	Body   Body
}

// New builds a request or response PDU with the given sequence number.
func New(seq uint32, body Body) *PDU {
	return &PDU{
		Header: Header{CommandID: body.CommandID(), SequenceNumber: seq},
		Body:   body,
	}
}

// NewResponse builds a response PDU with the given status. A nil body is
// allowed for error responses, which carry no body on the wire.
func NewResponse(seq uint32, status CommandStatus, body Body) *PDU {
	p := &PDU{Header: Header{CommandStatus: status, SequenceNumber: seq}, Body: body}
	if body != nil {
		p.Header.CommandID = body.CommandID()
	}
	return p
}

// TLV is an optional tag-length-value parameter.
type TLV struct {
	Tag   uint16
	Value []byte
}

// FindTLV returns the value of the first parameter with tag.
func FindTLV(tlvs []TLV, tag uint16) ([]byte, bool) {
	for _, t := range tlvs {
		if t.Tag == tag {
			return t.Value, true
		}
	}
	return nil, false
}

// Bind is bind_transmitter, bind_receiver or bind_transceiver depending on ID.
type Bind struct {
	ID               CommandID
	SystemID         string
	Password         string
	SystemType       string
	InterfaceVersion byte
	AddrTON          byte
	AddrNPI          byte
	AddressRange     string
}

func (b *Bind) CommandID() CommandID { return b.ID }

func (b *Bind) marshal(w *writer) error {
	w.cstring(b.SystemID)
	w.cstring(b.Password)
	w.cstring(b.SystemType)
	w.byte(b.InterfaceVersion)
	w.byte(b.AddrTON)
	w.byte(b.AddrNPI)
	w.cstring(b.AddressRange)
	return nil
}

func (b *Bind) unmarshal(r *reader) error {
	b.SystemID = r.cstring()
	b.Password = r.cstring()
	b.SystemType = r.cstring()
	b.InterfaceVersion = r.byte()
	b.AddrTON = r.byte()
	b.AddrNPI = r.byte()
	b.AddressRange = r.cstring()
	return r.done()
}

// BindResp answers any bind. Error responses may omit the body.
type BindResp struct {
	ID       CommandID
	SystemID string
	TLVs     []TLV
}

func (b *BindResp) CommandID() CommandID { return b.ID }

func (b *BindResp) marshal(w *writer) error {
	w.cstring(b.SystemID)
	w.tlvs(b.TLVs)
	return nil
}

func (b *BindResp) unmarshal(r *reader) error {
	if r.empty() {
		return nil
	}
	b.SystemID = r.cstring()
	b.TLVs = r.tlvs()
	return r.err
}

// ShortMessage holds the fields shared by submit_sm and deliver_sm.
type ShortMessage struct {
	ServiceType          string
	SourceAddrTON        byte
	SourceAddrNPI        byte
	SourceAddr           string
	DestAddrTON          byte
	DestAddrNPI          byte
	DestinationAddr      string
	ESMClass             byte
	ProtocolID           byte
	PriorityFlag         byte
	ScheduleDeliveryTime string
	ValidityPeriod       string
	RegisteredDelivery   byte
	ReplaceIfPresent     byte
	DataCoding           byte
	SMDefaultMsgID       byte
	Message              []byte
	TLVs                 []TLV
}

func (m *ShortMessage) marshal(id CommandID, w *writer) error {
	if len(m.Message) > MaxShortMessageLength {
		return protocolErrorf(id, "short_message is %d bytes, max %d", len(m.Message), MaxShortMessageLength)
	}
	w.cstring(m.ServiceType)
	w.byte(m.SourceAddrTON)
	w.byte(m.SourceAddrNPI)
	w.cstring(m.SourceAddr)
	w.byte(m.DestAddrTON)
	w.byte(m.DestAddrNPI)
	w.cstring(m.DestinationAddr)
	w.byte(m.ESMClass)
	w.byte(m.ProtocolID)
	w.byte(m.PriorityFlag)
	w.cstring(m.ScheduleDeliveryTime)
	w.cstring(m.ValidityPeriod)
	w.byte(m.RegisteredDelivery)
	w.byte(m.ReplaceIfPresent)
	w.byte(m.DataCoding)
	w.byte(m.SMDefaultMsgID)
	w.byte(byte(len(m.Message)))
	w.octets(m.Message)
	w.tlvs(m.TLVs)
	return nil
}

func (m *ShortMessage) unmarshal(r *reader) error {
	m.ServiceType = r.cstring()
	m.SourceAddrTON = r.byte()
	m.SourceAddrNPI = r.byte()
	m.SourceAddr = r.cstring()
	m.DestAddrTON = r.byte()
	m.DestAddrNPI = r.byte()
	m.DestinationAddr = r.cstring()
	m.ESMClass = r.byte()
	m.ProtocolID = r.byte()
	m.PriorityFlag = r.byte()
	m.ScheduleDeliveryTime = r.cstring()
	m.ValidityPeriod = r.cstring()
	m.RegisteredDelivery = r.byte()
	m.ReplaceIfPresent = r.byte()
	m.DataCoding = r.byte()
	m.SMDefaultMsgID = r.byte()
	m.Message = r.octets(int(r.byte()))
	m.TLVs = r.tlvs()
	return r.err
}

// Text returns the short_message, falling back to a message_payload parameter.
func (m *ShortMessage) Text() []byte {
	if len(m.Message) == 0 {
		if v, ok := FindTLV(m.TLVs, TagMessagePayload); ok {
			return v
		}
	}
	return m.Message
}

// SubmitSM is an outbound short message.
type SubmitSM struct {
	ShortMessage
}

func (s *SubmitSM) CommandID() CommandID      { return SubmitSMID }
func (s *SubmitSM) marshal(w *writer) error   { return s.ShortMessage.marshal(SubmitSMID, w) }
func (s *SubmitSM) unmarshal(r *reader) error { return s.ShortMessage.unmarshal(r) }

// DeliverSM is an inbound message, usually a delivery receipt.
type DeliverSM struct {
	ShortMessage
}

func (d *DeliverSM) CommandID() CommandID      { return DeliverSMID }
func (d *DeliverSM) marshal(w *writer) error   { return d.ShortMessage.marshal(DeliverSMID, w) }
func (d *DeliverSM) unmarshal(r *reader) error { return d.ShortMessage.unmarshal(r) }

// IsDeliveryReceipt reports whether esm_class flags the message as an SMSC receipt.
func (d *DeliverSM) IsDeliveryReceipt() bool {
	return d.ESMClass&0x3C == 0x04
}

// SubmitSMResp carries the SMSC-assigned message id.
type SubmitSMResp struct {
	MessageID string
	TLVs      []TLV
}

func (s *SubmitSMResp) CommandID() CommandID { return SubmitSMRespID }

func (s *SubmitSMResp) marshal(w *writer) error {
	w.cstring(s.MessageID)
	w.tlvs(s.TLVs)
	return nil
}

func (s *SubmitSMResp) unmarshal(r *reader) error {
	if r.empty() {
		return nil
	}
	s.MessageID = r.cstring()
	s.TLVs = r.tlvs()
	return r.err
}

// DeliverSMResp acknowledges a deliver_sm. message_id is unused and empty.
type DeliverSMResp struct {
	MessageID string
}

func (d *DeliverSMResp) CommandID() CommandID { return DeliverSMRespID }

func (d *DeliverSMResp) marshal(w *writer) error {
	w.cstring(d.MessageID)
	return nil
}

func (d *DeliverSMResp) unmarshal(r *reader) error {
	if r.empty() {
		return nil
	}
	d.MessageID = r.cstring()
	r.tlvs()
	return r.err
}

// QuerySM asks the SMSC for the state of a previously submitted message.
type QuerySM struct {
	MessageID     string
	SourceAddrTON byte
	SourceAddrNPI byte
	SourceAddr    string
}

func (q *QuerySM) CommandID() CommandID { return QuerySMID }

func (q *QuerySM) marshal(w *writer) error {
	w.cstring(q.MessageID)
	w.byte(q.SourceAddrTON)
	w.byte(q.SourceAddrNPI)
	w.cstring(q.SourceAddr)
	return nil
}

func (q *QuerySM) unmarshal(r *reader) error {
	q.MessageID = r.cstring()
	q.SourceAddrTON = r.byte()
	q.SourceAddrNPI = r.byte()
	q.SourceAddr = r.cstring()
	return r.done()
}

// QuerySMResp reports the message state known to the SMSC.
type QuerySMResp struct {
	MessageID    string
	FinalDate    string
	MessageState MessageState
	ErrorCode    byte
}

func (q *QuerySMResp) CommandID() CommandID { return QuerySMRespID }

func (q *QuerySMResp) marshal(w *writer) error {
	w.cstring(q.MessageID)
	w.cstring(q.FinalDate)
	w.byte(byte(q.MessageState))
	w.byte(q.ErrorCode)
	return nil
}

func (q *QuerySMResp) unmarshal(r *reader) error {
	if r.empty() {
		return nil
	}
	q.MessageID = r.cstring()
	q.FinalDate = r.cstring()
	q.MessageState = MessageState(r.byte())
	q.ErrorCode = r.byte()
	return r.done()
}

type emptyBody struct{}

func (emptyBody) marshal(*writer) error     { return nil }
func (emptyBody) unmarshal(r *reader) error { return r.done() }

// EnquireLink is the keep-alive request either side may send on a bound link.
type EnquireLink struct{ emptyBody }

func (EnquireLink) CommandID() CommandID { return EnquireLinkID }

// EnquireLinkResp acknowledges an EnquireLink.
type EnquireLinkResp struct{ emptyBody }

func (EnquireLinkResp) CommandID() CommandID { return EnquireLinkRespID }

// Unbind asks the peer to end the session.
type Unbind struct{ emptyBody }

func (Unbind) CommandID() CommandID { return UnbindID }

// UnbindResp acknowledges an Unbind; the sender closes the connection after it.
type UnbindResp struct{ emptyBody }

func (UnbindResp) CommandID() CommandID { return UnbindRespID }

// GenericNack rejects a PDU that could not be handled. The header carries
// the reason and echoes the rejected sequence number.
type GenericNack struct{ emptyBody }

func (GenericNack) CommandID() CommandID { return GenericNackID }

// Generic holds any PDU whose command id this package does not model.
type Generic struct {
	ID  CommandID
	Raw []byte
}

func (g *Generic) CommandID() CommandID { return g.ID }

func (g *Generic) marshal(w *writer) error {
	w.octets(g.Raw)
	return nil
}

func (g *Generic) unmarshal(r *reader) error {
	if !r.empty() {
		g.Raw = r.octets(r.remaining())
	}
	return r.err
}

func newBody(id CommandID) Body {
	switch id {
	case BindReceiverID, BindTransmitterID, BindTransceiverID:
		return &Bind{ID: id}
	case BindReceiverRespID, BindTransmitterRespID, BindTransceiverRespID:
		return &BindResp{ID: id}
	case SubmitSMID:
		return &SubmitSM{}
	case SubmitSMRespID:
		return &SubmitSMResp{}
	case DeliverSMID:
		return &DeliverSM{}
	case DeliverSMRespID:
		return &DeliverSMResp{}
	case QuerySMID:
		return &QuerySM{}
	case QuerySMRespID:
		return &QuerySMResp{}
	case EnquireLinkID:
		return &EnquireLink{}
	case EnquireLinkRespID:
		return &EnquireLinkResp{}
	case UnbindID:
		return &Unbind{}
	case UnbindRespID:
		return &UnbindResp{}
	case GenericNackID:
		return &GenericNack{}
	default:
		return &Generic{ID: id}
	}
}
