package pdu

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Encode serializes p and fills in Header.CommandLength and Header.CommandID.
// A nil Body is encoded as a header-only PDU, as used by error responses.
func Encode(p *PDU) ([]byte, error) {
	w := &writer{}
	w.buf.Write(make([]byte, HeaderLength))

	if p.Body != nil {
		p.Header.CommandID = p.Body.CommandID()
		if err := p.Body.marshal(w); err != nil {
			return nil, err
		}
	}

	length := w.buf.Len()
	if length > MaxPDULength {
		return nil, protocolErrorf(p.Header.CommandID, "encoded length %d exceeds %d", length, MaxPDULength)
	}
	p.Header.CommandLength = uint32(length)

	out := w.buf.Bytes()
	binary.BigEndian.PutUint32(out[0:4], p.Header.CommandLength)
	binary.BigEndian.PutUint32(out[4:8], uint32(p.Header.CommandID))
	binary.BigEndian.PutUint32(out[8:12], uint32(p.Header.CommandStatus))
	binary.BigEndian.PutUint32(out[12:16], p.Header.SequenceNumber)
	return out, nil
}

// Decode parses one PDU from the start of b. It returns ErrIncomplete when b
// is shorter than the announced command_length and a *ProtocolError when the
// length is out of range or the body is malformed. Bytes past the first PDU
// are ignored.
func Decode(b []byte) (*PDU, error) {
	return decode(b, MaxPDULength)
}

func decode(b []byte, maxLength uint32) (*PDU, error) {
	if len(b) < 4 {
		return nil, ErrIncomplete
	}
	length := binary.BigEndian.Uint32(b[0:4])
	if err := checkLength(length, maxLength); err != nil {
		return nil, err
	}
	if uint32(len(b)) < length {
		return nil, ErrIncomplete
	}
	return decodeFrame(b[:length])
}

func checkLength(length, maxLength uint32) error {
	if length < HeaderLength {
		return protocolErrorf(0, "command_length %d is shorter than the header", length)
	}
	if maxLength > 0 && length > maxLength {
		return protocolErrorf(0, "command_length %d exceeds limit %d", length, maxLength)
	}
	return nil
}

func decodeFrame(frame []byte) (*PDU, error) {
	h := Header{
		CommandLength:  binary.BigEndian.Uint32(frame[0:4]),
		CommandID:      CommandID(binary.BigEndian.Uint32(frame[4:8])),
		CommandStatus:  CommandStatus(binary.BigEndian.Uint32(frame[8:12])),
		SequenceNumber: binary.BigEndian.Uint32(frame[12:16]),
	}

	body := newBody(h.CommandID)
	r := &reader{data: frame[HeaderLength:], id: h.CommandID}
	if err := body.unmarshal(r); err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			perr.SequenceNumber = h.SequenceNumber
			perr.Framed = true
		}
		return nil, err
	}
	return &PDU{Header: h, Body: body}, nil
}

// Reader frames PDUs off a byte stream, tolerating partial reads.
type Reader struct {
	// MaxLength bounds command_length; zero disables the check.
	MaxLength uint32

	r      io.Reader
	header [HeaderLength]byte
}

// NewReader returns a Reader bounded by MaxPDULength.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), MaxLength: MaxPDULength}
}

// Read blocks until a full PDU is available. io.EOF is returned only when the
// stream ends cleanly between PDUs.
func (r *Reader) Read() (*PDU, error) {
	if _, err := io.ReadFull(r.r, r.header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(r.header[0:4])
	if err := checkLength(length, r.MaxLength); err != nil {
		return nil, err
	}

	frame := make([]byte, length)
	copy(frame, r.header[:])
	if _, err := io.ReadFull(r.r, frame[HeaderLength:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading %d byte pdu body: %w", length-HeaderLength, err)
	}
	return decodeFrame(frame)
}

type writer struct {
	buf bytes.Buffer
}

func (w *writer) byte(b byte) {
	w.buf.WriteByte(b)
}

func (w *writer) cstring(s string) {
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
}

func (w *writer) octets(b []byte) {
	w.buf.Write(b)
}

func (w *writer) tlvs(tlvs []TLV) {
	var hdr [4]byte
	for _, t := range tlvs {
		binary.BigEndian.PutUint16(hdr[0:2], t.Tag)
		binary.BigEndian.PutUint16(hdr[2:4], uint16(len(t.Value)))
		w.buf.Write(hdr[:])
		w.buf.Write(t.Value)
	}
}

// reader records the first error and turns every later call into a no-op, so
// unmarshal methods can read field by field and check once at the end.
type reader struct {
	data []byte
	pos  int
	id   CommandID
	err  error
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) empty() bool {
	return r.err == nil && r.remaining() == 0
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = protocolErrorf(r.id, format, args...)
	}
}

func (r *reader) byte() byte {
	if r.err != nil {
		return 0
	}
	if r.remaining() < 1 {
		r.fail("body truncated at offset %d", r.pos)
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *reader) cstring() string {
	if r.err != nil {
		return ""
	}
	i := bytes.IndexByte(r.data[r.pos:], 0)
	if i < 0 {
		r.fail("unterminated C-octet string at offset %d", r.pos)
		return ""
	}
	s := string(r.data[r.pos : r.pos+i])
	r.pos += i + 1
	return s
}

func (r *reader) octets(n int) []byte {
	if r.err != nil || n == 0 {
		return nil
	}
	if r.remaining() < n {
		r.fail("need %d bytes at offset %d, have %d", n, r.pos, r.remaining())
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+n])
	r.pos += n
	return b
}

func (r *reader) tlvs() []TLV {
	var out []TLV
	for r.err == nil && r.remaining() > 0 {
		if r.remaining() < 4 {
			r.fail("truncated optional parameter header at offset %d", r.pos)
			return nil
		}
		tag := binary.BigEndian.Uint16(r.data[r.pos : r.pos+2])
		length := int(binary.BigEndian.Uint16(r.data[r.pos+2 : r.pos+4]))
		r.pos += 4
		value := r.octets(length)
		if r.err != nil {
			return nil
		}
		out = append(out, TLV{Tag: tag, Value: value})
	}
	return out
}

func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.remaining() > 0 {
		return protocolErrorf(r.id, "%d unexpected trailing bytes", r.remaining())
	}
	return nil
}
