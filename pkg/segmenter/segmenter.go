package segmenter

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/linxGnu/gosmpp/data"
)

const (
	// Max lengths per segment (approximate, depends on exact UDH)
	maxGSM7Single    = 160
	maxGSM7Multipart = 153 // 160 - 7 bytes for UDH
	maxUCS2Single    = 70
	maxUCS2Multipart = 67 // 70 - 3 code units (6 bytes) for UDH

	// Data coding values written to submit_sm.
	CodingDefault byte = 0x00
	CodingUCS2    byte = 0x08
)

// ErrEmptyMessage is returned for a message with no text.
var ErrEmptyMessage = errors.New("message text is empty")

// Encoded is a message body ready for the short_message field.
type Encoded struct {
	Payload    []byte
	DataCoding byte
	Units      int // septets for GSM7, UTF-16 code units for UCS2
	Parts      int // segments a handset would need
}

// Segmenter decides the encoding for a message and how many parts it needs.
type Segmenter interface {
	Encode(message string) (Encoded, error)
}

// DefaultSegmenter uses GSM 7-bit for plain ASCII text and UCS-2 otherwise.
type DefaultSegmenter struct{}

// NewDefaultSegmenter creates a basic segmenter.
func NewDefaultSegmenter() *DefaultSegmenter {
	return &DefaultSegmenter{}
}

// RequiresUCS2 reports whether any character falls outside 7-bit ASCII.
func RequiresUCS2(s string) bool {
	for _, r := range s {
		if r > 0x7F {
			return true
		}
	}
	return false
}

// Encode implements Segmenter.
func (s *DefaultSegmenter) Encode(message string) (Encoded, error) {
	if message == "" {
		return Encoded{}, ErrEmptyMessage
	}

	if !RequiresUCS2(message) {
		payload, err := data.GSM7BIT.Encode(message)
		if err == nil {
			return Encoded{
				Payload:    payload,
				DataCoding: CodingDefault,
				Units:      len(payload),
				Parts:      CountParts(len(payload), false),
			}, nil
		}
		// Some ASCII characters (e.g. backtick) have no GSM 03.38 mapping.
		slog.Debug("GSM7 encoding failed, falling back to UCS2", slog.Any("error", err))
	}

	payload, err := data.UCS2.Encode(message)
	if err != nil {
		return Encoded{}, fmt.Errorf("ucs2 encode: %w", err)
	}
	units := len(payload) / 2
	return Encoded{
		Payload:    payload,
		DataCoding: CodingUCS2,
		Units:      units,
		Parts:      CountParts(units, true),
	}, nil
}

// CountParts returns how many segments units characters occupy.
func CountParts(units int, ucs2 bool) int {
	if units <= 0 {
		return 1
	}
	single, multi := maxGSM7Single, maxGSM7Multipart
	if ucs2 {
		single, multi = maxUCS2Single, maxUCS2Multipart
	}
	if units <= single {
		return 1
	}
	return (units + multi - 1) / multi
}

// Decode turns an inbound short_message back into text. Anything other than
// UCS-2 is treated as ASCII, which is what SMSCs use for receipt text.
func Decode(payload []byte, dataCoding byte) string {
	if dataCoding == CodingUCS2 {
		if text, err := data.UCS2.Decode(payload); err == nil {
			return text
		}
	}
	return string(payload)
}
