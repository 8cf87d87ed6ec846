package dlr

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Receipt field keys as they appear in the SMSC's free-text payload.
const (
	KeyID         = "id"
	KeySub        = "sub"
	KeyDlvrd      = "dlvrd"
	KeySubmitDate = "submit date"
	KeyDoneDate   = "done date"
	KeyStat       = "stat"
	KeyErr        = "err"
)

var knownKeys = map[string]bool{
	KeyID:         true,
	KeySub:        true,
	KeyDlvrd:      true,
	KeySubmitDate: true,
	KeyDoneDate:   true,
	KeyStat:       true,
	KeyErr:        true,
}

// ParseReceipt extracts the recognised key:value pairs from a receipt body
// such as
//
//	id:123 sub:001 dlvrd:001 submit date:2401011200 done date:2401011201 stat:DELIVRD err:000 text:hi
//
// Keys are matched case-insensitively. Unknown tokens and the free-form
// text field are skipped. Input without any pairs yields an empty map.
func ParseReceipt(text string) map[string]string {
	fields := make(map[string]string)
	tokens := strings.Fields(text)

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		key, value, ok := strings.Cut(tok, ":")
		if !ok {
			// "submit date:..." and "done date:..." span two tokens.
			lower := strings.ToLower(tok)
			if (lower == "submit" || lower == "done") && i+1 < len(tokens) {
				next := tokens[i+1]
				if k, v, found := strings.Cut(next, ":"); found && strings.EqualFold(k, "date") {
					fields[lower+" date"] = v
					i++
				}
			}
			continue
		}

		key = strings.ToLower(key)
		if key == "text" {
			// Everything after text: is message content, never fields.
			break
		}
		if knownKeys[key] {
			fields[key] = value
		}
	}
	return fields
}

// Receipt is the typed view of a parsed receipt.
type Receipt struct {
	ID         string
	Sub        string
	Dlvrd      string
	Stat       string
	Err        string
	SubmitDate *time.Time
	DoneDate   *time.Time
}

// NewReceipt builds a Receipt from parsed fields. Unparseable dates are left nil.
func NewReceipt(fields map[string]string) Receipt {
	r := Receipt{
		ID:    fields[KeyID],
		Sub:   fields[KeySub],
		Dlvrd: fields[KeyDlvrd],
		Stat:  strings.ToUpper(fields[KeyStat]),
		Err:   fields[KeyErr],
	}
	if t, ok := ParseSMPPTime(fields[KeySubmitDate]); ok {
		r.SubmitDate = &t
	}
	if t, ok := ParseSMPPTime(fields[KeyDoneDate]); ok {
		r.DoneDate = &t
	}
	return r
}

// Parse is ParseReceipt followed by NewReceipt.
func Parse(text string) Receipt {
	return NewReceipt(ParseReceipt(text))
}

// ParseSMPPTime parses the YYMMDDhhmm or YYMMDDhhmmss timestamps used in
// receipts. The SMSC's local time is assumed to be UTC.
func ParseSMPPTime(s string) (time.Time, bool) {
	var layout string
	switch len(s) {
	case 10:
		layout = "0601021504"
	case 12:
		layout = "060102150405"
	default:
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(layout, s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// PayloadHash identifies a raw receipt payload for duplicate detection.
func PayloadHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
