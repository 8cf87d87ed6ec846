package sms

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/thrillee/smppgateway/pkg/codes"
	"github.com/thrillee/smppgateway/pkg/errormapper"
)

const (
	minPhoneDigits = 7
	maxPriority    = 3
)

var e164 = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)

// priorityTiers are matched case-insensitively before any integer parse.
var priorityTiers = map[string]int16{
	"low":       0,
	"normal":    0,
	"medium":    1,
	"high":      2,
	"urgent":    3,
	"very high": 3,
}

// CleanPhoneNumber strips everything but digits and a leading '+', then
// checks the result looks like an E.164 number of at least 7 digits.
func CleanPhoneNumber(raw string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	phone := b.String()

	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < minPhoneDigits {
		return "", validationErrorf(errormapper.ErrorCodeInvalidMSISDN, "recipient %q has fewer than %d digits", raw, minPhoneDigits)
	}
	if !e164.MatchString(phone) {
		return "", validationErrorf(errormapper.ErrorCodeInvalidMSISDN, "recipient %q is not a valid E.164 number", raw)
	}
	return phone, nil
}

// NormalizePriority maps a named tier or an integer onto the SMPP
// priority_flag range 0..3. Named tiers win; integers are clamped; anything
// else is normal priority.
func NormalizePriority(raw string) int16 {
	s := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	if s == "" {
		return 0
	}
	if p, ok := priorityTiers[s]; ok {
		return p
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		slog.Debug("Unrecognised priority, using normal", slog.String("priority", raw))
		return 0
	}
	return ClampPriority(n)
}

// ClampPriority forces an integer priority into 0..3.
func ClampPriority(n int) int16 {
	switch {
	case n < 0:
		return 0
	case n > maxPriority:
		return maxPriority
	default:
		return int16(n)
	}
}

func normalizeMessageType(t string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "", codes.MsgTypeNormal:
		return codes.MsgTypeNormal, nil
	case codes.MsgTypeFlash:
		return codes.MsgTypeFlash, nil
	default:
		return "", validationErrorf(errormapper.ErrorCodeValidationFailure, "unsupported message type %q", t)
	}
}

func checkBodyLength(body string, max int) error {
	if max > 0 && utf8.RuneCountInString(body) > max {
		return validationErrorf(errormapper.ErrorCodeMessageTooLong, "message body exceeds %d characters", max)
	}
	return nil
}
