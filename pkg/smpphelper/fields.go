package smpphelper

import (
	"strings"
	"time"

	"github.com/thrillee/smppgateway/pkg/codes"
)

const (
	// esm_class default messaging mode, normal message type.
	ESMClassDefault byte = 0x00

	// data_coding bit that marks a message class is present; class 0 is flash.
	dataCodingClassPresent byte = 0x10

	// registered_delivery: receipt on final outcome, success or failure.
	RegisteredDeliveryFinal byte = 0x01
)

// FormatAbsoluteTime renders t as an SMPP absolute time (YYMMDDhhmmsstnnp)
// in UTC. A zero time yields the empty string, meaning "not set".
func FormatAbsoluteTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("060102150405") + "000+"
}

// DataCodingFor applies the message type to a base data_coding value.
// Flash messages are sent as message class 0.
func DataCodingFor(base byte, messageType string) byte {
	if messageType == codes.MsgTypeFlash {
		return dataCodingClassPresent | (base & 0x0C)
	}
	return base
}

// RegisteredDelivery maps a receipt request flag onto the registered_delivery field.
func RegisteredDelivery(requested bool) byte {
	if requested {
		return RegisteredDeliveryFinal
	}
	return 0
}

// Type of number and numbering plan values used for source and destination addresses.
const (
	TONUnknown       byte = 0x00
	TONInternational byte = 0x01
	TONAlphanumeric  byte = 0x05

	NPIUnknown byte = 0x00
	NPIISDN    byte = 0x01
)

// Address normalizes addr for the wire and picks its TON/NPI. A leading '+'
// marks an international number and is dropped; anything that is not all
// digits is treated as an alphanumeric sender.
func Address(addr string) (string, byte, byte) {
	digits, international := strings.CutPrefix(addr, "+")
	if digits == "" || strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return addr, TONAlphanumeric, NPIUnknown
	}
	if international {
		return digits, TONInternational, NPIISDN
	}
	return digits, TONUnknown, NPIISDN
}
