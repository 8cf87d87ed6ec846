package mno

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/thrillee/smppgateway/internal/config"
	"github.com/thrillee/smppgateway/internal/database"
	"github.com/thrillee/smppgateway/pkg/codes"
	"github.com/thrillee/smppgateway/pkg/pdu"
)

const (
	defaultConnectTimeout      = 30 * time.Second
	defaultEnquireLinkInterval = 30 * time.Second
	defaultUnbindTimeout       = 5 * time.Second

	// Stored timeouts below these floors are rejected; zero means default.
	minConnectionTimeoutSecs   = 5
	minEnquireLinkIntervalSecs = 10
)

// SessionConfig is the read-only snapshot a Session is built from.
type SessionConfig struct {
	Name             string
	Host             string
	Port             int
	SystemID         string
	Password         string `json:"-"`
	SystemType       string
	BindType         string
	InterfaceVersion byte
	AddrTON          byte
	AddrNPI          byte
	AddressRange     string

	ConnectTimeout      time.Duration // dial and bind
	RequestTimeout      time.Duration // default wait for any response
	EnquireLinkInterval time.Duration // zero disables keep-alive
	UnbindTimeout       time.Duration
	MaxPDULength        uint32
}

// Address returns host:port.
func (c SessionConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// BindCommand maps the bind type to its command id.
func (c SessionConfig) BindCommand() pdu.CommandID {
	switch normalizeBindType(c.BindType) {
	case codes.BindTransmitter:
		return pdu.BindTransmitterID
	case codes.BindReceiver:
		return pdu.BindReceiverID
	default:
		return pdu.BindTransceiverID
	}
}

// CanSubmit reports whether the bind type allows outbound messages.
func (c SessionConfig) CanSubmit() bool {
	return normalizeBindType(c.BindType) != codes.BindReceiver
}

// NewSessionConfig validates a stored configuration and applies defaults.
func NewSessionConfig(c database.Configuration, sc config.SessionConfig) (SessionConfig, error) {
	if err := ValidateConfiguration(c); err != nil {
		return SessionConfig{}, err
	}

	cfg := SessionConfig{
		Name:                c.Name,
		Host:                c.Host,
		Port:                int(c.Port),
		SystemID:            c.SystemID,
		Password:            c.Password,
		SystemType:          c.SystemType,
		BindType:            normalizeBindType(c.BindType),
		InterfaceVersion:    byte(c.InterfaceVersion),
		AddrTON:             byte(c.AddrTon),
		AddrNPI:             byte(c.AddrNpi),
		AddressRange:        c.AddressRange,
		ConnectTimeout:      time.Duration(c.ConnectionTimeoutSecs) * time.Second,
		EnquireLinkInterval: time.Duration(c.EnquireLinkIntervalSecs) * time.Second,
		UnbindTimeout:       sc.UnbindTimeout,
		MaxPDULength:        sc.MaxPDULength,
	}
	if cfg.InterfaceVersion == 0 {
		cfg.InterfaceVersion = pdu.InterfaceVersion34
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.EnquireLinkInterval <= 0 {
		cfg.EnquireLinkInterval = defaultEnquireLinkInterval
	}
	if cfg.UnbindTimeout <= 0 {
		cfg.UnbindTimeout = defaultUnbindTimeout
	}
	if cfg.MaxPDULength == 0 {
		cfg.MaxPDULength = pdu.MaxPDULength
	}
	cfg.RequestTimeout = cfg.ConnectTimeout
	return cfg, nil
}

// WithDefaults fills the optional fields a caller left at zero, so the
// stored row carries the values a session will actually use.
func WithDefaults(c database.Configuration) database.Configuration {
	if c.InterfaceVersion == 0 {
		c.InterfaceVersion = int16(pdu.InterfaceVersion34)
	}
	if c.ConnectionTimeoutSecs == 0 {
		c.ConnectionTimeoutSecs = int32(defaultConnectTimeout / time.Second)
	}
	if c.EnquireLinkIntervalSecs == 0 {
		c.EnquireLinkIntervalSecs = int32(defaultEnquireLinkInterval / time.Second)
	}
	if strings.TrimSpace(c.BindType) == "" {
		c.BindType = codes.BindTransceiver
	}
	return c
}

// ValidateConfiguration checks the fields a bind cannot work without.
func ValidateConfiguration(c database.Configuration) error {
	switch {
	case strings.TrimSpace(c.Name) == "":
		return &ConfigurationError{Name: c.Name, Reason: "name is required"}
	case strings.TrimSpace(c.Host) == "":
		return &ConfigurationError{Name: c.Name, Reason: "host is required"}
	case c.Port <= 0 || c.Port > 65535:
		return &ConfigurationError{Name: c.Name, Reason: "port must be between 1 and 65535"}
	case c.SystemID == "":
		return &ConfigurationError{Name: c.Name, Reason: "system_id is required"}
	case len(c.SystemID) > 15:
		return &ConfigurationError{Name: c.Name, Reason: "system_id longer than 15 characters"}
	case len(c.Password) > 8:
		return &ConfigurationError{Name: c.Name, Reason: "password longer than 8 characters"}
	case len(c.SystemType) > 12:
		return &ConfigurationError{Name: c.Name, Reason: "system_type longer than 12 characters"}
	case c.ConnectionTimeoutSecs < 0 || c.EnquireLinkIntervalSecs < 0:
		return &ConfigurationError{Name: c.Name, Reason: "timeouts must not be negative"}
	case c.ConnectionTimeoutSecs > 0 && c.ConnectionTimeoutSecs < minConnectionTimeoutSecs:
		return &ConfigurationError{Name: c.Name, Reason: "connection_timeout_secs must be at least " + strconv.Itoa(minConnectionTimeoutSecs)}
	case c.EnquireLinkIntervalSecs > 0 && c.EnquireLinkIntervalSecs < minEnquireLinkIntervalSecs:
		return &ConfigurationError{Name: c.Name, Reason: "enquire_link_interval_secs must be at least " + strconv.Itoa(minEnquireLinkIntervalSecs)}
	}
	if normalizeBindType(c.BindType) == "" {
		return &ConfigurationError{Name: c.Name, Reason: "unsupported bind type " + strconv.Quote(c.BindType)}
	}
	return nil
}

func normalizeBindType(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "trx", "transceiver":
		return codes.BindTransceiver
	case "tx", "transmitter":
		return codes.BindTransmitter
	case "rx", "receiver":
		return codes.BindReceiver
	default:
		return ""
	}
}
