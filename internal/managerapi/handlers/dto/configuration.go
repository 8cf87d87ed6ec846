package dto

import (
	"strings"

	"github.com/thrillee/smppgateway/internal/database"
)

// ConfigurationRequest is the body for PUT /configurations/:name. The
// password is write-only and never returned.
type ConfigurationRequest struct {
	Host                    string  `json:"host" binding:"required"`
	Port                    int32   `json:"port" binding:"required"`
	SystemID                string  `json:"system_id" binding:"required"`
	Password                string  `json:"password"`
	SystemType              string  `json:"system_type"`
	InterfaceVersion        int16   `json:"interface_version"`
	BindType                string  `json:"bind_type"`
	AddrTon                 int16   `json:"addr_ton"`
	AddrNpi                 int16   `json:"addr_npi"`
	AddressRange            string  `json:"address_range"`
	DefaultSenderID         *string `json:"default_sender_id"`
	ConnectionTimeoutSecs   int32   `json:"connection_timeout_secs"`
	EnquireLinkIntervalSecs int32   `json:"enquire_link_interval_secs"`
	IsActive                *bool   `json:"is_active"`
	IsDefault               bool    `json:"is_default"`
}

// ToConfiguration builds the row the request describes. Active defaults to true.
func (r ConfigurationRequest) ToConfiguration(name string) database.Configuration {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	bindType := strings.ToLower(strings.TrimSpace(r.BindType))
	if bindType == "" {
		bindType = "transceiver"
	}
	return database.Configuration{
		Name:                    name,
		Host:                    strings.TrimSpace(r.Host),
		Port:                    r.Port,
		SystemID:                r.SystemID,
		Password:                r.Password,
		SystemType:              r.SystemType,
		InterfaceVersion:        r.InterfaceVersion,
		BindType:                bindType,
		AddrTon:                 r.AddrTon,
		AddrNpi:                 r.AddrNpi,
		AddressRange:            r.AddressRange,
		DefaultSenderID:         r.DefaultSenderID,
		ConnectionTimeoutSecs:   r.ConnectionTimeoutSecs,
		EnquireLinkIntervalSecs: r.EnquireLinkIntervalSecs,
		IsActive:                active,
		IsDefault:               r.IsDefault,
	}
}

// UpsertParams converts a validated configuration into store parameters.
func UpsertParams(c database.Configuration) database.UpsertConfigurationParams {
	return database.UpsertConfigurationParams{
		Name:                    c.Name,
		Host:                    c.Host,
		Port:                    c.Port,
		SystemID:                c.SystemID,
		Password:                c.Password,
		SystemType:              c.SystemType,
		InterfaceVersion:        c.InterfaceVersion,
		BindType:                c.BindType,
		AddrTon:                 c.AddrTon,
		AddrNpi:                 c.AddrNpi,
		AddressRange:            c.AddressRange,
		DefaultSenderID:         c.DefaultSenderID,
		ConnectionTimeoutSecs:   c.ConnectionTimeoutSecs,
		EnquireLinkIntervalSecs: c.EnquireLinkIntervalSecs,
		IsActive:                c.IsActive,
		IsDefault:               c.IsDefault,
	}
}
