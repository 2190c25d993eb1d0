// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package v1alpha1

import (
	"fmt"
	"strings"
)

// MailConfig is the email delivery configuration used to reach the upstream relay.
// It is only ever replaced as a whole through the guard's config-change operation.
type MailConfig struct {
	// Host is the relay hostname. DNS-safe characters only, at most 253 characters.
	Host string `json:"host"`

	// Port is the relay port. Ports of well-known non-mail services are refused
	// unless AllowBlockedPort is set.
	Port int `json:"port"`

	// UseTLS upgrades a plain connection with STARTTLS before authentication.
	UseTLS bool `json:"useTLS"`

	// UseSSL wraps the socket in TLS before any protocol exchange (implicit TLS).
	// Mutually exclusive with UseTLS.
	UseSSL bool `json:"useSSL"`

	// Username for SMTP AUTH. Empty disables authentication.
	Username string `json:"username,omitempty"`

	// Password for SMTP AUTH.
	Password Secret `json:"password,omitempty"`

	// FromAddress is the envelope and header sender.
	FromAddress string `json:"fromAddress"`

	// FromName is the display name of the sender. At most 78 characters.
	FromName string `json:"fromName,omitempty"`

	// AllowBlockedPort explicitly permits a port from BlockedPorts.
	AllowBlockedPort bool `json:"allowBlockedPort,omitempty"`

	// CertificateAuthority is an optional PEM bundle trusted in addition to the
	// system roots. It never disables certificate verification.
	CertificateAuthority string `json:"certificateAuthority,omitempty"`
}

// OutboundMessage is a single notification addressed to one recipient.
type OutboundMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	ReplyTo string `json:"replyTo,omitempty"`
}

const (
	// MaxHostLength is the maximum length of a relay hostname.
	MaxHostLength = 253
	// MaxFromNameLength is the longest display name that fits a folded header line.
	MaxFromNameLength = 78
	// MaxSubjectLength bounds the subject header.
	MaxSubjectLength = 998
	// DefaultMaxBodyBytes is the default upper bound for a message body.
	DefaultMaxBodyBytes = 1 << 20
)

// BlockedPorts are ports of services that must never be used as a mail relay.
var BlockedPorts = map[int]string{
	21:  "ftp",
	22:  "ssh",
	23:  "telnet",
	53:  "dns",
	80:  "http",
	110: "pop3",
	143: "imap",
	443: "https",
	993: "imaps",
	995: "pop3s",
}

// IsBlockedPort reports whether port belongs to BlockedPorts.
func IsBlockedPort(port int) bool {
	_, ok := BlockedPorts[port]
	return ok
}

// AuthEnabled returns true if SMTP authentication is configured.
func (c *MailConfig) AuthEnabled() bool {
	return c.Username != "" && !c.Password.IsEmpty()
}

// Address returns host:port of the relay.
func (c *MailConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AccountKey identifies the relay account a lockout applies to.
func (c *MailConfig) AccountKey() string {
	return strings.ToLower(fmt.Sprintf("smtp://%s@%s:%d", c.Username, c.Host, c.Port))
}

// Redacted returns a copy that is safe to hand back to API callers.
func (c *MailConfig) Redacted() *MailConfig {
	out := *c
	if !out.Password.IsEmpty() {
		out.Password = Secret(redactedPlaceholder)
	}
	return &out
}

// Mode names the encryption mode for logs.
func (c *MailConfig) Mode() string {
	switch {
	case c.UseSSL:
		return "ssl"
	case c.UseTLS:
		return "starttls"
	default:
		return "none"
	}
}
