// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package v1alpha1

import (
	"crypto/x509"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

const (
	maxLocalPartLength = 64
	maxDomainLength    = 255
	maxAddressLength   = 320
)

// ErrInvalidAddress is matched by every *AddressError.
var ErrInvalidAddress = errors.New("invalid email address")

// AddressError describes why an address was rejected. The address itself is
// never part of the message.
type AddressError struct {
	Reason string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidAddress.Error(), e.Reason)
}

// Is makes errors.Is(err, ErrInvalidAddress) hold.
func (e *AddressError) Is(target error) bool {
	return target == ErrInvalidAddress
}

// dot-atom local part, no quoted strings or comments.
var localPartPattern = regexp.MustCompile("^[A-Za-z0-9!#$%&'*+/=?^_`{|}~-]+(\\.[A-Za-z0-9!#$%&'*+/=?^_`{|}~-]+)*$")

// ValidationResult holds the outcome of validating a MailConfig. All
// violations are collected so callers can present complete feedback.
type ValidationResult struct {
	// Errors contains all validation errors found
	Errors field.ErrorList
	// Warnings contains non-fatal validation warnings
	Warnings []string
}

// IsValid returns true if no errors were found during validation
func (vr *ValidationResult) IsValid() bool {
	return len(vr.Errors) == 0
}

// ErrorMessages returns one human-readable line per error.
func (vr *ValidationResult) ErrorMessages() []string {
	if len(vr.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(vr.Errors))
	for _, e := range vr.Errors {
		msgs = append(msgs, e.Error())
	}
	return msgs
}

// ValidateEmail checks address against a conservative RFC 5321 shape and
// rejects anything that could inject a header.
func ValidateEmail(address string) error {
	if address == "" {
		return &AddressError{Reason: "address is empty"}
	}
	if strings.ContainsAny(address, "\r\n\x00") {
		return &AddressError{Reason: "address contains CR, LF or NUL"}
	}
	if len(address) > maxAddressLength {
		return &AddressError{Reason: fmt.Sprintf("address exceeds %d characters", maxAddressLength)}
	}
	if n := strings.Count(address, "@"); n != 1 {
		return &AddressError{Reason: fmt.Sprintf("address must contain exactly one @, found %d", n)}
	}

	local, domain, _ := strings.Cut(address, "@")
	switch {
	case local == "":
		return &AddressError{Reason: "local part is empty"}
	case len(local) > maxLocalPartLength:
		return &AddressError{Reason: fmt.Sprintf("local part exceeds %d characters", maxLocalPartLength)}
	case !localPartPattern.MatchString(local):
		return &AddressError{Reason: "local part contains invalid characters"}
	}

	if domain == "" {
		return &AddressError{Reason: "domain is empty"}
	}
	if len(domain) > maxDomainLength {
		return &AddressError{Reason: fmt.Sprintf("domain exceeds %d characters", maxDomainLength)}
	}
	labels := strings.Split(strings.ToLower(domain), ".")
	if len(labels) < 2 {
		return &AddressError{Reason: "domain must contain at least one dot"}
	}
	for _, label := range labels {
		if msgs := validation.IsDNS1123Label(label); len(msgs) > 0 {
			return &AddressError{Reason: "domain label is invalid: " + msgs[0]}
		}
	}
	return nil
}

// ValidateHeader rejects header values that could break out of their header
// line. CR and LF are never stripped silently, they fail validation. The
// value is also checked after entity decoding, since sanitization decodes
// entities like &#13; before escaping.
func ValidateHeader(name, value string) error {
	for _, v := range []string{value, html.UnescapeString(value)} {
		if strings.ContainsAny(v, "\r\n") {
			return fmt.Errorf("%s must not contain CR or LF", name)
		}
		for _, r := range v {
			if r != '\t' && unicode.IsControl(r) {
				return fmt.Errorf("%s must not contain control characters", name)
			}
		}
	}
	if len(value) > MaxSubjectLength {
		return fmt.Errorf("%s exceeds %d bytes", name, MaxSubjectLength)
	}
	return nil
}

// ValidateMessage validates an outbound message before sanitization.
func ValidateMessage(msg *OutboundMessage, maxBodyBytes int) field.ErrorList {
	var allErrs field.ErrorList
	if msg == nil {
		return append(allErrs, field.Required(field.NewPath(""), "message cannot be nil"))
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}

	if err := ValidateEmail(msg.To); err != nil {
		allErrs = append(allErrs, field.Invalid(field.NewPath("to"), "<recipient>", err.Error()))
	}
	if msg.ReplyTo != "" {
		if err := ValidateEmail(msg.ReplyTo); err != nil {
			allErrs = append(allErrs, field.Invalid(field.NewPath("replyTo"), "<reply-to>", err.Error()))
		}
	}
	if strings.TrimSpace(msg.Subject) == "" {
		allErrs = append(allErrs, field.Required(field.NewPath("subject"), "subject is required"))
	} else if err := ValidateHeader("subject", msg.Subject); err != nil {
		allErrs = append(allErrs, field.Invalid(field.NewPath("subject"), "<subject>", err.Error()))
	}
	if len(msg.Body) > maxBodyBytes {
		allErrs = append(allErrs, field.TooLong(field.NewPath("body"), "<body>", maxBodyBytes))
	}
	return allErrs
}

// ValidateConfig checks every field of cfg and returns all violations.
func ValidateConfig(cfg *MailConfig) *ValidationResult {
	result := &ValidationResult{
		Errors:   field.ErrorList{},
		Warnings: []string{},
	}

	if cfg == nil {
		result.Errors = append(result.Errors, field.Required(field.NewPath(""), "mail config cannot be nil"))
		return result
	}

	// Host
	hostPath := field.NewPath("host")
	switch {
	case cfg.Host == "":
		result.Errors = append(result.Errors, field.Required(hostPath, "SMTP host is required"))
	case len(cfg.Host) > MaxHostLength:
		result.Errors = append(result.Errors, field.TooLong(hostPath, "<host>", MaxHostLength))
	default:
		for _, msg := range validation.IsDNS1123Subdomain(strings.ToLower(cfg.Host)) {
			result.Errors = append(result.Errors, field.Invalid(hostPath, cfg.Host, "host must use DNS-safe characters: "+msg))
		}
	}

	// Port
	portPath := field.NewPath("port")
	if msgs := validation.IsValidPortNum(cfg.Port); len(msgs) > 0 {
		for _, msg := range msgs {
			result.Errors = append(result.Errors, field.Invalid(portPath, cfg.Port, msg))
		}
	} else if svc, blocked := BlockedPorts[cfg.Port]; blocked {
		if cfg.AllowBlockedPort {
			result.Warnings = append(result.Warnings, fmt.Sprintf("port %d (%s) is normally blocked and was explicitly allowed", cfg.Port, svc))
		} else {
			result.Errors = append(result.Errors, field.Forbidden(portPath, fmt.Sprintf("port %d (%s) is blocked for mail relays", cfg.Port, svc)))
		}
	}

	// Encryption
	if cfg.UseTLS && cfg.UseSSL {
		result.Errors = append(result.Errors, field.Invalid(field.NewPath("useSSL"), true, "useTLS and useSSL are mutually exclusive"))
	}
	if !cfg.UseTLS && !cfg.UseSSL {
		result.Errors = append(result.Errors, field.Required(field.NewPath("useTLS"), "encryption is mandatory: enable useTLS or useSSL"))
	}

	// Credentials
	if cfg.Username != "" && cfg.Password.IsEmpty() {
		result.Errors = append(result.Errors, field.Required(field.NewPath("password"), "password must be specified when username is provided"))
	}
	if !cfg.Password.IsEmpty() && cfg.Username == "" {
		result.Errors = append(result.Errors, field.Required(field.NewPath("username"), "username must be specified when password is provided"))
	}
	if strings.ContainsAny(cfg.Username, "\r\n\x00") {
		result.Errors = append(result.Errors, field.Invalid(field.NewPath("username"), "<username>", "username must not contain CR, LF or NUL"))
	}
	if cfg.Username == "" && cfg.Password.IsEmpty() {
		result.Warnings = append(result.Warnings, "no SMTP authentication configured - ensure the relay allows unauthenticated submission")
	}

	// Sender
	fromPath := field.NewPath("fromAddress")
	if cfg.FromAddress == "" {
		result.Errors = append(result.Errors, field.Required(fromPath, "sender address is required"))
	} else if err := ValidateEmail(cfg.FromAddress); err != nil {
		result.Errors = append(result.Errors, field.Invalid(fromPath, "<fromAddress>", err.Error()))
	}

	namePath := field.NewPath("fromName")
	if n := utf8.RuneCountInString(cfg.FromName); n > MaxFromNameLength {
		result.Errors = append(result.Errors, field.TooLong(namePath, "<fromName>", MaxFromNameLength))
	}
	if strings.IndexFunc(cfg.FromName, unicode.IsControl) >= 0 {
		result.Errors = append(result.Errors, field.Invalid(namePath, "<fromName>", "from name must not contain control characters"))
	}

	if cfg.CertificateAuthority != "" {
		if !x509.NewCertPool().AppendCertsFromPEM([]byte(cfg.CertificateAuthority)) {
			result.Errors = append(result.Errors, field.Invalid(field.NewPath("certificateAuthority"), "<pem>", "no PEM certificates could be parsed"))
		}
	}

	return result
}
