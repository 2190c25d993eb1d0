// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxDetailLength caps the rendered detail string in runes.
const MaxDetailLength = 512

const redacted = "[REDACTED]"

var (
	emailPattern  = regexp.MustCompile(`[^\s@<>"'(),;:=]+@([A-Za-z0-9.-]+)`)
	secretPattern = regexp.MustCompile(`(?i)\b(password|passwd|secret|token|apikey|api_key)(\s*[=:]\s*)("[^"]*"|'[^']*'|\S+)`)
)

// Detail carries the facts worth keeping about an operation. There is no
// field for message bodies or passwords; free text in Reason and Note is
// redacted before it is persisted.
type Detail struct {
	Recipient string
	Host      string
	Port      int
	// Kind is the internal error classification, e.g. "auth" or "timeout".
	Kind       string
	Attempts   int
	RetryAfter int
	Fields     []string
	Reason     string
	Note       string
}

// Render returns the redacted, length-capped key=value form of d.
func (d Detail) Render() string {
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}

	add("recipient", MaskAddress(d.Recipient))
	add("host", Redact(d.Host))
	if d.Port > 0 {
		add("port", strconv.Itoa(d.Port))
	}
	add("kind", Redact(d.Kind))
	if d.Attempts > 0 {
		add("attempts", strconv.Itoa(d.Attempts))
	}
	if d.RetryAfter > 0 {
		add("retryAfter", strconv.Itoa(d.RetryAfter)+"s")
	}
	if len(d.Fields) > 0 {
		add("fields", Redact(strings.Join(d.Fields, ",")))
	}
	add("reason", quoteIfSpaced(Redact(d.Reason)))
	add("note", quoteIfSpaced(Redact(d.Note)))

	return truncate(strings.Join(parts, " "), MaxDetailLength)
}

// MaskAddress reduces an e-mail address to ***@domain. Anything without a
// usable domain collapses to "***".
func MaskAddress(address string) string {
	if address == "" {
		return ""
	}
	at := strings.LastIndexByte(address, '@')
	if at < 0 || at == len(address)-1 {
		return "***"
	}
	return "***@" + stripControl(address[at+1:])
}

// Redact masks embedded e-mail addresses and secret assignments and drops
// control characters.
func Redact(s string) string {
	if s == "" {
		return ""
	}
	s = stripControl(s)
	s = secretPattern.ReplaceAllString(s, "${1}${2}"+redacted)
	s = emailPattern.ReplaceAllString(s, "***@${1}")
	return s
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
}

func quoteIfSpaced(s string) string {
	if strings.ContainsAny(s, " \t") {
		return strconv.Quote(s)
	}
	return s
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-3]) + "..."
}
