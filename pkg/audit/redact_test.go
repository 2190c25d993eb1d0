// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestMaskAddress(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"alice@example.com", "***@example.com"},
		{"a.b+tag@mail.example.org", "***@mail.example.org"},
		{"no-at-sign", "***"},
		{"trailing@", "***"},
		{"ctl@exa\x00mple.com", "***@example.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskAddress(tt.in), tt.in)
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain text", "relay said no", "relay said no"},
		{"embedded address", "550 5.1.1 <bob@example.net> unknown", "550 5.1.1 <***@example.net> unknown"},
		{"password assignment", "password=hunter2 host=x", "password=[REDACTED] host=x"},
		{"token with colon", "Token: abc.def", "Token: [REDACTED]"},
		{"quoted secret", `secret="a b c" rest`, "secret=[REDACTED] rest"},
		{"control characters", "line1\r\nline2\x07", "line1line2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Redact(tt.in))
		})
	}
}

func TestDetail_Render(t *testing.T) {
	d := Detail{
		Recipient: "carol@example.com",
		Host:      "smtp.example.com",
		Port:      587,
		Kind:      "auth",
		Attempts:  1,
		Fields:    []string{"port", "useTLS"},
		Reason:    "login as carol@example.com with password=s3cret failed",
	}
	got := d.Render()

	assert.Equal(t,
		`recipient=***@example.com host=smtp.example.com port=587 kind=auth attempts=1 fields=port,useTLS reason="login as ***@example.com with password=[REDACTED] failed"`,
		got)
	assert.NotContains(t, got, "carol")
	assert.NotContains(t, got, "s3cret")
}

func TestDetail_RenderEmpty(t *testing.T) {
	assert.Equal(t, "", Detail{}.Render())
}

func TestDetail_RenderIsCapped(t *testing.T) {
	got := Detail{Note: strings.Repeat("x", 4*MaxDetailLength)}.Render()
	assert.Equal(t, MaxDetailLength, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}
