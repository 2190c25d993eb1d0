// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package v1alpha1

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMailConfig_Helpers(t *testing.T) {
	cfg := validConfig()

	assert.True(t, cfg.AuthEnabled())
	assert.Equal(t, "smtp.example.com:587", cfg.Address())
	assert.Equal(t, "smtp://relay-user@smtp.example.com:587", cfg.AccountKey())
	assert.Equal(t, "starttls", cfg.Mode())

	cfg.UseTLS, cfg.UseSSL = false, true
	assert.Equal(t, "ssl", cfg.Mode())
	cfg.UseSSL = false
	assert.Equal(t, "none", cfg.Mode())
}

func TestMailConfig_AccountKeyIsCaseInsensitive(t *testing.T) {
	a := validConfig()
	b := validConfig()
	b.Host = "SMTP.Example.COM"
	b.Username = "Relay-User"
	assert.Equal(t, a.AccountKey(), b.AccountKey())
}

func TestMailConfig_Redacted(t *testing.T) {
	cfg := validConfig()
	red := cfg.Redacted()

	assert.Equal(t, "[REDACTED]", red.Password.Reveal())
	assert.Equal(t, "hunter2", cfg.Password.Reveal(), "original must be untouched")

	cfg.Password = ""
	assert.True(t, cfg.Redacted().Password.IsEmpty())
}

func TestIsBlockedPort(t *testing.T) {
	for _, p := range []int{21, 22, 23, 53, 80, 110, 143, 443, 993, 995} {
		assert.True(t, IsBlockedPort(p), "port %d", p)
	}
	for _, p := range []int{25, 465, 587, 2525} {
		assert.False(t, IsBlockedPort(p), "port %d", p)
	}
}
