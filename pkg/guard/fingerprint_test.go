// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFingerprinter_ShortSalt(t *testing.T) {
	_, err := NewFingerprinter([]byte("short"))
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	f, err := NewFingerprinter([]byte("server-side-salt-0001"))
	require.NoError(t, err)

	a := f.Fingerprint(CallerContext{RemoteAddr: "192.0.2.1:4000", UserAgent: "agent"})
	assert.Len(t, a, 64)
	assert.NotContains(t, a, "192.0.2.1")

	tests := []struct {
		name   string
		caller CallerContext
		same   bool
	}{
		{"same host other port", CallerContext{RemoteAddr: "192.0.2.1:5000", UserAgent: "agent"}, true},
		{"host without port", CallerContext{RemoteAddr: "192.0.2.1", UserAgent: "agent"}, true},
		{"other host", CallerContext{RemoteAddr: "192.0.2.2:4000", UserAgent: "agent"}, false},
		{"other agent", CallerContext{RemoteAddr: "192.0.2.1:4000", UserAgent: "agent2"}, false},
		// The separator keeps host/agent boundaries distinct.
		{"shifted boundary", CallerContext{RemoteAddr: "192.0.2.1a", UserAgent: "gent"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.Fingerprint(tt.caller)
			if tt.same {
				assert.Equal(t, a, got)
			} else {
				assert.NotEqual(t, a, got)
			}
		})
	}
}

func TestFingerprint_SaltMatters(t *testing.T) {
	f1, err := NewFingerprinter([]byte("salt-number-one-0000"))
	require.NoError(t, err)
	f2, err := NewFingerprinter([]byte("salt-number-two-0000"))
	require.NoError(t, err)

	c := CallerContext{RemoteAddr: "[2001:db8::1]:443", UserAgent: "agent"}
	assert.NotEqual(t, f1.Fingerprint(c), f2.Fingerprint(c))
	assert.Equal(t, f1.Fingerprint(c), f1.Fingerprint(CallerContext{RemoteAddr: "2001:db8::1", UserAgent: "agent"}))
}
