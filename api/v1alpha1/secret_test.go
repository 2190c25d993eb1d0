// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package v1alpha1

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSecret_Formatting(t *testing.T) {
	s := NewSecret("hunter2")

	assert.Equal(t, "hunter2", s.Reveal())
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", s))
	assert.NotContains(t, fmt.Sprintf("%+v", struct{ P Secret }{s}), "hunter2")
}

func TestSecret_Empty(t *testing.T) {
	var s Secret
	assert.True(t, s.IsEmpty())
	assert.Equal(t, "", s.String())
}

func TestSecret_JSON(t *testing.T) {
	cfg := validConfig()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
	assert.Contains(t, string(data), `"password":"[REDACTED]"`)

	var decoded MailConfig
	require.NoError(t, json.Unmarshal([]byte(`{"host":"smtp.example.com","password":"s3cret"}`), &decoded))
	assert.Equal(t, "s3cret", decoded.Password.Reveal())
}

func TestSecret_YAML(t *testing.T) {
	out, err := yaml.Marshal(map[string]Secret{"password": NewSecret("hunter2")})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")
	assert.Contains(t, string(out), "[REDACTED]")
}

func TestSecret_IsPlaceholder(t *testing.T) {
	assert.True(t, Secret("[REDACTED]").IsPlaceholder())
	assert.True(t, (&MailConfig{Password: NewSecret("hunter2")}).Redacted().Password.IsPlaceholder())
	assert.False(t, NewSecret("hunter2").IsPlaceholder())
	assert.False(t, Secret("").IsPlaceholder())
}
