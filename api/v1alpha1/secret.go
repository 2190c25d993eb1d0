// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package v1alpha1

import "encoding/json"

const redactedPlaceholder = "[REDACTED]"

// Secret holds a credential. Every formatting and marshalling path renders it
// as [REDACTED]; Reveal is the only way to read the value.
type Secret string

// NewSecret wraps a plain string.
func NewSecret(v string) Secret {
	return Secret(v)
}

// Reveal returns the plain value.
func (s Secret) Reveal() string {
	return string(s)
}

// IsEmpty reports whether no secret is set.
func (s Secret) IsEmpty() bool {
	return s == ""
}

// IsPlaceholder reports whether s is the [REDACTED] marker a redacted
// document carries instead of the real value.
func (s Secret) IsPlaceholder() bool {
	return s == redactedPlaceholder
}

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redactedPlaceholder
}

func (s Secret) GoString() string {
	return s.String()
}

// MarshalJSON never emits the plain value.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the plain value.
func (s *Secret) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Secret(v)
	return nil
}

// MarshalYAML never emits the plain value.
func (s Secret) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// MarshalText is used by text encoders such as zap's reflection encoder.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
