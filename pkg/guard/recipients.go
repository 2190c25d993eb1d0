// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"fmt"
	"path"
	"strings"
)

// RecipientPolicy limits recipients to addresses matching one of a set of
// glob patterns, e.g. "*@example.com" or "oncall-*@ops.example.com".
// Patterns use path.Match semantics and are matched case-insensitively
// against the whole address. An empty policy allows every address.
type RecipientPolicy struct {
	patterns []string
}

// NewRecipientPolicy rejects patterns path.Match cannot parse.
func NewRecipientPolicy(patterns []string) (*RecipientPolicy, error) {
	p := &RecipientPolicy{}
	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid recipient pattern %q: %w", pattern, err)
		}
		p.patterns = append(p.patterns, pattern)
	}
	return p, nil
}

// Allows reports whether addr may receive notifications.
func (p *RecipientPolicy) Allows(addr string) bool {
	if p == nil || len(p.patterns) == 0 {
		return true
	}
	addr = strings.ToLower(addr)
	for _, pattern := range p.patterns {
		if globMatch(pattern, addr) {
			return true
		}
	}
	return false
}

func globMatch(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == value
	}
	matched, err := path.Match(pattern, value)
	return err == nil && matched
}
