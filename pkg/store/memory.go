// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"sync"

	"github.com/telekom/mailguard/api/v1alpha1"
)

// MemoryStore keeps the configuration in process memory.
type MemoryStore struct {
	mu  sync.RWMutex
	cfg *v1alpha1.MailConfig
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// LoadConfig returns a copy of the stored configuration.
func (s *MemoryStore) LoadConfig(ctx context.Context) (*v1alpha1.MailConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		observe("memory", "load", ErrNotFound)
		return nil, ErrNotFound
	}
	out := *s.cfg
	observe("memory", "load", nil)
	return &out, nil
}

// SaveConfig replaces the stored configuration with a copy of cfg.
func (s *MemoryStore) SaveConfig(ctx context.Context, cfg *v1alpha1.MailConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in := *cfg
	s.mu.Lock()
	s.cfg = &in
	s.mu.Unlock()
	observe("memory", "save", nil)
	return nil
}
