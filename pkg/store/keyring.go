// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/telekom/mailguard/api/v1alpha1"
)

// DefaultKeyringService is the keyring service name used when none is given.
const DefaultKeyringService = "mailguard"

const keyringUser = "smtp-relay-password"

// KeyringStore keeps the relay password in the OS keyring and everything else
// in the wrapped store. The wrapped store never sees the password.
type KeyringStore struct {
	inner   ConfigStore
	service string
}

// NewKeyringStore wraps inner. An empty service means DefaultKeyringService.
func NewKeyringStore(inner ConfigStore, service string) *KeyringStore {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringStore{inner: inner, service: service}
}

// LoadConfig loads the configuration and fills in the password from the keyring.
func (s *KeyringStore) LoadConfig(ctx context.Context) (cfg *v1alpha1.MailConfig, err error) {
	defer func() { observe("keyring", "load", err) }()

	cfg, err = s.inner.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}
	password, err := keyring.Get(s.service, keyringUser)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		if cfg.Username != "" {
			return nil, fmt.Errorf("relay password for %s is missing from the keyring", s.service)
		}
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read relay password from keyring: %w", err)
	}
	cfg.Password = v1alpha1.NewSecret(password)
	return cfg, nil
}

// SaveConfig stores the password in the keyring first, then the rest of the
// configuration in the wrapped store.
func (s *KeyringStore) SaveConfig(ctx context.Context, cfg *v1alpha1.MailConfig) (err error) {
	defer func() { observe("keyring", "save", err) }()
	if err := ctx.Err(); err != nil {
		return err
	}

	if cfg.Password.IsEmpty() {
		if err := keyring.Delete(s.service, keyringUser); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("failed to clear relay password in keyring: %w", err)
		}
	} else if err := keyring.Set(s.service, keyringUser, cfg.Password.Reveal()); err != nil {
		return fmt.Errorf("failed to store relay password in keyring: %w", err)
	}

	rest := *cfg
	rest.Password = ""
	return s.inner.SaveConfig(ctx, &rest)
}
