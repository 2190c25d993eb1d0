// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/telekom/mailguard/api/v1alpha1"
	"github.com/telekom/mailguard/pkg/metrics"
)

// ErrNotFound is returned by LoadConfig when no configuration was saved yet.
var ErrNotFound = errors.New("mail configuration not found")

// ConfigStore loads and replaces the active mail configuration. Saving always
// replaces the whole document.
type ConfigStore interface {
	LoadConfig(ctx context.Context) (*v1alpha1.MailConfig, error)
	SaveConfig(ctx context.Context, cfg *v1alpha1.MailConfig) error
}

// document is the persisted form. Its top-level Password shadows the
// embedded Secret so the stored JSON carries the real value.
type document struct {
	v1alpha1.MailConfig
	Password string `json:"password,omitempty"`
}

func encode(cfg *v1alpha1.MailConfig) ([]byte, error) {
	doc := document{MailConfig: *cfg, Password: cfg.Password.Reveal()}
	doc.MailConfig.Password = ""
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mail configuration: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*v1alpha1.MailConfig, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode mail configuration: %w", err)
	}
	cfg := doc.MailConfig
	cfg.Password = v1alpha1.NewSecret(doc.Password)
	return &cfg, nil
}

func observe(backend, op string, err error) {
	result := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	metrics.ConfigStoreOperations.WithLabelValues(backend, op, result).Inc()
}
