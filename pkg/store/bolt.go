// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/telekom/mailguard/api/v1alpha1"
)

var (
	bucketName = []byte("mailguard")
	configKey  = []byte("mail-config")
)

// BoltStore keeps the configuration in a local bbolt database. The file is
// created with mode 0600 because it holds the relay password.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open config database %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize config database: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// LoadConfig reads the stored configuration.
func (s *BoltStore) LoadConfig(ctx context.Context) (cfg *v1alpha1.MailConfig, err error) {
	defer func() { observe("bolt", "load", err) }()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(configKey)
		if v == nil {
			return ErrNotFound
		}
		// v is only valid inside the transaction.
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decode(data)
}

// SaveConfig replaces the stored configuration in a single transaction.
func (s *BoltStore) SaveConfig(ctx context.Context, cfg *v1alpha1.MailConfig) (err error) {
	defer func() { observe("bolt", "save", err) }()
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encode(cfg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(configKey, data)
	})
}

// Path returns the database file path.
func (s *BoltStore) Path() string {
	return s.db.Path()
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
