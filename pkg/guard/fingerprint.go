// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// MinSaltLength is the shortest accepted fingerprint salt.
const MinSaltLength = 16

// CallerContext is what the routing layer knows about the caller.
type CallerContext struct {
	RemoteAddr string
	UserAgent  string
}

// Fingerprinter derives stable, non-reversible caller identifiers.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter keys a BLAKE2b-256 MAC with the SHA-256 of salt.
func NewFingerprinter(salt []byte) (*Fingerprinter, error) {
	if len(salt) < MinSaltLength {
		return nil, errors.New("fingerprint salt must be at least 16 bytes")
	}
	key := sha256.Sum256(salt)
	return &Fingerprinter{key: key[:]}, nil
}

// Fingerprint returns the hex MAC of the caller's host and user agent. The
// port of RemoteAddr is ignored so reconnects keep the same fingerprint.
func (f *Fingerprinter) Fingerprint(c CallerContext) string {
	h, err := blake2b.New256(f.key)
	if err != nil {
		// Only possible with a key longer than 64 bytes.
		panic(err)
	}
	h.Write([]byte(hostOnly(c.RemoteAddr)))
	h.Write([]byte{0})
	h.Write([]byte(c.UserAgent))
	return hex.EncodeToString(h.Sum(nil))
}

func hostOnly(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
