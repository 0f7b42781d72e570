// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: server/identity.go
// Summary: Host identity presented to viewers for a trust decision.

package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/framegrace/deskview/protocol"
)

// Identity is a self-issued host identity. The fingerprint is the BLAKE3
// digest of the key material.
type Identity struct {
	Host     string
	Subject  string
	Issuer   string
	NotAfter time.Time
	key      []byte
}

// NewIdentity builds an identity over existing key material.
func NewIdentity(host string, key []byte, notAfter time.Time) Identity {
	subject := "CN=" + host
	return Identity{
		Host:     host,
		Subject:  subject,
		Issuer:   subject,
		NotAfter: notAfter,
		key:      append([]byte(nil), key...),
	}
}

// GenerateIdentity creates an identity with fresh random key material.
func GenerateIdentity(host string, validity time.Duration) (Identity, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return Identity{}, fmt.Errorf("server: identity key: %w", err)
	}
	return NewIdentity(host, key, time.Now().Add(validity)), nil
}

// Fingerprint returns the lowercase hex BLAKE3-256 digest of the key.
func (id Identity) Fingerprint() string {
	sum := blake3.Sum256(id.key)
	return hex.EncodeToString(sum[:])
}

// Message converts the identity to its wire form.
func (id Identity) Message() protocol.ServerIdentity {
	msg := protocol.ServerIdentity{
		Host:        id.Host,
		Fingerprint: id.Fingerprint(),
		Subject:     id.Subject,
		Issuer:      id.Issuer,
	}
	if !id.NotAfter.IsZero() {
		msg.NotAfter = id.NotAfter.Unix()
	}
	return msg
}
