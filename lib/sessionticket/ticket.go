// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package sessionticket

import (
	"bytes"
	"crypto/rand"
	"fmt"

	"github.com/zhaohaibin/h2o/lib/secret"
)

// NameSize is the length of a ticket's public name in bytes. The name
// is embedded verbatim in every TLS session ticket the key protects,
// so its size is part of the wire format.
const NameSize = 16

// A Ticket is one generation of session-ticket protection keys. The
// name identifies the generation on the wire; the cipher and MAC keys
// are private and live in scrubbing-protected memory. The validity
// window [NotBefore, NotAfter] is inclusive on both ends and expressed
// in seconds since the Unix epoch.
//
// A Ticket's fields never change after construction. Ownership is
// single-holder: whoever holds the ticket scrubs it when it leaves
// service, after which the key accessors panic.
type Ticket struct {
	name      [NameSize]byte
	cipher    *Cipher
	digest    *Digest
	keys      *secret.Buffer // cipher key followed by MAC key
	notBefore uint64
	notAfter  uint64
}

// New creates a ticket with a fresh random name and fresh random keys
// sized for the given algorithms.
func New(cipher *Cipher, digest *Digest, notBefore, notAfter uint64) (*Ticket, error) {
	if notAfter < notBefore {
		return nil, fmt.Errorf("ticket window [%d, %d] is inverted", notBefore, notAfter)
	}
	keys, err := secret.New(cipher.KeyLength() + digest.BlockSize())
	if err != nil {
		return nil, fmt.Errorf("allocating ticket keys: %w", err)
	}
	if _, err := rand.Read(keys.Bytes()); err != nil {
		keys.Close()
		return nil, fmt.Errorf("generating ticket keys: %w", err)
	}
	t := &Ticket{
		cipher:    cipher,
		digest:    digest,
		keys:      keys,
		notBefore: notBefore,
		notAfter:  notAfter,
	}
	if _, err := rand.Read(t.name[:]); err != nil {
		keys.Close()
		return nil, fmt.Errorf("generating ticket name: %w", err)
	}
	return t, nil
}

// Reconstruct rebuilds a ticket from previously serialized fields. key
// must be the cipher key immediately followed by the MAC key; it is
// copied into protected memory and zeroed in place before Reconstruct
// returns.
func Reconstruct(name [NameSize]byte, cipher *Cipher, digest *Digest, key []byte, notBefore, notAfter uint64) (*Ticket, error) {
	if notAfter < notBefore {
		secret.Zero(key)
		return nil, fmt.Errorf("ticket window [%d, %d] is inverted", notBefore, notAfter)
	}
	want := cipher.KeyLength() + digest.BlockSize()
	if len(key) != want {
		secret.Zero(key)
		return nil, fmt.Errorf("ticket key is %d bytes, want %d for %s/%s", len(key), want, cipher.Name(), digest.Name())
	}
	keys, err := secret.NewFromBytes(key)
	if err != nil {
		secret.Zero(key)
		return nil, fmt.Errorf("allocating ticket keys: %w", err)
	}
	return &Ticket{
		name:      name,
		cipher:    cipher,
		digest:    digest,
		keys:      keys,
		notBefore: notBefore,
		notAfter:  notAfter,
	}, nil
}

// Name returns the ticket's public name.
func (t *Ticket) Name() [NameSize]byte { return t.name }

// Cipher returns the cipher algorithm the ticket's key is sized for.
func (t *Ticket) Cipher() *Cipher { return t.cipher }

// Digest returns the MAC algorithm the ticket's key is sized for.
func (t *Ticket) Digest() *Digest { return t.digest }

// NotBefore returns the first second at which the ticket is valid.
func (t *Ticket) NotBefore() uint64 { return t.notBefore }

// NotAfter returns the last second at which the ticket is valid.
func (t *Ticket) NotAfter() uint64 { return t.notAfter }

// CipherKey returns the cipher key. The slice aliases protected
// memory owned by the ticket: callers must not retain it past the
// operation that needed it, and must not use it after Scrub.
func (t *Ticket) CipherKey() []byte {
	return t.keys.Bytes()[:t.cipher.KeyLength()]
}

// MACKey returns the MAC key, under the same aliasing rules as
// CipherKey.
func (t *Ticket) MACKey() []byte {
	return t.keys.Bytes()[t.cipher.KeyLength():]
}

// ValidAt reports whether now falls inside the ticket's inclusive
// validity window.
func (t *Ticket) ValidAt(now uint64) bool {
	return t.notBefore <= now && now <= t.notAfter
}

// Scrub zeroes the ticket's key material and releases its protected
// memory. The name is cleared as well. Any later key access panics.
func (t *Ticket) Scrub() {
	secret.Zero(t.name[:])
	t.keys.Close()
}

// ScrubAll scrubs every ticket in the slice. Used when a decoded or
// displaced sequence leaves service as a unit.
func ScrubAll(tickets []*Ticket) {
	for _, t := range tickets {
		t.Scrub()
	}
}

// Equal reports whether two tickets carry the same name, algorithms,
// key material, and validity window.
func (t *Ticket) Equal(other *Ticket) bool {
	return t.name == other.name &&
		t.cipher == other.cipher &&
		t.digest == other.digest &&
		t.notBefore == other.notBefore &&
		t.notAfter == other.notAfter &&
		bytes.Equal(t.keys.Bytes(), other.keys.Bytes())
}
