// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package sessionticket

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"hash"
	"math"
)

// Ephemeral fallback algorithms, used when a handshake needs an
// encryption key and the store has no valid ticket.
var (
	ephemeralCipher = mustCipher("aes-256-cbc")
	ephemeralDigest = mustDigest("sha256")
)

// DecryptStatus classifies the outcome of a decryption-key lookup.
type DecryptStatus int

const (
	// KeyNotFound means no held ticket matches the requested name. The
	// presented session ticket cannot be decrypted and the handshake
	// falls back to a full one.
	KeyNotFound DecryptStatus = iota
	// KeyCurrent means the name matched the newest ticket. The session
	// is resumed as-is.
	KeyCurrent
	// KeyRenew means the name matched an older ticket. The session is
	// resumed, and the caller should reissue the session ticket under
	// the current encryption key.
	KeyRenew
)

func (s DecryptStatus) String() string {
	switch s {
	case KeyNotFound:
		return "not-found"
	case KeyCurrent:
		return "current"
	case KeyRenew:
		return "renew"
	default:
		return fmt.Sprintf("DecryptStatus(%d)", int(s))
	}
}

// EncryptionKey is everything a handshake needs to protect one new
// session ticket. The cipher and MAC states are initialized from the
// selected ticket's keys and are single-use; the key material itself
// is never exposed.
type EncryptionKey struct {
	Name      [NameSize]byte
	IV        []byte
	Encrypter cipher.BlockMode
	MAC       hash.Hash
	// Ephemeral marks a key synthesized because no held ticket was
	// valid. Tickets protected by it are lost when this operation
	// completes, which beats failing the handshake.
	Ephemeral bool
}

// DecryptionKey is the result of resolving a wire name. Decrypter and
// MAC are nil when Status is KeyNotFound.
type DecryptionKey struct {
	Status    DecryptStatus
	Decrypter cipher.BlockMode
	MAC       hash.Hash
}

// Selector picks handshake keys out of a store. It holds no state of
// its own beyond the store reference and is safe for concurrent use.
type Selector struct {
	store *Store
}

// NewSelector returns a selector reading from store.
func NewSelector(store *Store) *Selector {
	return &Selector{store: store}
}

// FindForEncryption returns the newest ticket whose window contains
// now, or nil. tickets must be sorted newest-first. The scan stops at
// the first ticket already in service: if that one has expired, every
// older one has too.
func FindForEncryption(tickets []*Ticket, now uint64) *Ticket {
	for _, t := range tickets {
		if t.notBefore <= now {
			if now <= t.notAfter {
				return t
			}
			return nil
		}
	}
	return nil
}

// ForEncryption returns the key under which a new session ticket is
// protected at now. It never fails for lack of tickets: when the store
// holds no valid one, a single-use ephemeral key is synthesized and
// its backing material scrubbed before returning, so issuance always
// succeeds even if the resulting ticket will not outlive this process.
func (s *Selector) ForEncryption(now uint64) (*EncryptionKey, error) {
	var key *EncryptionKey
	var err error
	s.store.View(func(tickets []*Ticket) {
		if t := FindForEncryption(tickets, now); t != nil {
			key, err = newEncryptionKey(t, false)
		}
	})
	if key != nil || err != nil {
		return key, err
	}

	ephemeral, err := New(ephemeralCipher, ephemeralDigest, 0, math.MaxUint64)
	if err != nil {
		return nil, err
	}
	defer ephemeral.Scrub()
	return newEncryptionKey(ephemeral, true)
}

func newEncryptionKey(t *Ticket, ephemeral bool) (*EncryptionKey, error) {
	iv := make([]byte, t.cipher.BlockSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generating IV: %w", err)
	}
	encrypter, err := t.cipher.Encrypter(t.CipherKey(), iv)
	if err != nil {
		return nil, err
	}
	return &EncryptionKey{
		Name:      t.name,
		IV:        iv,
		Encrypter: encrypter,
		MAC:       t.digest.NewMAC(t.MACKey()),
		Ephemeral: ephemeral,
	}, nil
}

// ForDecryption resolves the name carried by a presented session
// ticket. iv must be the IV extracted from the same ticket, one cipher
// block long. The returned status tells the caller whether to resume,
// resume-and-reissue, or fall back to a full handshake; resolution
// itself never fails on an unknown name.
func (s *Selector) ForDecryption(name [NameSize]byte, iv []byte) (*DecryptionKey, error) {
	key := &DecryptionKey{Status: KeyNotFound}
	var err error
	s.store.View(func(tickets []*Ticket) {
		for i, t := range tickets {
			if t.name != name {
				continue
			}
			var decrypter cipher.BlockMode
			decrypter, err = t.cipher.Decrypter(t.CipherKey(), iv)
			if err != nil {
				return
			}
			key.Decrypter = decrypter
			key.MAC = t.digest.NewMAC(t.MACKey())
			if i == 0 {
				key.Status = KeyCurrent
			} else {
				key.Status = KeyRenew
			}
			return
		}
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}
