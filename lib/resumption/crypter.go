// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package resumption

import (
	"crypto/aes"
	"crypto/hmac"
	"crypto/tls"
	"errors"

	"github.com/zhaohaibin/h2o/lib/clock"
	"github.com/zhaohaibin/h2o/lib/secret"
	"github.com/zhaohaibin/h2o/lib/sessionticket"
)

// ErrInvalidTicket reports a presented ticket that named a known
// secret but failed authentication or decoding. Tickets naming an
// unknown secret are not errors; they decline into a full handshake.
var ErrInvalidTicket = errors.New("session ticket is invalid")

// Sealed ticket layout: key name, one AES block of IV, the
// CBC-encrypted session state, then the HMAC tag computed over
// everything before it. Every registered cipher runs AES in CBC
// mode, so the IV is one AES block.
const sealIVSize = aes.BlockSize

// TicketCrypter seals and opens session tickets with the secrets
// held in a ticket store. It plugs into crypto/tls through
// Configure.
type TicketCrypter struct {
	selector *sessionticket.Selector
	clock    clock.Clock
}

// NewTicketCrypter returns a crypter drawing secrets from store.
func NewTicketCrypter(store *sessionticket.Store, clk clock.Clock) *TicketCrypter {
	return &TicketCrypter{
		selector: sessionticket.NewSelector(store),
		clock:    clk,
	}
}

// Configure installs the crypter's callbacks on a TLS configuration.
func (c *TicketCrypter) Configure(cfg *tls.Config) {
	cfg.WrapSession = c.WrapSession
	cfg.UnwrapSession = c.UnwrapSession
}

// Seal encrypts a serialized session state under the newest usable
// secret. It never fails for lack of secrets: with an empty store the
// state is sealed under an ephemeral key and the resulting ticket
// simply will not survive this process.
func (c *TicketCrypter) Seal(state []byte) ([]byte, error) {
	now := uint64(c.clock.Now().Unix())
	key, err := c.selector.ForEncryption(now)
	if err != nil {
		return nil, err
	}

	padded := pad(state, key.Encrypter.BlockSize())
	defer secret.Zero(padded)
	ciphertext := make([]byte, len(padded))
	key.Encrypter.CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, sessionticket.NameSize+len(key.IV)+len(ciphertext)+key.MAC.Size())
	out = append(out, key.Name[:]...)
	out = append(out, key.IV...)
	out = append(out, ciphertext...)
	key.MAC.Write(out)
	return key.MAC.Sum(out), nil
}

// Open authenticates and decrypts a sealed ticket. A ticket naming an
// unknown secret returns (nil, KeyNotFound, nil): the client falls
// back to a full handshake. KeyRenew means the ticket was protected
// by an older secret and should be reissued when the protocol allows.
func (c *TicketCrypter) Open(sealed []byte) ([]byte, sessionticket.DecryptStatus, error) {
	if len(sealed) < sessionticket.NameSize+sealIVSize {
		return nil, sessionticket.KeyNotFound, ErrInvalidTicket
	}
	var name [sessionticket.NameSize]byte
	copy(name[:], sealed)
	iv := sealed[sessionticket.NameSize : sessionticket.NameSize+sealIVSize]

	key, err := c.selector.ForDecryption(name, iv)
	if err != nil {
		return nil, sessionticket.KeyNotFound, ErrInvalidTicket
	}
	if key.Status == sessionticket.KeyNotFound {
		return nil, sessionticket.KeyNotFound, nil
	}

	macSize := key.MAC.Size()
	blockSize := key.Decrypter.BlockSize()
	bodyLen := len(sealed) - macSize
	ciphertextStart := sessionticket.NameSize + sealIVSize
	ciphertextLen := bodyLen - ciphertextStart
	if ciphertextLen <= 0 || ciphertextLen%blockSize != 0 {
		return nil, key.Status, ErrInvalidTicket
	}

	key.MAC.Write(sealed[:bodyLen])
	if !hmac.Equal(key.MAC.Sum(nil), sealed[bodyLen:]) {
		return nil, key.Status, ErrInvalidTicket
	}

	plaintext := make([]byte, ciphertextLen)
	key.Decrypter.CryptBlocks(plaintext, sealed[ciphertextStart:bodyLen])
	state, err := unpad(plaintext, blockSize)
	if err != nil {
		secret.Zero(plaintext)
		return nil, key.Status, err
	}
	return state, key.Status, nil
}

// WrapSession implements tls.Config.WrapSession.
func (c *TicketCrypter) WrapSession(cs tls.ConnectionState, ss *tls.SessionState) ([]byte, error) {
	state, err := ss.Bytes()
	if err != nil {
		return nil, err
	}
	defer secret.Zero(state)
	return c.Seal(state)
}

// UnwrapSession implements tls.Config.UnwrapSession. Any failure
// declines resumption rather than aborting the handshake: a client
// holding a stale or corrupt ticket completes a full handshake and
// gets a fresh one.
func (c *TicketCrypter) UnwrapSession(identity []byte, cs tls.ConnectionState) (*tls.SessionState, error) {
	state, _, err := c.Open(identity)
	if err != nil || state == nil {
		return nil, nil
	}
	defer secret.Zero(state)

	ss, err := tls.ParseSessionState(state)
	if err != nil {
		return nil, nil
	}
	return ss, nil
}

// pad applies PKCS#7 padding, always adding at least one byte.
func pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

// unpad strips PKCS#7 padding. It runs only on authenticated data, so
// a padding error means key confusion, not an attack surface.
func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidTicket
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize {
		return nil, ErrInvalidTicket
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, ErrInvalidTicket
		}
	}
	return data[:len(data)-padLen], nil
}
