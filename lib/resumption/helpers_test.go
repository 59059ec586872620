// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package resumption

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/zhaohaibin/h2o/lib/sessionticket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testPolicy returns the production default policy: hour-long
// aes-256-cbc/sha256 tickets minted 60 seconds ahead when replacing a
// still-valid one.
func testPolicy(t *testing.T) sessionticket.Policy {
	t.Helper()
	cipher, ok := sessionticket.CipherByName("aes-256-cbc")
	if !ok {
		t.Fatal("aes-256-cbc is not registered")
	}
	digest, ok := sessionticket.DigestByName("sha256")
	if !ok {
		t.Fatal("sha256 is not registered")
	}
	return sessionticket.Policy{
		Cipher:   cipher,
		Digest:   digest,
		Lifetime: 3600,
		Grace:    60,
	}
}

// seedTicket builds a deterministic ticket whose name and key bytes
// are filled with fill, so tests can recognize tickets and reproduce
// key material.
func seedTicket(t *testing.T, fill byte, notBefore, notAfter uint64) *sessionticket.Ticket {
	t.Helper()
	policy := testPolicy(t)
	var name [sessionticket.NameSize]byte
	for i := range name {
		name[i] = fill
	}
	key := bytes.Repeat([]byte{fill}, policy.Cipher.KeyLength()+policy.Digest.BlockSize())
	ticket, err := sessionticket.Reconstruct(name, policy.Cipher, policy.Digest, key, notBefore, notAfter)
	if err != nil {
		t.Fatalf("reconstructing ticket: %v", err)
	}
	return ticket
}

func storeFingerprint(s *sessionticket.Store) string {
	var fingerprint string
	s.View(func(tickets []*sessionticket.Ticket) {
		fingerprint = sessionticket.Fingerprint(tickets)
	})
	return fingerprint
}

func newestWindow(t *testing.T, s *sessionticket.Store) (notBefore, notAfter uint64) {
	t.Helper()
	found := false
	s.View(func(tickets []*sessionticket.Ticket) {
		if len(tickets) > 0 {
			notBefore = tickets[0].NotBefore()
			notAfter = tickets[0].NotAfter()
			found = true
		}
	})
	if !found {
		t.Fatal("store is empty")
	}
	return notBefore, notAfter
}
