// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package sessionticket

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Fingerprint digests the public identity of a ticket sequence: names
// and validity windows in sequence order, no key material. The short
// hex form is logged when a store changes so operators can confirm
// that every process in a fleet has converged on the same key set.
func Fingerprint(tickets []*Ticket) string {
	hasher := blake3.New()
	var window [8]byte
	for _, t := range tickets {
		hasher.Write(t.name[:])
		binary.BigEndian.PutUint64(window[:], t.notBefore)
		hasher.Write(window[:])
		binary.BigEndian.PutUint64(window[:], t.notAfter)
		hasher.Write(window[:])
	}
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:8])
}
