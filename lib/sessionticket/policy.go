// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package sessionticket

// Rotation defaults, in seconds.
const (
	// DefaultLifetime is the default validity span of minted tickets.
	DefaultLifetime = 3600
	// DefaultGrace is how far in the future a replacement ticket's
	// window opens when minted against a fleet-wide store, giving
	// peers time to fetch it before it becomes the encryption key.
	DefaultGrace = 60
)

// Policy captures the parameters of ticket rotation. Fields are read
// only; construct one per updater.
type Policy struct {
	Cipher   *Cipher
	Digest   *Digest
	Lifetime uint64 // validity span of minted tickets, seconds
	Grace    uint64 // future offset applied by Mint when hasValid
}

// ShouldMint reports whether a replacement ticket is due at now: the
// newest ticket entered service a quarter lifetime or more ago.
// Callers with an empty store pass 0 for newestNotBefore, which always
// mints.
func (p Policy) ShouldMint(newestNotBefore, now uint64) bool {
	return newestNotBefore+p.Lifetime/4 <= now
}

// Mint creates the next ticket generation. The window normally opens
// at now; when hasValid is set, it opens Grace seconds later so the
// incumbent keeps encrypting while the new ticket propagates. The
// window spans Lifetime seconds inclusive of its first one.
func (p Policy) Mint(now uint64, hasValid bool) (*Ticket, error) {
	start := now
	if hasValid {
		start += p.Grace
	}
	return New(p.Cipher, p.Digest, start, start+p.Lifetime-1)
}
