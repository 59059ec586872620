// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionticket manages the key material for TLS
// session-ticket resumption.
//
// A [Ticket] is one generation of ticket-protection keys: a 16-byte
// public name that travels inside issued tickets, a symmetric cipher
// key, an HMAC key, and an inclusive validity window. Tickets live in
// a [Store], ordered newest-first and guarded for concurrent
// handshake-path reads against background rotation writes. [Policy]
// decides when a new generation is minted and when expired ones are
// retired; [Selector] is the handshake-path lookup that picks the
// encryption key for new tickets and resolves wire names back to
// decryption keys.
//
// The textual document format produced by [EncodeAll] and consumed by
// [DecodeAll] is shared with the secrets file and the fleet-wide
// memcached document, so its field set and ordering are a wire
// contract, not an implementation detail.
//
// Key material is kept in secret.Buffer regions and scrubbed (zeroed,
// then unmapped) whenever a ticket leaves a store or a decode fails
// partway.
package sessionticket
