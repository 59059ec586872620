// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed wraps filippo.io/age for keeping session-ticket
// secret files encrypted at rest.
//
// A ticket secrets file holds the keys every ticket issued under it
// can be decrypted with, so leaving it in plaintext on disk extends
// the key-compromise window to the filesystem. [Seal] encrypts a
// plaintext document to one or more age x25519 recipients (or, via
// [SealWithPassphrase], to an scrypt passphrase); [Unseal] reverses
// it. [IsSealed] detects the age format header so loaders can accept
// both sealed and plaintext files.
//
// Private keys, passphrases, and unsealed plaintext travel in
// secret.Buffer values: mmap-backed memory outside the Go heap,
// locked against swap and zeroed on Close.
package sealed
