// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used for values stored in
// the shared session cache.
//
// Encoding is Core Deterministic Encoding (RFC 8949 §4.2), so the same
// logical value always produces identical bytes regardless of which
// server in the fleet wrote it.
package codec
