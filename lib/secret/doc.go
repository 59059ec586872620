// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for key material.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped. Because the memory lives
// outside the Go heap, the garbage collector never copies or relocates
// it, so zeroing on Close is the final word: no stale copy of the
// secret survives in freed memory.
//
// Every session-ticket key in this codebase lives in a Buffer; Close
// is the mandatory scrub step when a ticket is retired.
package secret
