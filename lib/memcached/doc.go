// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

// Package memcached is a thin client for the handful of memcached
// operations ticket distribution and the session cache need: get with
// a compare-and-swap token, add, set, compare-and-swap, and delete.
//
// [New] wraps github.com/bradfitz/gomemcache and maps its errors to
// this package's sentinels; [NewFake] is an in-memory implementation
// with real CAS semantics for tests. Both are safe for concurrent use.
package memcached
