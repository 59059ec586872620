// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

// Package resumption wires TLS session resumption together: a
// validated configuration surface, the background updaters that keep
// the session-ticket store populated, a memcached-backed cache for
// serialized sessions, and the crypto/tls glue that seals and opens
// tickets during handshakes.
//
// Exactly one updater runs per process, selected by the configured
// ticket store:
//
//   - internal: mint secrets locally on a jittered two-minute cycle
//     (GeneratingUpdater).
//   - file: poll an operator-managed secret file every ten seconds
//     (FileUpdater).
//   - memcached: synchronize a fleet through a shared memcached
//     document (DistributedUpdater).
//
// Service assembles the pieces from a Config and exposes Configure to
// attach them to a tls.Config.
package resumption
