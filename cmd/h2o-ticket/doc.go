// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

// H2o-ticket is the operator CLI for TLS session-ticket secrets. It
// creates and rotates ticket documents for the file-backed updater,
// inspects documents without exposing key material, seals and unseals
// them with age encryption for storage at rest, and uploads or
// downloads the shared memcached document used by distributed fleets.
package main
