// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package resumption

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zhaohaibin/h2o/lib/codec"
	"github.com/zhaohaibin/h2o/lib/memcached"
)

// cacheEnvelope wraps one serialized session for storage in
// memcached. Size carries the uncompressed length so the payload can
// be decompressed without guessing.
type cacheEnvelope struct {
	Compression uint8  `cbor:"1,keyasint"`
	Size        uint64 `cbor:"2,keyasint"`
	Payload     []byte `cbor:"3,keyasint"`
}

// SessionCache stores serialized TLS sessions in memcached so any
// server in the fleet can resume a session established by another.
// Values are compressed when that pays for itself and wrapped in a
// small CBOR envelope.
type SessionCache struct {
	client   memcached.Client
	prefix   string
	lifetime uint64
	logger   *slog.Logger
}

// NewSessionCache returns a cache keyed under prefix whose entries
// expire after lifetime seconds.
func NewSessionCache(client memcached.Client, prefix string, lifetime uint64, logger *slog.Logger) *SessionCache {
	return &SessionCache{
		client:   client,
		prefix:   prefix,
		lifetime: lifetime,
		logger:   logger,
	}
}

// key maps a binary session ID to a memcached key.
func (c *SessionCache) key(sessionID []byte) string {
	return c.prefix + base64.RawURLEncoding.EncodeToString(sessionID)
}

// Put stores a serialized session under its session ID, replacing any
// previous value.
func (c *SessionCache) Put(sessionID, session []byte) error {
	tag, payload := compressPayload(session)
	value, err := codec.Marshal(&cacheEnvelope{
		Compression: uint8(tag),
		Size:        uint64(len(session)),
		Payload:     payload,
	})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	return c.client.Set(&memcached.Entry{
		Key:        c.key(sessionID),
		Value:      value,
		Expiration: int32(c.lifetime),
	})
}

// Get retrieves the serialized session stored under sessionID. A
// session that is absent, expired, or undecodable is a miss, not an
// error; errors are reserved for the server being unreachable.
func (c *SessionCache) Get(sessionID []byte) ([]byte, bool, error) {
	entry, err := c.client.Get(c.key(sessionID))
	if errors.Is(err, memcached.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var env cacheEnvelope
	if err := codec.Unmarshal(entry.Value, &env); err != nil {
		c.logger.Warn("discarding undecodable cached session", "error", err)
		return nil, false, nil
	}
	session, err := decompressPayload(compressionTag(env.Compression), env.Payload, env.Size)
	if err != nil {
		c.logger.Warn("discarding undecodable cached session", "error", err)
		return nil, false, nil
	}
	return session, true, nil
}

// Delete removes the session stored under sessionID, if any.
func (c *SessionCache) Delete(sessionID []byte) error {
	err := c.client.Delete(c.key(sessionID))
	if errors.Is(err, memcached.ErrNotFound) {
		return nil
	}
	return err
}
