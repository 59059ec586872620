// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package memcached

import (
	"errors"
	"fmt"

	"github.com/bradfitz/gomemcache/memcache"
)

var (
	// ErrNotFound reports a get or delete of a vacant key.
	ErrNotFound = errors.New("memcached: key not found")
	// ErrNotStored reports an add of a key another writer already
	// populated.
	ErrNotStored = errors.New("memcached: not stored")
	// ErrCASConflict reports a compare-and-swap of a value that
	// changed after it was read.
	ErrCASConflict = errors.New("memcached: compare-and-swap conflict")
)

// An Entry is one cached value. Entries returned by Get carry the
// opaque compare-and-swap token for the read; build the CompareAndSwap
// argument from such an entry with WithValue so the token travels
// along.
type Entry struct {
	Key        string
	Value      []byte
	Expiration int32 // TTL in seconds, 0 keeps the entry until evicted
	token      any
}

// WithValue returns a new entry for the same key and CAS token,
// carrying value and expiration.
func (e *Entry) WithValue(value []byte, expiration int32) *Entry {
	return &Entry{Key: e.Key, Value: value, Expiration: expiration, token: e.token}
}

// Client is the protocol surface used by ticket distribution and the
// session cache. Implementations are safe for concurrent use.
type Client interface {
	// Ping reports whether the server is reachable.
	Ping() error
	// Get fetches key, returning ErrNotFound on a miss.
	Get(key string) (*Entry, error)
	// Add stores entry only if its key is vacant, returning
	// ErrNotStored when another writer got there first.
	Add(entry *Entry) error
	// Set stores entry unconditionally.
	Set(entry *Entry) error
	// CompareAndSwap stores entry only if the key still holds what the
	// Get producing it read. It returns ErrCASConflict when the value
	// changed underneath, ErrNotFound when the key vanished.
	CompareAndSwap(entry *Entry) error
	// Delete removes key, returning ErrNotFound when it is vacant.
	Delete(key string) error
}

type serverClient struct {
	mc *memcache.Client
}

var _ Client = (*serverClient)(nil)

// New returns a client for the memcached server at addr ("host:port"
// or a unix socket path). maxIdle bounds the pooled idle connections;
// zero keeps the library default.
func New(addr string, maxIdle int) Client {
	mc := memcache.New(addr)
	if maxIdle > 0 {
		mc.MaxIdleConns = maxIdle
	}
	return &serverClient{mc: mc}
}

func (c *serverClient) Ping() error { return c.mc.Ping() }

func (c *serverClient) Get(key string) (*Entry, error) {
	item, err := c.mc.Get(key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &Entry{Key: item.Key, Value: item.Value, Expiration: item.Expiration, token: item}, nil
}

func (c *serverClient) Add(entry *Entry) error {
	err := c.mc.Add(&memcache.Item{Key: entry.Key, Value: entry.Value, Expiration: entry.Expiration})
	if errors.Is(err, memcache.ErrNotStored) {
		return ErrNotStored
	}
	return err
}

func (c *serverClient) Set(entry *Entry) error {
	return c.mc.Set(&memcache.Item{Key: entry.Key, Value: entry.Value, Expiration: entry.Expiration})
}

func (c *serverClient) CompareAndSwap(entry *Entry) error {
	item, ok := entry.token.(*memcache.Item)
	if !ok {
		return fmt.Errorf("memcached: entry for %q was not produced by Get", entry.Key)
	}
	item.Value = entry.Value
	item.Expiration = entry.Expiration
	err := c.mc.CompareAndSwap(item)
	switch {
	case errors.Is(err, memcache.ErrCASConflict):
		return ErrCASConflict
	case errors.Is(err, memcache.ErrCacheMiss):
		return ErrNotFound
	}
	return err
}

func (c *serverClient) Delete(key string) error {
	err := c.mc.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return ErrNotFound
	}
	return err
}
