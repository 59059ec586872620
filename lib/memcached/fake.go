// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package memcached

import (
	"fmt"
	"slices"
	"sync"
)

// Fake is an in-memory Client for tests. Compare-and-swap tokens are
// per-store sequence numbers, so interleaved writers race exactly as
// they do against a real server. Expirations are recorded but never
// enforced.
type Fake struct {
	mu      sync.Mutex
	entries map[string]*fakeEntry
	casSeq  uint64
	err     error
}

type fakeEntry struct {
	value      []byte
	expiration int32
	cas        uint64
}

var _ Client = (*Fake)(nil)

// NewFake returns an empty fake server.
func NewFake() *Fake {
	return &Fake{entries: make(map[string]*fakeEntry)}
}

// SetError makes every subsequent operation, Ping included, fail with
// err. Pass nil to bring the server back.
func (f *Fake) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Expiration returns the recorded TTL for key and whether it exists.
func (f *Fake) Expiration(key string) (int32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok {
		return 0, false
	}
	return e.expiration, true
}

func (f *Fake) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Fake) Get(key string) (*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	e, ok := f.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &Entry{Key: key, Value: slices.Clone(e.value), Expiration: e.expiration, token: e.cas}, nil
}

func (f *Fake) Add(entry *Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.entries[entry.Key]; ok {
		return ErrNotStored
	}
	f.store(entry)
	return nil
}

func (f *Fake) Set(entry *Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.store(entry)
	return nil
}

func (f *Fake) CompareAndSwap(entry *Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	token, ok := entry.token.(uint64)
	if !ok {
		return fmt.Errorf("memcached: entry for %q was not produced by Get", entry.Key)
	}
	current, ok := f.entries[entry.Key]
	if !ok {
		return ErrNotFound
	}
	if current.cas != token {
		return ErrCASConflict
	}
	f.store(entry)
	return nil
}

func (f *Fake) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.entries[key]; !ok {
		return ErrNotFound
	}
	delete(f.entries, key)
	return nil
}

// store must be called with f.mu held.
func (f *Fake) store(entry *Entry) {
	f.casSeq++
	f.entries[entry.Key] = &fakeEntry{
		value:      slices.Clone(entry.Value),
		expiration: entry.Expiration,
		cas:        f.casSeq,
	}
}
