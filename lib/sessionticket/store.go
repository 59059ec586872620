// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package sessionticket

import (
	"bytes"
	"sort"
	"sync"
)

// Store holds the live ticket sequence, sorted newest-first. Handshake
// paths read it concurrently under a shared lock while a single
// background updater rotates it; Go's sync.RWMutex blocks new readers
// once a writer is waiting, so rotation cannot be starved by a steady
// handshake load.
type Store struct {
	mu      sync.RWMutex
	tickets []*Ticket
}

// NewStore returns an empty store.
func NewStore() *Store { return &Store{} }

// View runs fn with the current ticket sequence under the shared lock.
// The slice and the tickets it holds remain owned by the store: fn
// must not retain either past its return, and must not mutate the
// slice. Key material read inside fn is guaranteed unscrubbed for the
// duration of the call.
func (s *Store) View(fn func(tickets []*Ticket)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.tickets)
}

// Len returns the number of tickets currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tickets)
}

// Replace installs tickets as the new sequence in one atomic swap; a
// concurrent reader sees either the old sequence or the new one, never
// a mix. Displaced tickets that do not appear in the new sequence are
// scrubbed. The store takes ownership of the slice and its tickets.
func (s *Store) Replace(tickets []*Ticket) {
	s.mu.Lock()
	displaced := s.tickets
	s.tickets = tickets
	s.mu.Unlock()

	if len(displaced) == 0 {
		return
	}
	kept := make(map[*Ticket]struct{}, len(tickets))
	for _, t := range tickets {
		kept[t] = struct{}{}
	}
	for _, t := range displaced {
		if _, ok := kept[t]; !ok {
			t.Scrub()
		}
	}
}

// Prepend inserts t at the head of the sequence. The caller is
// responsible for t actually being the newest; minting always is.
func (s *Store) Prepend(t *Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets = append([]*Ticket{t}, s.tickets...)
}

// RetireOldest removes and scrubs the ticket at the tail if its window
// has closed before now, and reports whether it did. Each call is one
// exclusive lock acquisition, so a retirement sweep written as
//
//	for s.RetireOldest(now) {
//	}
//
// yields to handshake readers between pops instead of holding the
// writer lock across the whole sweep.
func (s *Store) RetireOldest(now uint64) bool {
	s.mu.Lock()
	var victim *Ticket
	if n := len(s.tickets); n > 0 && s.tickets[n-1].notAfter < now {
		victim = s.tickets[n-1]
		s.tickets[n-1] = nil
		s.tickets = s.tickets[:n-1]
	}
	s.mu.Unlock()

	if victim == nil {
		return false
	}
	victim.Scrub()
	return true
}

// SortTickets orders tickets newest-first: not_before descending, ties
// broken by name ascending so that any two holders of the same ticket
// set agree on the order and therefore on the encryption key.
func SortTickets(tickets []*Ticket) {
	sort.Slice(tickets, func(i, j int) bool {
		if tickets[i].notBefore != tickets[j].notBefore {
			return tickets[i].notBefore > tickets[j].notBefore
		}
		return bytes.Compare(tickets[i].name[:], tickets[j].name[:]) < 0
	})
}
