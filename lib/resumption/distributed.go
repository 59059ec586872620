// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package resumption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zhaohaibin/h2o/lib/clock"
	"github.com/zhaohaibin/h2o/lib/memcached"
	"github.com/zhaohaibin/h2o/lib/secret"
	"github.com/zhaohaibin/h2o/lib/sessionticket"
)

// DocumentKey is the memcached key of the shared ticket document.
// Every server in the fleet reads and writes the same key, so it is
// deliberately not namespaced by the session cache prefix.
const DocumentKey = "h2o:session-tickets"

const (
	// connectRetryInterval is the pause between probes while
	// memcached is unreachable.
	connectRetryInterval = 10 * time.Second

	// syncIdleInterval is the pause between synchronization cycles
	// once the shared document is settled.
	syncIdleInterval = 60 * time.Second
)

// DistributedUpdater synchronizes the ticket store with a document
// shared through memcached, so a fleet of servers rotates one set of
// secrets in lockstep. Whichever server first notices the newest
// secret going stale mints a successor and publishes it with an
// atomic write; everyone else adopts the winner's document on their
// next read.
type DistributedUpdater struct {
	store  *sessionticket.Store
	policy sessionticket.Policy
	client memcached.Client
	clock  clock.Clock
	logger *slog.Logger

	// lastFingerprint suppresses adoption logging while the document
	// is unchanged; the store is still swapped every cycle.
	lastFingerprint string
}

// NewDistributedUpdater returns an updater synchronizing store
// through client under policy.
func NewDistributedUpdater(store *sessionticket.Store, policy sessionticket.Policy, client memcached.Client, clk clock.Clock, logger *slog.Logger) *DistributedUpdater {
	return &DistributedUpdater{
		store:  store,
		policy: policy,
		client: client,
		clock:  clk,
		logger: logger,
	}
}

// fetchedDocument is one read of the shared document. entry is nil
// when the document does not exist yet; tickets are sorted newest
// first and owned by the caller.
type fetchedDocument struct {
	entry   *memcached.Entry
	tickets []*sessionticket.Ticket
}

// Run synchronizes until ctx is cancelled. Cycles repeat immediately
// after any write to the document (the re-read confirms what the
// fleet agreed on, whether or not this server's write won); once the
// document is settled the updater idles between cycles. Unreachable
// memcached is probed until it answers, logging the first failure
// only.
func (u *DistributedUpdater) Run(ctx context.Context) {
	for {
		if !u.waitConnected(ctx) {
			return
		}
		for {
			retry, err := u.runCycle()
			if err != nil {
				u.logger.Error("failed to update session tickets", "error", err)
				break
			}
			if !retry {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-u.clock.After(syncIdleInterval):
		}
	}
}

// waitConnected blocks until memcached answers a ping or ctx is
// cancelled. Reports false on cancellation.
func (u *DistributedUpdater) waitConnected(ctx context.Context) bool {
	for failed := 0; ; failed++ {
		err := u.client.Ping()
		if err == nil {
			if failed != 0 {
				u.logger.Info("connected to memcached")
			}
			return true
		}
		if failed == 0 {
			u.logger.Error("failed to connect to memcached", "error", err)
		}
		select {
		case <-ctx.Done():
			return false
		case <-u.clock.After(connectRetryInterval):
		}
	}
}

// runCycle performs one fetch/update round. retry requests an
// immediate re-run; an error ends the round and leaves the local
// store untouched.
func (u *DistributedUpdater) runCycle() (retry bool, err error) {
	doc, err := u.fetch()
	if err != nil {
		return false, err
	}
	return u.update(doc, uint64(u.clock.Now().Unix()))
}

// fetch reads and decodes the shared document. A missing document is
// not an error: it fetches as an empty set with a nil entry.
func (u *DistributedUpdater) fetch() (*fetchedDocument, error) {
	entry, err := u.client.Get(DocumentKey)
	if errors.Is(err, memcached.ErrNotFound) {
		return &fetchedDocument{}, nil
	}
	if err != nil {
		return nil, err
	}

	tickets, err := sessionticket.DecodeAll(entry.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse the response obtained from memcached: %w", err)
	}
	sessionticket.SortTickets(tickets)
	return &fetchedDocument{entry: entry, tickets: tickets}, nil
}

// update applies the rotation policy to a fetched document. When the
// document holds no usable secret, or its newest one is due for
// replacement, a successor is minted and published with an atomic
// write; any outcome of that write requests a retry, because the
// authoritative document is whatever the next read returns. When no
// mint is needed the fetched set becomes the local store.
func (u *DistributedUpdater) update(doc *fetchedDocument, now uint64) (retry bool, err error) {
	tickets := doc.tickets

	hasValid := sessionticket.FindForEncryption(tickets, now) != nil
	needMint := !hasValid
	if !needMint && u.policy.ShouldMint(tickets[0].NotBefore(), now) {
		needMint = true
	}

	if !needMint {
		fingerprint := sessionticket.Fingerprint(tickets)
		count := len(tickets)
		u.store.Replace(tickets)
		if fingerprint != u.lastFingerprint {
			u.lastFingerprint = fingerprint
			u.logger.Info("session ticket secrets updated",
				"tickets", count,
				"fingerprint", fingerprint)
		}
		return false, nil
	}

	// The working set, minted ticket included, is scrubbed before
	// returning: the authoritative copy lives in memcached, and the
	// local store only adopts a fetched document on the no-mint
	// path.
	defer func() { sessionticket.ScrubAll(tickets) }()

	minted, err := u.policy.Mint(now, hasValid)
	if err != nil {
		return false, err
	}
	tickets = append([]*sessionticket.Ticket{minted}, tickets...)

	serialized := sessionticket.EncodeAll(tickets)
	defer secret.Zero(serialized)
	u.logger.Debug("publishing minted session ticket secret",
		"tickets", len(tickets),
		"not_before", minted.NotBefore(),
		"not_after", minted.NotAfter())

	ttl := int32(u.policy.Lifetime)
	if doc.entry == nil {
		err = u.client.Add(&memcached.Entry{
			Key:        DocumentKey,
			Value:      serialized,
			Expiration: ttl,
		})
	} else {
		err = u.client.CompareAndSwap(doc.entry.WithValue(serialized, ttl))
	}
	switch {
	case err == nil,
		errors.Is(err, memcached.ErrNotStored),
		errors.Is(err, memcached.ErrCASConflict),
		errors.Is(err, memcached.ErrNotFound):
		// Lost races land here alongside wins; the retry's read
		// settles which document the fleet converged on.
		return true, nil
	default:
		return false, err
	}
}
