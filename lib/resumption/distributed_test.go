// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package resumption

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zhaohaibin/h2o/lib/clock"
	"github.com/zhaohaibin/h2o/lib/memcached"
	"github.com/zhaohaibin/h2o/lib/sessionticket"
	"github.com/zhaohaibin/h2o/lib/testutil"
)

func newDistributed(t *testing.T, fake *memcached.Fake, at int64) (*DistributedUpdater, *sessionticket.Store) {
	t.Helper()
	store := sessionticket.NewStore()
	u := NewDistributedUpdater(store, testPolicy(t), fake, clock.Fake(time.Unix(at, 0)), testLogger())
	return u, store
}

func seedDocument(t *testing.T, fake *memcached.Fake, tickets ...*sessionticket.Ticket) {
	t.Helper()
	err := fake.Set(&memcached.Entry{
		Key:        DocumentKey,
		Value:      sessionticket.EncodeAll(tickets),
		Expiration: 3600,
	})
	if err != nil {
		t.Fatalf("seeding document: %v", err)
	}
}

// A fresh fleet: the first cycle seeds the document and requests a
// retry, the second adopts what landed in memcached.
func TestDistributedSeedsEmptyDocument(t *testing.T) {
	fake := memcached.NewFake()
	u, store := newDistributed(t, fake, 5000)

	retry, err := u.runCycle()
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if !retry {
		t.Fatal("first cycle must request a retry after writing")
	}
	if store.Len() != 0 {
		t.Fatal("local store must not be touched on the mint path")
	}

	retry, err = u.runCycle()
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if retry {
		t.Fatal("second cycle has nothing to write")
	}
	if store.Len() != 1 {
		t.Fatalf("store has %d tickets, want 1", store.Len())
	}
	if notBefore, notAfter := newestWindow(t, store); notBefore != 5000 || notAfter != 8599 {
		t.Errorf("minted window [%d, %d], want [5000, 8599]", notBefore, notAfter)
	}

	if ttl, ok := fake.Expiration(DocumentKey); !ok || ttl != 3600 {
		t.Errorf("document TTL = %d (present %v), want 3600", ttl, ok)
	}
}

func TestDistributedAdoptsExistingDocument(t *testing.T) {
	fake := memcached.NewFake()
	seedDocument(t, fake,
		seedTicket(t, 0x22, 4500, 8099),
		seedTicket(t, 0x11, 1000, 4599))
	u, store := newDistributed(t, fake, 5000)

	retry, err := u.runCycle()
	if err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if retry {
		t.Fatal("a fresh document needs no write")
	}
	if store.Len() != 2 {
		t.Fatalf("store has %d tickets, want 2", store.Len())
	}
	if notBefore, _ := newestWindow(t, store); notBefore != 4500 {
		t.Errorf("newest not_before = %d, want 4500", notBefore)
	}
}

// A stale-but-valid newest ticket is replaced by one dated 60 seconds
// ahead, so servers that have not refetched yet can still decrypt
// what others encrypt while the successor ages in.
func TestDistributedRenewsStaleDocumentWithGrace(t *testing.T) {
	fake := memcached.NewFake()
	seedDocument(t, fake, seedTicket(t, 0x11, 3000, 6599))
	u, store := newDistributed(t, fake, 5000)

	retry, err := u.runCycle()
	if err != nil {
		t.Fatalf("mint cycle: %v", err)
	}
	if !retry {
		t.Fatal("stale document must be rewritten")
	}

	retry, err = u.runCycle()
	if err != nil {
		t.Fatalf("adopt cycle: %v", err)
	}
	if retry {
		t.Fatal("settled document needs no write")
	}
	if store.Len() != 2 {
		t.Fatalf("store has %d tickets, want 2", store.Len())
	}
	if notBefore, notAfter := newestWindow(t, store); notBefore != 5060 || notAfter != 8659 {
		t.Errorf("successor window [%d, %d], want [5060, 8659]", notBefore, notAfter)
	}
}

// With no usable ticket at all the replacement must work immediately:
// no grace offset, and the dead entries stay in the document (the TTL
// cleans them up eventually).
func TestDistributedExpiredDocumentMintsNow(t *testing.T) {
	fake := memcached.NewFake()
	seedDocument(t, fake, seedTicket(t, 0x11, 1000, 2000))
	u, store := newDistributed(t, fake, 5000)

	if _, err := u.runCycle(); err != nil {
		t.Fatalf("mint cycle: %v", err)
	}
	if _, err := u.runCycle(); err != nil {
		t.Fatalf("adopt cycle: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("store has %d tickets, want 2", store.Len())
	}
	if notBefore, _ := newestWindow(t, store); notBefore != 5000 {
		t.Errorf("replacement not_before = %d, want 5000 (no grace)", notBefore)
	}
}

// Two servers race to seed an empty document. The loser's Add is an
// expected outcome, not an error, and both converge on the winner's
// secret.
func TestDistributedLostAddRaceConverges(t *testing.T) {
	fake := memcached.NewFake()
	a, storeA := newDistributed(t, fake, 5000)
	b, storeB := newDistributed(t, fake, 5000)

	docA, err := a.fetch()
	if err != nil {
		t.Fatalf("a.fetch: %v", err)
	}
	docB, err := b.fetch()
	if err != nil {
		t.Fatalf("b.fetch: %v", err)
	}

	retry, err := a.update(docA, 5000)
	if err != nil || !retry {
		t.Fatalf("winner: retry=%v err=%v, want retry and no error", retry, err)
	}
	retry, err = b.update(docB, 5000)
	if err != nil || !retry {
		t.Fatalf("loser: retry=%v err=%v, want retry and no error", retry, err)
	}

	if _, err := a.runCycle(); err != nil {
		t.Fatalf("a adopt: %v", err)
	}
	if _, err := b.runCycle(); err != nil {
		t.Fatalf("b adopt: %v", err)
	}

	if storeA.Len() != 1 || storeB.Len() != 1 {
		t.Fatalf("store sizes %d/%d, want 1/1", storeA.Len(), storeB.Len())
	}
	if fpA, fpB := storeFingerprint(storeA), storeFingerprint(storeB); fpA != fpB {
		t.Errorf("fleet did not converge: %s vs %s", fpA, fpB)
	}
}

// Same race on an existing document: the loser's compare-and-swap
// conflicts and the re-read adopts the winner's successor.
func TestDistributedLostSwapRaceConverges(t *testing.T) {
	fake := memcached.NewFake()
	seedDocument(t, fake, seedTicket(t, 0x11, 3000, 6599))
	a, storeA := newDistributed(t, fake, 5000)
	b, storeB := newDistributed(t, fake, 5000)

	docA, err := a.fetch()
	if err != nil {
		t.Fatalf("a.fetch: %v", err)
	}
	docB, err := b.fetch()
	if err != nil {
		t.Fatalf("b.fetch: %v", err)
	}

	if retry, err := a.update(docA, 5000); err != nil || !retry {
		t.Fatalf("winner: retry=%v err=%v", retry, err)
	}
	if retry, err := b.update(docB, 5000); err != nil || !retry {
		t.Fatalf("loser: retry=%v err=%v", retry, err)
	}

	if _, err := a.runCycle(); err != nil {
		t.Fatalf("a adopt: %v", err)
	}
	if _, err := b.runCycle(); err != nil {
		t.Fatalf("b adopt: %v", err)
	}

	if storeA.Len() != 2 || storeB.Len() != 2 {
		t.Fatalf("store sizes %d/%d, want 2/2", storeA.Len(), storeB.Len())
	}
	if fpA, fpB := storeFingerprint(storeA), storeFingerprint(storeB); fpA != fpB {
		t.Errorf("fleet did not converge: %s vs %s", fpA, fpB)
	}
}

func TestDistributedDecodeFailureKeepsLocalStore(t *testing.T) {
	fake := memcached.NewFake()
	u, store := newDistributed(t, fake, 5000)
	store.Replace([]*sessionticket.Ticket{seedTicket(t, 0x01, 4500, 8099)})
	before := storeFingerprint(store)

	err := fake.Set(&memcached.Entry{Key: DocumentKey, Value: []byte("not a ticket document"), Expiration: 60})
	if err != nil {
		t.Fatalf("seeding garbage: %v", err)
	}

	retry, err := u.runCycle()
	if err == nil {
		t.Fatal("expected a decode error")
	}
	if retry {
		t.Fatal("a failed cycle must not retry")
	}
	if store.Len() != 1 || storeFingerprint(store) != before {
		t.Fatal("local store must survive a corrupt document")
	}
}

func TestDistributedWriteTransportErrorEndsCycle(t *testing.T) {
	fake := memcached.NewFake()
	u, store := newDistributed(t, fake, 5000)

	fake.SetError(errors.New("connection reset"))
	retry, err := u.update(&fetchedDocument{}, 5000)
	if err == nil {
		t.Fatal("expected the transport error to surface")
	}
	if retry {
		t.Fatal("transport errors must not spin the retry loop")
	}
	if store.Len() != 0 {
		t.Fatal("store must stay empty")
	}
}

func TestDistributedRunBackoffAndRecovery(t *testing.T) {
	fake := memcached.NewFake()
	fake.SetError(errors.New("connection refused"))
	store := sessionticket.NewStore()
	clk := clock.Fake(time.Unix(5000, 0))
	u := NewDistributedUpdater(store, testPolicy(t), fake, clk, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		u.Run(ctx)
	}()

	// The first ping fails; the updater parks on the 10s backoff.
	clk.WaitForTimers(1)
	if store.Len() != 0 {
		t.Fatal("store must stay empty while memcached is down")
	}

	fake.SetError(nil)
	clk.Advance(connectRetryInterval)
	// Once the idle timer is registered, the seed and adopt cycles
	// have both completed at now=5010.
	clk.WaitForTimers(1)
	if store.Len() != 1 {
		t.Fatalf("store has %d tickets after recovery, want 1", store.Len())
	}
	if notBefore, notAfter := newestWindow(t, store); notBefore != 5010 || notAfter != 8609 {
		t.Errorf("minted window [%d, %d], want [5010, 8609]", notBefore, notAfter)
	}

	// The next idle cycle finds a settled document and changes nothing.
	clk.Advance(syncIdleInterval)
	clk.WaitForTimers(1)
	if store.Len() != 1 {
		t.Fatalf("store has %d tickets after idle cycle, want 1", store.Len())
	}

	cancel()
	testutil.RequireClosed(t, done, time.Second, "updater did not stop")
}

func TestDistributedRunStopsDuringBackoff(t *testing.T) {
	fake := memcached.NewFake()
	fake.SetError(errors.New("connection refused"))
	store := sessionticket.NewStore()
	clk := clock.Fake(time.Unix(5000, 0))
	u := NewDistributedUpdater(store, testPolicy(t), fake, clk, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		u.Run(ctx)
	}()

	clk.WaitForTimers(1)
	cancel()
	testutil.RequireClosed(t, done, time.Second, "updater did not stop during backoff")
}
