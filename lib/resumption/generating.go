// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package resumption

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/zhaohaibin/h2o/lib/clock"
	"github.com/zhaohaibin/h2o/lib/sessionticket"
)

// Generating updater cycle interval: 113 to 119 seconds. The jitter
// desynchronizes co-located servers so they do not all mint in the
// same second.
const (
	generateIntervalBase   = 113
	generateIntervalJitter = 7
)

// GeneratingUpdater mints ticket secrets locally. Suitable for a
// standalone server; a fleet behind one load balancer needs the file
// or memcached store so every server decrypts every ticket.
type GeneratingUpdater struct {
	store  *sessionticket.Store
	policy sessionticket.Policy
	clock  clock.Clock
	logger *slog.Logger
}

// NewGeneratingUpdater returns an updater minting into store under
// policy.
func NewGeneratingUpdater(store *sessionticket.Store, policy sessionticket.Policy, clk clock.Clock, logger *slog.Logger) *GeneratingUpdater {
	return &GeneratingUpdater{
		store:  store,
		policy: policy,
		clock:  clk,
		logger: logger,
	}
}

// Run mints and retires secrets until ctx is cancelled. The first
// cycle runs immediately so handshakes have a key as soon as the
// updater is started.
func (u *GeneratingUpdater) Run(ctx context.Context) {
	for {
		now := uint64(u.clock.Now().Unix())
		if err := u.runOnce(now); err != nil {
			u.logger.Error("failed to mint session ticket secret", "error", err)
		}

		//nolint:gosec // The random interval is for jitter, not security.
		interval := time.Duration(generateIntervalBase+rand.Intn(generateIntervalJitter)) * time.Second
		select {
		case <-ctx.Done():
			return
		case <-u.clock.After(interval):
		}
	}
}

// runOnce performs one mint/retire cycle at now. The mint decision is
// taken from a single locked read; the mutations that follow each
// take their own exclusive acquisition.
func (u *GeneratingUpdater) runOnce(now uint64) error {
	mint := true
	var newestNotBefore uint64
	u.store.View(func(tickets []*sessionticket.Ticket) {
		if len(tickets) > 0 {
			newestNotBefore = tickets[0].NotBefore()
			mint = u.policy.ShouldMint(newestNotBefore, now)
		}
	})

	if mint {
		ticket, err := u.policy.Mint(now, false)
		if err != nil {
			return err
		}
		notBefore, notAfter := ticket.NotBefore(), ticket.NotAfter()
		u.store.Prepend(ticket)

		var count int
		var fingerprint string
		u.store.View(func(tickets []*sessionticket.Ticket) {
			count = len(tickets)
			fingerprint = sessionticket.Fingerprint(tickets)
		})
		u.logger.Info("minted session ticket secret",
			"not_before", notBefore,
			"not_after", notAfter,
			"tickets", count,
			"fingerprint", fingerprint)
	}

	for u.store.RetireOldest(now) {
	}
	return nil
}
