// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package resumption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/zhaohaibin/h2o/lib/clock"
	"github.com/zhaohaibin/h2o/lib/sealed"
	"github.com/zhaohaibin/h2o/lib/secret"
	"github.com/zhaohaibin/h2o/lib/sessionticket"
)

// filePollInterval is how often the secret file is checked for
// changes.
const filePollInterval = 10 * time.Second

// FileUpdater loads ticket secrets from an operator-managed file and
// reloads whenever the file's modification time changes. A file
// bearing the age header is unsealed with the configured identity
// before decoding.
//
// A failed reload keeps the previously loaded secrets: handshakes
// keep working with the last known good set while the operator fixes
// the file.
type FileUpdater struct {
	store    *sessionticket.Store
	path     string
	identity *secret.Buffer // age identity for sealed files, may be nil
	clock    clock.Clock
	logger   *slog.Logger

	lastMod time.Time
	missing bool
}

// NewFileUpdater returns an updater polling path. identity may be
// nil when the file is stored in the clear; the updater borrows the
// buffer for its lifetime and does not close it.
func NewFileUpdater(store *sessionticket.Store, path string, identity *secret.Buffer, clk clock.Clock, logger *slog.Logger) *FileUpdater {
	return &FileUpdater{
		store:    store,
		path:     path,
		identity: identity,
		clock:    clk,
		logger:   logger,
	}
}

// Run polls the file until ctx is cancelled. The first poll happens
// immediately.
func (u *FileUpdater) Run(ctx context.Context) {
	for {
		u.poll()
		select {
		case <-ctx.Done():
			return
		case <-u.clock.After(filePollInterval):
		}
	}
}

// poll stats the file and reloads it when the modification time moved.
// A missing file is logged once per transition and clears the mtime
// sentinel so the file is reloaded when it reappears, even with an
// unchanged mtime.
func (u *FileUpdater) poll() {
	info, err := os.Stat(u.path)
	if err != nil {
		if !u.missing {
			u.logger.Error("cannot load session ticket secrets",
				"file", u.path, "error", err)
			u.missing = true
		}
		u.lastMod = time.Time{}
		return
	}
	u.missing = false

	if info.ModTime().Equal(u.lastMod) {
		return
	}
	// Record the mtime before loading: a bad file is not retried
	// until it changes again.
	u.lastMod = info.ModTime()

	if err := u.load(); err != nil {
		u.logger.Error("failed to load session ticket secrets",
			"file", u.path, "error", err)
	}
}

// load reads, optionally unseals, and decodes the file, then swaps
// the decoded set into the store.
func (u *FileUpdater) load() error {
	raw, err := os.ReadFile(u.path)
	if err != nil {
		return err
	}
	defer secret.Zero(raw)

	data := raw
	if sealed.IsSealed(raw) {
		if u.identity == nil {
			return errors.New("file is age-encrypted and no file key is configured")
		}
		plaintext, err := sealed.Unseal(raw, u.identity)
		if err != nil {
			return fmt.Errorf("unseal: %w", err)
		}
		defer plaintext.Close()
		data = plaintext.Bytes()
	}

	tickets, err := sessionticket.DecodeAll(data)
	if err != nil {
		return err
	}
	sessionticket.SortTickets(tickets)

	count := len(tickets)
	fingerprint := sessionticket.Fingerprint(tickets)
	u.store.Replace(tickets)

	u.logger.Info("session ticket secrets have been (re)loaded",
		"file", u.path,
		"tickets", count,
		"fingerprint", fingerprint)
	return nil
}
