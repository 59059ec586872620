// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package resumption

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zhaohaibin/h2o/lib/clock"
	"github.com/zhaohaibin/h2o/lib/memcached"
	"github.com/zhaohaibin/h2o/lib/secret"
	"github.com/zhaohaibin/h2o/lib/sessionticket"
)

// Updater keeps the ticket store populated from some source of
// secrets. Exactly one updater runs per process.
type Updater interface {
	// Run maintains the store until ctx is cancelled.
	Run(ctx context.Context)
}

// Service owns the moving parts of session resumption for one server
// process: the ticket store, the updater feeding it, the handshake
// crypter, and the shared session cache when one is configured.
type Service struct {
	config   *Config
	store    *sessionticket.Store
	updater  Updater
	crypter  *TicketCrypter
	cache    *SessionCache
	identity *secret.Buffer
	logger   *slog.Logger
}

// NewService assembles a service from a validated configuration. The
// internal session cache needs no wiring here: it is the TLS stack's
// own; only the memcached store is built.
func NewService(cfg *Config, clk clock.Clock, logger *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{config: cfg, logger: logger}

	var client memcached.Client
	if cfg.UsesMemcached() {
		client = memcached.New(cfg.MemcachedAddr(), cfg.Memcached.Connections)
	}

	if cfg.TicketEnabled() {
		s.store = sessionticket.NewStore()
		s.crypter = NewTicketCrypter(s.store, clk)

		switch strings.ToLower(cfg.TicketStore) {
		case StoreFile:
			if cfg.TicketFileKey != "" {
				identity, err := secret.ReadFromPath(cfg.TicketFileKey)
				if err != nil {
					return nil, fmt.Errorf("read ticket file key: %w", err)
				}
				s.identity = identity
			}
			s.updater = NewFileUpdater(s.store, cfg.TicketFile, s.identity, clk, logger)

		default:
			cipher, _ := sessionticket.CipherByName(cfg.TicketCipher)
			digest, _ := sessionticket.DigestByName(cfg.TicketHash)
			policy := sessionticket.Policy{
				Cipher:   cipher,
				Digest:   digest,
				Lifetime: cfg.TicketLifetime,
				Grace:    sessionticket.DefaultGrace,
			}
			if strings.EqualFold(cfg.TicketStore, StoreMemcached) {
				s.updater = NewDistributedUpdater(s.store, policy, client, clk, logger)
			} else {
				s.updater = NewGeneratingUpdater(s.store, policy, clk, logger)
			}
		}
	}

	if cfg.CacheEnabled() && strings.EqualFold(cfg.CacheStore, StoreMemcached) {
		s.cache = NewSessionCache(client, cfg.Memcached.Prefix, cfg.CacheLifetime, logger)
	}

	logger.Info("session resumption configured",
		"mode", strings.ToLower(cfg.Mode),
		"ticket_store", strings.ToLower(cfg.TicketStore),
		"cache_store", strings.ToLower(cfg.CacheStore))
	return s, nil
}

// Run drives the configured updater until ctx is cancelled, then
// waits for it to stop before releasing held key material.
func (s *Service) Run(ctx context.Context) error {
	if s.identity != nil {
		defer s.identity.Close()
	}

	if s.updater == nil {
		<-ctx.Done()
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.updater.Run(ctx)
	}()
	<-ctx.Done()
	<-done
	return nil
}

// Configure attaches resumption to a TLS configuration. When tickets
// are not enabled the stack's built-in ticket issuance is switched
// off too, so clients are not handed tickets nobody can decrypt
// after a restart.
func (s *Service) Configure(cfg *tls.Config) {
	if s.crypter != nil {
		s.crypter.Configure(cfg)
	} else {
		cfg.SessionTicketsDisabled = true
	}
}

// Store returns the ticket store, or nil when tickets are disabled.
func (s *Service) Store() *sessionticket.Store { return s.store }

// Crypter returns the handshake crypter, or nil when tickets are
// disabled.
func (s *Service) Crypter() *TicketCrypter { return s.crypter }

// Cache returns the shared session cache, or nil when none is
// configured.
func (s *Service) Cache() *SessionCache { return s.cache }
