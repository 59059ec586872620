// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package resumption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zhaohaibin/h2o/lib/sessionticket"
)

// Resumption modes. The mode selects which mechanisms are offered to
// clients; "off" disables resumption entirely.
const (
	ModeOff    = "off"
	ModeCache  = "cache"
	ModeTicket = "ticket"
	ModeAll    = "all"
)

// Store kinds. The cache store accepts internal and memcached; the
// ticket store additionally accepts file.
const (
	StoreInternal  = "internal"
	StoreFile      = "file"
	StoreMemcached = "memcached"
)

// Config is the session resumption configuration.
type Config struct {
	// Mode selects which resumption mechanisms are offered.
	// One of: off, cache, ticket, all. Default: all.
	Mode string `yaml:"mode"`

	// CacheStore selects where session-ID sessions are kept.
	// One of: internal, memcached. Default: internal.
	CacheStore string `yaml:"cache-store"`

	// CacheLifetime is how long cached sessions stay resumable, in
	// seconds. Only meaningful for the memcached cache store.
	// Default: 3600.
	CacheLifetime uint64 `yaml:"cache-lifetime"`

	// TicketStore selects how ticket secrets are managed.
	// One of: internal, file, memcached. Default: internal.
	TicketStore string `yaml:"ticket-store"`

	// TicketLifetime is the validity span of minted tickets, in
	// seconds. Ignored by the file store. Default: 3600.
	TicketLifetime uint64 `yaml:"ticket-lifetime"`

	// TicketCipher names the algorithm protecting minted tickets.
	// Ignored by the file store. Default: aes-256-cbc.
	TicketCipher string `yaml:"ticket-cipher"`

	// TicketHash names the HMAC digest protecting minted tickets.
	// Ignored by the file store. Default: sha256.
	TicketHash string `yaml:"ticket-hash"`

	// TicketFile is the path of the ticket secret file. Required when
	// TicketStore is "file".
	TicketFile string `yaml:"ticket-file"`

	// TicketFileKey is the path of an age identity used to unseal
	// TicketFile when the file is age-encrypted. Optional.
	TicketFileKey string `yaml:"ticket-file-key"`

	// Memcached configures the shared memcached endpoint. Required
	// when either store is set to "memcached".
	Memcached MemcachedConfig `yaml:"memcached"`
}

// MemcachedConfig configures the shared memcached endpoint.
type MemcachedConfig struct {
	// Host is the memcached server host. Required when any store is
	// set to "memcached".
	Host string `yaml:"host"`

	// Port is the memcached server port. Default: 11211.
	Port int `yaml:"port"`

	// Prefix is prepended to session cache keys. The ticket document
	// key is shared by every server and is deliberately not
	// prefixed. Default: ":h2o:ssl-resumption:".
	Prefix string `yaml:"prefix"`

	// Connections caps the idle connections kept to the server.
	// Default: 1.
	Connections int `yaml:"connections"`
}

// Default returns the configuration used when no file is given:
// resumption fully enabled with locally generated ticket secrets.
func Default() *Config {
	return &Config{
		Mode:           ModeAll,
		CacheStore:     StoreInternal,
		CacheLifetime:  3600,
		TicketStore:    StoreInternal,
		TicketLifetime: sessionticket.DefaultLifetime,
		TicketCipher:   "aes-256-cbc",
		TicketHash:     "sha256",
		Memcached: MemcachedConfig{
			Port:        11211,
			Prefix:      ":h2o:ssl-resumption:",
			Connections: 1,
		},
	}
}

// LoadFile loads configuration from path, merging the file over the
// defaults. Unknown keys are rejected so typos fail at startup rather
// than silently running with defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration and reports every problem found,
// not just the first one.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Mode) {
	case ModeOff, ModeCache, ModeTicket, ModeAll:
	default:
		errs = append(errs, fmt.Errorf("mode must be one of: off | cache | ticket | all"))
	}

	if c.CacheEnabled() {
		switch strings.ToLower(c.CacheStore) {
		case StoreInternal, StoreMemcached:
		default:
			errs = append(errs, fmt.Errorf("cache-store must be one of: internal | memcached"))
		}
		if c.CacheLifetime == 0 {
			errs = append(errs, fmt.Errorf("cache-lifetime must be a positive number"))
		}
	}

	if c.TicketEnabled() {
		switch strings.ToLower(c.TicketStore) {
		case StoreInternal, StoreMemcached:
			if _, ok := sessionticket.CipherByName(c.TicketCipher); !ok {
				errs = append(errs, fmt.Errorf("ticket-cipher: unknown cipher algorithm %q", c.TicketCipher))
			}
			if _, ok := sessionticket.DigestByName(c.TicketHash); !ok {
				errs = append(errs, fmt.Errorf("ticket-hash: unknown hash algorithm %q", c.TicketHash))
			}
			if c.TicketLifetime == 0 {
				errs = append(errs, fmt.Errorf("ticket-lifetime must be a positive number"))
			}
		case StoreFile:
			if c.TicketFile == "" {
				errs = append(errs, fmt.Errorf("ticket-file is required when ticket-store is %q", StoreFile))
			}
		default:
			errs = append(errs, fmt.Errorf("ticket-store must be one of: internal | file | memcached"))
		}
	}

	if c.UsesMemcached() {
		if c.Memcached.Host == "" {
			errs = append(errs, fmt.Errorf("memcached.host is required when a store is set to %q", StoreMemcached))
		}
		if c.Memcached.Port < 1 || c.Memcached.Port > 65535 {
			errs = append(errs, fmt.Errorf("memcached.port must be between 1 and 65535"))
		}
		if c.Memcached.Connections < 1 {
			errs = append(errs, fmt.Errorf("memcached.connections must be a positive number"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// CacheEnabled reports whether the session cache mechanism is on.
func (c *Config) CacheEnabled() bool {
	mode := strings.ToLower(c.Mode)
	return mode == ModeCache || mode == ModeAll
}

// TicketEnabled reports whether the session ticket mechanism is on.
func (c *Config) TicketEnabled() bool {
	mode := strings.ToLower(c.Mode)
	return mode == ModeTicket || mode == ModeAll
}

// UsesMemcached reports whether any enabled mechanism needs the
// shared memcached endpoint.
func (c *Config) UsesMemcached() bool {
	if c.CacheEnabled() && strings.EqualFold(c.CacheStore, StoreMemcached) {
		return true
	}
	if c.TicketEnabled() && strings.EqualFold(c.TicketStore, StoreMemcached) {
		return true
	}
	return false
}

// MemcachedAddr returns the host:port of the configured memcached
// server.
func (c *Config) MemcachedAddr() string {
	return net.JoinHostPort(c.Memcached.Host, strconv.Itoa(c.Memcached.Port))
}
