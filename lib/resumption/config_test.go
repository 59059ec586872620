// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package resumption

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resumption.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}
	if cfg.Mode != ModeAll {
		t.Errorf("Mode = %q, want %q", cfg.Mode, ModeAll)
	}
	if cfg.TicketCipher != "aes-256-cbc" || cfg.TicketHash != "sha256" {
		t.Errorf("ticket algorithms = %q/%q, want aes-256-cbc/sha256", cfg.TicketCipher, cfg.TicketHash)
	}
	if cfg.TicketLifetime != 3600 || cfg.CacheLifetime != 3600 {
		t.Errorf("lifetimes = %d/%d, want 3600/3600", cfg.TicketLifetime, cfg.CacheLifetime)
	}
	if cfg.Memcached.Port != 11211 || cfg.Memcached.Prefix != ":h2o:ssl-resumption:" {
		t.Errorf("memcached defaults = %d/%q", cfg.Memcached.Port, cfg.Memcached.Prefix)
	}
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode: ticket
ticket-store: memcached
ticket-lifetime: 7200
memcached:
  host: mc.internal
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Mode != "ticket" || cfg.TicketStore != StoreMemcached {
		t.Errorf("mode/ticket-store = %q/%q", cfg.Mode, cfg.TicketStore)
	}
	if cfg.TicketLifetime != 7200 {
		t.Errorf("ticket-lifetime = %d, want 7200", cfg.TicketLifetime)
	}
	if cfg.TicketCipher != "aes-256-cbc" {
		t.Errorf("ticket-cipher = %q, default should survive", cfg.TicketCipher)
	}
	if !cfg.UsesMemcached() {
		t.Error("UsesMemcached = false, want true")
	}
	if got := cfg.MemcachedAddr(); got != "mc.internal:11211" {
		t.Errorf("MemcachedAddr = %q", got)
	}
}

func TestLoadFileFullDocument(t *testing.T) {
	path := writeConfig(t, `
mode: all
cache-store: memcached
cache-lifetime: 3600
ticket-store: memcached
ticket-cipher: aes-256-cbc
ticket-hash: sha256
ticket-lifetime: 3600
memcached:
  host: 10.0.0.2
  port: 11211
  connections: 1
  prefix: ":h2o:ssl-resumption:"
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.CacheStore != StoreMemcached || cfg.TicketStore != StoreMemcached {
		t.Errorf("stores = %q/%q, want memcached/memcached", cfg.CacheStore, cfg.TicketStore)
	}
	if got := cfg.MemcachedAddr(); got != "10.0.0.2:11211" {
		t.Errorf("MemcachedAddr = %q", got)
	}
}

func TestLoadFileEmptyKeepsDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Mode != ModeAll || cfg.TicketStore != StoreInternal {
		t.Errorf("got %q/%q, want defaults", cfg.Mode, cfg.TicketStore)
	}
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "tickets-store: internal\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "bad mode",
			mutate: func(c *Config) { c.Mode = "tickets" },
			want:   "mode must be one of",
		},
		{
			name:   "bad cache store",
			mutate: func(c *Config) { c.CacheStore = "redis" },
			want:   "cache-store must be one of",
		},
		{
			name:   "zero cache lifetime",
			mutate: func(c *Config) { c.CacheLifetime = 0 },
			want:   "cache-lifetime must be a positive number",
		},
		{
			name:   "bad ticket store",
			mutate: func(c *Config) { c.TicketStore = "etcd" },
			want:   "ticket-store must be one of",
		},
		{
			name:   "unknown cipher",
			mutate: func(c *Config) { c.TicketCipher = "des-ede3-cbc" },
			want:   "unknown cipher algorithm",
		},
		{
			name:   "unknown hash",
			mutate: func(c *Config) { c.TicketHash = "md5" },
			want:   "unknown hash algorithm",
		},
		{
			name:   "zero ticket lifetime",
			mutate: func(c *Config) { c.TicketLifetime = 0 },
			want:   "ticket-lifetime must be a positive number",
		},
		{
			name:   "file store without file",
			mutate: func(c *Config) { c.TicketStore = StoreFile },
			want:   "ticket-file is required",
		},
		{
			name: "memcached store without host",
			mutate: func(c *Config) {
				c.TicketStore = StoreMemcached
			},
			want: "memcached.host is required",
		},
		{
			name: "memcached port out of range",
			mutate: func(c *Config) {
				c.TicketStore = StoreMemcached
				c.Memcached.Host = "mc"
				c.Memcached.Port = 70000
			},
			want: "memcached.port must be between",
		},
		{
			name: "zero memcached connections",
			mutate: func(c *Config) {
				c.TicketStore = StoreMemcached
				c.Memcached.Host = "mc"
				c.Memcached.Connections = 0
			},
			want: "memcached.connections must be a positive number",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.TicketCipher = "rot13"
	cfg.CacheLifetime = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"unknown cipher algorithm", "cache-lifetime"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not contain %q", err, want)
		}
	}
}

func TestModeHelpers(t *testing.T) {
	tests := []struct {
		mode   string
		cache  bool
		ticket bool
	}{
		{ModeOff, false, false},
		{ModeCache, true, false},
		{ModeTicket, false, true},
		{ModeAll, true, true},
		{"ALL", true, true}, // mode comparison is case-insensitive
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.Mode = tt.mode
		if got := cfg.CacheEnabled(); got != tt.cache {
			t.Errorf("mode %q: CacheEnabled = %v, want %v", tt.mode, got, tt.cache)
		}
		if got := cfg.TicketEnabled(); got != tt.ticket {
			t.Errorf("mode %q: TicketEnabled = %v, want %v", tt.mode, got, tt.ticket)
		}
	}
}

func TestUsesMemcachedIgnoresDisabledMechanisms(t *testing.T) {
	cfg := Default()
	cfg.Mode = ModeTicket
	cfg.CacheStore = StoreMemcached // cache is off in ticket mode
	if cfg.UsesMemcached() {
		t.Error("UsesMemcached = true for a disabled mechanism")
	}

	cfg.Mode = ModeAll
	if !cfg.UsesMemcached() {
		t.Error("UsesMemcached = false once the cache is enabled")
	}
}
