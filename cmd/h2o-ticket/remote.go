// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/zhaohaibin/h2o/lib/memcached"
	"github.com/zhaohaibin/h2o/lib/resumption"
	"github.com/zhaohaibin/h2o/lib/sealed"
	"github.com/zhaohaibin/h2o/lib/secret"
	"github.com/zhaohaibin/h2o/lib/sessionticket"
)

// runFetch downloads the shared ticket document. The raw bytes are
// written as-is so a corrupt document can still be examined; parse
// results go to stderr.
func runFetch(args []string) error {
	flags := pflag.NewFlagSet("fetch", pflag.ExitOnError)
	var (
		addr   string
		output string
	)
	flags.StringVar(&addr, "memcached", "", "memcached host:port (required)")
	flags.StringVarP(&output, "output", "o", "-", `write the document to this path ("-" for stdout)`)
	flags.Parse(args)

	if addr == "" {
		flags.Usage()
		return fmt.Errorf("--memcached is required")
	}

	client := memcached.New(addr, 1)
	entry, err := client.Get(resumption.DocumentKey)
	if errors.Is(err, memcached.ErrNotFound) {
		return fmt.Errorf("no ticket document at %q on %s", resumption.DocumentKey, addr)
	}
	if err != nil {
		return fmt.Errorf("fetching document: %w", err)
	}
	defer secret.Zero(entry.Value)

	tickets, err := sessionticket.DecodeAll(entry.Value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: document does not parse: %v\n", err)
	} else {
		fmt.Fprintf(os.Stderr, "Fetched %d ticket(s)\n", len(tickets))
		fmt.Fprintf(os.Stderr, "  Fingerprint: %s\n", sessionticket.Fingerprint(tickets))
		sessionticket.ScrubAll(tickets)
	}

	if err := writeOutput(output, entry.Value); err != nil {
		return fmt.Errorf("writing document: %w", err)
	}
	return nil
}

// runPush uploads a local ticket document to memcached, replacing
// whatever is there. Running updaters adopt the pushed document on
// their next sync cycle.
func runPush(args []string) error {
	flags := pflag.NewFlagSet("push", pflag.ExitOnError)
	var (
		addr         string
		identityPath string
		ttl          int32
	)
	flags.StringVar(&addr, "memcached", "", "memcached host:port (required)")
	flags.StringVarP(&identityPath, "identity", "i", "", "age identity file for sealed documents")
	flags.Int32Var(&ttl, "ttl", sessionticket.DefaultLifetime, "document TTL in seconds")
	flags.Parse(args)

	if flags.NArg() != 1 {
		flags.Usage()
		return fmt.Errorf("exactly one document path is required")
	}
	if addr == "" {
		flags.Usage()
		return fmt.Errorf("--memcached is required")
	}
	path := flags.Arg(0)

	raw, err := readInput(path)
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}
	defer secret.Zero(raw)

	data := raw
	if sealed.IsSealed(raw) {
		if identityPath == "" {
			return fmt.Errorf("document is age-encrypted: --identity is required")
		}
		identity, err := secret.ReadFromPath(identityPath)
		if err != nil {
			return fmt.Errorf("reading identity: %w", err)
		}
		defer identity.Close()
		plaintext, err := sealed.Unseal(raw, identity)
		if err != nil {
			return fmt.Errorf("unsealing document: %w", err)
		}
		defer plaintext.Close()
		data = plaintext.Bytes()
	}

	tickets, err := sessionticket.DecodeAll(data)
	if err != nil {
		return fmt.Errorf("parsing document: %w", err)
	}
	defer sessionticket.ScrubAll(tickets)
	if len(tickets) == 0 {
		return fmt.Errorf("refusing to push an empty document")
	}
	sessionticket.SortTickets(tickets)

	document := sessionticket.EncodeAll(tickets)
	defer secret.Zero(document)

	client := memcached.New(addr, 1)
	err = client.Set(&memcached.Entry{
		Key:        resumption.DocumentKey,
		Value:      document,
		Expiration: ttl,
	})
	if err != nil {
		return fmt.Errorf("pushing document: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Pushed %d ticket(s) to %s\n", len(tickets), addr)
	fmt.Fprintf(os.Stderr, "  Fingerprint: %s\n", sessionticket.Fingerprint(tickets))
	return nil
}
