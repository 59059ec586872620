// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/zhaohaibin/h2o/lib/sealed"
	"github.com/zhaohaibin/h2o/lib/secret"
	"github.com/zhaohaibin/h2o/lib/sessionticket"
)

// mintPolicy resolves the minting parameters shared by generate and
// rotate.
func mintPolicy(cipherName, hashName string, lifetime uint64) (sessionticket.Policy, error) {
	cipher, ok := sessionticket.CipherByName(cipherName)
	if !ok {
		return sessionticket.Policy{}, fmt.Errorf("unknown cipher algorithm %q (available: %s)",
			cipherName, strings.Join(sessionticket.CipherNames(), ", "))
	}
	digest, ok := sessionticket.DigestByName(hashName)
	if !ok {
		return sessionticket.Policy{}, fmt.Errorf("unknown hash algorithm %q (available: %s)",
			hashName, strings.Join(sessionticket.DigestNames(), ", "))
	}
	if lifetime == 0 {
		return sessionticket.Policy{}, fmt.Errorf("lifetime must be a positive number of seconds")
	}
	return sessionticket.Policy{
		Cipher:   cipher,
		Digest:   digest,
		Lifetime: lifetime,
		Grace:    sessionticket.DefaultGrace,
	}, nil
}

// runGenerate creates a document holding one fresh ticket.
func runGenerate(args []string) error {
	flags := pflag.NewFlagSet("generate", pflag.ExitOnError)
	var (
		output     string
		cipherName string
		hashName   string
		lifetime   uint64
	)
	flags.StringVarP(&output, "output", "o", "-", `write the document to this path ("-" for stdout)`)
	flags.StringVar(&cipherName, "cipher", "aes-256-cbc", "cipher algorithm for the new ticket")
	flags.StringVar(&hashName, "hash", "sha256", "HMAC digest for the new ticket")
	flags.Uint64Var(&lifetime, "lifetime", sessionticket.DefaultLifetime, "ticket validity span in seconds")
	flags.Parse(args)

	policy, err := mintPolicy(cipherName, hashName, lifetime)
	if err != nil {
		return err
	}

	now := uint64(time.Now().Unix())
	ticket, err := policy.Mint(now, false)
	if err != nil {
		return fmt.Errorf("minting ticket: %w", err)
	}
	tickets := []*sessionticket.Ticket{ticket}
	defer sessionticket.ScrubAll(tickets)

	document := sessionticket.EncodeAll(tickets)
	defer secret.Zero(document)

	if err := writeOutput(output, document); err != nil {
		return fmt.Errorf("writing document: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Minted 1 ticket (%s/%s), valid %s\n",
		policy.Cipher.Name(), policy.Digest.Name(),
		formatWindow(ticket.NotBefore(), ticket.NotAfter()))
	fmt.Fprintf(os.Stderr, "  Fingerprint: %s\n", sessionticket.Fingerprint(tickets))
	return nil
}

// runRotate mints the next ticket generation into an existing document
// and drops expired tickets, mirroring what the background updaters do
// for the internal and memcached stores.
func runRotate(args []string) error {
	flags := pflag.NewFlagSet("rotate", pflag.ExitOnError)
	var (
		file         string
		identityPath string
		recipients   []string
		cipherName   string
		hashName     string
		lifetime     uint64
		force        bool
	)
	flags.StringVarP(&file, "file", "f", "", "ticket document to rotate (required)")
	flags.StringVarP(&identityPath, "identity", "i", "", "age identity file for sealed documents")
	flags.StringArrayVarP(&recipients, "recipient", "r", nil, "age public key to (re)seal the result to (repeatable)")
	flags.StringVar(&cipherName, "cipher", "aes-256-cbc", "cipher algorithm for the new ticket")
	flags.StringVar(&hashName, "hash", "sha256", "HMAC digest for the new ticket")
	flags.Uint64Var(&lifetime, "lifetime", sessionticket.DefaultLifetime, "ticket validity span in seconds")
	flags.BoolVar(&force, "force", false, "mint even when rotation is not yet due")
	flags.Parse(args)

	if file == "" {
		flags.Usage()
		return fmt.Errorf("--file is required")
	}

	policy, err := mintPolicy(cipherName, hashName, lifetime)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}
	defer secret.Zero(raw)

	data := raw
	wasSealed := sealed.IsSealed(raw)
	if wasSealed {
		if identityPath == "" {
			return fmt.Errorf("%s is age-encrypted: --identity is required", file)
		}
		if len(recipients) == 0 {
			return fmt.Errorf("%s is age-encrypted: at least one --recipient is required to reseal it", file)
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
	defer func() { sessionticket.ScrubAll(tickets) }()
	sessionticket.SortTickets(tickets)

	now := uint64(time.Now().Unix())
	hasValid := sessionticket.FindForEncryption(tickets, now) != nil
	due := len(tickets) == 0 || policy.ShouldMint(tickets[0].NotBefore(), now)
	if !due && !force {
		nextDue := tickets[0].NotBefore() + policy.Lifetime/4
		fmt.Fprintf(os.Stderr, "Rotation not due until %s (use --force to mint anyway)\n", formatTime(nextDue))
		return nil
	}

	minted, err := policy.Mint(now, hasValid)
	if err != nil {
		return fmt.Errorf("minting ticket: %w", err)
	}
	tickets = append([]*sessionticket.Ticket{minted}, tickets...)

	kept := make([]*sessionticket.Ticket, 0, len(tickets))
	expired := 0
	for _, t := range tickets {
		if t.NotAfter() < now {
			expired++
			continue
		}
		kept = append(kept, t)
	}

	document := sessionticket.EncodeAll(kept)
	defer secret.Zero(document)

	out := document
	if wasSealed || len(recipients) > 0 {
		out, err = sealed.Seal(document, recipients)
		if err != nil {
			return fmt.Errorf("sealing document: %w", err)
		}
	}

	if err := atomicWrite(file, out); err != nil {
		return fmt.Errorf("writing document: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Minted ticket valid %s\n", formatWindow(minted.NotBefore(), minted.NotAfter()))
	if expired > 0 {
		fmt.Fprintf(os.Stderr, "  Dropped %d expired ticket(s)\n", expired)
	}
	fmt.Fprintf(os.Stderr, "  Document now holds %d ticket(s)\n", len(kept))
	fmt.Fprintf(os.Stderr, "  Fingerprint: %s\n", sessionticket.Fingerprint(kept))
	return nil
}

// runInspect prints the public fields of every ticket in a document.
func runInspect(args []string) error {
	flags := pflag.NewFlagSet("inspect", pflag.ExitOnError)
	var identityPath string
	flags.StringVarP(&identityPath, "identity", "i", "", "age identity file for sealed documents")
	flags.Parse(args)

	if flags.NArg() != 1 {
		flags.Usage()
		return fmt.Errorf("exactly one document path is required")
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
	sessionticket.SortTickets(tickets)

	now := uint64(time.Now().Unix())
	fmt.Printf("Tickets: %d\n", len(tickets))
	fmt.Printf("Fingerprint: %s\n\n", sessionticket.Fingerprint(tickets))

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "NAME\tCIPHER\tHASH\tNOT BEFORE\tNOT AFTER\tSTATE\n")
	for _, t := range tickets {
		name := t.Name()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			hex.EncodeToString(name[:]),
			t.Cipher().Name(), t.Digest().Name(),
			formatTime(t.NotBefore()), formatTime(t.NotAfter()),
			ticketState(t, now))
	}
	return tw.Flush()
}

func ticketState(t *sessionticket.Ticket, now uint64) string {
	switch {
	case now < t.NotBefore():
		return "pending"
	case now > t.NotAfter():
		return "expired"
	default:
		return "active"
	}
}
