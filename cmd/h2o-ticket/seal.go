// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/zhaohaibin/h2o/lib/sealed"
	"github.com/zhaohaibin/h2o/lib/secret"
	"github.com/zhaohaibin/h2o/lib/sessionticket"
)

// runKeygen generates a new age keypair and prints it. The public key
// goes to stdout for use with --recipient; the private key goes to
// stderr for safekeeping in an --identity file.
func runKeygen() error {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("generating keypair: %w", err)
	}
	defer keypair.Close()

	fmt.Fprintf(os.Stderr, "# Private key (keep this secret, store securely):\n")
	fmt.Fprintf(os.Stderr, "%s\n", keypair.PrivateKey.String())
	fmt.Fprintf(os.Stdout, "%s\n", keypair.PublicKey)
	return nil
}

// runSeal encrypts a ticket document with age. The document must
// decode before it is sealed; a sealed typo is much harder to debug
// than a plaintext one.
func runSeal(args []string) error {
	flags := pflag.NewFlagSet("seal", pflag.ExitOnError)
	var (
		output        string
		recipients    []string
		usePassphrase bool
	)
	flags.StringVarP(&output, "output", "o", "-", `write the sealed document to this path ("-" for stdout)`)
	flags.StringArrayVarP(&recipients, "recipient", "r", nil, "age public key to seal to (repeatable)")
	flags.BoolVar(&usePassphrase, "passphrase", false, "seal with a passphrase prompted on the terminal")
	flags.Parse(args)

	if flags.NArg() != 1 {
		flags.Usage()
		return fmt.Errorf("exactly one document path is required")
	}
	path := flags.Arg(0)

	if len(recipients) == 0 && !usePassphrase {
		return fmt.Errorf("either --recipient or --passphrase is required")
	}
	if len(recipients) > 0 && usePassphrase {
		return fmt.Errorf("--recipient and --passphrase are mutually exclusive")
	}
	if usePassphrase && path == "-" {
		return fmt.Errorf("--passphrase needs the terminal: read the document from a file, not stdin")
	}
	for _, key := range recipients {
		if err := sealed.ParsePublicKey(key); err != nil {
			return err
		}
	}

	plaintext, err := readInput(path)
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}
	defer secret.Zero(plaintext)

	if sealed.IsSealed(plaintext) {
		return fmt.Errorf("document is already age-encrypted")
	}

	tickets, err := sessionticket.DecodeAll(plaintext)
	if err != nil {
		return fmt.Errorf("parsing document: %w", err)
	}
	count := len(tickets)
	sessionticket.ScrubAll(tickets)

	var ciphertext []byte
	if usePassphrase {
		passphrase, err := promptPassphrase(true)
		if err != nil {
			return err
		}
		defer passphrase.Close()
		ciphertext, err = sealed.SealWithPassphrase(plaintext, passphrase)
		if err != nil {
			return fmt.Errorf("sealing document: %w", err)
		}
	} else {
		ciphertext, err = sealed.Seal(plaintext, recipients)
		if err != nil {
			return fmt.Errorf("sealing document: %w", err)
		}
	}

	if err := writeOutput(output, ciphertext); err != nil {
		return fmt.Errorf("writing sealed document: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Sealed %d ticket(s)\n", count)
	return nil
}

// runUnseal decrypts a sealed ticket document.
func runUnseal(args []string) error {
	flags := pflag.NewFlagSet("unseal", pflag.ExitOnError)
	var (
		output        string
		identityPath  string
		usePassphrase bool
	)
	flags.StringVarP(&output, "output", "o", "-", `write the plaintext document to this path ("-" for stdout)`)
	flags.StringVarP(&identityPath, "identity", "i", "", "age identity file holding the private key")
	flags.BoolVar(&usePassphrase, "passphrase", false, "unseal with a passphrase prompted on the terminal")
	flags.Parse(args)

	if flags.NArg() != 1 {
		flags.Usage()
		return fmt.Errorf("exactly one document path is required")
	}
	path := flags.Arg(0)

	if identityPath == "" && !usePassphrase {
		return fmt.Errorf("either --identity or --passphrase is required")
	}
	if identityPath != "" && usePassphrase {
		return fmt.Errorf("--identity and --passphrase are mutually exclusive")
	}
	if usePassphrase && path == "-" {
		return fmt.Errorf("--passphrase needs the terminal: read the document from a file, not stdin")
	}

	ciphertext, err := readInput(path)
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}
	if !sealed.IsSealed(ciphertext) {
		return fmt.Errorf("document is not age-encrypted")
	}

	var plaintext *secret.Buffer
	if usePassphrase {
		passphrase, err := promptPassphrase(false)
		if err != nil {
			return err
		}
		defer passphrase.Close()
		plaintext, err = sealed.UnsealWithPassphrase(ciphertext, passphrase)
		if err != nil {
			return fmt.Errorf("unsealing document: %w", err)
		}
	} else {
		identity, err := secret.ReadFromPath(identityPath)
		if err != nil {
			return fmt.Errorf("reading identity: %w", err)
		}
		defer identity.Close()
		plaintext, err = sealed.Unseal(ciphertext, identity)
		if err != nil {
			return fmt.Errorf("unsealing document: %w", err)
		}
	}
	defer plaintext.Close()

	tickets, err := sessionticket.DecodeAll(plaintext.Bytes())
	if err != nil {
		return fmt.Errorf("parsing unsealed document: %w", err)
	}
	count := len(tickets)
	sessionticket.ScrubAll(tickets)

	if err := writeOutput(output, plaintext.Bytes()); err != nil {
		return fmt.Errorf("writing document: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Unsealed %d ticket(s)\n", count)
	return nil
}

// promptPassphrase reads a passphrase from the terminal with echo
// disabled. When confirm is set it prompts twice and requires both
// entries to match.
func promptPassphrase(confirm bool) (*secret.Buffer, error) {
	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return nil, fmt.Errorf("no terminal available for the passphrase prompt")
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(stdinFd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	if len(first) == 0 {
		return nil, fmt.Errorf("passphrase is empty")
	}

	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		second, err := term.ReadPassword(stdinFd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			secret.Zero(first)
			return nil, fmt.Errorf("reading passphrase confirmation: %w", err)
		}
		match := bytes.Equal(first, second)
		secret.Zero(second)
		if !match {
			secret.Zero(first)
			return nil, fmt.Errorf("passphrases do not match")
		}
	}

	// NewFromBytes zeros first after the copy.
	buffer, err := secret.NewFromBytes(first)
	if err != nil {
		secret.Zero(first)
		return nil, err
	}
	return buffer, nil
}
