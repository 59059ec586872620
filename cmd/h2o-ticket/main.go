// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zhaohaibin/h2o/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	subcommand := os.Args[1]
	switch subcommand {
	case "generate":
		return runGenerate(os.Args[2:])
	case "rotate":
		return runRotate(os.Args[2:])
	case "inspect":
		return runInspect(os.Args[2:])
	case "keygen":
		return runKeygen()
	case "seal":
		return runSeal(os.Args[2:])
	case "unseal":
		return runUnseal(os.Args[2:])
	case "fetch":
		return runFetch(os.Args[2:])
	case "push":
		return runPush(os.Args[2:])
	case "version":
		fmt.Printf("h2o-ticket %s\n", version.Info())
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", subcommand)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: h2o-ticket <subcommand> [flags]

Subcommands:
  generate    Create a fresh ticket document
  rotate      Mint the next ticket generation into a document
  inspect     Show the tickets in a document (key material is never printed)
  keygen      Generate an age keypair for sealing documents
  seal        Encrypt a document for storage at rest
  unseal      Decrypt a sealed document
  fetch       Download the shared ticket document from memcached
  push        Upload a ticket document to memcached
  version     Print version information

Run 'h2o-ticket <subcommand> --help' for subcommand flags.
`)
}

// readInput reads the file at path, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	return os.ReadFile(path)
}

// writeOutput writes data to path, or to stdout when path is "-".
// File writes go through atomicWrite so readers never see a partial
// document.
func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return atomicWrite(path, data)
}

// atomicWrite writes data to a temporary file in the target directory,
// syncs it, and renames it into place. The file is created with mode
// 0600; the parent directory must already exist.
func atomicWrite(path string, data []byte) error {
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming into place: %w", err)
	}

	// Sync the parent directory so the rename survives a power loss.
	if parent, err := os.Open(filepath.Dir(path)); err == nil {
		parent.Sync()
		parent.Close()
	}

	return nil
}

// formatTime renders a ticket timestamp for human consumption.
func formatTime(unix uint64) string {
	return time.Unix(int64(unix), 0).UTC().Format(time.RFC3339)
}

// formatWindow renders a ticket validity window.
func formatWindow(notBefore, notAfter uint64) string {
	return fmt.Sprintf("%s .. %s", formatTime(notBefore), formatTime(notAfter))
}
