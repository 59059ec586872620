// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package sessionticket

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestEncodeRecordFormat(t *testing.T) {
	cipher := mustCipher("aes-128-cbc")
	digest := mustDigest("sha256")
	var name [NameSize]byte
	for i := range name {
		name[i] = byte(i)
	}
	key := make([]byte, cipher.KeyLength()+digest.BlockSize())
	for i := range key {
		key[i] = byte(i)
	}
	keyHex := hex.EncodeToString(key)

	ticket, err := Reconstruct(name, cipher, digest, key, 1700000000, 1700003599)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	want := fmt.Sprintf(
		"- name: 000102030405060708090a0b0c0d0e0f\n"+
			"  cipher: AES-128-CBC\n"+
			"  hash: SHA256\n"+
			"  key: %s\n"+
			"  not_before: 1700000000\n"+
			"  not_after: 1700003599\n",
		keyHex)
	if got := string(Encode(ticket)); got != want {
		t.Fatalf("Encode:\n%s\nwant:\n%s", got, want)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tickets := []*Ticket{
		namedTicket(t, 2, 300, 399),
		namedTicket(t, 1, 100, 299),
	}
	decoded, err := DecodeAll(EncodeAll(tickets))
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(decoded) != len(tickets) {
		t.Fatalf("decoded %d tickets, want %d", len(decoded), len(tickets))
	}
	for i := range tickets {
		if !decoded[i].Equal(tickets[i]) {
			t.Errorf("ticket %d did not survive the round trip", i)
		}
	}
}

func TestDecodeAcceptsLowercaseAlgorithmNames(t *testing.T) {
	document := "- name: 000102030405060708090a0b0c0d0e0f\n" +
		"  cipher: aes-256-cbc\n" +
		"  hash: sha256\n" +
		"  key: " + strings.Repeat("ab", 96) + "\n" +
		"  not_before: 100\n" +
		"  not_after: 199\n"
	tickets, err := DecodeAll([]byte(document))
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(tickets) != 1 {
		t.Fatalf("decoded %d tickets, want 1", len(tickets))
	}
	if got := tickets[0].Cipher().Name(); got != "AES-256-CBC" {
		t.Errorf("cipher = %q, want AES-256-CBC", got)
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	document := "- name: 000102030405060708090a0b0c0d0e0f\n" +
		"  cipher: AES-256-CBC\n" +
		"  hash: SHA256\n" +
		"  key: " + strings.Repeat("cd", 96) + "\n" +
		"  not_before: 100\n" +
		"  not_after: 199\n" +
		"  comment: imported from the previous deployment\n"
	tickets, err := DecodeAll([]byte(document))
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(tickets) != 1 {
		t.Fatalf("decoded %d tickets, want 1", len(tickets))
	}
}

func TestDecodeEmptyDocuments(t *testing.T) {
	for _, document := range []string{"", "null\n", "# nothing yet\n", "[]\n"} {
		tickets, err := DecodeAll([]byte(document))
		if err != nil {
			t.Errorf("DecodeAll(%q): %v", document, err)
		}
		if len(tickets) != 0 {
			t.Errorf("DecodeAll(%q) decoded %d tickets, want 0", document, len(tickets))
		}
	}
}

func validRecord() string {
	return "- name: 000102030405060708090a0b0c0d0e0f\n" +
		"  cipher: AES-256-CBC\n" +
		"  hash: SHA256\n" +
		"  key: " + strings.Repeat("ef", 96) + "\n" +
		"  not_before: 100\n" +
		"  not_after: 199\n"
}

func TestDecodeRejectsWholeDocument(t *testing.T) {
	bad := "- name: 00ff\n" +
		"  cipher: AES-256-CBC\n" +
		"  hash: SHA256\n" +
		"  key: " + strings.Repeat("ef", 96) + "\n" +
		"  not_before: 100\n" +
		"  not_after: 199\n"
	tickets, err := DecodeAll([]byte(validRecord() + validRecord() + bad))
	if err == nil {
		t.Fatal("document with one bad record accepted")
	}
	if tickets != nil {
		t.Fatalf("got %d tickets alongside an error, want none", len(tickets))
	}
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("error is %T, want *DecodeError", err)
	}
	if derr.Record != 2 {
		t.Errorf("Record = %d, want 2", derr.Record)
	}
	if derr.Field != "name" {
		t.Errorf("Field = %q, want name", derr.Field)
	}
	if !errors.Is(err, ErrInvalidHexLength) {
		t.Errorf("error does not wrap ErrInvalidHexLength: %v", err)
	}
}

func TestDecodeFieldErrors(t *testing.T) {
	mutate := func(from, to string) string {
		return strings.Replace(validRecord(), from, to, 1)
	}
	tests := []struct {
		name     string
		document string
		sentinel error
		field    string
	}{
		{
			name:     "missing name",
			document: mutate("- name:", "- alias:"),
			sentinel: ErrMissingField,
			field:    "name",
		},
		{
			name:     "missing not_before",
			document: mutate("  not_before: 100\n", ""),
			sentinel: ErrMissingField,
			field:    "not_before",
		},
		{
			name:     "name not hex",
			document: mutate("000102030405060708090a0b0c0d0e0f", strings.Repeat("zz", 16)),
			sentinel: ErrWrongType,
			field:    "name",
		},
		{
			name:     "name wrong length",
			document: mutate("000102030405060708090a0b0c0d0e0f", "0001"),
			sentinel: ErrInvalidHexLength,
			field:    "name",
		},
		{
			name:     "unknown cipher",
			document: mutate("AES-256-CBC", "DES-EDE3-CBC"),
			sentinel: ErrUnknownCipher,
			field:    "cipher",
		},
		{
			name:     "unknown hash",
			document: mutate("SHA256", "MD5"),
			sentinel: ErrUnknownDigest,
			field:    "hash",
		},
		{
			name:     "key wrong length",
			document: mutate(strings.Repeat("ef", 96), "efef"),
			sentinel: ErrInvalidHexLength,
			field:    "key",
		},
		{
			name:     "key not hex",
			document: mutate(strings.Repeat("ef", 96), strings.Repeat("zx", 96)),
			sentinel: ErrWrongType,
			field:    "key",
		},
		{
			name:     "not_before not a number",
			document: mutate("not_before: 100", "not_before: soon"),
			sentinel: ErrWrongType,
			field:    "not_before",
		},
		{
			name:     "not_after negative",
			document: mutate("not_after: 199", "not_after: -1"),
			sentinel: ErrWrongType,
			field:    "not_after",
		},
		{
			name:     "window inverted",
			document: mutate("not_before: 100", "not_before: 500"),
			sentinel: ErrInvalidWindow,
			field:    "",
		},
		{
			name:     "field not scalar",
			document: mutate("not_before: 100", "not_before: [1, 2]"),
			sentinel: ErrWrongType,
			field:    "not_before",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tickets, err := DecodeAll([]byte(tt.document))
			if err == nil {
				t.Fatalf("accepted:\n%s", tt.document)
			}
			if tickets != nil {
				t.Fatal("tickets returned alongside an error")
			}
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("error = %v, want %v", err, tt.sentinel)
			}
			var derr *DecodeError
			if !errors.As(err, &derr) {
				t.Fatalf("error is %T, want *DecodeError", err)
			}
			if derr.Record != 0 {
				t.Errorf("Record = %d, want 0", derr.Record)
			}
			if derr.Field != tt.field {
				t.Errorf("Field = %q, want %q", derr.Field, tt.field)
			}
		})
	}
}

func TestDecodeDocumentErrors(t *testing.T) {
	tests := []struct {
		name     string
		document string
	}{
		{"root is a mapping", "name: nope\n"},
		{"root is a scalar", "42\n"},
		{"record is a scalar", "- 42\n"},
		{"malformed yaml", "- name: \"unterminated\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tickets, err := DecodeAll([]byte(tt.document))
			if err == nil {
				t.Fatalf("accepted:\n%s", tt.document)
			}
			if tickets != nil {
				t.Fatal("tickets returned alongside an error")
			}
			if !errors.Is(err, ErrWrongType) {
				t.Fatalf("error = %v, want ErrWrongType", err)
			}
		})
	}
}

func TestDecodeErrorMessages(t *testing.T) {
	err := &DecodeError{Record: 3, Field: "key", Detail: "key is 4 hex characters, want 192 for AES-256-CBC/SHA256", Err: ErrInvalidHexLength}
	want := `ticket record 3: field "key": key is 4 hex characters, want 192 for AES-256-CBC/SHA256`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	recordLevel := &DecodeError{Record: 1, Err: ErrInvalidWindow}
	if got := recordLevel.Error(); got != "ticket record 1: not_after precedes not_before" {
		t.Errorf("Error() = %q", got)
	}

	documentLevel := &DecodeError{Record: -1, Detail: "root element is not a sequence", Err: ErrWrongType}
	if got := documentLevel.Error(); got != "ticket document: root element is not a sequence" {
		t.Errorf("Error() = %q", got)
	}
}
