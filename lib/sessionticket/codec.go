// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package sessionticket

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/zhaohaibin/h2o/lib/secret"
)

// Decode failure categories. Every decode error wraps exactly one of
// these; match with errors.Is.
var (
	// ErrMissingField reports a record without one of the mandatory
	// fields.
	ErrMissingField = errors.New("mandatory field is missing")
	// ErrWrongType reports a field whose value has the wrong shape:
	// not a scalar, not hex, or not an unsigned decimal integer.
	ErrWrongType = errors.New("field has the wrong type")
	// ErrInvalidHexLength reports a hex field whose decoded length
	// does not match the record's algorithms.
	ErrInvalidHexLength = errors.New("hex field has the wrong length")
	// ErrUnknownCipher reports a cipher name missing from the
	// algorithm registry.
	ErrUnknownCipher = errors.New("unknown cipher algorithm")
	// ErrUnknownDigest reports a hash name missing from the algorithm
	// registry.
	ErrUnknownDigest = errors.New("unknown hash algorithm")
	// ErrInvalidWindow reports a record whose not_after precedes its
	// not_before.
	ErrInvalidWindow = errors.New("not_after precedes not_before")
)

// A DecodeError locates a malformed ticket document down to the record
// and field that broke, and wraps the category sentinel describing
// how.
type DecodeError struct {
	Record int    // zero-based record index, -1 for document-level errors
	Field  string // offending field, empty for record-level errors
	Detail string // specifics beyond the category, may be empty
	Err    error  // one of the category sentinels above
}

func (e *DecodeError) Error() string {
	switch {
	case e.Record < 0:
		return fmt.Sprintf("ticket document: %s", e.message())
	case e.Field == "":
		return fmt.Sprintf("ticket record %d: %s", e.Record, e.message())
	default:
		return fmt.Sprintf("ticket record %d: field %q: %s", e.Record, e.Field, e.message())
	}
}

func (e *DecodeError) message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serializes one ticket as a single list-item record, including
// its key material in hex.
func Encode(t *Ticket) []byte {
	var buf bytes.Buffer
	encodeRecord(&buf, t)
	return buf.Bytes()
}

// EncodeAll serializes tickets, in the order given, as one YAML
// document. The output decodes back with [DecodeAll] and is the
// at-rest format of the secrets file and the fleet-wide store, so it
// contains raw key material.
func EncodeAll(tickets []*Ticket) []byte {
	var buf bytes.Buffer
	for _, t := range tickets {
		encodeRecord(&buf, t)
	}
	return buf.Bytes()
}

func encodeRecord(buf *bytes.Buffer, t *Ticket) {
	fmt.Fprintf(buf, "- name: %s\n", hex.EncodeToString(t.name[:]))
	fmt.Fprintf(buf, "  cipher: %s\n", t.cipher.Name())
	fmt.Fprintf(buf, "  hash: %s\n", t.digest.Name())
	fmt.Fprintf(buf, "  key: %s\n", hex.EncodeToString(t.keys.Bytes()))
	fmt.Fprintf(buf, "  not_before: %d\n", t.notBefore)
	fmt.Fprintf(buf, "  not_after: %d\n", t.notAfter)
}

// DecodeAll parses a ticket document. An empty or null document yields
// no tickets and no error. Any malformed record poisons the whole
// document: tickets decoded before the failure are scrubbed and only
// the *DecodeError is returned, so a caller never installs a partial
// key set. Record order is preserved; callers sort as needed.
func DecodeAll(data []byte) ([]*Ticket, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &DecodeError{Record: -1, Detail: fmt.Sprintf("malformed YAML: %v", err), Err: ErrWrongType}
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return nil, nil
	}
	doc := root.Content[0]
	if doc.Kind == yaml.ScalarNode && doc.Tag == "!!null" {
		return nil, nil
	}
	if doc.Kind != yaml.SequenceNode {
		return nil, &DecodeError{Record: -1, Detail: "root element is not a sequence", Err: ErrWrongType}
	}
	tickets := make([]*Ticket, 0, len(doc.Content))
	for i, node := range doc.Content {
		t, err := decodeRecord(i, node)
		if err != nil {
			ScrubAll(tickets)
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

// recordDecoder holds the field map of one list-item mapping while its
// fields are checked in wire order.
type recordDecoder struct {
	index  int
	fields map[string]*yaml.Node
}

func newRecordDecoder(index int, node *yaml.Node) (*recordDecoder, *DecodeError) {
	if node.Kind != yaml.MappingNode {
		return nil, &DecodeError{Record: index, Detail: "record is not a mapping", Err: ErrWrongType}
	}
	fields := make(map[string]*yaml.Node, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if key.Kind != yaml.ScalarNode {
			return nil, &DecodeError{Record: index, Detail: "mapping key is not a scalar", Err: ErrWrongType}
		}
		if _, seen := fields[key.Value]; !seen {
			fields[key.Value] = value
		}
	}
	return &recordDecoder{index: index, fields: fields}, nil
}

func (r *recordDecoder) scalar(field string) (string, *DecodeError) {
	value, ok := r.fields[field]
	if !ok {
		return "", &DecodeError{Record: r.index, Field: field, Err: ErrMissingField}
	}
	if value.Kind != yaml.ScalarNode {
		return "", &DecodeError{Record: r.index, Field: field, Detail: "value is not a scalar", Err: ErrWrongType}
	}
	return value.Value, nil
}

func (r *recordDecoder) scalarUint(field string) (uint64, *DecodeError) {
	text, derr := r.scalar(field)
	if derr != nil {
		return 0, derr
	}
	value, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, &DecodeError{
			Record: r.index,
			Field:  field,
			Detail: fmt.Sprintf("%s is not an unsigned decimal integer", field),
			Err:    ErrWrongType,
		}
	}
	return value, nil
}

// Fields are validated in wire order: name, cipher, hash, key,
// not_before, not_after. The key length check needs the algorithms, so
// cipher and hash resolve before the key is touched.
func decodeRecord(index int, node *yaml.Node) (*Ticket, error) {
	r, derr := newRecordDecoder(index, node)
	if derr != nil {
		return nil, derr
	}

	nameHex, derr := r.scalar("name")
	if derr != nil {
		return nil, derr
	}
	if len(nameHex) != NameSize*2 {
		return nil, &DecodeError{
			Record: index,
			Field:  "name",
			Detail: fmt.Sprintf("name is %d hex characters, want %d", len(nameHex), NameSize*2),
			Err:    ErrInvalidHexLength,
		}
	}
	nameBytes, err := hex.DecodeString(nameHex)
	if err != nil {
		return nil, &DecodeError{Record: index, Field: "name", Detail: "name is not a hex string", Err: ErrWrongType}
	}
	var name [NameSize]byte
	copy(name[:], nameBytes)

	cipherName, derr := r.scalar("cipher")
	if derr != nil {
		return nil, derr
	}
	cipher, ok := CipherByName(cipherName)
	if !ok {
		return nil, &DecodeError{
			Record: index,
			Field:  "cipher",
			Detail: fmt.Sprintf("unknown cipher algorithm %q", cipherName),
			Err:    ErrUnknownCipher,
		}
	}

	digestName, derr := r.scalar("hash")
	if derr != nil {
		return nil, derr
	}
	digest, ok := DigestByName(digestName)
	if !ok {
		return nil, &DecodeError{
			Record: index,
			Field:  "hash",
			Detail: fmt.Sprintf("unknown hash algorithm %q", digestName),
			Err:    ErrUnknownDigest,
		}
	}

	keyHex, derr := r.scalar("key")
	if derr != nil {
		return nil, derr
	}
	wantKeyHex := (cipher.KeyLength() + digest.BlockSize()) * 2
	if len(keyHex) != wantKeyHex {
		return nil, &DecodeError{
			Record: index,
			Field:  "key",
			Detail: fmt.Sprintf("key is %d hex characters, want %d for %s/%s", len(keyHex), wantKeyHex, cipher.Name(), digest.Name()),
			Err:    ErrInvalidHexLength,
		}
	}
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		secret.Zero(keyBytes)
		return nil, &DecodeError{Record: index, Field: "key", Detail: "key is not a hex string", Err: ErrWrongType}
	}

	notBefore, derr := r.scalarUint("not_before")
	if derr != nil {
		secret.Zero(keyBytes)
		return nil, derr
	}
	notAfter, derr := r.scalarUint("not_after")
	if derr != nil {
		secret.Zero(keyBytes)
		return nil, derr
	}
	if notAfter < notBefore {
		secret.Zero(keyBytes)
		return nil, &DecodeError{Record: index, Err: ErrInvalidWindow}
	}

	t, err := Reconstruct(name, cipher, digest, keyBytes, notBefore, notAfter)
	if err != nil {
		return nil, fmt.Errorf("ticket record %d: %w", index, err)
	}
	return t, nil
}
