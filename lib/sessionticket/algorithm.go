// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package sessionticket

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"
)

// Cipher describes a block cipher usable for ticket protection. The
// zero value is not valid; obtain instances from [CipherByName].
type Cipher struct {
	name      string
	keyLength int
	blockSize int
}

// Name returns the canonical algorithm name as it appears in encoded
// ticket documents, for example "AES-256-CBC".
func (c *Cipher) Name() string { return c.name }

// KeyLength returns the cipher key length in bytes.
func (c *Cipher) KeyLength() int { return c.keyLength }

// BlockSize returns the cipher block size in bytes. IVs are one block
// long.
func (c *Cipher) BlockSize() int { return c.blockSize }

// Encrypter returns CBC encryption state keyed with key and iv. The
// key must be KeyLength bytes and the iv one block.
func (c *Cipher) Encrypter(key, iv []byte) (cipher.BlockMode, error) {
	block, err := c.newBlock(key, iv)
	if err != nil {
		return nil, err
	}
	return cipher.NewCBCEncrypter(block, iv), nil
}

// Decrypter returns CBC decryption state keyed with key and iv.
func (c *Cipher) Decrypter(key, iv []byte) (cipher.BlockMode, error) {
	block, err := c.newBlock(key, iv)
	if err != nil {
		return nil, err
	}
	return cipher.NewCBCDecrypter(block, iv), nil
}

func (c *Cipher) newBlock(key, iv []byte) (cipher.Block, error) {
	if len(key) != c.keyLength {
		return nil, fmt.Errorf("%s: key is %d bytes, want %d", c.name, len(key), c.keyLength)
	}
	if len(iv) != c.blockSize {
		return nil, fmt.Errorf("%s: IV is %d bytes, want %d", c.name, len(iv), c.blockSize)
	}
	return aes.NewCipher(key)
}

// Digest describes a hash algorithm used for ticket authentication.
// The zero value is not valid; obtain instances from [DigestByName].
type Digest struct {
	name      string
	factory   func() hash.Hash
	blockSize int
	size      int
}

// Name returns the canonical algorithm name as it appears in encoded
// ticket documents, for example "SHA256".
func (d *Digest) Name() string { return d.name }

// BlockSize returns the hash block size in bytes. HMAC keys are one
// block long.
func (d *Digest) BlockSize() int { return d.blockSize }

// Size returns the digest output length in bytes.
func (d *Digest) Size() int { return d.size }

// New returns a fresh hash state.
func (d *Digest) New() hash.Hash { return d.factory() }

// NewMAC returns HMAC state keyed with key.
func (d *Digest) NewMAC(key []byte) hash.Hash { return hmac.New(d.factory, key) }

func newDigest(name string, factory func() hash.Hash) *Digest {
	probe := factory()
	return &Digest{
		name:      name,
		factory:   factory,
		blockSize: probe.BlockSize(),
		size:      probe.Size(),
	}
}

// Lookup keys are lowercase; Name() carries the canonical spelling
// used on the wire.
var (
	ciphers = map[string]*Cipher{
		"aes-128-cbc": {name: "AES-128-CBC", keyLength: 16, blockSize: aes.BlockSize},
		"aes-192-cbc": {name: "AES-192-CBC", keyLength: 24, blockSize: aes.BlockSize},
		"aes-256-cbc": {name: "AES-256-CBC", keyLength: 32, blockSize: aes.BlockSize},
	}

	digests = map[string]*Digest{
		"sha1":       newDigest("SHA1", sha1.New),
		"sha256":     newDigest("SHA256", sha256.New),
		"sha384":     newDigest("SHA384", sha512.New384),
		"sha512":     newDigest("SHA512", sha512.New),
		"sha3-256":   newDigest("SHA3-256", func() hash.Hash { return sha3.New256() }),
		"sha3-512":   newDigest("SHA3-512", func() hash.Hash { return sha3.New512() }),
		"blake2b512": newDigest("BLAKE2b512", func() hash.Hash { h, _ := blake2b.New512(nil); return h }),
		"blake2s256": newDigest("BLAKE2s256", func() hash.Hash { h, _ := blake2s.New256(nil); return h }),
		"blake3":     newDigest("BLAKE3", func() hash.Hash { return blake3.New() }),
	}
)

// CipherByName resolves a cipher algorithm name, case-insensitively.
func CipherByName(name string) (*Cipher, bool) {
	c, ok := ciphers[strings.ToLower(name)]
	return c, ok
}

// DigestByName resolves a hash algorithm name, case-insensitively.
func DigestByName(name string) (*Digest, bool) {
	d, ok := digests[strings.ToLower(name)]
	return d, ok
}

// CipherNames returns the known cipher names in canonical form,
// sorted. Used for configuration error messages and CLI help.
func CipherNames() []string {
	names := make([]string, 0, len(ciphers))
	for _, c := range ciphers {
		names = append(names, c.name)
	}
	sort.Strings(names)
	return names
}

// DigestNames returns the known hash names in canonical form, sorted.
func DigestNames() []string {
	names := make([]string, 0, len(digests))
	for _, d := range digests {
		names = append(names, d.name)
	}
	sort.Strings(names)
	return names
}

func mustCipher(name string) *Cipher {
	c, ok := CipherByName(name)
	if !ok {
		panic(fmt.Sprintf("sessionticket: unknown cipher %q", name))
	}
	return c
}

func mustDigest(name string) *Digest {
	d, ok := DigestByName(name)
	if !ok {
		panic(fmt.Sprintf("sessionticket: unknown digest %q", name))
	}
	return d
}
