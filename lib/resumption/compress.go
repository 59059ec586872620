// Copyright 2026 The H2O Authors
// SPDX-License-Identifier: Apache-2.0

package resumption

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// compressionTag identifies the compression applied to a cached
// session payload. Tags are stored in cache envelopes; changing a
// value breaks entries already sitting in memcached.
type compressionTag uint8

const (
	compressionNone compressionTag = 0
	compressionLZ4  compressionTag = 1
	compressionZstd compressionTag = 2
)

// Ratio thresholds for picking a scheme, probed with zstd: a clear
// win keeps zstd, a modest one switches to the cheaper LZ4 decode on
// the handshake path, anything less is stored raw.
const (
	zstdMinRatio = 1.5
	lz4MinRatio  = 1.1
)

// maxSessionStateSize is the hard ceiling on a decoded session state.
// Anything larger is a corrupt or hostile cache entry.
const maxSessionStateSize = 1 << 20

var errIncompressible = errors.New("data does not compress")

// compressPayload picks a scheme for one serialized session and
// returns the tag alongside the (possibly unchanged) payload.
func compressPayload(data []byte) (compressionTag, []byte) {
	probe, err := compressZstd(data)
	if err != nil {
		return compressionNone, data
	}
	ratio := float64(len(data)) / float64(len(probe))
	switch {
	case ratio >= zstdMinRatio:
		return compressionZstd, probe
	case ratio >= lz4MinRatio:
		if compressed, err := compressLZ4(data); err == nil {
			return compressionLZ4, compressed
		}
	}
	return compressionNone, data
}

// decompressPayload reverses compressPayload. The uncompressedSize
// carried by the envelope must match the decoded length exactly.
func decompressPayload(tag compressionTag, payload []byte, uncompressedSize uint64) ([]byte, error) {
	if uncompressedSize > maxSessionStateSize {
		return nil, fmt.Errorf("session state of %d bytes exceeds the %d limit", uncompressedSize, maxSessionStateSize)
	}
	size := int(uncompressedSize)

	switch tag {
	case compressionNone:
		if len(payload) != size {
			return nil, fmt.Errorf("uncompressed payload: size %d does not match expected %d", len(payload), size)
		}
		return payload, nil

	case compressionLZ4:
		return decompressLZ4(payload, size)

	case compressionZstd:
		return decompressZstd(payload, size)

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// LZ4 compression: block-mode LZ4.

func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	// CompressBlock returns 0 when it determines the data is
	// incompressible; an output no smaller than the input is not
	// worthwhile either.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}

	return destination[:written], nil
}

func decompressLZ4(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
	}
	return destination, nil
}

// Zstd compression at the default level.

// zstdEncoder and zstdDecoder are reused across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("resumption: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("resumption: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, 0, uncompressedSize)
	result, err := zstdDecoder.DecodeAll(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != uncompressedSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
	}
	return result, nil
}
