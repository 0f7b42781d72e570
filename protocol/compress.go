// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: protocol/compress.go
// Summary: Optional frame payload compression (LZ4 block or zstd).
// Notes: Compressed payloads carry a u32 LE uncompressed length prefix.

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression names accepted in Hello/Welcome.
const (
	CompressionNone = ""
	CompressionLZ4  = "lz4"
	CompressionZstd = "zstd"
)

var (
	ErrUnknownCompression = errors.New("protocol: unknown compression")
	errIncompressible     = errors.New("protocol: payload incompressible")
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("protocol: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPayload))
	if err != nil {
		panic("protocol: zstd decoder initialization failed: " + err.Error())
	}
}

// CompressionFlag maps a compression name to its header flag.
func CompressionFlag(name string) (uint8, error) {
	switch name {
	case CompressionNone:
		return 0, nil
	case CompressionLZ4:
		return FlagLZ4, nil
	case CompressionZstd:
		return FlagZstd, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCompression, name)
}

// NegotiateCompression picks the first name offered by the viewer that the
// host also supports.
func NegotiateCompression(offered []string) string {
	for _, name := range offered {
		if name == CompressionLZ4 || name == CompressionZstd {
			return name
		}
	}
	return CompressionNone
}

// CompressFrame compresses payload with the codec named by flag. When the
// payload does not shrink it is returned unchanged with a zero flag.
func CompressFrame(flag uint8, payload []byte) ([]byte, uint8, error) {
	if flag == 0 || len(payload) == 0 {
		return payload, 0, nil
	}
	var body []byte
	var err error
	switch flag {
	case FlagLZ4:
		body, err = compressLZ4(payload)
	case FlagZstd:
		body, err = compressZstd(payload)
	default:
		return nil, 0, ErrUnknownCompression
	}
	if errors.Is(err, errIncompressible) {
		return payload, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], body)
	return out, flag, nil
}

// DecompressFrame reverses CompressFrame according to the header flags.
func DecompressFrame(flags uint8, payload []byte) ([]byte, error) {
	codec := flags & (FlagLZ4 | FlagZstd)
	if codec == 0 {
		return payload, nil
	}
	if len(payload) < 4 {
		return nil, errPayloadShort
	}
	size := int(binary.LittleEndian.Uint32(payload[:4]))
	if size > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	body := payload[4:]
	switch codec {
	case FlagLZ4:
		return decompressLZ4(body, size)
	case FlagZstd:
		return decompressZstd(body, size)
	}
	return nil, ErrUnknownCompression
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
	}
	return result, nil
}
