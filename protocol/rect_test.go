// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: protocol/rect_test.go
// Summary: Exercises rect record decoding and encoding.

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func solid(w, h int, b byte) []byte {
	return bytes.Repeat([]byte{b}, PixelBytes(w, h))
}

func TestRectsTwoRecords(t *testing.T) {
	first := solid(2, 1, 0xa0)
	second := solid(1, 1, 0x5b)
	var buf []byte
	buf = AppendRect(buf, RectUpdate{X: 0, Y: 0, W: 2, H: 1, Pixels: first})
	if len(buf) != 16 {
		t.Fatalf("first record is %d bytes, want 16", len(buf))
	}
	buf = AppendRect(buf, RectUpdate{X: 5, Y: 5, W: 1, H: 1, Pixels: second})
	if len(buf) != 28 {
		t.Fatalf("expected 28 bytes, got %d", len(buf))
	}

	var got []RectUpdate
	for r := range Rects(buf) {
		got = append(got, r)
	}
	want := []RectUpdate{
		{X: 0, Y: 0, W: 2, H: 1, Pixels: first},
		{X: 5, Y: 5, W: 1, H: 1, Pixels: second},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d rects, got %d", len(want), len(got))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.X != w.X || g.Y != w.Y || g.W != w.W || g.H != w.H {
			t.Fatalf("rect %d geometry %+v, want %+v", i, g, w)
		}
		if !bytes.Equal(g.Pixels, w.Pixels) {
			t.Fatalf("rect %d pixels %v, want %v", i, g.Pixels, w.Pixels)
		}
	}
}

func TestRectsTruncatedTrailer(t *testing.T) {
	var buf []byte
	buf = AppendRect(buf, RectUpdate{X: 1, Y: 2, W: 1, H: 1, Pixels: []byte{1, 1, 1, 1}})
	// header claims 10x10 but only 3 pixel bytes follow
	buf = AppendRect(buf, RectUpdate{W: 10, H: 10})
	buf = buf[:12+RectHeaderSize+3]

	r := NewRectReader(buf)
	count := 0
	for r.Next() {
		count++
	}
	if count != 1 {
		t.Fatalf("expected 1 complete rect, got %d", count)
	}
	if !r.Truncated() {
		t.Fatalf("expected truncated flag")
	}
}

func TestRectsShortHeader(t *testing.T) {
	r := NewRectReader([]byte{1, 2, 3})
	if r.Next() {
		t.Fatalf("expected no rect from short header")
	}
	if !r.Truncated() {
		t.Fatalf("expected truncated flag for partial header")
	}

	empty := NewRectReader(nil)
	if empty.Next() || empty.Truncated() {
		t.Fatalf("empty buffer should yield nothing and not be truncated")
	}
}

func TestRectsRedecodeIdentical(t *testing.T) {
	var buf []byte
	for i := 0; i < 4; i++ {
		buf = AppendRect(buf, RectUpdate{X: i, Y: i * 2, W: 2, H: 2, Pixels: solid(2, 2, byte(i))})
	}
	collect := func() []RectUpdate {
		var out []RectUpdate
		for r := range Rects(buf) {
			out = append(out, r)
		}
		return out
	}
	first, second := collect(), collect()
	if len(first) != 4 || len(second) != 4 {
		t.Fatalf("expected 4 rects each, got %d and %d", len(first), len(second))
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.X != b.X || a.Y != b.Y || a.W != b.W || a.H != b.H || !bytes.Equal(a.Pixels, b.Pixels) {
			t.Fatalf("rect %d differs between passes", i)
		}
	}
}

func TestRectsEarlyStop(t *testing.T) {
	var buf []byte
	for i := 0; i < 3; i++ {
		buf = AppendRect(buf, RectUpdate{W: 1, H: 1, Pixels: []byte{0, 0, 0, 0}})
	}
	seen := 0
	for range Rects(buf) {
		seen++
		break
	}
	if seen != 1 {
		t.Fatalf("expected iteration to stop after 1, got %d", seen)
	}
}

func TestAppendRectPadsShortPixels(t *testing.T) {
	buf := AppendRect(nil, RectUpdate{W: 2, H: 2, Pixels: []byte{7}})
	if len(buf) != RectHeaderSize+16 {
		t.Fatalf("unexpected record size %d", len(buf))
	}
	r := NewRectReader(buf)
	if !r.Next() {
		t.Fatalf("expected padded record to decode")
	}
	if r.Rect().Pixels[0] != 7 || r.Rect().Pixels[15] != 0 {
		t.Fatalf("unexpected padding: %v", r.Rect().Pixels)
	}
}

func TestCompressFrameRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("deskview-frame-"), 512)
	for _, name := range []string{CompressionLZ4, CompressionZstd} {
		t.Run(name, func(t *testing.T) {
			flag, err := CompressionFlag(name)
			if err != nil {
				t.Fatalf("flag: %v", err)
			}
			packed, used, err := CompressFrame(flag, payload)
			if err != nil {
				t.Fatalf("compress: %v", err)
			}
			if used != flag {
				t.Fatalf("expected flag %d, got %d", flag, used)
			}
			if len(packed) >= len(payload) {
				t.Fatalf("expected compressed payload to shrink")
			}
			out, err := DecompressFrame(used|FlagChecksum, packed)
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if !bytes.Equal(out, payload) {
				t.Fatalf("round trip mismatch")
			}
		})
	}
}

func TestDecompressZstdRejectsOversizedFrame(t *testing.T) {
	if testing.Short() {
		t.Skip("allocates a payload above MaxPayload")
	}
	body := zstdEncoder.EncodeAll(make([]byte, MaxPayload+1), nil)
	packed := make([]byte, 4+len(body))
	// the prefix understates the decoded size
	binary.LittleEndian.PutUint32(packed[:4], 16)
	copy(packed[4:], body)

	_, err := DecompressFrame(FlagZstd, packed)
	if !errors.Is(err, zstd.ErrDecoderSizeExceeded) {
		t.Fatalf("expected decoder size limit, got %v", err)
	}
}

func TestCompressFrameIncompressible(t *testing.T) {
	payload := []byte{0x01, 0x9f, 0x33}
	out, used, err := CompressFrame(FlagLZ4, payload)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if used != 0 || !bytes.Equal(out, payload) {
		t.Fatalf("expected raw passthrough, got flag %d", used)
	}
}

func TestNegotiateCompression(t *testing.T) {
	cases := []struct {
		offered []string
		want    string
	}{
		{nil, CompressionNone},
		{[]string{"brotli", CompressionZstd}, CompressionZstd},
		{[]string{CompressionLZ4, CompressionZstd}, CompressionLZ4},
	}
	for _, tc := range cases {
		if got := NegotiateCompression(tc.offered); got != tc.want {
			t.Fatalf("offered %v: expected %q, got %q", tc.offered, tc.want, got)
		}
	}
	if _, err := CompressionFlag("brotli"); err == nil {
		t.Fatalf("expected unknown compression error")
	}
}
