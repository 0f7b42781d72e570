// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: server/diff_test.go
// Summary: Exercises the tile differ.

package server

import (
	"image"
	"image/color"
	"testing"

	"github.com/framegrace/deskview/protocol"
)

func collect(payloads [][]byte) []protocol.RectUpdate {
	var out []protocol.RectUpdate
	for _, p := range payloads {
		for r := range protocol.Rects(p) {
			r.Pixels = append([]byte(nil), r.Pixels...)
			out = append(out, r)
		}
	}
	return out
}

func TestTileDifferSendsOnlyChangedTiles(t *testing.T) {
	d := NewTileDiffer(16)
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))

	payloads, n := d.Diff(img)
	// 40x20 in 16px tiles: 3 columns, 2 rows
	if n != 6 || len(collect(payloads)) != 6 {
		t.Fatalf("first diff: %d rects, want 6", n)
	}

	if payloads, n := d.Diff(img); n != 0 || len(payloads) != 0 {
		t.Fatalf("unchanged frame produced %d rects", n)
	}

	img.SetRGBA(35, 18, color.RGBA{R: 0xff, A: 0xff})
	rects := collect(func() [][]byte { p, _ := d.Diff(img); return p }())
	if len(rects) != 1 {
		t.Fatalf("one changed pixel produced %d rects", len(rects))
	}
	got := rects[0]
	if got.X != 32 || got.Y != 16 || got.W != 8 || got.H != 4 {
		t.Fatalf("rect = %+v, want edge tile 32,16 8x4", got)
	}
	off := ((18-16)*8 + (35 - 32)) * 4
	if got.Pixels[off] != 0xff {
		t.Fatalf("changed pixel missing from rect payload")
	}
}

func TestTileDifferFullFrameAfterResetOrResize(t *testing.T) {
	cases := []struct {
		name string
		next func(d *TileDiffer) *image.RGBA
		want int
	}{
		{"reset", func(d *TileDiffer) *image.RGBA {
			d.Reset()
			return image.NewRGBA(image.Rect(0, 0, 32, 32))
		}, 4},
		{"resize", func(*TileDiffer) *image.RGBA {
			return image.NewRGBA(image.Rect(0, 0, 48, 16))
		}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewTileDiffer(16)
			d.Diff(image.NewRGBA(image.Rect(0, 0, 32, 32)))
			if _, n := d.Diff(tc.next(d)); n != tc.want {
				t.Fatalf("rects = %d, want %d", n, tc.want)
			}
		})
	}
}

func TestPatternSourceAnimatesBandOnly(t *testing.T) {
	src, err := NewPatternSource(128, 64)
	if err != nil {
		t.Fatal(err)
	}
	ctx := t.Context()
	first, _ := src.Capture(ctx)
	second, _ := src.Capture(ctx)

	d := NewTileDiffer(16)
	d.Diff(first)
	for r := range protocol.Rects(func() []byte {
		p, _ := d.Diff(second)
		if len(p) == 0 {
			t.Fatal("animated band produced no diff")
		}
		return p[0]
	}()) {
		if r.Y >= PatternBand {
			t.Fatalf("rect %+v outside the animated band", r)
		}
	}
	if got, want := second.RGBAAt(100, 40), PatternColor(100, 40, 128, 64); got != want {
		t.Fatalf("background = %v, want %v", got, want)
	}
}
