// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: server/diff.go
// Summary: Tile diff turning successive frames into rect update payloads.

package server

import (
	"bytes"
	"image"

	"github.com/framegrace/deskview/protocol"
)

const (
	// DefaultTileSize is the edge of the square tiles compared between frames.
	DefaultTileSize = 64
	// chunkLimit caps one FrameUpdate payload; larger diffs are split.
	chunkLimit = 4 << 20
)

// TileDiffer remembers the last frame sent to one viewer.
type TileDiffer struct {
	tile int
	prev *image.RGBA
	buf  []byte
}

// NewTileDiffer returns a differ using tile×tile blocks (DefaultTileSize when
// tile <= 0).
func NewTileDiffer(tile int) *TileDiffer {
	if tile <= 0 {
		tile = DefaultTileSize
	}
	return &TileDiffer{tile: tile}
}

// Reset forgets the baseline so the next Diff sends the whole frame.
func (d *TileDiffer) Reset() {
	d.prev = nil
}

// Diff returns frame payloads covering every tile of cur that changed since
// the previous call, each at most chunkLimit bytes plus one tile. The first
// call, and the first after Reset or a size change, covers the whole frame.
func (d *TileDiffer) Diff(cur *image.RGBA) (payloads [][]byte, rects int) {
	b := cur.Bounds()
	full := d.prev == nil || d.prev.Bounds() != b
	var payload []byte
	for ty := b.Min.Y; ty < b.Max.Y; ty += d.tile {
		for tx := b.Min.X; tx < b.Max.X; tx += d.tile {
			r := image.Rect(tx, ty, min(tx+d.tile, b.Max.X), min(ty+d.tile, b.Max.Y))
			if !full && sameTile(d.prev, cur, r) {
				continue
			}
			payload = protocol.AppendRect(payload, protocol.RectUpdate{
				X:      r.Min.X - b.Min.X,
				Y:      r.Min.Y - b.Min.Y,
				W:      r.Dx(),
				H:      r.Dy(),
				Pixels: d.extract(cur, r),
			})
			rects++
			if len(payload) >= chunkLimit {
				payloads = append(payloads, payload)
				payload = nil
			}
		}
	}
	if len(payload) > 0 {
		payloads = append(payloads, payload)
	}
	if full {
		d.prev = image.NewRGBA(b)
	}
	copy(d.prev.Pix, cur.Pix)
	return payloads, rects
}

func sameTile(a, b *image.RGBA, r image.Rectangle) bool {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		ra := a.Pix[a.PixOffset(r.Min.X, y):a.PixOffset(r.Max.X, y)]
		rb := b.Pix[b.PixOffset(r.Min.X, y):b.PixOffset(r.Max.X, y)]
		if !bytes.Equal(ra, rb) {
			return false
		}
	}
	return true
}

func (d *TileDiffer) extract(img *image.RGBA, r image.Rectangle) []byte {
	row := r.Dx() * 4
	need := row * r.Dy()
	if cap(d.buf) < need {
		d.buf = make([]byte, need)
	}
	out := d.buf[:need]
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := img.PixOffset(r.Min.X, y)
		copy(out[(y-r.Min.Y)*row:], img.Pix[off:off+row])
	}
	return out
}
