// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: protocol/rect.go
// Summary: Rect update records carried inside MsgFrameUpdate payloads.
// Usage: The compositor walks a payload with RectReader; hosts build payloads with AppendRect.
// Notes: Decoding never fails. A short trailing record ends the walk and is reported via Truncated.

package protocol

import (
	"encoding/binary"
	"iter"
)

// RectHeaderSize is the size of the x, y, w, h prefix of every record.
const RectHeaderSize = 8

// RectUpdate is one rectangle of RGBA pixels, row-major, no padding.
type RectUpdate struct {
	X, Y, W, H int
	// Pixels aliases the decoded buffer; copy it to retain past the
	// lifetime of the message.
	Pixels []byte
}

// PixelBytes returns the payload size of a w×h rect.
func PixelBytes(w, h int) int {
	return w * h * 4
}

// RectReader is a read cursor over a frame payload.
type RectReader struct {
	buf       []byte
	off       int
	cur       RectUpdate
	truncated bool
}

// NewRectReader starts a walk over buf.
func NewRectReader(buf []byte) *RectReader {
	return &RectReader{buf: buf}
}

// Next advances to the next complete record. It returns false at the end of
// the buffer or at the first incomplete record.
func (r *RectReader) Next() bool {
	remaining := len(r.buf) - r.off
	if remaining < RectHeaderSize {
		if remaining > 0 {
			r.truncated = true
		}
		return false
	}
	head := r.buf[r.off : r.off+RectHeaderSize]
	x := int(binary.LittleEndian.Uint16(head[0:2]))
	y := int(binary.LittleEndian.Uint16(head[2:4]))
	w := int(binary.LittleEndian.Uint16(head[4:6]))
	h := int(binary.LittleEndian.Uint16(head[6:8]))
	n := PixelBytes(w, h)
	start := r.off + RectHeaderSize
	if len(r.buf)-start < n {
		r.truncated = true
		r.off = len(r.buf)
		return false
	}
	r.cur = RectUpdate{X: x, Y: y, W: w, H: h, Pixels: r.buf[start : start+n : start+n]}
	r.off = start + n
	return true
}

// Rect returns the record produced by the last successful Next.
func (r *RectReader) Rect() RectUpdate {
	return r.cur
}

// Truncated reports whether the walk stopped on an incomplete record.
func (r *RectReader) Truncated() bool {
	return r.truncated
}

// Rects returns a lazy sequence over the complete records of buf.
func Rects(buf []byte) iter.Seq[RectUpdate] {
	return func(yield func(RectUpdate) bool) {
		r := NewRectReader(buf)
		for r.Next() {
			if !yield(r.Rect()) {
				return
			}
		}
	}
}

// AppendRect appends the wire record for u to dst. Pixels must hold exactly
// W*H*4 bytes; shorter payloads are zero-padded so the record stays well formed.
func AppendRect(dst []byte, u RectUpdate) []byte {
	var head [RectHeaderSize]byte
	binary.LittleEndian.PutUint16(head[0:2], uint16(u.X))
	binary.LittleEndian.PutUint16(head[2:4], uint16(u.Y))
	binary.LittleEndian.PutUint16(head[4:6], uint16(u.W))
	binary.LittleEndian.PutUint16(head[6:8], uint16(u.H))
	dst = append(dst, head[:]...)
	n := PixelBytes(u.W, u.H)
	if len(u.Pixels) >= n {
		return append(dst, u.Pixels[:n]...)
	}
	dst = append(dst, u.Pixels...)
	return append(dst, make([]byte, n-len(u.Pixels))...)
}
