// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: server/source.go
// Summary: Frame sources feeding headless sessions.
// Usage: A SourceFactory is handed to NewManager; every session owns one
//   Source for its lifetime.

package server

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
)

// ErrInvalidSize is returned for non-positive or oversized dimensions.
var ErrInvalidSize = errors.New("server: invalid desktop size")

// Source produces desktop frames.
type Source interface {
	Size() (int, int)
	Resize(width, height int) error
	// Capture returns the current frame. The image belongs to the caller.
	Capture(ctx context.Context) (*image.RGBA, error)
	Close() error
}

// SourceFactory creates the source of a new session.
type SourceFactory func(width, height int) (Source, error)

func validSize(width, height int) bool {
	return width > 0 && height > 0 && width <= 0xffff && height <= 0xffff
}

// PatternBand is the height of the animated strip drawn by PatternSource.
const PatternBand = 16

// PatternSource draws a static gradient with an animated strip across the
// top PatternBand rows. Every Capture advances the strip.
type PatternSource struct {
	mu     sync.Mutex
	width  int
	height int
	tick   int
}

// NewPatternSource is a SourceFactory.
func NewPatternSource(width, height int) (Source, error) {
	if !validSize(width, height) {
		return nil, ErrInvalidSize
	}
	return &PatternSource{width: width, height: height}, nil
}

func (p *PatternSource) Size() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

func (p *PatternSource) Resize(width, height int) error {
	if !validSize(width, height) {
		return ErrInvalidSize
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.width, p.height = width, height
	return nil
}

// PatternColor is the static background at (x, y) for a w×h desktop.
func PatternColor(x, y, w, h int) color.RGBA {
	return color.RGBA{
		R: uint8(x * 255 / max(w-1, 1)),
		G: uint8(y * 255 / max(h-1, 1)),
		B: 0x80,
		A: 0xff,
	}
}

func (p *PatternSource) Capture(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	w, h, tick := p.width, p.height, p.tick
	p.tick++
	p.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		row := img.Pix[y*img.Stride:]
		for x := range w {
			c := PatternColor(x, y, w, h)
			i := x * 4
			row[i], row[i+1], row[i+2], row[i+3] = c.R, c.G, c.B, c.A
		}
	}
	// strip: a white block sliding right, 8px per frame
	band := min(PatternBand, h)
	start := (tick * 8) % max(w, 1)
	for y := range band {
		for x := start; x < min(start+32, w); x++ {
			img.SetRGBA(x, y, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
		}
	}
	return img, nil
}

func (p *PatternSource) Close() error { return nil }
