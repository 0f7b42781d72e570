// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: display/headless.go
// Summary: Off-screen presentation target backed by a gogpu image surface.

package display

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"sync"

	"github.com/gogpu/gg/surface"
)

// Headless keeps the last presented frame in memory. It follows the size of
// the frames it is given.
type Headless struct {
	mu       sync.Mutex
	surf     *surface.ImageSurface
	presents int
}

// NewHeadless allocates a width×height surface.
func NewHeadless(width, height int) *Headless {
	return &Headless{surf: surface.NewImageSurface(width, height)}
}

func (h *Headless) Size() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.surf.Width(), h.surf.Height()
}

// Present copies the dirty region of img.
func (h *Headless) Present(img *image.RGBA, dirty image.Rectangle) error {
	if img == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	b := img.Bounds()
	if b.Dx() != h.surf.Width() || b.Dy() != h.surf.Height() {
		_ = h.surf.Close()
		h.surf = surface.NewImageSurface(b.Dx(), b.Dy())
		dirty = b
	}
	dirty = dirty.Intersect(b)
	if !dirty.Empty() {
		// DrawImage blends; a Src copy keeps translucent remote pixels exact.
		dst := h.surf.Image()
		for y := dirty.Min.Y; y < dirty.Max.Y; y++ {
			so := img.PixOffset(dirty.Min.X, y)
			do := dst.PixOffset(dirty.Min.X-b.Min.X, y-b.Min.Y)
			copy(dst.Pix[do:do+dirty.Dx()*4], img.Pix[so:so+dirty.Dx()*4])
		}
	}
	h.presents++
	return h.surf.Flush()
}

// Presents returns how many times Present was called.
func (h *Headless) Presents() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.presents
}

// Snapshot returns a copy of the presented frame.
func (h *Headless) Snapshot() *image.RGBA {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.surf.Snapshot()
}

// WritePNG encodes the presented frame.
func (h *Headless) WritePNG(w io.Writer) error {
	return png.Encode(w, h.Snapshot())
}

// SavePNG writes the presented frame to path.
func (h *Headless) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("display: create snapshot: %w", err)
	}
	if err := h.WritePNG(f); err != nil {
		f.Close()
		return fmt.Errorf("display: encode snapshot: %w", err)
	}
	return f.Close()
}

// Close releases the surface.
func (h *Headless) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.surf.Close()
}
