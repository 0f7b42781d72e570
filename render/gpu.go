// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: render/gpu.go
// Summary: Accelerated backend painting into a gogpu surface.
// Notes: The gg surface holds the authoritative pixels; the frame store is only
//   refreshed through Visible when the binding is released.

package render

import (
	"fmt"
	"image"

	"github.com/gogpu/gg/surface"

	"github.com/framegrace/deskview/client"
)

// MinAcceleratedPriority is the lowest gg surface priority treated as
// accelerated (WARP and real GPU adapters).
const MinAcceleratedPriority = 50

// acceleratedSurface returns the best registered gg surface backend at or
// above MinAcceleratedPriority.
func acceleratedSurface() (string, bool) {
	for _, name := range surface.Available() {
		entry, ok := surface.Get(name)
		if !ok {
			continue
		}
		if entry.Priority >= MinAcceleratedPriority {
			return name, true
		}
	}
	return "", false
}

// GPUAvailable reports whether an accelerated gg surface is registered.
func GPUAvailable() bool {
	_, ok := acceleratedSurface()
	return ok
}

// GPU paints through a gg surface.
type GPU struct {
	store   *client.FrameStore
	target  Surface
	gs      surface.Surface
	name    string
	width   int
	height  int
	dirty   dirtyRect
	blocks  map[[2]int]*image.RGBA
	visible *image.RGBA
}

// NewGPU is the Factory for KindGPU.
func NewGPU(store *client.FrameStore, target Surface) (Backend, error) {
	name, ok := acceleratedSurface()
	if !ok {
		return nil, ErrUnavailable
	}
	g := &GPU{store: store, target: target, name: name}
	w, h := store.Size()
	if err := g.open(w, h); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *GPU) open(width, height int) error {
	gs, err := surface.NewSurfaceByNameWithOptions(g.name, surface.Options{Width: width, Height: height})
	if err != nil {
		return fmt.Errorf("render: gg surface %s: %w", g.name, err)
	}
	if g.gs != nil {
		_ = g.gs.Close()
	}
	g.gs = gs
	g.width, g.height = width, height
	g.visible = nil
	if g.store.HasPainted() {
		g.gs.DrawImage(g.store.Image(), surface.Point{}, nil)
		g.dirty.r = image.Rect(0, 0, width, height)
	}
	return nil
}

func (g *GPU) Kind() Kind          { return KindGPU }
func (g *GPU) Name() string        { return "gpu/" + g.name }
func (g *GPU) Authoritative() bool { return false }

// Visible reads back the presented pixels.
func (g *GPU) Visible() image.Image {
	if g.visible != nil {
		return g.visible
	}
	if g.gs == nil {
		return g.store.Image()
	}
	return g.gs.Snapshot()
}

func (g *GPU) PaintRegion(x, y, w, h int, pixels []byte) bool {
	if g.gs == nil || w <= 0 || h <= 0 {
		return false
	}
	if x < 0 || y < 0 || x+w > g.width || y+h > g.height || len(pixels) < w*h*4 {
		return false
	}
	block := g.block(w, h)
	copy(block.Pix, pixels[:w*h*4])
	g.gs.DrawImage(block, surface.Point{X: float64(x), Y: float64(y)}, nil)
	g.dirty.add(x, y, w, h)
	g.visible = nil
	return true
}

func (g *GPU) block(w, h int) *image.RGBA {
	if g.blocks == nil {
		g.blocks = make(map[[2]int]*image.RGBA)
	}
	key := [2]int{w, h}
	if b, ok := g.blocks[key]; ok {
		return b
	}
	b := image.NewRGBA(image.Rect(0, 0, w, h))
	g.blocks[key] = b
	return b
}

func (g *GPU) Present() error {
	if g.gs == nil {
		return ErrBackendClosed
	}
	dirty := g.dirty.take()
	if dirty.Empty() {
		return nil
	}
	if err := g.gs.Flush(); err != nil {
		return fmt.Errorf("render: flush: %w", err)
	}
	g.visible = g.gs.Snapshot()
	if g.target == nil || g.visible == nil {
		return nil
	}
	return g.target.Present(g.visible, dirty)
}

// Resize reopens the gg surface at the new size, seeded from the store. The
// caller syncs the store from Visible before rescaling it.
func (g *GPU) Resize(width, height int) error {
	if g.gs == nil {
		return ErrBackendClosed
	}
	if width == g.width && height == g.height {
		return nil
	}
	g.blocks = nil
	return g.open(width, height)
}

func (g *GPU) Destroy() {
	if g.gs == nil {
		return
	}
	if g.visible == nil {
		g.visible = g.gs.Snapshot()
	}
	_ = g.gs.Close()
	g.gs = nil
	g.target = nil
}
