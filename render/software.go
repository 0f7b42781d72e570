// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: render/software.go
// Summary: CPU backend painting the frame store and presenting dirty regions.

package render

import (
	"image"

	"github.com/framegrace/deskview/client"
)

// Software never fails to construct; it is the last fallback.
type Software struct {
	store   *client.FrameStore
	surface Surface
	dirty   dirtyRect
	closed  bool
}

// NewSoftware is the Factory for KindSoftware.
func NewSoftware(store *client.FrameStore, surface Surface) (Backend, error) {
	s := &Software{store: store, surface: surface}
	if store != nil && store.HasPainted() {
		s.dirty.r = store.Bounds()
	}
	return s, nil
}

func (s *Software) Kind() Kind           { return KindSoftware }
func (s *Software) Name() string         { return "software" }
func (s *Software) Authoritative() bool  { return true }
func (s *Software) Visible() image.Image { return s.store.Image() }

func (s *Software) PaintRegion(x, y, w, h int, pixels []byte) bool {
	if s.closed || !s.store.PaintRegion(x, y, w, h, pixels) {
		return false
	}
	s.dirty.add(x, y, w, h)
	return true
}

func (s *Software) Present() error {
	if s.closed {
		return ErrBackendClosed
	}
	dirty := s.dirty.take()
	if dirty.Empty() || s.surface == nil {
		return nil
	}
	return s.surface.Present(s.store.Image(), dirty)
}

func (s *Software) Resize(width, height int) error {
	if s.closed {
		return ErrBackendClosed
	}
	s.dirty.r = image.Rect(0, 0, width, height)
	return nil
}

func (s *Software) Destroy() {
	s.closed = true
	s.surface = nil
}
