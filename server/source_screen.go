// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: server/source_screen.go
// Summary: Frame source capturing a real display.

package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/kbinani/screenshot"
	"golang.org/x/image/draw"
)

// ErrNoDisplay is returned when no active display can be captured.
var ErrNoDisplay = errors.New("server: no active display")

// ScreenSource captures one display and scales it to the session size.
type ScreenSource struct {
	display int

	mu     sync.Mutex
	width  int
	height int
}

// ScreenAvailable reports whether any display can be captured.
func ScreenAvailable() bool {
	return screenshot.NumActiveDisplays() > 0
}

// ScreenSourceFactory returns a SourceFactory for the given display index.
// A zero requested size uses the display's native size.
func ScreenSourceFactory(display int) SourceFactory {
	return func(width, height int) (Source, error) {
		if display < 0 || display >= screenshot.NumActiveDisplays() {
			return nil, fmt.Errorf("%w: index %d", ErrNoDisplay, display)
		}
		if width == 0 || height == 0 {
			b := screenshot.GetDisplayBounds(display)
			width, height = b.Dx(), b.Dy()
		}
		if !validSize(width, height) {
			return nil, ErrInvalidSize
		}
		return &ScreenSource{display: display, width: width, height: height}, nil
	}
}

func (s *ScreenSource) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *ScreenSource) Resize(width, height int) error {
	if !validSize(width, height) {
		return ErrInvalidSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width, s.height = width, height
	return nil
}

func (s *ScreenSource) Capture(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bounds := screenshot.GetDisplayBounds(s.display)
	shot, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("server: capture display %d: %w", s.display, err)
	}
	w, h := s.Size()
	if shot.Bounds().Dx() == w && shot.Bounds().Dy() == h && shot.Bounds().Min == (image.Point{}) {
		return shot, nil
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(out, out.Bounds(), shot, shot.Bounds(), draw.Src, nil)
	return out, nil
}

func (s *ScreenSource) Close() error { return nil }
