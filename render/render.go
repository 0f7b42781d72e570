// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: render/render.go
// Summary: Renderer backend contract shared by the software, GPU and worker paths.
// Usage: Sessions obtain a Backend through Binding.Bind and drive it from the loop.
// Notes: Backends are not safe for concurrent use unless stated; the session loop owns them.

package render

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/framegrace/deskview/client"
	"github.com/framegrace/deskview/protocol"
)

// Kind names a backend implementation.
type Kind string

const (
	KindAuto     Kind = "auto"
	KindGPU      Kind = "gpu"
	KindWorker   Kind = "worker"
	KindSoftware Kind = "software"
)

var (
	ErrUnknownKind   = errors.New("render: unknown backend kind")
	ErrUnavailable   = errors.New("render: backend unavailable")
	ErrNoBackend     = errors.New("render: no backend could be created")
	ErrBackendClosed = errors.New("render: backend destroyed")
)

// ParseKind accepts the configuration spelling of a backend kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", KindAuto:
		return KindAuto, nil
	case KindGPU, KindWorker, KindSoftware:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Surface is the presentation target. img is the full frame; dirty is the
// region that changed since the previous Present.
type Surface interface {
	Size() (int, int)
	Present(img *image.RGBA, dirty image.Rectangle) error
}

// Backend paints decoded rects and presents them to a Surface.
type Backend interface {
	Kind() Kind
	Name() string
	// PaintRegion applies one rect. Out-of-bounds rects are dropped.
	PaintRegion(x, y, w, h int, pixels []byte) bool
	// Present pushes everything painted since the last call.
	Present() error
	// Resize adapts the backend to the store's current dimensions.
	Resize(width, height int) error
	Destroy()
	// Authoritative reports whether the frame store is kept current. When
	// false, Visible returns the presented pixels.
	Authoritative() bool
	Visible() image.Image
}

// PaintDirect writes a rect straight into the store. It is the path used
// before any backend is bound so early frames are never lost.
func PaintDirect(store *client.FrameStore, u protocol.RectUpdate) bool {
	if store == nil {
		return false
	}
	return store.PaintRegion(u.X, u.Y, u.W, u.H, u.Pixels)
}

type dirtyRect struct {
	r image.Rectangle
}

func (d *dirtyRect) add(x, y, w, h int) {
	d.r = d.r.Union(image.Rect(x, y, x+w, y+h))
}

func (d *dirtyRect) take() image.Rectangle {
	r := d.r
	d.r = image.Rectangle{}
	return r
}
