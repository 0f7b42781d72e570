// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/runtime/client/geometry.go
// Summary: Generation-counted mapping from view coordinates to desktop coordinates.

package clientruntime

// Geometry caches the view→desktop scale. Every size change bumps the
// generation; the cached scale is recomputed lazily when its generation is
// stale.
type Geometry struct {
	gen          uint64
	viewW, viewH int
	deskW, deskH int

	cachedGen uint64
	sx, sy    float64
}

// Generation returns the current geometry generation.
func (g *Geometry) Generation() uint64 {
	return g.gen
}

// SetView records the presentation surface size.
func (g *Geometry) SetView(w, h int) {
	if w == g.viewW && h == g.viewH {
		return
	}
	g.viewW, g.viewH = w, h
	g.gen++
}

// SetDesktop records the remote desktop size.
func (g *Geometry) SetDesktop(w, h int) {
	if w == g.deskW && h == g.deskH {
		return
	}
	g.deskW, g.deskH = w, h
	g.gen++
}

// Desktop returns the recorded desktop size.
func (g *Geometry) Desktop() (int, int) {
	return g.deskW, g.deskH
}

// ToDesktop maps a view position to the desktop, clamped to its bounds.
func (g *Geometry) ToDesktop(x, y int) (int, int) {
	if g.cachedGen != g.gen || g.gen == 0 {
		g.sx, g.sy = 1, 1
		if g.viewW > 0 && g.deskW > 0 {
			g.sx = float64(g.deskW) / float64(g.viewW)
		}
		if g.viewH > 0 && g.deskH > 0 {
			g.sy = float64(g.deskH) / float64(g.viewH)
		}
		g.cachedGen = g.gen
	}
	// sample the centre of the view pixel
	dx := int((float64(x) + 0.5) * g.sx)
	dy := int((float64(y) + 0.5) * g.sy)
	return clamp(dx, g.deskW), clamp(dy, g.deskH)
}

func clamp(v, limit int) int {
	if v < 0 {
		return 0
	}
	if limit > 0 && v >= limit {
		return limit - 1
	}
	return v
}
