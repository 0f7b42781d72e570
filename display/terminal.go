// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: display/terminal.go
// Summary: Presents remote frames on a terminal using half-block cells.
// Usage: Wrap an initialised tcell.Screen; the bottom row is a status line.
// Notes: Each cell shows two vertically stacked pixels: the upper one as the
//   foreground of '▀' and the lower one as the background.

package display

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
	"golang.org/x/image/draw"

	"github.com/framegrace/deskview/protocol"
)

const halfBlock = '▀'

// Terminal is a render.Surface backed by tcell. Present may be called from a
// presenter goroutine; all screen access is serialized.
type Terminal struct {
	mu     sync.Mutex
	screen tcell.Screen
	scaled *image.RGBA
	status string
	style  tcell.Style
}

// NewTerminal wraps an initialised screen.
func NewTerminal(screen tcell.Screen) *Terminal {
	return &Terminal{
		screen: screen,
		style:  tcell.StyleDefault.Reverse(true),
	}
}

// Screen returns the wrapped screen.
func (t *Terminal) Screen() tcell.Screen {
	return t.screen
}

// Size returns the view in half-block pixels, excluding the status row.
func (t *Terminal) Size() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cols, rows := t.screen.Size()
	return cols, max(rows-1, 0) * 2
}

// Present scales img to the view and redraws the cells covering dirty.
func (t *Terminal) Present(img *image.RGBA, dirty image.Rectangle) error {
	if img == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cols, rows := t.screen.Size()
	viewRows := rows - 1
	if cols <= 0 || viewRows <= 0 {
		return nil
	}
	pw, ph := cols, viewRows*2
	if t.scaled == nil || t.scaled.Bounds().Dx() != pw || t.scaled.Bounds().Dy() != ph {
		t.scaled = image.NewRGBA(image.Rect(0, 0, pw, ph))
		dirty = img.Bounds()
	}
	src := img.Bounds()
	if src.Empty() {
		return nil
	}
	draw.ApproxBiLinear.Scale(t.scaled, t.scaled.Bounds(), img, src, draw.Src, nil)

	cells := scaleRect(dirty.Intersect(src), src, pw, ph)
	for cy := cells.Min.Y / 2; cy < (cells.Max.Y+1)/2 && cy < viewRows; cy++ {
		for cx := cells.Min.X; cx < cells.Max.X && cx < cols; cx++ {
			top := t.scaled.RGBAAt(cx, cy*2)
			bottom := t.scaled.RGBAAt(cx, cy*2+1)
			style := tcell.StyleDefault.
				Foreground(tcell.NewRGBColor(int32(top.R), int32(top.G), int32(top.B))).
				Background(tcell.NewRGBColor(int32(bottom.R), int32(bottom.G), int32(bottom.B)))
			t.screen.SetContent(cx, cy, halfBlock, nil, style)
		}
	}
	t.drawStatusLocked(cols, rows)
	t.screen.Show()
	return nil
}

// scaleRect maps r from src space into a pw×ph grid, rounding outward.
func scaleRect(r, src image.Rectangle, pw, ph int) image.Rectangle {
	if r.Empty() || src.Dx() == 0 || src.Dy() == 0 {
		return image.Rectangle{}
	}
	x0 := (r.Min.X - src.Min.X) * pw / src.Dx()
	y0 := (r.Min.Y - src.Min.Y) * ph / src.Dy()
	x1 := ((r.Max.X-src.Min.X)*pw + src.Dx() - 1) / src.Dx()
	y1 := ((r.Max.Y-src.Min.Y)*ph + src.Dy() - 1) / src.Dy()
	// bilinear sampling bleeds one pixel into neighbours
	return image.Rect(x0-1, y0-1, x1+1, y1+1).Intersect(image.Rect(0, 0, pw, ph))
}

// SetStatus replaces the status line text and redraws it.
func (t *Terminal) SetStatus(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = text
	cols, rows := t.screen.Size()
	t.drawStatusLocked(cols, rows)
	t.screen.Show()
}

// Status returns the current status line text.
func (t *Terminal) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Terminal) drawStatusLocked(cols, rows int) {
	if rows <= 0 || cols <= 0 {
		return
	}
	y := rows - 1
	text := runewidth.Truncate(t.status, cols, "…")
	x := 0
	for _, r := range text {
		w := runewidth.RuneWidth(r)
		if w == 0 {
			continue
		}
		if x+w > cols {
			break
		}
		t.screen.SetContent(x, y, r, nil, t.style)
		x += w
	}
	for ; x < cols; x++ {
		t.screen.SetContent(x, y, ' ', nil, t.style)
	}
}

// Sync forces a full redraw after a terminal resize.
func (t *Terminal) Sync() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scaled = nil
	t.screen.Sync()
}

// FormatStatus renders the status line for a session.
func FormatStatus(state protocol.SessionState, width, height int, stats protocol.Stats, renderer, detail string) string {
	line := fmt.Sprintf(" %s", state)
	if width > 0 && height > 0 {
		line += fmt.Sprintf(" │ %d×%d", width, height)
	}
	if renderer != "" {
		line += " │ " + renderer
	}
	if stats.UptimeMillis > 0 || stats.BytesReceived > 0 {
		uptime := time.Duration(stats.UptimeMillis) * time.Millisecond
		line += fmt.Sprintf(" │ up %s │ rx %s tx %s │ %.1f fps",
			uptime.Truncate(time.Second),
			humanize.Bytes(stats.BytesReceived),
			humanize.Bytes(stats.BytesSent),
			stats.FPS)
	}
	if detail != "" {
		line += " │ " + detail
	}
	return line
}
