package client

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

func rgba(w, h int, c color.RGBA) []byte {
	return bytes.Repeat([]byte{c.R, c.G, c.B, c.A}, w*h)
}

func near(a, b uint8) bool {
	d := int(a) - int(b)
	return d >= -1 && d <= 1
}

func TestFrameStorePaintRegion(t *testing.T) {
	store := NewFrameStore(4, 4)
	if store.HasPainted() {
		t.Fatalf("fresh store should not be painted")
	}
	red := color.RGBA{R: 255, A: 255}
	if !store.PaintRegion(1, 1, 2, 2, rgba(2, 2, red)) {
		t.Fatalf("expected in-bounds paint to succeed")
	}
	if !store.HasPainted() {
		t.Fatalf("expected painted flag")
	}
	if got := store.Image().RGBAAt(1, 1); got != red {
		t.Fatalf("pixel (1,1) = %v, want %v", got, red)
	}
	if got := store.Image().RGBAAt(2, 2); got != red {
		t.Fatalf("pixel (2,2) = %v, want %v", got, red)
	}
	if got := store.Image().RGBAAt(0, 0); got != (color.RGBA{}) {
		t.Fatalf("pixel (0,0) should be untouched, got %v", got)
	}
}

func TestFrameStoreDropsInvalidRegions(t *testing.T) {
	cases := []struct {
		name       string
		x, y, w, h int
		pixels     []byte
	}{
		{"overflow-x", 3, 0, 2, 1, make([]byte, 8)},
		{"overflow-y", 0, 3, 1, 2, make([]byte, 8)},
		{"negative", -1, 0, 1, 1, make([]byte, 4)},
		{"short payload", 0, 0, 2, 2, make([]byte, 15)},
		{"empty", 0, 0, 0, 0, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewFrameStore(4, 4)
			if store.PaintRegion(tc.x, tc.y, tc.w, tc.h, tc.pixels) {
				t.Fatalf("expected region to be dropped")
			}
			if store.HasPainted() {
				t.Fatalf("dropped region must not mark store painted")
			}
		})
	}
}

func TestFrameStoreMirror(t *testing.T) {
	store := NewFrameStore(8, 8)
	mirror := image.NewRGBA(image.Rect(0, 0, 8, 8))
	store.SetMirror(mirror)
	blue := color.RGBA{B: 200, A: 255}
	store.PaintRegion(2, 3, 3, 2, rgba(3, 2, blue))
	store.PaintRegion(0, 0, 3, 2, rgba(3, 2, blue))
	if got := mirror.RGBAAt(4, 4); got != blue {
		t.Fatalf("mirror pixel = %v, want %v", got, blue)
	}
	if got := mirror.RGBAAt(0, 0); got != blue {
		t.Fatalf("mirror pixel = %v, want %v", got, blue)
	}
	if len(store.blocks) != 1 {
		t.Fatalf("expected block cache reuse for identical sizes, got %d entries", len(store.blocks))
	}

	store.SetMirror(nil)
	store.PaintRegion(7, 7, 1, 1, rgba(1, 1, color.RGBA{G: 1, A: 255}))
	if got := mirror.RGBAAt(7, 7); got != (color.RGBA{}) {
		t.Fatalf("mirror should be detached, got %v", got)
	}
}

func TestFrameStoreResizePreservesContent(t *testing.T) {
	fill := color.RGBA{R: 10, G: 120, B: 240, A: 255}
	store := NewFrameStore(800, 600)
	if !store.PaintRegion(0, 0, 800, 600, rgba(800, 600, fill)) {
		t.Fatalf("full paint failed")
	}
	target := image.NewRGBA(image.Rect(0, 0, 1024, 768))
	store.Resize(1024, 768, target)

	if w, h := store.Size(); w != 1024 || h != 768 {
		t.Fatalf("size = %dx%d, want 1024x768", w, h)
	}
	if !store.HasPainted() {
		t.Fatalf("resize must keep painted flag")
	}
	for _, pt := range []image.Point{{0, 0}, {512, 384}, {1023, 767}, {100, 700}} {
		for _, img := range []*image.RGBA{store.Image(), target} {
			got := img.RGBAAt(pt.X, pt.Y)
			if !near(got.R, fill.R) || !near(got.G, fill.G) || !near(got.B, fill.B) || !near(got.A, fill.A) {
				t.Fatalf("pixel %v = %v, want ~%v", pt, got, fill)
			}
		}
	}
}

func TestFrameStoreResizeNilTarget(t *testing.T) {
	store := NewFrameStore(2, 2)
	store.Resize(4, 4, nil)
	if w, h := store.Size(); w != 4 || h != 4 {
		t.Fatalf("size = %dx%d, want 4x4", w, h)
	}
	store.BlitFull(nil)
}

func TestFrameStoreSyncFromVisible(t *testing.T) {
	store := NewFrameStore(4, 4)
	visible := image.NewRGBA(image.Rect(0, 0, 4, 4))
	green := color.RGBA{G: 255, A: 255}
	visible.SetRGBA(3, 3, green)
	store.SyncFromVisible(visible)
	if got := store.Image().RGBAAt(3, 3); got != green {
		t.Fatalf("synced pixel = %v, want %v", got, green)
	}
	if !store.HasPainted() {
		t.Fatalf("sync should mark store painted")
	}
}

func TestFrameStoreBlitFull(t *testing.T) {
	const w, h, tile = 8, 6, 4
	store := NewFrameStore(w, h)
	// four tiles, the bottom row clipped to the store edge
	n := 0
	for y := 0; y < h; y += tile {
		for x := 0; x < w; x += tile {
			tw, th := min(tile, w-x), min(tile, h-y)
			c := color.RGBA{R: uint8(40 * n), G: uint8(255 - 30*n), B: uint8(x*16 + y), A: 255}
			if store.HasPainted() != (n > 0) {
				t.Fatalf("painted flag = %v after %d regions", store.HasPainted(), n)
			}
			if !store.PaintRegion(x, y, tw, th, rgba(tw, th, c)) {
				t.Fatalf("paint %dx%d at %d,%d rejected", tw, th, x, y)
			}
			n++
		}
	}
	if !store.HasPainted() {
		t.Fatalf("expected painted flag after covering the store")
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	store.BlitFull(dst)
	if !bytes.Equal(dst.Pix, store.Image().Pix) {
		t.Fatalf("blit differs from the store")
	}
	if dst.RGBAAt(0, 0) == dst.RGBAAt(w-1, h-1) {
		t.Fatalf("tiles should carry distinct colours")
	}
}
