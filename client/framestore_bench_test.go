package client

import (
	"image"
	"testing"

	"github.com/framegrace/deskview/protocol"
)

func setupFrame(tiles int) []byte {
	var buf []byte
	pixels := make([]byte, protocol.PixelBytes(64, 64))
	for i := 0; i < tiles; i++ {
		buf = protocol.AppendRect(buf, protocol.RectUpdate{X: (i % 16) * 64, Y: (i / 16) * 64, W: 64, H: 64, Pixels: pixels})
	}
	return buf
}

func BenchmarkFrameStorePaintFrame(b *testing.B) {
	store := NewFrameStore(1024, 768)
	frame := setupFrame(48)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for r := range protocol.Rects(frame) {
			store.PaintRegion(r.X, r.Y, r.W, r.H, r.Pixels)
		}
	}
}

func BenchmarkFrameStorePaintMirrored(b *testing.B) {
	store := NewFrameStore(1024, 768)
	store.SetMirror(image.NewRGBA(image.Rect(0, 0, 1024, 768)))
	frame := setupFrame(48)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for r := range protocol.Rects(frame) {
			store.PaintRegion(r.X, r.Y, r.W, r.H, r.Pixels)
		}
	}
}
