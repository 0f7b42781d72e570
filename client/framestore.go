package client

import (
	"image"

	"golang.org/x/image/draw"
)

// FrameStore owns the authoritative full-desktop pixel buffer of a session.
// It is not safe for concurrent use; the session loop is its only writer.
type FrameStore struct {
	width   int
	height  int
	img     *image.RGBA
	painted bool

	mirror draw.Image
	blocks map[blockKey]*image.RGBA
}

type blockKey struct {
	w, h int
}

// NewFrameStore allocates a transparent-black store of the given size.
func NewFrameStore(width, height int) *FrameStore {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &FrameStore{
		width:  width,
		height: height,
		img:    image.NewRGBA(image.Rect(0, 0, width, height)),
	}
}

// Size returns the desktop dimensions.
func (s *FrameStore) Size() (int, int) {
	return s.width, s.height
}

// Bounds returns the store rectangle anchored at the origin.
func (s *FrameStore) Bounds() image.Rectangle {
	return image.Rect(0, 0, s.width, s.height)
}

// Image exposes the backing image. Callers must not retain it across a
// dimension change.
func (s *FrameStore) Image() *image.RGBA {
	return s.img
}

// HasPainted reports whether any region was painted since creation.
func (s *FrameStore) HasPainted() bool {
	return s.painted
}

// SetMirror registers a secondary target that receives every painted
// region. Passing nil disables mirroring.
func (s *FrameStore) SetMirror(dst draw.Image) {
	s.mirror = dst
}

// PaintRegion writes a w×h RGBA block at (x,y). Regions outside the
// desktop or with a short payload are dropped and false is returned.
func (s *FrameStore) PaintRegion(x, y, w, h int, pixels []byte) bool {
	if w <= 0 || h <= 0 {
		return false
	}
	if x < 0 || y < 0 || x+w > s.width || y+h > s.height {
		return false
	}
	rowBytes := w * 4
	if len(pixels) < rowBytes*h {
		return false
	}
	for row := 0; row < h; row++ {
		dst := s.img.PixOffset(x, y+row)
		copy(s.img.Pix[dst:dst+rowBytes], pixels[row*rowBytes:(row+1)*rowBytes])
	}
	s.painted = true
	if s.mirror != nil {
		block := s.block(w, h)
		copy(block.Pix, pixels[:rowBytes*h])
		draw.Draw(s.mirror, image.Rect(x, y, x+w, y+h), block, image.Point{}, draw.Src)
	}
	return true
}

func (s *FrameStore) block(w, h int) *image.RGBA {
	if s.blocks == nil {
		s.blocks = make(map[blockKey]*image.RGBA)
	}
	key := blockKey{w: w, h: h}
	if b, ok := s.blocks[key]; ok {
		return b
	}
	b := image.NewRGBA(image.Rect(0, 0, w, h))
	s.blocks[key] = b
	return b
}

// Resize rescales the existing content to the new dimensions. When target is
// non-nil the rescaled image is blitted onto it.
func (s *FrameStore) Resize(width, height int, target draw.Image) {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	if width != s.width || height != s.height {
		next := image.NewRGBA(image.Rect(0, 0, width, height))
		if s.painted && s.width > 0 && s.height > 0 && width > 0 && height > 0 {
			draw.BiLinear.Scale(next, next.Bounds(), s.img, s.img.Bounds(), draw.Src, nil)
		}
		s.img = next
		s.width = width
		s.height = height
		s.blocks = nil
	}
	s.BlitFull(target)
}

// SyncFromVisible copies presented pixels back into the store. Sources of
// a different size are scaled to fit.
func (s *FrameStore) SyncFromVisible(src image.Image) {
	if src == nil || s.width == 0 || s.height == 0 {
		return
	}
	sb := src.Bounds()
	if sb.Dx() == s.width && sb.Dy() == s.height {
		draw.Draw(s.img, s.img.Bounds(), src, sb.Min, draw.Src)
	} else {
		draw.BiLinear.Scale(s.img, s.img.Bounds(), src, sb, draw.Src, nil)
	}
	s.painted = true
}

// BlitFull paints the whole store onto dst, scaling when dst differs in
// size. A nil target is a no-op.
func (s *FrameStore) BlitFull(dst draw.Image) {
	if dst == nil || s.width == 0 || s.height == 0 {
		return
	}
	db := dst.Bounds()
	if db.Dx() == s.width && db.Dy() == s.height {
		draw.Draw(dst, db, s.img, image.Point{}, draw.Src)
		return
	}
	draw.BiLinear.Scale(dst, db, s.img, s.img.Bounds(), draw.Src, nil)
}
