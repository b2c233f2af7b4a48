package scene

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/draw"
)

var bufferIDs atomic.Uint64

// Buffer is an immutable pixel payload attached to layers. The same
// buffer may be attached to several layers or submitted repeatedly.
type Buffer struct {
	id        uint64
	format    gputypes.TextureFormat
	dataSpace DataSpace
	pix       *image.RGBA // premultiplied, RGBA byte order

	opaqueOnce sync.Once
	opaque     bool

	mu        sync.Mutex
	converted map[DataSpace]*image.RGBA
}

// NewBuffer copies img into a new RGBA8 sRGB buffer.
func NewBuffer(img image.Image) *Buffer {
	b := img.Bounds()
	pix := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(pix, pix.Bounds(), img, b.Min, draw.Src)
	return newBuffer(gputypes.TextureFormatRGBA8Unorm, pix)
}

// NewBufferFromPixels wraps tightly packed premultiplied 8-bit pixels in
// the given format. The slice is copied.
func NewBufferFromPixels(width, height int, format gputypes.TextureFormat, pix []byte) (*Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: buffer size %dx%d", ErrInvalidGeometry, width, height)
	}
	if len(pix) != width*height*4 {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d", ErrInvalidGeometry, len(pix), width, height)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	switch format {
	case gputypes.TextureFormatRGBA8Unorm:
		copy(img.Pix, pix)
	case gputypes.TextureFormatBGRA8Unorm:
		for i := 0; i < len(pix); i += 4 {
			img.Pix[i+0] = pix[i+2]
			img.Pix[i+1] = pix[i+1]
			img.Pix[i+2] = pix[i+0]
			img.Pix[i+3] = pix[i+3]
		}
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
	}
	return newBuffer(format, img), nil
}

// NewSolidBuffer returns a width×height buffer filled with c.
func NewSolidBuffer(width, height int, c RGBA) *Buffer {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(c.Color()), image.Point{}, draw.Src)
	return newBuffer(gputypes.TextureFormatRGBA8Unorm, img)
}

// NewQuadrantBuffer returns a width×height buffer split into four
// quadrants, listed clockwise from the top-left.
func NewQuadrantBuffer(width, height int, topLeft, topRight, bottomRight, bottomLeft RGBA) *Buffer {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	hw, hh := width/2, height/2
	quads := []struct {
		r image.Rectangle
		c RGBA
	}{
		{image.Rect(0, 0, hw, hh), topLeft},
		{image.Rect(hw, 0, width, hh), topRight},
		{image.Rect(hw, hh, width, height), bottomRight},
		{image.Rect(0, hh, hw, height), bottomLeft},
	}
	for _, q := range quads {
		draw.Draw(img, q.r, image.NewUniform(q.c.Color()), image.Point{}, draw.Src)
	}
	return newBuffer(gputypes.TextureFormatRGBA8Unorm, img)
}

func newBuffer(format gputypes.TextureFormat, pix *image.RGBA) *Buffer {
	return newBufferIn(format, DataSpaceUnknown, pix)
}

func newBufferIn(format gputypes.TextureFormat, ds DataSpace, pix *image.RGBA) *Buffer {
	return &Buffer{id: bufferIDs.Add(1), format: format, dataSpace: ds, pix: pix}
}

// WithDataSpace returns a buffer sharing b's pixels tagged with d.
func (b *Buffer) WithDataSpace(d DataSpace) *Buffer {
	return newBufferIn(b.format, d, b.pix)
}

// ID returns the unique buffer id.
func (b *Buffer) ID() uint64 { return b.id }

// Format returns the pixel format the buffer was created with.
func (b *Buffer) Format() gputypes.TextureFormat { return b.format }

// DataSpace returns the buffer's own data space.
func (b *Buffer) DataSpace() DataSpace { return b.dataSpace }

// Bounds returns the buffer rectangle, anchored at the origin.
func (b *Buffer) Bounds() image.Rectangle { return b.pix.Rect }

// Width returns the buffer width in pixels.
func (b *Buffer) Width() int { return b.pix.Rect.Dx() }

// Height returns the buffer height in pixels.
func (b *Buffer) Height() int { return b.pix.Rect.Dy() }

// image returns the pixels as display sRGB, converting from ds when needed.
// Conversions are cached per data space.
func (b *Buffer) image(ds DataSpace) *image.RGBA {
	if ds == DataSpaceUnknown {
		ds = b.dataSpace
	}
	if !ds.needsConversion() {
		return b.pix
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if img, ok := b.converted[ds]; ok {
		return img
	}
	if b.converted == nil {
		b.converted = make(map[DataSpace]*image.RGBA)
	}
	img := convertP3(b.pix)
	b.converted[ds] = img
	return img
}

// Opaque reports whether every pixel of the buffer is fully opaque.
func (b *Buffer) Opaque() bool {
	b.opaqueOnce.Do(func() {
		b.opaque = true
		for i := 3; i < len(b.pix.Pix); i += 4 {
			if b.pix.Pix[i] != 0xff {
				b.opaque = false
				return
			}
		}
	})
	return b.opaque
}
