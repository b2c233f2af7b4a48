package scene

import (
	"image"
	"math/bits"
)

// coverage is a pixel bitmap over a display rectangle, one bit per pixel
// packed into uint64 words. It measures how much of a layer other layers
// occlude.
type coverage struct {
	r     image.Rectangle
	words []uint64
}

func newCoverage(r image.Rectangle) *coverage {
	n := r.Dx() * r.Dy()
	return &coverage{r: r, words: make([]uint64, (n+63)/64)}
}

// markRect sets every pixel of q that lies inside the bitmap.
func (c *coverage) markRect(q image.Rectangle) {
	q = q.Intersect(c.r)
	if q.Empty() {
		return
	}
	w := c.r.Dx()
	for y := q.Min.Y; y < q.Max.Y; y++ {
		row := (y - c.r.Min.Y) * w
		for x := q.Min.X; x < q.Max.X; x++ {
			i := row + x - c.r.Min.X
			c.words[i/64] |= 1 << (i & 63)
		}
	}
}

// count returns the number of marked pixels.
func (c *coverage) count() int {
	n := 0
	for _, w := range c.words {
		n += bits.OnesCount64(w)
	}
	return n
}
