package scene

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// drawItem is one layer in paint order with its resolved display geometry.
type drawItem struct {
	idx     int
	m       Matrix // display from layer
	full    Rect   // content bounds before any crop, in display space
	bounded bool
	clip    Rect // visible part after crops and ancestor bounds
	alpha   float64
	content bool
	opaque  bool
}

// paintOrder flattens the tree reachable from the root into draw order.
// Hidden, fully transparent and zero-area subtrees are skipped.
func (g *Graph) paintOrder() []drawItem {
	var items []drawItem
	g.walk(g.root, Identity(), RectFromImage(g.bounds), 1, &items)
	return items
}

func (g *Graph) walk(idx int, parent Matrix, clip Rect, parentAlpha float64, items *[]drawItem) {
	l := g.layers.get(idx)
	alpha := parentAlpha * l.alpha
	if !l.visible || alpha <= 0 {
		return
	}
	m := parent.Multiply(l.localMatrix())
	if !m.Invertible() {
		return
	}

	it := drawItem{idx: idx, m: m, alpha: alpha, clip: clip}
	if r, ok := l.contentRect(); ok {
		it.bounded = true
		it.clip = m.TransformRect(r).Intersect(clip)
		n, _ := l.naturalRect()
		it.full = m.TransformRect(n)
	}
	if it.clip.Empty() {
		return
	}
	b := l.buffer()
	it.content = b != nil || (l.hasColor && l.color.A > 0)
	if alpha >= 1 {
		switch {
		case b != nil:
			it.opaque = l.opaque || b.Opaque()
		case l.hasColor:
			it.opaque = l.color.A >= 1
		}
	}

	kids := g.sortedChildren(idx)
	split := len(kids)
	for i, c := range kids {
		if g.layers.get(c).z >= 0 {
			split = i
			break
		}
	}
	for _, c := range kids[:split] {
		g.walk(c, m, it.clip, alpha, items)
	}
	*items = append(*items, it)
	for _, c := range kids[split:] {
		g.walk(c, m, it.clip, alpha, items)
	}
}

// Composite renders the display. The result is a fresh image; the graph
// is not modified.
func (g *Graph) Composite() *image.RGBA {
	g.mu.RLock()
	defer g.mu.RUnlock()

	dst := image.NewRGBA(g.bounds)
	draw.Draw(dst, dst.Rect, image.NewUniform(g.background.Color()), image.Point{}, draw.Src)
	for _, it := range g.paintOrder() {
		if it.content {
			g.draw(dst, it)
		}
	}
	return dst
}

func (g *Graph) draw(dst *image.RGBA, it drawItem) {
	r := it.clip.Image().Intersect(dst.Rect)
	if r.Empty() {
		return
	}
	sub := dst.SubImage(r).(*image.RGBA)

	var mask image.Image
	if it.alpha < 1 {
		mask = image.NewUniform(color.Alpha16{A: uint16(it.alpha*0xffff + 0.5)})
	}

	l := g.layers.get(it.idx)
	b := l.buffer()
	if b == nil {
		draw.DrawMask(sub, r, image.NewUniform(l.color.Color()), image.Point{}, mask, image.Point{}, draw.Over)
		return
	}

	src := l.sourceRect()
	if src.Empty() {
		return
	}
	// buffer -> crop-local -> transformed content -> display
	s2d := it.m.
		Multiply(l.transform.matrix(float64(src.Dx()), float64(src.Dy()))).
		Multiply(Translate(-float64(src.Min.X), -float64(src.Min.Y)))
	draw.NearestNeighbor.Transform(sub, s2d.Aff3(), b.image(l.dataSpace), src, draw.Over, &draw.Options{SrcMask: mask})
}

// Visibility describes how a layer appears in the current composition.
type Visibility struct {
	// Alpha is the effective alpha, the product of ancestor alphas. It is
	// zero for layers that are hidden, detached or clipped away.
	Alpha float64

	// FractionRendered is the visible unoccluded area divided by the full
	// content area.
	FractionRendered float64

	// Rect is the visible display rectangle before occlusion.
	Rect image.Rectangle
}

// Visibility reports how much of the layer is rendered. Layers drawn
// later with opaque content occlude it.
func (g *Graph) Visibility(h Handle) (Visibility, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	idx, ok := g.layers.lookup(h)
	if !ok {
		return Visibility{}, ErrUnknownLayer
	}
	items := g.paintOrder()
	k := -1
	for i := range items {
		if items[i].idx == idx {
			k = i
			break
		}
	}
	if k < 0 {
		return Visibility{}, nil
	}

	it := items[k]
	v := Visibility{Alpha: it.alpha, Rect: it.clip.Image().Intersect(g.bounds)}
	if !it.content || v.Rect.Empty() {
		return v, nil
	}
	full := v.Rect
	if it.bounded {
		full = it.full.Image()
	}
	area := full.Dx() * full.Dy()
	if area == 0 {
		return v, nil
	}

	cov := newCoverage(v.Rect)
	for _, o := range items[k+1:] {
		if o.content && o.opaque {
			cov.markRect(o.clip.Image())
		}
	}
	visible := v.Rect.Dx()*v.Rect.Dy() - cov.count()
	v.FractionRendered = float64(visible) / float64(area)
	return v, nil
}
