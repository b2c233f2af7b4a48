package scene

import (
	"fmt"
	"image"
	"math"
)

// Mutation is a single attribute change for one layer. The set of
// mutations is closed; each variant validates its arguments before any
// part of a batch is applied.
type Mutation interface {
	// Kind names the mutation for logs and traces.
	Kind() string

	validate() error
	apply(g *Graph, idx int, rel *[]Release)
}

// SetPosition moves the layer origin in parent space.
type SetPosition struct{ X, Y float64 }

// SetScale scales layer space around its origin. Zero is legal and
// produces zero area.
type SetScale struct{ X, Y float64 }

// SetCrop clips the layer and its subtree in layer space. An empty
// rectangle removes the crop.
type SetCrop struct{ Rect Rect }

// SetSourceCrop selects the part of the buffer that is shown. An empty
// rectangle selects the whole buffer.
type SetSourceCrop struct{ Rect Rect }

// SetBuffer attaches a buffer submission. A nil Buffer detaches the
// current one. The previous submission, if any, is released.
type SetBuffer struct{ Submission *Submission }

// SetColor fills the layer bounds when no buffer is attached.
type SetColor struct{ Color RGBA }

// ClearColor removes the fill color.
type ClearColor struct{}

// SetAlpha sets the layer opacity.
type SetAlpha struct{ Alpha float64 }

// SetVisibility shows or hides the layer and its subtree.
type SetVisibility struct{ Visible bool }

// SetZ sets the order among siblings. Higher values draw on top.
type SetZ struct{ Z int32 }

// SetBufferTransform rotates or flips the buffer.
type SetBufferTransform struct{ Transform BufferTransform }

// SetGeometry maps the Src buffer region onto the Dst parent region.
// Src is clamped to the buffer; an empty Src selects the whole buffer.
type SetGeometry struct {
	Src, Dst  Rect
	Transform BufferTransform
}

// SetDataSpace sets how buffer values are interpreted.
type SetDataSpace struct{ DataSpace DataSpace }

// SetDamage declares the buffer regions that changed. Nil means the whole
// buffer.
type SetDamage struct{ Region []image.Rectangle }

// SetOpaque marks the layer content as fully opaque.
type SetOpaque struct{ Opaque bool }

// SetExtendedRangeBrightness sets the HDR brightness ratios.
type SetExtendedRangeBrightness struct{ Current, Desired float64 }

// Reparent moves the layer under Parent, appending it after existing
// siblings. NoHandle detaches the layer without destroying it.
type Reparent struct{ Parent Handle }

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (SetPosition) Kind() string { return "position" }
func (m SetPosition) validate() error {
	if !finite(m.X, m.Y) {
		return fmt.Errorf("%w: position (%v, %v)", ErrInvalidGeometry, m.X, m.Y)
	}
	return nil
}
func (m SetPosition) apply(g *Graph, idx int, _ *[]Release) {
	g.layers.get(idx).pos = Point(m)
}

func (SetScale) Kind() string { return "scale" }
func (m SetScale) validate() error {
	if !finite(m.X, m.Y) || m.X < 0 || m.Y < 0 {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidScale, m.X, m.Y)
	}
	return nil
}
func (m SetScale) apply(g *Graph, idx int, _ *[]Release) {
	g.layers.get(idx).scale = Point(m)
}

func validRect(r Rect) error {
	if !r.finite() || r.Dx() < 0 || r.Dy() < 0 {
		return fmt.Errorf("%w: rect %v", ErrInvalidGeometry, r)
	}
	return nil
}

func (SetCrop) Kind() string      { return "crop" }
func (m SetCrop) validate() error { return validRect(m.Rect) }
func (m SetCrop) apply(g *Graph, idx int, _ *[]Release) {
	l := g.layers.get(idx)
	l.crop, l.hasCrop = m.Rect, !m.Rect.Empty()
}

func (SetSourceCrop) Kind() string      { return "source-crop" }
func (m SetSourceCrop) validate() error { return validRect(m.Rect) }
func (m SetSourceCrop) apply(g *Graph, idx int, _ *[]Release) {
	g.layers.get(idx).srcCrop = m.Rect
}

func (SetBuffer) Kind() string    { return "buffer" }
func (SetBuffer) validate() error { return nil }
func (m SetBuffer) apply(g *Graph, idx int, rel *[]Release) {
	l := g.layers.get(idx)
	if l.sub != nil {
		*rel = append(*rel, Release{Layer: g.layers.handle(idx), Submission: l.sub})
	}
	l.sub = m.Submission
	if l.sub != nil && l.sub.Buffer == nil {
		l.sub = nil
	}
	l.damage = nil
}

func (SetColor) Kind() string { return "color" }
func (m SetColor) validate() error {
	if !m.Color.valid() {
		return fmt.Errorf("%w: %+v", ErrInvalidColor, m.Color)
	}
	return nil
}
func (m SetColor) apply(g *Graph, idx int, _ *[]Release) {
	l := g.layers.get(idx)
	l.color, l.hasColor = m.Color, true
}

func (ClearColor) Kind() string    { return "clear-color" }
func (ClearColor) validate() error { return nil }
func (ClearColor) apply(g *Graph, idx int, _ *[]Release) {
	l := g.layers.get(idx)
	l.color, l.hasColor = RGBA{}, false
}

func (SetAlpha) Kind() string { return "alpha" }
func (m SetAlpha) validate() error {
	if math.IsNaN(m.Alpha) || m.Alpha < 0 || m.Alpha > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidAlpha, m.Alpha)
	}
	return nil
}
func (m SetAlpha) apply(g *Graph, idx int, _ *[]Release) {
	g.layers.get(idx).alpha = m.Alpha
}

func (SetVisibility) Kind() string    { return "visibility" }
func (SetVisibility) validate() error { return nil }
func (m SetVisibility) apply(g *Graph, idx int, _ *[]Release) {
	g.layers.get(idx).visible = m.Visible
}

func (SetZ) Kind() string    { return "z" }
func (SetZ) validate() error { return nil }
func (m SetZ) apply(g *Graph, idx int, _ *[]Release) {
	g.layers.get(idx).z = m.Z
}

func (SetBufferTransform) Kind() string { return "transform" }
func (m SetBufferTransform) validate() error {
	if !m.Transform.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidTransform, m.Transform)
	}
	return nil
}
func (m SetBufferTransform) apply(g *Graph, idx int, _ *[]Release) {
	g.layers.get(idx).transform = m.Transform
}

func (SetGeometry) Kind() string { return "geometry" }
func (m SetGeometry) validate() error {
	if err := validRect(m.Src); err != nil {
		return err
	}
	if err := validRect(m.Dst); err != nil {
		return err
	}
	if !m.Transform.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidTransform, m.Transform)
	}
	return nil
}

// apply expands the geometry into source crop, position, scale and
// transform. The buffer attached at this point of the batch decides the
// clamped source size.
func (m SetGeometry) apply(g *Graph, idx int, _ *[]Release) {
	l := g.layers.get(idx)
	l.transform = m.Transform
	l.pos = m.Dst.Min

	src := m.Src
	if b := l.buffer(); b != nil {
		bounds := RectFromImage(b.Bounds())
		if src.Empty() {
			src = bounds
		} else {
			src = src.Intersect(bounds)
		}
	}
	l.srcCrop = src

	w, h := m.Transform.Size(src.Dx(), src.Dy())
	if w > 0 && h > 0 {
		l.scale = Point{m.Dst.Dx() / w, m.Dst.Dy() / h}
		return
	}
	// Nothing to scale: clip unbounded content to the destination size.
	l.scale = Point{1, 1}
	l.crop, l.hasCrop = R(0, 0, m.Dst.Dx(), m.Dst.Dy()), !m.Dst.Empty()
}

func (SetDataSpace) Kind() string { return "dataspace" }
func (m SetDataSpace) validate() error {
	if !m.DataSpace.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidDataSpace, m.DataSpace)
	}
	return nil
}
func (m SetDataSpace) apply(g *Graph, idx int, _ *[]Release) {
	g.layers.get(idx).dataSpace = m.DataSpace
}

func (SetDamage) Kind() string { return "damage" }
func (m SetDamage) validate() error {
	for _, r := range m.Region {
		if r.Dx() < 0 || r.Dy() < 0 {
			return fmt.Errorf("%w: damage %v", ErrInvalidGeometry, r)
		}
	}
	return nil
}
func (m SetDamage) apply(g *Graph, idx int, _ *[]Release) {
	g.layers.get(idx).damage = append([]image.Rectangle(nil), m.Region...)
}

func (SetOpaque) Kind() string    { return "opaque" }
func (SetOpaque) validate() error { return nil }
func (m SetOpaque) apply(g *Graph, idx int, _ *[]Release) {
	g.layers.get(idx).opaque = m.Opaque
}

func (SetExtendedRangeBrightness) Kind() string { return "brightness" }
func (m SetExtendedRangeBrightness) validate() error {
	if !finite(m.Current, m.Desired) || m.Current < 1 || m.Desired < 1 {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidBrightness, m.Current, m.Desired)
	}
	return nil
}
func (m SetExtendedRangeBrightness) apply(g *Graph, idx int, _ *[]Release) {
	g.layers.get(idx).brightness = Brightness(m)
}

func (Reparent) Kind() string    { return "reparent" }
func (Reparent) validate() error { return nil }
func (m Reparent) apply(g *Graph, idx int, _ *[]Release) {
	parent := noIndex
	if m.Parent.IsValid() {
		parent, _ = g.layers.lookup(m.Parent)
	}
	g.detach(idx)
	if parent != noIndex {
		g.attach(idx, parent)
	}
}
