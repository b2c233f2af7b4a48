package scene

import (
	"image"

	"github.com/gogpu/present/fence"
	"github.com/gogpu/present/internal/dispatch"
)

// ReleaseFunc is called once when a buffer submission stops being used.
// The fence signals when the compositor no longer reads the buffer.
type ReleaseFunc func(release *fence.Fence)

// Submission is one attachment of a buffer to a layer. Each submission is
// released exactly once, even when the same buffer is submitted again.
type Submission struct {
	Buffer    *Buffer
	Acquire   *fence.Fence
	OnRelease ReleaseFunc

	// Executor runs OnRelease. Nil selects the presenter's default.
	Executor dispatch.Executor
}

// Release reports a superseded or orphaned submission.
type Release struct {
	Layer      Handle
	Submission *Submission
}

// Brightness is the extended range brightness pair of an HDR layer.
type Brightness struct {
	Current, Desired float64
}

// LayerState is a copy of a layer's attributes.
type LayerState struct {
	Name       string
	Parent     Handle
	Position   Point
	Scale      Point
	Crop       Rect
	HasCrop    bool
	SourceCrop Rect
	Transform  BufferTransform
	Z          int32
	Alpha      float64
	Visible    bool
	Color      RGBA
	HasColor   bool
	Buffer     *Buffer
	Opaque     bool
	DataSpace  DataSpace
	Damage     []image.Rectangle
	Brightness Brightness
}

type layer struct {
	name     string
	parent   int
	children []int
	seq      uint64 // attach order among siblings
	refs     int
	root     bool

	pos        Point
	scale      Point
	crop       Rect
	hasCrop    bool
	srcCrop    Rect
	transform  BufferTransform
	z          int32
	alpha      float64
	visible    bool
	color      RGBA
	hasColor   bool
	sub        *Submission
	opaque     bool
	dataSpace  DataSpace
	damage     []image.Rectangle
	brightness Brightness
}

func newLayer(name string) layer {
	return layer{
		name:       name,
		parent:     noIndex,
		refs:       1,
		scale:      Point{1, 1},
		alpha:      1,
		visible:    true,
		brightness: Brightness{1, 1},
	}
}

func (l *layer) buffer() *Buffer {
	if l.sub == nil {
		return nil
	}
	return l.sub.Buffer
}

// sourceRect returns the source crop clamped to the buffer.
func (l *layer) sourceRect() image.Rectangle {
	b := l.buffer()
	if b == nil {
		return image.Rectangle{}
	}
	if l.srcCrop.Empty() {
		return b.Bounds()
	}
	return l.srcCrop.Image().Intersect(b.Bounds())
}

// contentRect returns the layer-space bounds of the layer content and
// reports whether they are finite. A layer without a buffer is unbounded
// unless cropped.
func (l *layer) contentRect() (Rect, bool) {
	var r Rect
	bounded := false
	if l.buffer() != nil {
		src := l.sourceRect()
		w, h := l.transform.Size(float64(src.Dx()), float64(src.Dy()))
		r, bounded = R(0, 0, w, h), true
	}
	if l.hasCrop {
		if bounded {
			r = r.Intersect(l.crop)
		} else {
			r, bounded = l.crop, true
		}
	}
	return r, bounded
}

// naturalRect returns the content bounds before the layer crop: the
// transformed buffer, or the crop for a layer without a buffer.
func (l *layer) naturalRect() (Rect, bool) {
	if l.buffer() != nil {
		src := l.sourceRect()
		w, h := l.transform.Size(float64(src.Dx()), float64(src.Dy()))
		return R(0, 0, w, h), true
	}
	return l.crop, l.hasCrop
}

// localMatrix maps layer space into parent space.
func (l *layer) localMatrix() Matrix {
	return Translate(l.pos.X, l.pos.Y).Multiply(Scale(l.scale.X, l.scale.Y))
}

func (l *layer) state(a *arena) LayerState {
	s := LayerState{
		Name:       l.name,
		Position:   l.pos,
		Scale:      l.scale,
		Crop:       l.crop,
		HasCrop:    l.hasCrop,
		SourceCrop: l.srcCrop,
		Transform:  l.transform,
		Z:          l.z,
		Alpha:      l.alpha,
		Visible:    l.visible,
		Color:      l.color,
		HasColor:   l.hasColor,
		Buffer:     l.buffer(),
		Opaque:     l.opaque,
		DataSpace:  l.dataSpace,
		Damage:     append([]image.Rectangle(nil), l.damage...),
		Brightness: l.brightness,
	}
	if l.parent != noIndex {
		s.Parent = a.handle(l.parent)
	}
	return s
}
