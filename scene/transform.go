package scene

// BufferTransform rotates or flips buffer content before it is placed in
// layer space. Flips apply first, then the optional clockwise quarter turn.
type BufferTransform uint8

// Buffer transforms.
const (
	TransformIdentity BufferTransform = 0
	TransformFlipH    BufferTransform = 1
	TransformFlipV    BufferTransform = 2
	TransformRot90    BufferTransform = 4
	TransformRot180                   = TransformFlipH | TransformFlipV
	TransformRot270                   = TransformRot180 | TransformRot90
)

const transformMask = TransformFlipH | TransformFlipV | TransformRot90

// String returns the transform name.
func (t BufferTransform) String() string {
	switch t {
	case TransformIdentity:
		return "identity"
	case TransformFlipH:
		return "flip-h"
	case TransformFlipV:
		return "flip-v"
	case TransformRot90:
		return "rot-90"
	case TransformRot180:
		return "rot-180"
	case TransformRot270:
		return "rot-270"
	case TransformFlipH | TransformRot90:
		return "flip-h+rot-90"
	case TransformFlipV | TransformRot90:
		return "flip-v+rot-90"
	default:
		return "invalid"
	}
}

func (t BufferTransform) valid() bool { return t&^transformMask == 0 }

// swapsAxes reports whether the transform exchanges width and height.
func (t BufferTransform) swapsAxes() bool { return t&TransformRot90 != 0 }

// Size returns the size of a w×h source after the transform.
func (t BufferTransform) Size(w, h float64) (float64, float64) {
	if t.swapsAxes() {
		return h, w
	}
	return w, h
}

// matrix maps a w×h source, anchored at the origin, onto the transformed
// content box anchored at the origin.
func (t BufferTransform) matrix(w, h float64) Matrix {
	m := Identity()
	if t&TransformFlipH != 0 {
		m = Matrix{A: -1, C: w, E: 1}.Multiply(m)
	}
	if t&TransformFlipV != 0 {
		m = Matrix{A: 1, E: -1, F: h}.Multiply(m)
	}
	if t&TransformRot90 != 0 {
		// (x, y) -> (h - y, x)
		m = Matrix{B: -1, C: h, D: 1}.Multiply(m)
	}
	return m
}
