package scene

import (
	"image"
	"math"

	"golang.org/x/image/math/f64"
)

// Point is a position in layer or display space.
type Point struct {
	X, Y float64
}

// Rect is an axis-aligned rectangle with float coordinates. Min is
// inclusive and Max exclusive, as with image.Rectangle.
type Rect struct {
	Min, Max Point
}

// R is shorthand for Rect{Point{x0, y0}, Point{x1, y1}}. Unlike
// image.Rect it does not canonicalize, so negative sizes survive for
// validation.
func R(x0, y0, x1, y1 float64) Rect {
	return Rect{Min: Point{x0, y0}, Max: Point{x1, y1}}
}

// RectFromImage converts an integer rectangle.
func RectFromImage(r image.Rectangle) Rect {
	return R(float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y))
}

// Dx returns the width.
func (r Rect) Dx() float64 { return r.Max.X - r.Min.X }

// Dy returns the height.
func (r Rect) Dy() float64 { return r.Max.Y - r.Min.Y }

// Empty reports whether r contains no area.
func (r Rect) Empty() bool { return r.Min.X >= r.Max.X || r.Min.Y >= r.Max.Y }

// Area returns the enclosed area, or zero for empty rectangles.
func (r Rect) Area() float64 {
	if r.Empty() {
		return 0
	}
	return r.Dx() * r.Dy()
}

// Intersect returns the largest rectangle contained by both r and s.
func (r Rect) Intersect(s Rect) Rect {
	r.Min.X = math.Max(r.Min.X, s.Min.X)
	r.Min.Y = math.Max(r.Min.Y, s.Min.Y)
	r.Max.X = math.Min(r.Max.X, s.Max.X)
	r.Max.Y = math.Min(r.Max.Y, s.Max.Y)
	if r.Empty() {
		return Rect{}
	}
	return r
}

// Image rounds r to the pixel grid. A pixel is covered when its center
// lies inside r.
func (r Rect) Image() image.Rectangle {
	if r.Empty() {
		return image.Rectangle{}
	}
	return image.Rect(
		int(math.Round(r.Min.X)), int(math.Round(r.Min.Y)),
		int(math.Round(r.Max.X)), int(math.Round(r.Max.Y)),
	)
}

func (r Rect) finite() bool {
	for _, v := range [...]float64{r.Min.X, r.Min.Y, r.Max.X, r.Max.Y} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Matrix is a 2D affine transformation in row-major order:
//
//	| a  b  c |
//	| d  e  f |
//
// mapping x' = a*x + b*y + c and y' = d*x + e*y + f.
type Matrix struct {
	A, B, C float64
	D, E, F float64
}

// Identity returns the identity transformation matrix.
func Identity() Matrix {
	return Matrix{A: 1, E: 1}
}

// Translate creates a translation matrix.
func Translate(x, y float64) Matrix {
	return Matrix{A: 1, C: x, E: 1, F: y}
}

// Scale creates a scaling matrix.
func Scale(x, y float64) Matrix {
	return Matrix{A: x, E: y}
}

// Multiply returns m * other, applying other first.
func (m Matrix) Multiply(other Matrix) Matrix {
	return Matrix{
		A: m.A*other.A + m.B*other.D,
		B: m.A*other.B + m.B*other.E,
		C: m.A*other.C + m.B*other.F + m.C,
		D: m.D*other.A + m.E*other.D,
		E: m.D*other.B + m.E*other.E,
		F: m.D*other.C + m.E*other.F + m.F,
	}
}

// TransformPoint applies the transformation to a point.
func (m Matrix) TransformPoint(p Point) Point {
	return Point{
		X: m.A*p.X + m.B*p.Y + m.C,
		Y: m.D*p.X + m.E*p.Y + m.F,
	}
}

// TransformRect returns the bounding box of r after transformation.
func (m Matrix) TransformRect(r Rect) Rect {
	p := [4]Point{
		m.TransformPoint(r.Min),
		m.TransformPoint(Point{r.Max.X, r.Min.Y}),
		m.TransformPoint(r.Max),
		m.TransformPoint(Point{r.Min.X, r.Max.Y}),
	}
	out := Rect{Min: p[0], Max: p[0]}
	for _, q := range p[1:] {
		out.Min.X = math.Min(out.Min.X, q.X)
		out.Min.Y = math.Min(out.Min.Y, q.Y)
		out.Max.X = math.Max(out.Max.X, q.X)
		out.Max.Y = math.Max(out.Max.Y, q.Y)
	}
	return out
}

// Determinant returns the determinant of the linear part.
func (m Matrix) Determinant() float64 {
	return m.A*m.E - m.B*m.D
}

// Invertible reports whether the matrix maps area to non-zero area.
func (m Matrix) Invertible() bool {
	return math.Abs(m.Determinant()) > 1e-12
}

// Aff3 converts the matrix to the form used by x/image/draw.
func (m Matrix) Aff3() f64.Aff3 {
	return f64.Aff3{m.A, m.B, m.C, m.D, m.E, m.F}
}
