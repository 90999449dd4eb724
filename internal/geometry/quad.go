package geometry

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDetectionFormat is returned when detector output does not
	// describe exactly four finite points.
	ErrInvalidDetectionFormat = errors.New("invalid detection format")

	// ErrDegenerateGeometry is returned when a quadrilateral has a zero-length
	// edge or collinear corners and no projective transform exists for it.
	ErrDegenerateGeometry = errors.New("degenerate geometry")

	// ErrCornerIndex is returned for a corner index outside 0..3.
	ErrCornerIndex = errors.New("corner index out of range")
)

// Corner indexes a quadrilateral in its canonical cyclic order.
type Corner int

const (
	TopLeft Corner = iota
	TopRight
	BottomRight
	BottomLeft
)

func (c Corner) String() string {
	switch c {
	case TopLeft:
		return "top_left"
	case TopRight:
		return "top_right"
	case BottomRight:
		return "bottom_right"
	case BottomLeft:
		return "bottom_left"
	}
	return fmt.Sprintf("corner(%d)", int(c))
}

// Valid reports whether c is one of the four corners.
func (c Corner) Valid() bool {
	return c >= TopLeft && c <= BottomLeft
}

// Quad is an ordered quadrilateral: top-left, top-right, bottom-right,
// bottom-left. The order is trusted, not verified.
type Quad[S Space] [4]Point[S]

// Edges returns the Euclidean lengths of the four sides.
func (q Quad[S]) Edges() (top, right, bottom, left float64) {
	top = Distance(q[TopLeft], q[TopRight])
	right = Distance(q[TopRight], q[BottomRight])
	bottom = Distance(q[BottomLeft], q[BottomRight])
	left = Distance(q[TopLeft], q[BottomLeft])
	return top, right, bottom, left
}

// Map converts every corner through s.
func Map[From, To Space](q Quad[From], s Scale[From, To]) Quad[To] {
	var out Quad[To]
	for i, p := range q {
		out[i] = s.Apply(p)
	}
	return out
}

// collinearTolerance is relative to the product of the two edge lengths
// spanning each corner triple.
const collinearTolerance = 1e-9

// Degenerate reports whether q has a zero-length edge or any three corners
// on one line.
func (q Quad[S]) Degenerate() bool {
	top, right, bottom, left := q.Edges()
	if top == 0 || right == 0 || bottom == 0 || left == 0 {
		return true
	}
	for skip := range q {
		var tri [3]Point[S]
		n := 0
		for i, p := range q {
			if i != skip {
				tri[n] = p
				n++
			}
		}
		if collinear(tri[0], tri[1], tri[2]) {
			return true
		}
	}
	return false
}

func collinear[S Space](a, b, c Point[S]) bool {
	abx, aby := b.X-a.X, b.Y-a.Y
	acx, acy := c.X-a.X, c.Y-a.Y
	cross := abx*acy - aby*acx
	if cross < 0 {
		cross = -cross
	}
	scale := Distance(a, b) * Distance(a, c)
	return scale == 0 || cross <= collinearTolerance*scale
}

// CornerModel is the document quadrilateral in Natural space together with
// the natural image extent it is clamped to. It is a value: every update
// returns a new model and leaves the receiver untouched.
type CornerModel struct {
	quad   Quad[Natural]
	bounds Extent[Natural]
	set    bool
}

// NewCornerModel returns an empty model for an image of the given extent.
func NewCornerModel(bounds Extent[Natural]) CornerModel {
	return CornerModel{bounds: bounds}
}

// NewCornerModelFromQuad returns a model holding q, clamped to bounds.
func NewCornerModelFromQuad(q Quad[Natural], bounds Extent[Natural]) CornerModel {
	m := CornerModel{bounds: bounds, set: true}
	for i, p := range q {
		m.quad[i] = bounds.Clamp(p)
	}
	return m
}

// Bounds returns the natural image extent.
func (m CornerModel) Bounds() Extent[Natural] {
	return m.bounds
}

// HasQuad reports whether corners have been set.
func (m CornerModel) HasQuad() bool {
	return m.set
}

// SetFromDetection maps four detector points onto the natural image and
// stores them in the order given.
func (m CornerModel) SetFromDetection(points []Point[Normalized]) (CornerModel, error) {
	if len(points) != 4 {
		return m, fmt.Errorf("%w: expected 4 points, got %d", ErrInvalidDetectionFormat, len(points))
	}
	var q Quad[Natural]
	for i, p := range points {
		if !p.Finite() {
			return m, fmt.Errorf("%w: %s is not a finite coordinate pair", ErrInvalidDetectionFormat, Corner(i))
		}
		q[i] = FromDetector(p, m.bounds)
	}
	return NewCornerModelFromQuad(q, m.bounds), nil
}

// UpdatePoint replaces corner i with p clamped to the image bounds.
func (m CornerModel) UpdatePoint(i Corner, p Point[Natural]) (CornerModel, error) {
	if !i.Valid() {
		return m, fmt.Errorf("%w: %d", ErrCornerIndex, int(i))
	}
	next := m
	next.quad[i] = m.bounds.Clamp(p)
	next.set = true
	return next, nil
}

// Snapshot returns a copy of the current corners.
func (m CornerModel) Snapshot() Quad[Natural] {
	return m.quad
}

// EditPoint returns q with corner i replaced by p clamped into bounds.
func EditPoint(q Quad[Natural], i Corner, p Point[Natural], bounds Extent[Natural]) (Quad[Natural], error) {
	m, err := NewCornerModelFromQuad(q, bounds).UpdatePoint(i, p)
	if err != nil {
		return q, err
	}
	return m.Snapshot(), nil
}
