package geometry

import (
	"fmt"
	"math"
)

// pivotEpsilon is the smallest pivot accepted by the linear solver.
const pivotEpsilon = 1e-12

// Homography is a 3x3 projective transform from space From to space To,
// stored row-major.
type Homography[From, To Space] [9]float64

// NewHomography returns the transform mapping src[i] onto dst[i] for all four
// corners. It fails with ErrDegenerateGeometry when either quadrilateral is
// degenerate or the system is singular.
func NewHomography[From, To Space](src Quad[From], dst Quad[To]) (Homography[From, To], error) {
	if src.Degenerate() {
		return Homography[From, To]{}, fmt.Errorf("%w: source quadrilateral", ErrDegenerateGeometry)
	}
	if dst.Degenerate() {
		return Homography[From, To]{}, fmt.Errorf("%w: destination quadrilateral", ErrDegenerateGeometry)
	}

	// Eight unknowns h00..h21 with h22 = 1:
	//   x' = (h00 X + h01 Y + h02) / (h20 X + h21 Y + 1)
	//   y' = (h10 X + h11 Y + h12) / (h20 X + h21 Y + 1)
	var a [8][8]float64
	var b [8]float64
	for i := range 4 {
		X, Y := src[i].X, src[i].Y
		x, y := dst[i].X, dst[i].Y
		r := 2 * i
		a[r] = [8]float64{X, Y, 1, 0, 0, 0, -X * x, -Y * x}
		b[r] = x
		a[r+1] = [8]float64{0, 0, 0, X, Y, 1, -X * y, -Y * y}
		b[r+1] = y
	}

	h, ok := solve8(a, b)
	if !ok {
		return Homography[From, To]{}, fmt.Errorf("%w: singular transform", ErrDegenerateGeometry)
	}
	return Homography[From, To]{h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7], 1}, nil
}

// solve8 runs Gauss-Jordan elimination with partial pivoting.
func solve8(a [8][8]float64, b [8]float64) ([8]float64, bool) {
	for col := range 8 {
		pivot := col
		for r := col + 1; r < 8; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < pivotEpsilon {
			return [8]float64{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		div := a[col][col]
		for c := col; c < 8; c++ {
			a[col][c] /= div
		}
		b[col] /= div

		for r := range 8 {
			if r == col || a[r][col] == 0 {
				continue
			}
			f := a[r][col]
			for c := col; c < 8; c++ {
				a[r][c] -= f * a[col][c]
			}
			b[r] -= f * b[col]
		}
	}
	return b, true
}

// Apply maps p through the transform. ok is false when p lies on the
// transform's line at infinity.
func (h Homography[From, To]) Apply(p Point[From]) (Point[To], bool) {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if w == 0 {
		return Point[To]{}, false
	}
	return Point[To]{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}, true
}

// Determinant returns det(H).
func (h Homography[From, To]) Determinant() float64 {
	return h[0]*(h[4]*h[8]-h[5]*h[7]) -
		h[1]*(h[3]*h[8]-h[5]*h[6]) +
		h[2]*(h[3]*h[7]-h[4]*h[6])
}

// Inverse returns the transform from To back to From, computed from the
// adjugate and normalised so the bottom-right entry is 1 where possible.
func (h Homography[From, To]) Inverse() (Homography[To, From], error) {
	det := h.Determinant()
	if math.Abs(det) < pivotEpsilon || math.IsNaN(det) {
		return Homography[To, From]{}, fmt.Errorf("%w: transform is not invertible", ErrDegenerateGeometry)
	}
	inv := Homography[To, From]{
		h[4]*h[8] - h[5]*h[7], h[2]*h[7] - h[1]*h[8], h[1]*h[5] - h[2]*h[4],
		h[5]*h[6] - h[3]*h[8], h[0]*h[8] - h[2]*h[6], h[2]*h[3] - h[0]*h[5],
		h[3]*h[7] - h[4]*h[6], h[1]*h[6] - h[0]*h[7], h[0]*h[4] - h[1]*h[3],
	}
	norm := inv[8]
	if math.Abs(norm) < pivotEpsilon {
		norm = det
	}
	for i := range inv {
		inv[i] /= norm
	}
	return inv, nil
}
