// Package geometry holds the typed coordinate spaces, the corner model and the
// projective transform used to flatten a photographed document.
//
// Points carry the space they are expressed in as a type parameter, so the only
// way to move a point from one space to another is through a Scale.
package geometry

import "math"

// NormalizedRange is the per-axis extent of the detector's coordinate system.
const NormalizedRange = 1000

// Normalized is the detector output space: 0..1000 on both axes.
type Normalized struct{}

// Natural is the pixel space of the full-resolution source image.
type Natural struct{}

// Display is the pixel space of the image as currently rendered.
type Display struct{}

// Rectified is the pixel space of the flattened output raster.
type Rectified struct{}

// Space constrains the type parameter of Point, Extent and Quad.
type Space interface {
	Normalized | Natural | Display | Rectified
}

// Point is a 2-D point in space S.
type Point[S Space] struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for Point[S]{X: x, Y: y}.
func Pt[S Space](x, y float64) Point[S] {
	return Point[S]{X: x, Y: y}
}

// Finite reports whether both coordinates are finite numbers.
func (p Point[S]) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// Distance returns the Euclidean distance between a and b.
func Distance[S Space](a, b Point[S]) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// Extent is the width and height of an image in space S.
type Extent[S Space] struct {
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// Ext is shorthand for Extent[S]{W: w, H: h}.
func Ext[S Space](w, h float64) Extent[S] {
	return Extent[S]{W: w, H: h}
}

// NormalizedExtent is the fixed extent of the detector space.
var NormalizedExtent = Extent[Normalized]{W: NormalizedRange, H: NormalizedRange}

// Empty reports whether either side is zero or negative.
func (e Extent[S]) Empty() bool {
	return e.W <= 0 || e.H <= 0
}

// Clamp moves p into [0, W] x [0, H]. Non-finite coordinates clamp to 0.
func (e Extent[S]) Clamp(p Point[S]) Point[S] {
	return Point[S]{X: clamp(p.X, e.W), Y: clamp(p.Y, e.H)}
}

// Contains reports whether p lies inside [0, W] x [0, H].
func (e Extent[S]) Contains(p Point[S]) bool {
	return p.X >= 0 && p.Y >= 0 && p.X <= e.W && p.Y <= e.H
}

func clamp(v, hi float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if hi < 0 {
		hi = 0
	}
	if v > hi {
		return hi
	}
	return v
}

// Scale converts points from space From to space To with one
// multiplication per axis.
type Scale[From, To Space] struct {
	X float64
	Y float64
}

// NewScale returns the per-axis factor to/from. An axis whose source extent
// is zero gets a factor of 0, so conversions yield 0 instead of dividing by
// zero while an image is still undecoded or hidden.
func NewScale[From, To Space](from Extent[From], to Extent[To]) Scale[From, To] {
	return Scale[From, To]{X: ratio(to.W, from.W), Y: ratio(to.H, from.H)}
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// Apply converts p into the target space.
func (s Scale[From, To]) Apply(p Point[From]) Point[To] {
	return Point[To]{X: p.X * s.X, Y: p.Y * s.Y}
}

// Inverse returns the reciprocal scale. Zero factors stay zero.
func (s Scale[From, To]) Inverse() Scale[To, From] {
	return Scale[To, From]{X: ratio(1, s.X), Y: ratio(1, s.Y)}
}

// ToDisplay converts a Natural point to Display space for the given extents.
func ToDisplay(p Point[Natural], natural Extent[Natural], display Extent[Display]) Point[Display] {
	return NewScale(natural, display).Apply(p)
}

// ToNatural converts a Display point to Natural space for the given extents.
func ToNatural(p Point[Display], display Extent[Display], natural Extent[Natural]) Point[Natural] {
	return NewScale(display, natural).Apply(p)
}

// FromDetector maps a detector point onto the natural image:
// natural = normalized * (naturalExtent / 1000), per axis.
func FromDetector(p Point[Normalized], natural Extent[Natural]) Point[Natural] {
	return NewScale(NormalizedExtent, natural).Apply(p)
}

// ToDetector maps a natural point back onto the detector scale.
func ToDetector(p Point[Natural], natural Extent[Natural]) Point[Normalized] {
	return NewScale(natural, NormalizedExtent).Apply(p)
}
