// Package overlay draws the corner handles and outline over a preview of the
// source image.
package overlay

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"

	"github.com/lehigh-university-libraries/flattener/internal/geometry"
)

var (
	Fill   = color.NRGBA{R: 59, G: 130, B: 246, A: 51}
	Stroke = color.NRGBA{R: 59, G: 130, B: 246, A: 255}
	Handle = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	Active = color.NRGBA{R: 250, G: 204, B: 21, A: 255}
)

// Style sets outline and handle sizes in display pixels.
type Style struct {
	StrokeWidth  float64
	HandleRadius float64
}

var DefaultStyle = Style{StrokeWidth: 2, HandleRadius: 8}

// MaxDimension bounds each side of a rendered overlay, in pixels.
const MaxDimension = 8192

// Render scales src to display and draws q over it. active, when valid,
// marks the corner being dragged.
func Render(src image.Image, q geometry.Quad[geometry.Natural], display geometry.Extent[geometry.Display], active geometry.Corner, style Style) *image.RGBA {
	display = Bound(display)
	w, h := int(math.Round(display.W)), int(math.Round(display.H))
	if w < 1 || h < 1 {
		return image.NewRGBA(image.Rectangle{})
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	b := src.Bounds()
	natural := geometry.Ext[geometry.Natural](float64(b.Dx()), float64(b.Dy()))
	dq := geometry.Map(q, geometry.NewScale(natural, display))

	z := vector.NewRasterizer(w, h)
	polygon(z, dq[:])
	fillMask(dst, z, Fill)

	for i := range dq {
		z.Reset(w, h)
		segment(z, dq[i], dq[(i+1)%4], style.StrokeWidth)
		fillMask(dst, z, Stroke)
	}

	for i, p := range dq {
		c := Handle
		if geometry.Corner(i) == active {
			c = Active
		}
		z.Reset(w, h)
		circle(z, p, style.HandleRadius)
		fillMask(dst, z, Stroke)
		z.Reset(w, h)
		circle(z, p, style.HandleRadius-style.StrokeWidth)
		fillMask(dst, z, c)
	}
	return dst
}

// Bound scales display down, keeping its aspect ratio, so that neither side
// exceeds MaxDimension.
func Bound(display geometry.Extent[geometry.Display]) geometry.Extent[geometry.Display] {
	m := max(display.W, display.H)
	if math.IsNaN(m) {
		return geometry.Extent[geometry.Display]{}
	}
	if m <= MaxDimension {
		return display
	}
	f := MaxDimension / m
	return geometry.Ext[geometry.Display](display.W*f, display.H*f)
}

func fillMask(dst *image.RGBA, z *vector.Rasterizer, c color.Color) {
	z.DrawOp = draw.Over
	z.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{})
}

func polygon(z *vector.Rasterizer, pts []geometry.Point[geometry.Display]) {
	z.MoveTo(float32(pts[0].X), float32(pts[0].Y))
	for _, p := range pts[1:] {
		z.LineTo(float32(p.X), float32(p.Y))
	}
	z.ClosePath()
}

// segment outlines a line of the given width as a rectangle.
func segment(z *vector.Rasterizer, a, b geometry.Point[geometry.Display], width float64) {
	l := geometry.Distance(a, b)
	if l == 0 {
		return
	}
	nx, ny := -(b.Y-a.Y)/l*width/2, (b.X-a.X)/l*width/2
	polygon(z, []geometry.Point[geometry.Display]{
		{X: a.X + nx, Y: a.Y + ny},
		{X: b.X + nx, Y: b.Y + ny},
		{X: b.X - nx, Y: b.Y - ny},
		{X: a.X - nx, Y: a.Y - ny},
	})
}

func circle(z *vector.Rasterizer, c geometry.Point[geometry.Display], r float64) {
	if r <= 0 {
		return
	}
	const n = 32
	pts := make([]geometry.Point[geometry.Display], n)
	for i := range pts {
		a := 2 * math.Pi * float64(i) / n
		pts[i] = geometry.Point[geometry.Display]{X: c.X + r*math.Cos(a), Y: c.Y + r*math.Sin(a)}
	}
	polygon(z, pts)
}
