// Package rectify flattens the quadrilateral region of a source image into an
// upright rectangle through a perspective transform.
package rectify

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"runtime"
	"time"

	"github.com/lehigh-university-libraries/flattener/internal/geometry"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// snapEpsilon absorbs solver noise so identity mappings land exactly on
// source pixels.
const snapEpsilon = 1e-7

// Result is a rectified image and its integer pixel size.
type Result struct {
	Image  *image.RGBA
	Width  int
	Height int
	// Quad is the copy of the corners the image was resampled from. Later
	// edits to the caller's corners do not change it.
	Quad geometry.Quad[geometry.Natural]
}

// Engine resamples source images. The zero value is ready to use.
type Engine struct {
	// Workers bounds the number of row bands resampled in parallel.
	// Zero means GOMAXPROCS.
	Workers int

	// Border fills destination pixels that map outside the source.
	Border color.RGBA
}

// New returns an Engine using all available CPUs.
func New() *Engine {
	return &Engine{}
}

// DestinationSize returns the destination rectangle for q: the longer of
// each pair of opposite edges.
func DestinationSize(q geometry.Quad[geometry.Natural]) (width, height float64) {
	top, right, bottom, left := q.Edges()
	return math.Max(top, bottom), math.Max(left, right)
}

// PixelSize rounds a destination size to whole pixels, never below 1.
func PixelSize(width, height float64) (int, int) {
	return max(1, int(math.Round(width))), max(1, int(math.Round(height)))
}

// Destination returns the output rectangle corners for a w x h size.
func Destination(w, h float64) geometry.Quad[geometry.Rectified] {
	return geometry.Quad[geometry.Rectified]{
		{X: 0, Y: 0},
		{X: w, Y: 0},
		{X: w, Y: h},
		{X: 0, Y: h},
	}
}

// Rectify warps the region of src outlined by q into a new image. Neither
// src nor q is modified. Quadrilaterals with a zero-length edge or collinear
// corners fail with geometry.ErrDegenerateGeometry.
func (e *Engine) Rectify(ctx context.Context, src image.Image, q geometry.Quad[geometry.Natural]) (*Result, error) {
	if src == nil {
		return nil, fmt.Errorf("rectify: nil source image")
	}
	w, h := DestinationSize(q)
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: zero-length edge", geometry.ErrDegenerateGeometry)
	}

	forward, err := geometry.NewHomography(q, Destination(w, h))
	if err != nil {
		return nil, err
	}
	inverse, err := forward.Inverse()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	pw, ph := PixelSize(w, h)
	dst := image.NewRGBA(image.Rect(0, 0, pw, ph))
	s := newSampler(src, e.Border)

	workers := e.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	band := (ph + workers - 1) / workers

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for y0 := 0; y0 < ph; y0 += band {
		y1 := min(y0+band, ph)
		g.Go(func() error {
			for y := y0; y < y1; y++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				row := dst.Pix[y*dst.Stride : y*dst.Stride+pw*4]
				for x := 0; x < pw; x++ {
					p, ok := inverse.Apply(geometry.Point[geometry.Rectified]{X: float64(x), Y: float64(y)})
					c := e.Border
					if ok {
						c = s.at(p.X, p.Y)
					}
					row[x*4+0] = c.R
					row[x*4+1] = c.G
					row[x*4+2] = c.B
					row[x*4+3] = c.A
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("rectify: %w", err)
	}

	slog.Debug("Rectified image",
		"width", pw,
		"height", ph,
		"workers", workers,
		"elapsed", time.Since(start))

	return &Result{Image: dst, Width: pw, Height: ph, Quad: q}, nil
}

// sampler reads bilinear samples from an RGBA copy of the source, in
// coordinates relative to the source's bounds origin.
type sampler struct {
	img    *image.RGBA
	w, h   int
	border color.RGBA
}

func newSampler(src image.Image, border color.RGBA) *sampler {
	b := src.Bounds()
	rgba, ok := src.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)
	}
	return &sampler{img: rgba, w: b.Dx(), h: b.Dy(), border: border}
}

func (s *sampler) pixel(x, y int) [4]float64 {
	if x < 0 || y < 0 || x >= s.w || y >= s.h {
		return [4]float64{float64(s.border.R), float64(s.border.G), float64(s.border.B), float64(s.border.A)}
	}
	i := y*s.img.Stride + x*4
	p := s.img.Pix[i : i+4 : i+4]
	return [4]float64{float64(p[0]), float64(p[1]), float64(p[2]), float64(p[3])}
}

func snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < snapEpsilon {
		return r
	}
	return v
}

func (s *sampler) at(fx, fy float64) color.RGBA {
	fx, fy = snap(fx), snap(fy)
	if math.IsNaN(fx) || math.IsNaN(fy) || fx <= -1 || fy <= -1 || fx >= float64(s.w) || fy >= float64(s.h) {
		return s.border
	}
	x0, y0 := math.Floor(fx), math.Floor(fy)
	ax, ay := fx-x0, fy-y0
	ix, iy := int(x0), int(y0)

	p00 := s.pixel(ix, iy)
	p10 := s.pixel(ix+1, iy)
	p01 := s.pixel(ix, iy+1)
	p11 := s.pixel(ix+1, iy+1)

	var out [4]uint8
	for c := range out {
		top := p00[c]*(1-ax) + p10[c]*ax
		bot := p01[c]*(1-ax) + p11[c]*ax
		v := top*(1-ay) + bot*ay
		out[c] = uint8(math.Min(255, math.Max(0, math.Round(v))))
	}
	return color.RGBA{R: out[0], G: out[1], B: out[2], A: out[3]}
}
