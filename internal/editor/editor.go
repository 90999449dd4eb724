// Package editor turns pointer gestures on the displayed image into corner
// edits in Natural space.
package editor

import (
	"errors"
	"fmt"

	"github.com/lehigh-university-libraries/flattener/internal/geometry"
)

// ErrNoActiveCorner is returned by DragTo outside a drag.
var ErrNoActiveCorner = errors.New("no corner is being dragged")

// Corners is the single writer of the quadrilateral the editor adjusts.
type Corners interface {
	Quad() geometry.Quad[geometry.Natural]
	Bounds() geometry.Extent[geometry.Natural]
	EditPoint(i geometry.Corner, p geometry.Point[geometry.Natural]) error
}

// View selects which image is on screen.
type View int

const (
	ViewSource View = iota
	ViewResult
)

func (v View) String() string {
	if v == ViewResult {
		return "result"
	}
	return "source"
}

// Editor tracks one drag at a time over an image rendered at Display
// extent. It never stores points itself: every move is converted and
// handed to Corners.
type Editor struct {
	corners   Corners
	display   geometry.Extent[geometry.Display]
	active    geometry.Corner
	dragging  bool
	comparing bool
}

// New returns an editor over c rendered at display.
func New(c Corners, display geometry.Extent[geometry.Display]) *Editor {
	return &Editor{corners: c, display: display, active: noCorner}
}

// Resize records a new rendered extent.
func (e *Editor) Resize(display geometry.Extent[geometry.Display]) {
	e.display = display
}

// DisplayExtent returns the current rendered extent.
func (e *Editor) DisplayExtent() geometry.Extent[geometry.Display] {
	return e.display
}

// BeginDrag makes corner i the active corner.
func (e *Editor) BeginDrag(i geometry.Corner) error {
	if !i.Valid() {
		return fmt.Errorf("%w: %d", geometry.ErrCornerIndex, int(i))
	}
	e.active = i
	e.dragging = true
	return nil
}

// noCorner is the active index while no drag is in progress.
const noCorner geometry.Corner = -1

// Active returns the corner being dragged, or -1 and false.
func (e *Editor) Active() (geometry.Corner, bool) {
	return e.active, e.dragging
}

// DragTo moves the active corner to p, clamped to the visible image and
// converted to Natural space.
func (e *Editor) DragTo(p geometry.Point[geometry.Display]) (geometry.Point[geometry.Natural], error) {
	if !e.dragging {
		return geometry.Point[geometry.Natural]{}, ErrNoActiveCorner
	}
	return e.Place(e.active, p)
}

// Place sets corner i from a Display position without a drag gesture.
func (e *Editor) Place(i geometry.Corner, p geometry.Point[geometry.Display]) (geometry.Point[geometry.Natural], error) {
	n := geometry.ToNatural(e.display.Clamp(p), e.display, e.corners.Bounds())
	if err := e.corners.EditPoint(i, n); err != nil {
		return geometry.Point[geometry.Natural]{}, err
	}
	return n, nil
}

// EndDrag clears the active corner.
func (e *Editor) EndDrag() {
	e.active = noCorner
	e.dragging = false
}

// DisplayQuad returns the current corners in Display space for drawing.
func (e *Editor) DisplayQuad() geometry.Quad[geometry.Display] {
	return geometry.Map(e.corners.Quad(), geometry.NewScale(e.corners.Bounds(), e.display))
}

// SetCompare holds or releases the compare affordance.
func (e *Editor) SetCompare(on bool) {
	e.comparing = on
}

// View picks the image to show: the source while comparing, while busy or
// before any result exists, otherwise the last result.
func (e *Editor) View(hasResult, busy bool) View {
	if busy || !hasResult || e.comparing {
		return ViewSource
	}
	return ViewResult
}
