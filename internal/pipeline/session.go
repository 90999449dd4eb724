// Package pipeline sequences detection, rectification and manual correction
// for one document at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/lehigh-university-libraries/flattener/internal/geometry"
	"github.com/lehigh-university-libraries/flattener/internal/rectify"
)

// State is the lifecycle position of a document in edit.
type State int

const (
	Idle State = iota
	Detecting
	Detected
	Rectified
	Dirty
	Failed
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Detecting:
		return "detecting"
	case Detected:
		return "detected"
	case Rectified:
		return "rectified"
	case Dirty:
		return "dirty"
	case Failed:
		return "failed"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrInvalidTransition is returned when an operation is not allowed in the
// current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// Detector finds document corners on the detector's normalized scale.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]geometry.Point[geometry.Normalized], error)
}

// Rectifier flattens the region of src outlined by q.
type Rectifier interface {
	Rectify(ctx context.Context, src image.Image, q geometry.Quad[geometry.Natural]) (*rectify.Result, error)
}

// Snapshot is a consistent read of a session.
type Snapshot struct {
	State     State
	Quad      geometry.Quad[geometry.Natural]
	HasQuad   bool
	Bounds    geometry.Extent[geometry.Natural]
	Result    *rectify.Result
	Err       error
	Busy      bool
	Comparing bool
}

// Session owns the quadrilateral of one document. All mutation goes through
// its methods; long-running work runs on goroutines and is applied on
// completion only if no newer request of the same kind was started since.
type Session struct {
	source    image.Image
	detector  Detector
	rectifier Rectifier

	mu          sync.Mutex
	autoRectify bool
	state       State
	model       geometry.CornerModel
	result      *rectify.Result
	err         error
	comparing   bool
	detectGen   uint64
	rectifyGen  uint64
	inflight    int
	wg          sync.WaitGroup
}

// NewSession starts an Idle session for source.
func NewSession(source image.Image, d Detector, r Rectifier) *Session {
	b := source.Bounds()
	return &Session{
		source:      source,
		detector:    d,
		rectifier:   r,
		autoRectify: true,
		model:       geometry.NewCornerModel(geometry.Ext[geometry.Natural](float64(b.Dx()), float64(b.Dy()))),
	}
}

// Source returns the decoded source image.
func (s *Session) Source() image.Image {
	return s.source
}

// Snapshot returns the current state, corners and last result.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:     s.state,
		Quad:      s.model.Snapshot(),
		HasQuad:   s.model.HasQuad(),
		Bounds:    s.model.Bounds(),
		Result:    s.result,
		Err:       s.err,
		Busy:      s.inflight > 0,
		Comparing: s.comparing,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Quad returns the current corners.
func (s *Session) Quad() geometry.Quad[geometry.Natural] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model.Snapshot()
}

// Bounds returns the natural extent of the source image.
func (s *Session) Bounds() geometry.Extent[geometry.Natural] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model.Bounds()
}

// SetAutoRectify controls whether a successful detection immediately starts
// rectification. It is on by default.
func (s *Session) SetAutoRectify(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoRectify = on
}

// Wait blocks until every launched detection and rectification has
// finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Detect requests corners from the detector. It returns immediately; the
// response moves the session to Detected (and on to rectification when
// auto-rectify is on) or to Failed. A later Detect supersedes this one.
func (s *Session) Detect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Done {
		return fmt.Errorf("%w: detect from %s", ErrInvalidTransition, s.state)
	}
	if s.detector == nil {
		return fmt.Errorf("detect: no detector configured")
	}

	s.detectGen++
	gen := s.detectGen
	s.state = Detecting
	s.err = nil
	s.launch(func() { s.runDetect(ctx, gen) })
	return nil
}

func (s *Session) runDetect(ctx context.Context, gen uint64) {
	points, err := s.detector.Detect(ctx, s.source)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.detectGen || s.state != Detecting {
		slog.Debug("Discarding superseded detection", "generation", gen, "latest", s.detectGen)
		return
	}
	if err != nil {
		s.fail(err)
		return
	}
	next, err := s.model.SetFromDetection(points)
	if err != nil {
		s.fail(err)
		return
	}

	s.model = next
	s.result = nil
	s.state = Detected
	slog.Info("Detection applied", "generation", gen, "quad", next.Snapshot())

	if s.autoRectify {
		s.startRectify(ctx)
	}
}

func (s *Session) fail(err error) {
	s.state = Failed
	s.err = err
	slog.Warn("Detection failed", "err", err)
}

// SetQuad replaces the corners directly, for callers that already know
// them. The session moves to Detected, or Dirty if a result exists.
func (s *Session) SetQuad(q geometry.Quad[geometry.Natural]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Done, Detecting:
		return fmt.Errorf("%w: set corners while %s", ErrInvalidTransition, s.state)
	}
	s.model = geometry.NewCornerModelFromQuad(q, s.model.Bounds())
	s.err = nil
	s.markEdited()
	return nil
}

// EditPoint moves corner i to p, clamped to the image. Editing a rectified
// document marks it Dirty; the result is kept until the next run.
func (s *Session) EditPoint(i geometry.Corner, p geometry.Point[geometry.Natural]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Detected, Rectified, Dirty:
	default:
		return fmt.Errorf("%w: edit corner while %s", ErrInvalidTransition, s.state)
	}
	next, err := s.model.UpdatePoint(i, p)
	if err != nil {
		return err
	}
	s.model = next
	s.markEdited()
	return nil
}

func (s *Session) markEdited() {
	if s.result != nil {
		s.state = Dirty
	} else {
		s.state = Detected
	}
}

// Rectify flattens the current corners. The corners are captured now; edits
// made while the run is in flight do not affect it.
func (s *Session) Rectify(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Detected, Rectified, Dirty:
	default:
		return fmt.Errorf("%w: rectify while %s", ErrInvalidTransition, s.state)
	}
	s.startRectify(ctx)
	return nil
}

func (s *Session) startRectify(ctx context.Context) {
	s.rectifyGen++
	gen := s.rectifyGen
	q := s.model.Snapshot()
	s.err = nil
	s.launch(func() { s.runRectify(ctx, gen, q) })
}

func (s *Session) runRectify(ctx context.Context, gen uint64, q geometry.Quad[geometry.Natural]) {
	res, err := s.rectifier.Rectify(ctx, s.source, q)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.rectifyGen {
		slog.Debug("Discarding superseded rectification", "generation", gen, "latest", s.rectifyGen)
		return
	}
	switch s.state {
	case Detected, Rectified, Dirty:
	default:
		slog.Debug("Discarding rectification after state change", "state", s.state)
		return
	}
	if err != nil {
		// Corners stay as they are so they can be adjusted and retried.
		s.err = err
		slog.Warn("Rectification failed", "err", err)
		return
	}

	s.result = res
	if s.model.Snapshot() == q {
		s.state = Rectified
	} else {
		s.state = Dirty
	}
	slog.Info("Rectification applied", "generation", gen, "width", res.Width, "height", res.Height)
}

// SetCompare holds or releases the compare view. It never touches the
// corners or starts work.
func (s *Session) SetCompare(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comparing = on
}

// Displayed returns the image that should be on screen.
func (s *Session) Displayed() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.comparing || s.result == nil || s.inflight > 0 {
		return s.source
	}
	return s.result.Image
}

// Confirm finishes a Rectified session and returns its result.
func (s *Session) Confirm() (*rectify.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Rectified {
		return nil, fmt.Errorf("%w: confirm while %s", ErrInvalidTransition, s.state)
	}
	s.state = Done
	return s.result, nil
}

// Cancel discards corners and results and returns to Idle. Work still in
// flight is ignored when it completes.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detectGen++
	s.rectifyGen++
	s.state = Idle
	s.model = geometry.NewCornerModel(s.model.Bounds())
	s.result = nil
	s.err = nil
	s.comparing = false
}

// launch runs fn on a new goroutine; s.mu must be held.
func (s *Session) launch(fn func()) {
	s.inflight++
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.inflight--
			s.mu.Unlock()
		}()
		fn()
	}()
}
