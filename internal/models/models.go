package models

import (
	"time"

	"github.com/lehigh-university-libraries/flattener/internal/geometry"
	"github.com/lehigh-university-libraries/flattener/internal/pipeline"
)

// DocumentSession is one uploaded photo and the pipeline working on it.
type DocumentSession struct {
	ID        string
	Filename  string
	Provider  string
	Model     string
	CreatedAt time.Time
	Pipeline  *pipeline.Session
}

// SessionView is the JSON form of a DocumentSession.
type SessionView struct {
	ID        string                                `json:"id"`
	Filename  string                                `json:"filename,omitempty"`
	Provider  string                                `json:"provider,omitempty"`
	Model     string                                `json:"model,omitempty"`
	CreatedAt time.Time                             `json:"created_at"`
	State     string                                `json:"state"`
	Busy      bool                                  `json:"busy"`
	Comparing bool                                  `json:"comparing"`
	Error     string                                `json:"error,omitempty"`
	Natural   geometry.Extent[geometry.Natural]     `json:"natural"`
	Corners   []geometry.Point[geometry.Natural]    `json:"corners,omitempty"`
	Detector  []geometry.Point[geometry.Normalized] `json:"corners_normalized,omitempty"`
	Result    *ResultView                           `json:"result,omitempty"`
}

// ResultView describes the last rectified image.
type ResultView struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	URL    string `json:"url"`
}

// View renders the current state of s.
func (s *DocumentSession) View() SessionView {
	snap := s.Pipeline.Snapshot()
	v := SessionView{
		ID:        s.ID,
		Filename:  s.Filename,
		Provider:  s.Provider,
		Model:     s.Model,
		CreatedAt: s.CreatedAt,
		State:     snap.State.String(),
		Busy:      snap.Busy,
		Comparing: snap.Comparing,
		Natural:   snap.Bounds,
	}
	if snap.Err != nil {
		v.Error = snap.Err.Error()
	}
	if snap.HasQuad {
		for _, p := range snap.Quad {
			v.Corners = append(v.Corners, p)
			v.Detector = append(v.Detector, geometry.ToDetector(p, snap.Bounds))
		}
	}
	if snap.Result != nil {
		v.Result = &ResultView{
			Width:  snap.Result.Width,
			Height: snap.Result.Height,
			URL:    "/api/sessions/" + s.ID + "/image",
		}
	}
	return v
}
