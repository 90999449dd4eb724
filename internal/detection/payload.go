package detection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lehigh-university-libraries/flattener/internal/geometry"
)

// Payload is the corner JSON produced by the model. Either the four named
// fields or Points is set.
type Payload struct {
	TopLeft     []float64   `json:"top_left,omitempty"`
	TopRight    []float64   `json:"top_right,omitempty"`
	BottomRight []float64   `json:"bottom_right,omitempty"`
	BottomLeft  []float64   `json:"bottom_left,omitempty"`
	Points      [][]float64 `json:"points,omitempty"`
}

// NewPayload renders points in the named-field form.
func NewPayload(points []geometry.Point[geometry.Normalized]) Payload {
	var p Payload
	named := []*[]float64{&p.TopLeft, &p.TopRight, &p.BottomRight, &p.BottomLeft}
	for i, pt := range points {
		if i < len(named) {
			*named[i] = []float64{pt.X, pt.Y}
		}
	}
	return p
}

func (p Payload) named() bool {
	return p.TopLeft != nil || p.TopRight != nil || p.BottomRight != nil || p.BottomLeft != nil
}

// Corners validates the payload and returns the four points in canonical
// order. Named fields take precedence over Points.
func (p Payload) Corners() ([]geometry.Point[geometry.Normalized], error) {
	var raw [][]float64
	switch {
	case p.named():
		fields := []struct {
			corner geometry.Corner
			value  []float64
		}{
			{geometry.TopLeft, p.TopLeft},
			{geometry.TopRight, p.TopRight},
			{geometry.BottomRight, p.BottomRight},
			{geometry.BottomLeft, p.BottomLeft},
		}
		for _, f := range fields {
			if f.value == nil {
				return nil, fmt.Errorf("%w: missing %s", geometry.ErrInvalidDetectionFormat, f.corner)
			}
			raw = append(raw, f.value)
		}
	case p.Points != nil:
		if len(p.Points) != 4 {
			return nil, fmt.Errorf("%w: expected 4 points, got %d", geometry.ErrInvalidDetectionFormat, len(p.Points))
		}
		raw = p.Points
	default:
		return nil, fmt.Errorf("%w: no corner fields or points array", geometry.ErrInvalidDetectionFormat)
	}

	points := make([]geometry.Point[geometry.Normalized], 0, 4)
	for i, pair := range raw {
		if len(pair) != 2 {
			return nil, fmt.Errorf("%w: %s has %d coordinates", geometry.ErrInvalidDetectionFormat, geometry.Corner(i), len(pair))
		}
		pt := geometry.Pt[geometry.Normalized](pair[0], pair[1])
		if !pt.Finite() {
			return nil, fmt.Errorf("%w: %s is not finite", geometry.ErrInvalidDetectionFormat, geometry.Corner(i))
		}
		points = append(points, pt)
	}
	return points, nil
}

// ParsePayload decodes corner JSON.
func ParsePayload(data []byte) ([]geometry.Point[geometry.Normalized], error) {
	var p Payload
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", geometry.ErrInvalidDetectionFormat, err)
	}
	return p.Corners()
}

// ExtractJSON pulls the first {...} object out of a model reply, dropping
// markdown code fences and any surrounding prose.
func ExtractJSON(response string) (string, error) {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end < start {
		return "", fmt.Errorf("%w: no JSON object in model response", geometry.ErrInvalidDetectionFormat)
	}
	return response[start : end+1], nil
}

// ParseResponse extracts and decodes the corner JSON from a model reply.
func ParseResponse(response string) ([]geometry.Point[geometry.Normalized], error) {
	obj, err := ExtractJSON(response)
	if err != nil {
		return nil, err
	}
	return ParsePayload([]byte(obj))
}
