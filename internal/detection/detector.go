// Package detection obtains the four document corners of a photograph from
// an external vision model, on the detector's fixed 0..1000 scale.
package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/lehigh-university-libraries/flattener/internal/geometry"
	"github.com/lehigh-university-libraries/flattener/internal/providers"
)

// ErrDetectionService matches upstream failures, including *ServiceError.
var ErrDetectionService = providers.ErrDetectionService

// ServiceError carries the upstream status and body of a failed call.
type ServiceError = providers.ServiceError

// Prompt asks the model for the outermost paper corners on a 0..1000 scale.
const Prompt = `You are a precise document scanner AI.

TASK: Find the OUTERMOST 4 corners of the paper document.

CRITICAL INSTRUCTIONS:
1. Identify the physical edges where the paper meets the background.
2. ENSURE THE ENTIRE PAPER IS INCLUDED. Do not crop inside the paper.
3. Coordinates MUST be on a 0-1000 scale (normalized). [x, y] where x is horizontal (0-1000), y is vertical (0-1000).

OUTPUT JSON:
{
    "top_left": [x, y],
    "top_right": [x, y],
    "bottom_right": [x, y],
    "bottom_left": [x, y]
}`

// Detector finds document corners in an image.
type Detector interface {
	// Detect downsizes and uploads img.
	Detect(ctx context.Context, img image.Image) ([]geometry.Point[geometry.Normalized], error)
	// DetectEncoded uploads an already encoded image as-is.
	DetectEncoded(ctx context.Context, data []byte, mimeType string) ([]geometry.Point[geometry.Normalized], error)
}

// New returns the detector described by cfg after applying defaults.
func New(cfg Config) (Detector, error) {
	cfg = cfg.WithDefaults()
	if cfg.Provider == "http" {
		if cfg.BaseURL == "" {
			return nil, errors.New("DETECTION_URL is required for the http provider")
		}
		return NewEndpoint(cfg.BaseURL, cfg.MaxDim), nil
	}
	p, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	return NewModelDetector(p, cfg), nil
}

// ModelDetector prompts a vision LLM for corner coordinates.
type ModelDetector struct {
	provider providers.Provider
	config   Config
	prompt   string
}

// NewModelDetector wraps p with the corner prompt.
func NewModelDetector(p providers.Provider, cfg Config) *ModelDetector {
	return &ModelDetector{provider: p, config: cfg, prompt: Prompt}
}

func (d *ModelDetector) Detect(ctx context.Context, img image.Image) ([]geometry.Point[geometry.Normalized], error) {
	data, err := PrepareImage(img, d.config.MaxDim)
	if err != nil {
		return nil, fmt.Errorf("failed to compress image for detection: %w", err)
	}
	return d.DetectEncoded(ctx, data, "image/jpeg")
}

func (d *ModelDetector) DetectEncoded(ctx context.Context, data []byte, mimeType string) ([]geometry.Point[geometry.Normalized], error) {
	start := time.Now()
	slog.Info("Requesting corner detection",
		"provider", d.provider.Name(),
		"model", d.config.Model,
		"bytes", len(data))

	reply, err := d.provider.Generate(ctx, providers.Config{
		Model:       d.config.Model,
		Temperature: d.config.Temperature,
		TopP:        d.config.TopP,
		Prompt:      d.prompt,
		Image:       data,
		MIMEType:    mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("corner detection failed: %w", err)
	}

	points, err := ParseResponse(reply)
	if err != nil {
		slog.Warn("Unparseable detection response", "provider", d.provider.Name(), "err", err, "raw", truncate(reply, 500))
		return nil, err
	}

	slog.Info("Corners detected",
		"provider", d.provider.Name(),
		"elapsed", time.Since(start),
		"points", points)
	return points, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
