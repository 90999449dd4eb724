package detection

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/lehigh-university-libraries/flattener/internal/geometry"
	"github.com/lehigh-university-libraries/flattener/internal/providers"
)

// EndpointDetector posts the image to an HTTP endpoint that already answers
// with corner JSON, such as another instance's /api/detect.
type EndpointDetector struct {
	URL        string
	MaxDim     int
	HTTPClient *http.Client
}

// NewEndpoint returns a detector for url.
func NewEndpoint(url string, maxDim int) *EndpointDetector {
	return &EndpointDetector{
		URL:    url,
		MaxDim: maxDim,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (d *EndpointDetector) Detect(ctx context.Context, img image.Image) ([]geometry.Point[geometry.Normalized], error) {
	data, err := PrepareImage(img, d.MaxDim)
	if err != nil {
		return nil, fmt.Errorf("failed to compress image for detection: %w", err)
	}
	return d.DetectEncoded(ctx, data, "image/jpeg")
}

func (d *EndpointDetector) DetectEncoded(ctx context.Context, data []byte, mimeType string) ([]geometry.Point[geometry.Normalized], error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("copy image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return nil, &providers.ServiceError{Provider: "http", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &providers.ServiceError{Provider: "http", Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &providers.ServiceError{Provider: "http", Status: resp.StatusCode, Body: string(payload)}
	}

	return ParsePayload(payload)
}
