package evaluation

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lehigh-university-libraries/flattener/internal/geometry"
	"github.com/lehigh-university-libraries/flattener/internal/imageio"
)

// Detector is the part of detection.Detector the runner needs.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]geometry.Point[geometry.Normalized], error)
}

// Runner evaluates records with bounded concurrency.
type Runner struct {
	Detector    Detector
	Concurrency int
}

// Run detects every record and returns results in input order. Per-record
// failures are recorded on the result; only context cancellation aborts.
func (r *Runner) Run(ctx context.Context, records []Record) ([]Result, error) {
	results := make([]Result, len(records))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.Concurrency))

	for i := range records {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			slog.Info("Processing item", "id", records[i].ID, "progress", fmt.Sprintf("%d/%d", i+1, len(records)))
			results[i] = r.process(ctx, &records[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Runner) process(ctx context.Context, rec *Record) (result Result) {
	result = Result{ID: rec.ID, ImagePath: rec.ImagePath}
	start := time.Now()
	defer func() { result.ProcessingTime = time.Since(start) }()

	data, err := os.ReadFile(rec.ImagePath)
	if err != nil {
		result.Error = fmt.Sprintf("failed to read image: %v", err)
		return result
	}
	img, _, err := imageio.DecodeBytes(data)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	points, err := r.Detector.Detect(ctx, img)
	if err != nil {
		slog.Warn("Detection failed", "id", rec.ID, "err", err)
		result.Error = err.Error()
		return result
	}
	result.Predicted = points
	result.Score(rec.Corners())
	return result
}
