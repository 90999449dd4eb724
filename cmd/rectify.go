package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/flattener/internal/detection"
	"github.com/lehigh-university-libraries/flattener/internal/geometry"
	"github.com/lehigh-university-libraries/flattener/internal/imageio"
	"github.com/lehigh-university-libraries/flattener/internal/pipeline"
	"github.com/lehigh-university-libraries/flattener/internal/rectify"
)

func newRectifyCmd() *cobra.Command {
	var (
		out     string
		corners string
		space   string
		quality int
		workers int
		flags   detectionFlags
	)

	cmd := &cobra.Command{
		Use:   "rectify <image>",
		Short: "Flatten the document in an image",
		Long: `Rectifies the document outlined by four corners into a flat image.

Without --corners the corners are detected first with the configured provider.
Corners are given clockwise from the top-left.`,
		Example: `  # Detect and flatten
  flattener rectify receipt.jpg --out flat.jpg

  # Flatten with known corners in pixel coordinates
  flattener rectify page.png --out flat.png --corners "120,80 1900,60 1950,2600 90,2640"

  # Corners from the detector's 0-1000 scale
  flattener rectify page.png --out flat.jpg --space normalized --corners "50,40 960,30 975,985 45,990"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := imageio.ParseFormat(filepath.Ext(out))
			if err != nil {
				return err
			}
			img, err := decodeFile(args[0])
			if err != nil {
				return err
			}

			engine := rectify.New()
			if workers > 0 {
				engine.Workers = workers
			}

			var detector pipeline.Detector
			if corners == "" {
				d, err := detection.New(flags.config())
				if err != nil {
					return err
				}
				detector = d
			}
			s := pipeline.NewSession(img, detector, engine)

			if corners != "" {
				q, err := parseCorners(corners, space, s.Bounds())
				if err != nil {
					return err
				}
				if err := s.SetQuad(q); err != nil {
					return err
				}
				if err := s.Rectify(cmd.Context()); err != nil {
					return err
				}
			} else if err := s.Detect(cmd.Context()); err != nil {
				return err
			}
			s.Wait()

			if snap := s.Snapshot(); snap.Err != nil {
				return snap.Err
			}
			res, err := s.Confirm()
			if err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create output: %w", err)
			}
			if err := imageio.Encode(f, res.Image, format, quality); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			slog.Info("Rectified image written", "path", out, "width", res.Width, "height", res.Height, "corners", res.Quad)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "rectified.jpg", "Output file (.jpg or .png)")
	cmd.Flags().StringVar(&corners, "corners", "", `Four "x,y" pairs separated by spaces`)
	cmd.Flags().StringVar(&space, "space", "natural", "Coordinate space of --corners: natural or normalized")
	cmd.Flags().IntVar(&quality, "quality", imageio.DefaultJPEGQuality, "JPEG quality")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel row workers (default GOMAXPROCS)")
	flags.register(cmd)

	return cmd
}

// parseCorners reads "x,y x,y x,y x,y" in the given space and returns the
// corners in Natural space.
func parseCorners(s, space string, bounds geometry.Extent[geometry.Natural]) (geometry.Quad[geometry.Natural], error) {
	var q geometry.Quad[geometry.Natural]

	fields := strings.Fields(s)
	if len(fields) != 4 {
		return q, fmt.Errorf("expected 4 corners, got %d", len(fields))
	}
	for i, f := range fields {
		xs, ys, ok := strings.Cut(f, ",")
		if !ok {
			return q, fmt.Errorf("corner %d: expected x,y, got %q", i, f)
		}
		x, err := strconv.ParseFloat(xs, 64)
		if err != nil {
			return q, fmt.Errorf("corner %d: %w", i, err)
		}
		y, err := strconv.ParseFloat(ys, 64)
		if err != nil {
			return q, fmt.Errorf("corner %d: %w", i, err)
		}

		switch space {
		case "natural":
			q[i] = geometry.Pt[geometry.Natural](x, y)
		case "normalized":
			q[i] = geometry.FromDetector(geometry.Pt[geometry.Normalized](x, y), bounds)
		default:
			return q, fmt.Errorf("unknown space %q (natural or normalized)", space)
		}
	}
	return q, nil
}
