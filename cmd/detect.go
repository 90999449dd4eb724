package cmd

import (
	"encoding/json"
	"fmt"
	"image"
	"os"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/flattener/internal/detection"
	"github.com/lehigh-university-libraries/flattener/internal/geometry"
	"github.com/lehigh-university-libraries/flattener/internal/imageio"
	"github.com/lehigh-university-libraries/flattener/internal/pipeline"
	"github.com/lehigh-university-libraries/flattener/internal/rectify"
)

type detectOutput struct {
	Image      string                                `json:"image"`
	Natural    geometry.Extent[geometry.Natural]     `json:"natural"`
	Corners    geometry.Quad[geometry.Natural]       `json:"corners"`
	Normalized []geometry.Point[geometry.Normalized] `json:"corners_normalized"`
}

func newDetectCmd() *cobra.Command {
	var flags detectionFlags

	cmd := &cobra.Command{
		Use:   "detect <image>",
		Short: "Print the document corners found in an image",
		Example: `  flattener detect receipt.jpg
  flattener detect page.png --provider gemini`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			detector, err := detection.New(flags.config())
			if err != nil {
				return err
			}
			img, err := decodeFile(args[0])
			if err != nil {
				return err
			}

			s := pipeline.NewSession(img, detector, rectify.New())
			s.SetAutoRectify(false)
			if err := s.Detect(cmd.Context()); err != nil {
				return err
			}
			s.Wait()

			snap := s.Snapshot()
			if snap.Err != nil {
				return snap.Err
			}
			out := detectOutput{Image: args[0], Natural: snap.Bounds, Corners: snap.Quad}
			for _, p := range snap.Quad {
				out.Normalized = append(out.Normalized, geometry.ToDetector(p, snap.Bounds))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	flags.register(cmd)
	return cmd
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := imageio.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}
