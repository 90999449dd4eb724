package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/flattener/internal/detection"
	"github.com/lehigh-university-libraries/flattener/internal/evaluation"
)

func newEvalCmd() *cobra.Command {
	var (
		datasetPath string
		outputDir   string
		sampleSize  int
		concurrency int
		tolerance   float64
		flags       detectionFlags
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Measure corner detection accuracy against a labelled dataset",
		Long: `Runs corner detection over every record of a labelled dataset and compares
the predicted corners with the ground truth on the detector's 0-1000 scale.

Datasets are JSONL or Parquet with the columns id, image_path and
tl_x, tl_y, tr_x, tr_y, br_x, br_y, bl_x, bl_y. Relative image paths are
resolved against the dataset file. Results are written as YAML.`,
		Example: `  # Evaluate 10 records with Ollama
  flattener eval --dataset labels.jsonl --sample 10 --provider ollama

  # Evaluate a parquet dataset with four requests in flight
  flattener eval --dataset labels.parquet --provider openai --concurrency 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(datasetPath); os.IsNotExist(err) {
				return fmt.Errorf("dataset file not found: %s", datasetPath)
			}

			cfg := flags.config()
			detector, err := detection.New(cfg)
			if err != nil {
				return err
			}

			slog.Info("Starting evaluation run", "dataset", datasetPath, "provider", cfg.Provider, "model", cfg.Model)
			records, err := evaluation.NewLoader(datasetPath).Load(sampleSize)
			if err != nil {
				return fmt.Errorf("failed to load dataset: %w", err)
			}
			slog.Info("Dataset loaded", "items", len(records))

			runner := &evaluation.Runner{Detector: detector, Concurrency: concurrency}
			results, err := runner.Run(cmd.Context(), records)
			if err != nil {
				return err
			}

			spec := evaluation.NewSpec(evaluation.EvalConfig{
				Provider:    cfg.Provider,
				Model:       cfg.Model,
				Temperature: cfg.Temperature,
				TopP:        cfg.TopP,
				MaxDim:      cfg.MaxDim,
				DatasetPath: datasetPath,
				SampleSize:  len(records),
			}, results, tolerance)

			path, err := evaluation.SaveToYAML(outputDir, spec)
			if err != nil {
				return err
			}
			printSummary(cmd, spec.Summary)
			absPath, _ := filepath.Abs(path)
			fmt.Fprintf(cmd.OutOrStdout(), "\nEvaluation results saved to: %s\n", absPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&datasetPath, "dataset", "labels.jsonl", "Path to a JSONL or Parquet dataset")
	cmd.Flags().StringVar(&outputDir, "output", "evals", "Directory for YAML results")
	cmd.Flags().IntVar(&sampleSize, "sample", 0, "Number of records to evaluate (0 for all)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Detection requests in flight")
	cmd.Flags().Float64Var(&tolerance, "tolerance", evaluation.DefaultTolerance, "Worst-corner error, in 0-1000 units, that still counts as correct")
	flags.register(cmd)

	return cmd
}

func printSummary(cmd *cobra.Command, s evaluation.Summary) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\nRecords:          %d (%d ok, %d failed)\n", s.TotalRecords, s.SuccessCount, s.FailureCount)
	fmt.Fprintf(w, "Mean corner error: %.2f\n", s.MeanCornerError)
	fmt.Fprintf(w, "Median error:      %.2f\n", s.MedianError)
	fmt.Fprintf(w, "Max corner error:  %.2f\n", s.MaxCornerError)
	fmt.Fprintf(w, "Within %.0f units:  %d (%.1f%%)\n", s.Tolerance, s.WithinTolerance, s.Accuracy*100)
	fmt.Fprintf(w, "Average time:      %s\n", s.AverageTime)
}
