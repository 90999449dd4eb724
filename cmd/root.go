package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/flattener/internal/detection"
)

func NewRootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "flattener",
		Short: "Flatten photographed documents with model-detected corners",
		Long: `Flattener finds the four corners of a photographed document with a
vision-capable LLM, lets you correct them, and rectifies the page into a flat,
front-facing image.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
			return setupLogging(logLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDetectCmd())
	cmd.AddCommand(newRectifyCmd())
	cmd.AddCommand(newEvalCmd())

	return cmd
}

func setupLogging(level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
	return nil
}

// detectionFlags binds the provider overrides shared by detect, rectify,
// serve and eval. Unset flags leave the environment configuration alone.
type detectionFlags struct {
	provider string
	model    string
	maxDim   int
}

func (f *detectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.provider, "provider", "", "Detection provider: openai, ollama, gemini or http (default from DETECTION_PROVIDER)")
	cmd.Flags().StringVar(&f.model, "model", "", "Vision model (default per provider)")
	cmd.Flags().IntVar(&f.maxDim, "max-dim", 0, "Longest side sent to the detector (default 1280)")
}

func (f *detectionFlags) config() detection.Config {
	cfg := detection.ConfigFromEnv()
	if f.provider != "" {
		cfg.Provider = f.provider
	}
	if f.model != "" {
		cfg.Model = f.model
	}
	if f.maxDim > 0 {
		cfg.MaxDim = f.maxDim
	}
	return cfg.WithDefaults()
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
