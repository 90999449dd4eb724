package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/lehigh-university-libraries/flattener/internal/detection"
	"github.com/lehigh-university-libraries/flattener/internal/handlers"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port  string
		flags detectionFlags
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the document flattening API",
		Long: `Starts the Flattener HTTP API on the specified port.

Upload a photo to create a session; corners are detected with the configured
vision model and the page is rectified automatically. Corners can then be
dragged, re-rectified, compared against the original and confirmed.`,
		Example: `  # Start server on default port 8888
  flattener serve

  # Start server on custom port with a local Ollama model
  flattener serve --port 3000 --provider ollama`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := flags.config()
			detector, err := detection.New(cfg)
			if err != nil {
				return err
			}

			// Background work outlives requests but not the server.
			workCtx, cancelWork := context.WithCancel(cmd.Context())
			defer cancelWork()
			handler := handlers.New(workCtx, detector, cfg)

			addr := ":" + port
			server := &http.Server{
				Addr:              addr,
				Handler:           handler.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Flattener API available", "addr", addr, "url", "http://localhost"+addr, "provider", cfg.Provider, "model", cfg.Model)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				// Give server 5 seconds to shut down gracefully
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "8888", "Port to listen on")
	flags.register(cmd)

	return cmd
}
