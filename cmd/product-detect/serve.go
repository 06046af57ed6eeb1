package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tendant/product-detect-pipeline/internal/config"
	"github.com/tendant/product-detect-pipeline/pkg/runner"
)

var configFile string

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Starts the HTTP API:
  POST /api/detect                      synchronous detection
  POST /trigger_workflow                start a workflow execution
  GET  /workflow_status/{execution_id}  poll an execution

Configuration comes from defaults, then the optional YAML file, then the
environment.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configFile, "config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	// the YAML file may carry logging settings the flags did not override
	if !cmd.Flags().Changed("log-level") && !cmd.Flags().Changed("log-format") {
		l, err := newLogger(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := runner.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize pipeline", zap.Error(err))
		return err
	}
	defer r.Shutdown()

	if err := r.Start(ctx); err != nil {
		logger.Error("Failed to start pipeline", zap.Error(err))
		return err
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Product detection API starting", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("Server stopped")
	return nil
}
