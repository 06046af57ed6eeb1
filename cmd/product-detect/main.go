package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	logLevel  string
	logFormat string
	serverURL string
	timeout   time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "product-detect",
	Short: "Retail shelf product detection pipeline",
	Long: `product-detect finds product regions in shelf photos, recognizes each
crop with a vision model and returns a deduplicated product list.

Run "product-detect serve" to start the HTTP API. The detect, trigger and
status commands talk to a running server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = newLogger(logLevel, logFormat)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// newLogger builds a zap logger. format is "json" or "console".
func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	config := zap.NewProductionConfig()
	if strings.EqualFold(format, "console") {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	return config.Build()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", envOr("LOG_FORMAT", "json"), "log format (json, console)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("PRODUCT_DETECT_URL", "http://localhost:5000"), "API server for client commands")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "client request timeout")

	rootCmd.AddCommand(serveCmd, detectCmd, triggerCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
