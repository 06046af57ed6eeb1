package runner

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tendant/product-detect-pipeline/internal/bridge"
	"github.com/tendant/product-detect-pipeline/internal/config"
	"github.com/tendant/product-detect-pipeline/internal/dedupe"
	"github.com/tendant/product-detect-pipeline/internal/detector"
	"github.com/tendant/product-detect-pipeline/internal/handlers"
	"github.com/tendant/product-detect-pipeline/internal/metrics"
	"github.com/tendant/product-detect-pipeline/internal/recognition"
	"github.com/tendant/product-detect-pipeline/internal/storage"
	"github.com/tendant/product-detect-pipeline/internal/workflows"
)

const shutdownTimeout = 10 * time.Second

// Runner wires the detection pipeline and its HTTP API from a Config
type Runner struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	workflow *workflows.DetectionWorkflow
	detector *detector.HTTPDetector
	bridge   *bridge.Bridge
	engine   *workflowEngine
	ledger   *dedupe.Tracker
	handler  http.Handler
}

// New validates cfg and builds every component. Call Start before serving.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := metrics.New()

	// Step 1: storage
	fs, err := storage.NewFilesystemStorage(cfg.Storage.UploadDir, cfg.Storage.ResultsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	results := storage.NewResultStore(fs, cfg.Storage.ResultsXLSX, logger.Named("results"))

	// Step 2: detection and recognition
	det := detector.NewHTTPDetector(detector.Config{
		URL:           cfg.Detector.URL,
		MinConfidence: float32(cfg.Detector.MinConfidence),
		Timeout:       cfg.Detector.Timeout,
	}, logger.Named("detector"))

	engine, err := newRecognitionEngine(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize recognition engine: %w", err)
	}
	recognizer, err := recognition.NewClient(engine, recognition.Config{
		Timeout:      cfg.Recognition.BatchTimeout,
		MaxDimension: cfg.Recognition.CropMaxDimension,
	}, logger.Named("recognition"), m)
	if err != nil {
		return nil, err
	}

	wf, err := workflows.NewDetectionWorkflow(det, recognizer, results, nil,
		cfg.Recognition.BatchSize, logger.Named("workflow"), m)
	if err != nil {
		return nil, err
	}

	// Step 3: workflow engine and bridge
	we, err := newWorkflowEngine(ctx, cfg, fs, results, wf, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize workflow engine: %w", err)
	}

	opts := []bridge.Option{
		bridge.WithInputs(we.inputs),
		bridge.WithLogger(logger.Named("bridge")),
		bridge.WithMetrics(m),
	}

	var ledger *dedupe.Tracker
	if cfg.Dedupe.DatabaseURL != "" {
		ledger, err = dedupe.Open(ctx, cfg.Dedupe.DatabaseURL, logger.Named("dedupe"))
		if err != nil {
			we.shutdown()
			return nil, fmt.Errorf("failed to initialize dedupe tracker: %w", err)
		}
		opts = append(opts, bridge.WithLedger(ledger))
	}

	br := bridge.New(fs, we, storage.NewArtifactReader(cfg.Workflow.Timeout), opts...)

	// Step 4: HTTP API
	handler := handlers.NewRouter(handlers.Routes{
		Detect:  handlers.NewDetectHandler(fs, wf, cfg.MaxUploadBytes(), logger.Named("detect")),
		Async:   handlers.NewAsyncHandler(br, cfg.MaxUploadBytes(), logger.Named("async")),
		Metrics: m.Handler(),
		Logger:  logger.Named("http"),
	})

	logger.Info("Pipeline initialized",
		zap.String("recognition", engine.Name()),
		zap.String("workflow_engine", we.Name()),
		zap.Int("batch_size", cfg.Recognition.BatchSize),
		zap.Bool("dedupe", ledger != nil))

	return &Runner{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		workflow: wf,
		detector: det,
		bridge:   br,
		engine:   we,
		ledger:   ledger,
		handler:  handler,
	}, nil
}

// Start launches background runtimes. It checks the detector once and only
// warns when it is unreachable.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.engine.launch(); err != nil {
		return err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.detector.Ping(pingCtx); err != nil {
		r.logger.Warn("Detector not reachable yet", zap.String("url", r.cfg.Detector.URL), zap.Error(err))
	}
	return nil
}

// Handler returns the HTTP API
func (r *Runner) Handler() http.Handler {
	return r.handler
}

// Bridge returns the workflow bridge
func (r *Runner) Bridge() *bridge.Bridge {
	return r.bridge
}

// Workflow returns the detection workflow
func (r *Runner) Workflow() *workflows.DetectionWorkflow {
	return r.workflow
}

// Shutdown releases the workflow engine and database handles
func (r *Runner) Shutdown() {
	r.engine.shutdown()
	if r.ledger != nil {
		if err := r.ledger.Close(); err != nil {
			r.logger.Warn("Failed to close dedupe tracker", zap.Error(err))
		}
	}
}
