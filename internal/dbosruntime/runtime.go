// Package dbosruntime runs detection jobs as durable DBOS workflows and
// exposes them through the workflow bridge.
package dbosruntime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// DetectFunc runs one saved upload through detection and returns the
// location of the persisted results.
type DetectFunc func(ctx context.Context, jobID, imagePath string) (string, error)

// ResultsLocator maps a job id to the location of its results artifact
type ResultsLocator func(jobID string) string

// Runtime manages the DBOS runtime lifecycle
type Runtime struct {
	dbosContext dbos.DBOSContext
	queue       dbos.WorkflowQueue
	config      Config
	db          *sql.DB
	detect      DetectFunc
	results     ResultsLocator
	logger      *zap.Logger
}

// NewRuntime creates the DBOS context, registers the detection workflow and
// its queue. Call Launch before triggering.
func NewRuntime(ctx context.Context, cfg Config, detect DetectFunc, results ResultsLocator, logger *zap.Logger) (*Runtime, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DBOS_SYSTEM_DATABASE_URL is required")
	}
	if detect == nil || results == nil {
		return nil, errors.New("detect and results locator are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.WithDefaults()

	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		DatabaseURL:        cfg.DatabaseURL,
		AppName:            cfg.AppName,
		ApplicationVersion: cfg.ApplicationVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DBOS context: %w", err)
	}

	// status queries go straight to the system tables
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open DBOS database: %w", err)
	}

	r := &Runtime{
		dbosContext: dbosCtx,
		queue:       dbos.NewWorkflowQueue(dbosCtx, cfg.QueueName),
		config:      cfg,
		db:          db,
		detect:      detect,
		results:     results,
		logger:      logger,
	}
	dbos.RegisterWorkflow(dbosCtx, r.detectionWorkflow)

	return r, nil
}

// Launch starts the DBOS runtime and queue workers
func (r *Runtime) Launch() error {
	if err := dbos.Launch(r.dbosContext); err != nil {
		return fmt.Errorf("failed to launch DBOS: %w", err)
	}
	r.logger.Info("DBOS runtime launched",
		zap.String("app", r.config.AppName),
		zap.String("queue", r.config.QueueName))
	return nil
}

// Shutdown gracefully shuts down the DBOS runtime
func (r *Runtime) Shutdown(timeout time.Duration) error {
	dbos.Shutdown(r.dbosContext, timeout)
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// QueueName returns the configured queue name
func (r *Runtime) QueueName() string {
	return r.config.QueueName
}

// DetectionInput is the durable input of a detection workflow
type DetectionInput struct {
	JobID     string `json:"job_id"`
	ImagePath string `json:"image_path"`
}

// DetectionOutput is the durable output of a detection workflow
type DetectionOutput struct {
	ResultsPath string `json:"recognition_result"`
}

// detectionWorkflow is the DBOS workflow function
func (r *Runtime) detectionWorkflow(dbosCtx dbos.DBOSContext, in DetectionInput) (DetectionOutput, error) {
	workflowID, err := dbosCtx.GetWorkflowID()
	if err != nil {
		return DetectionOutput{}, err
	}
	r.logger.Info("Running detection workflow",
		zap.String("workflow_id", workflowID),
		zap.String("job_id", in.JobID))

	// DBOSContext implements context.Context
	path, err := r.detect(dbosCtx, in.JobID, in.ImagePath)
	if err != nil {
		return DetectionOutput{}, err
	}
	return DetectionOutput{ResultsPath: path}, nil
}
