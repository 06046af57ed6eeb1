// Package bridge hands images to an external workflow engine and reconciles
// the engine's polled status with the results artifact it produces.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tendant/product-detect-pipeline/internal/metrics"
	"github.com/tendant/product-detect-pipeline/internal/storage"
	"github.com/tendant/product-detect-pipeline/pkg/pipeline"
)

var (
	// ErrTriggerFailed is returned when the engine rejects or cannot receive a trigger
	ErrTriggerFailed = errors.New("failed to trigger workflow")

	// ErrStatusFailed is returned when the engine status cannot be fetched
	ErrStatusFailed = errors.New("failed to get workflow status")
)

// TriggerMessage is the message of a successful trigger response
const TriggerMessage = "Workflow triggered successfully"

// Submission is what the bridge hands to an engine
type Submission struct {
	JobID     string
	ImagePath string

	// Inputs are extra engine inputs such as credentials. Never logged.
	Inputs map[string]string
}

// Execution is an engine's answer to a trigger
type Execution struct {
	ID    string
	State string
	URL   string
}

// Engine is an external long-running workflow engine
type Engine interface {
	Trigger(ctx context.Context, sub Submission) (*Execution, error)

	// Status returns the engine's status object for an execution verbatim
	Status(ctx context.Context, executionID string) (map[string]any, error)

	Name() string
}

// Ledger records trigger submissions keyed by content hash
type Ledger interface {
	Record(ctx context.Context, contentHash string, pipeline string, pipelineVersion int) (int, error)
}

// Bridge triggers and polls workflow executions
type Bridge struct {
	fs        *storage.FilesystemStorage
	engine    Engine
	artifacts storage.Reader
	ledger    Ledger
	inputs    map[string]string
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// Option configures a Bridge
type Option func(*Bridge)

// WithLedger records every trigger in l
func WithLedger(l Ledger) Option {
	return func(b *Bridge) { b.ledger = l }
}

// WithInputs adds fixed inputs to every submission
func WithInputs(inputs map[string]string) Option {
	return func(b *Bridge) { b.inputs = inputs }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// New creates a bridge. artifacts reads the results location named in the
// engine outputs.
func New(fs *storage.FilesystemStorage, engine Engine, artifacts storage.Reader, opts ...Option) *Bridge {
	b := &Bridge{
		fs:        fs,
		engine:    engine,
		artifacts: artifacts,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Trigger saves the upload under a fresh job id and submits it to the
// engine. The upload is removed when the submission fails.
func (b *Bridge) Trigger(ctx context.Context, filename string, r io.Reader) (*pipeline.TriggerResponse, error) {
	jobID := uuid.NewString()
	log := b.logger.With(zap.String("job_id", jobID), zap.String("engine", b.engine.Name()))

	job, err := b.fs.NewJob(jobID)
	if err != nil {
		b.metrics.ObserveTrigger(metrics.OutcomeFailure)
		return nil, fmt.Errorf("%w: %w", ErrTriggerFailed, err)
	}

	upload, err := job.SaveUpload(filename, r)
	if err != nil {
		b.release(log, job)
		b.metrics.ObserveTrigger(metrics.OutcomeFailure)
		return nil, fmt.Errorf("%w: %w", ErrTriggerFailed, err)
	}

	imagePath, err := filepath.Abs(upload.Path)
	if err != nil {
		imagePath = upload.Path
	}

	sub := Submission{
		JobID:     jobID,
		ImagePath: imagePath,
		Inputs:    b.inputs,
	}
	exec, err := b.engine.Trigger(ctx, sub)
	if err != nil {
		log.Error("Workflow trigger failed", zap.Error(err))
		b.release(log, job)
		b.metrics.ObserveTrigger(metrics.OutcomeFailure)
		return nil, fmt.Errorf("%w: %w", ErrTriggerFailed, err)
	}

	log.Info("Workflow triggered",
		zap.String("execution_id", exec.ID),
		zap.String("state", exec.State),
		zap.Int64("bytes", upload.Size))
	b.metrics.ObserveTrigger(metrics.OutcomeSuccess)

	resp := &pipeline.TriggerResponse{
		Message:     TriggerMessage,
		ExecutionID: exec.ID,
		Status:      exec.State,
		WorkflowURL: exec.URL,
	}

	if b.ledger != nil {
		seen, err := b.ledger.Record(ctx, upload.SHA256, b.engine.Name(), 1)
		if err != nil {
			log.Warn("Failed to record submission", zap.Error(err))
		} else {
			resp.DedupeSeenCount = seen
		}
	}

	return resp, nil
}

// Poll returns the engine status of an execution. On SUCCESS the results
// artifact named by the outputs is merged under "results" when readable.
func (b *Bridge) Poll(ctx context.Context, executionID string) (map[string]any, error) {
	log := b.logger.With(zap.String("execution_id", executionID), zap.String("engine", b.engine.Name()))

	status, err := b.engine.Status(ctx, executionID)
	if err != nil {
		log.Error("Workflow status failed", zap.Error(err))
		b.metrics.ObservePoll(metrics.OutcomeFailure)
		return nil, fmt.Errorf("%w: %w", ErrStatusFailed, err)
	}
	if status == nil {
		status = map[string]any{}
	}
	b.metrics.ObservePoll(metrics.OutcomeSuccess)

	state := State(status)
	log.Debug("Workflow status polled", zap.String("state", state))
	if state != pipeline.StateSuccess {
		return status, nil
	}

	location := OutputString(status, pipeline.OutputKeyResults)
	if location == "" {
		log.Warn("Successful execution has no results location")
		return status, nil
	}

	results, err := b.readResults(ctx, location)
	if err != nil {
		log.Warn("Failed to load workflow results", zap.String("location", location), zap.Error(err))
		return status, nil
	}
	status[pipeline.StatusKeyResults] = results
	return status, nil
}

func (b *Bridge) readResults(ctx context.Context, location string) (any, error) {
	rc, err := b.artifacts.GetReader(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var doc any
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return doc, nil
}

func (b *Bridge) release(log *zap.Logger, job *storage.Job) {
	if err := job.Release(); err != nil {
		log.Warn("Failed to release upload", zap.Error(err))
	}
}

// State extracts the execution state from an engine status object. Both
// "state": "SUCCESS" and "state": {"current": "SUCCESS"} are understood.
func State(status map[string]any) string {
	return pipeline.WorkflowStatus(status).State()
}

// OutputString returns outputs[key] of an engine status object when it is a string
func OutputString(status map[string]any, key string) string {
	outputs, ok := status["outputs"].(map[string]any)
	if !ok {
		return ""
	}
	v, _ := outputs[key].(string)
	return v
}
