package dbosruntime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"go.uber.org/zap"

	"github.com/tendant/product-detect-pipeline/internal/bridge"
	"github.com/tendant/product-detect-pipeline/pkg/pipeline"
)

// StateEnqueued is the state DBOS reports for queued, not yet started workflows
const StateEnqueued = "ENQUEUED"

// ErrWorkflowNotFound is returned when no workflow has the requested id
var ErrWorkflowNotFound = errors.New("workflow not found")

// Name returns the engine name
func (r *Runtime) Name() string {
	return "dbos"
}

// Trigger enqueues a detection workflow. The job id doubles as the workflow
// id, so a retried trigger for the same job does not run twice.
func (r *Runtime) Trigger(ctx context.Context, sub bridge.Submission) (*bridge.Execution, error) {
	handle, err := dbos.RunWorkflow[DetectionInput, DetectionOutput](
		r.dbosContext,
		r.detectionWorkflow,
		DetectionInput{JobID: sub.JobID, ImagePath: sub.ImagePath},
		dbos.WithWorkflowID(sub.JobID),
		dbos.WithQueue(r.config.QueueName),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue workflow: %w", err)
	}

	id := handle.GetWorkflowID()
	return &bridge.Execution{
		ID:    id,
		State: StateEnqueued,
		URL:   StatusURL(r.config.StatusURL, id),
	}, nil
}

// WorkflowStatusInfo represents the status row of a workflow
type WorkflowStatusInfo struct {
	WorkflowUUID string
	Status       string
	Name         string
	Error        sql.NullString
	CreatedAt    int64
	UpdatedAt    int64
}

// GetWorkflowStatus retrieves the status of a workflow from the DBOS status table
func (r *Runtime) GetWorkflowStatus(ctx context.Context, workflowUUID string) (*WorkflowStatusInfo, error) {
	query := `
		SELECT workflow_uuid, status, name, "error", created_at, updated_at
		FROM dbos.workflow_status
		WHERE workflow_uuid = $1
	`

	var info WorkflowStatusInfo
	err := r.db.QueryRowContext(ctx, query, workflowUUID).Scan(
		&info.WorkflowUUID,
		&info.Status,
		&info.Name,
		&info.Error,
		&info.CreatedAt,
		&info.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowUUID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow status: %w", err)
	}

	return &info, nil
}

// Status returns the workflow status shaped like the other engines report it
func (r *Runtime) Status(ctx context.Context, executionID string) (map[string]any, error) {
	info, err := r.GetWorkflowStatus(ctx, executionID)
	if err != nil {
		return nil, err
	}
	status := StatusObject(info, r.results)
	r.logger.Debug("DBOS workflow status",
		zap.String("workflow_id", executionID),
		zap.String("state", info.Status))
	return status, nil
}

// StatusObject converts a status row into the bridge's status map. Successful
// workflows name their results artifact under outputs.
func StatusObject(info *WorkflowStatusInfo, results ResultsLocator) map[string]any {
	status := map[string]any{
		"id":      info.WorkflowUUID,
		"state":   info.Status,
		"flowId":  info.Name,
		"created": info.CreatedAt,
		"updated": info.UpdatedAt,
	}
	if info.Error.Valid && info.Error.String != "" {
		status["error"] = info.Error.String
	}
	if info.Status == pipeline.StateSuccess && results != nil {
		status["outputs"] = map[string]any{
			pipeline.OutputKeyResults: results(info.WorkflowUUID),
		}
	}
	return status
}

// StatusURL returns the status link of a workflow under base
func StatusURL(base, workflowID string) string {
	return strings.TrimRight(base, "/") + "/workflow_status/" + url.PathEscape(workflowID)
}

var _ bridge.Engine = (*Runtime)(nil)
