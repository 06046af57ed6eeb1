package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tendant/product-detect-pipeline/pkg/pipeline"
)

// WorkflowBridge triggers and polls external workflow executions
type WorkflowBridge interface {
	Trigger(ctx context.Context, filename string, r io.Reader) (*pipeline.TriggerResponse, error)
	Poll(ctx context.Context, executionID string) (map[string]any, error)
}

// AsyncHandler handles asynchronous workflow requests
type AsyncHandler struct {
	bridge   WorkflowBridge
	maxBytes int64
	logger   *zap.Logger
}

// NewAsyncHandler creates a new async handler
func NewAsyncHandler(bridge WorkflowBridge, maxBytes int64, logger *zap.Logger) *AsyncHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncHandler{
		bridge:   bridge,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// HandleTrigger handles POST /trigger_workflow - saves the image and starts an execution
func (h *AsyncHandler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	defer cleanupForm(r)

	file, header, err := readImage(w, r, h.maxBytes)
	if err != nil {
		if !writeUploadError(w, err) {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	defer file.Close()

	resp, err := h.bridge.Trigger(r.Context(), header.Filename, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info("Workflow execution started",
		zap.String("execution_id", resp.ExecutionID),
		zap.String("status", resp.Status))
	writeJSON(w, http.StatusOK, resp)
}

// HandleStatus handles GET /workflow_status/{execution_id} - returns the engine status
func (h *AsyncHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "execution_id")
	if executionID == "" {
		writeError(w, http.StatusBadRequest, "execution_id is required")
		return
	}

	status, err := h.bridge.Poll(r.Context(), executionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, status)
}
