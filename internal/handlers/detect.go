package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tendant/product-detect-pipeline/internal/storage"
	"github.com/tendant/product-detect-pipeline/internal/workflows"
	"github.com/tendant/product-detect-pipeline/pkg/pipeline"
)

// DetectHandler handles synchronous detection requests
type DetectHandler struct {
	fs       *storage.FilesystemStorage
	workflow workflows.Workflow
	maxBytes int64
	logger   *zap.Logger
}

// NewDetectHandler creates a new detect handler
func NewDetectHandler(fs *storage.FilesystemStorage, workflow workflows.Workflow, maxBytes int64, logger *zap.Logger) *DetectHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetectHandler{
		fs:       fs,
		workflow: workflow,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// HandleDetect handles POST /api/detect
func (h *DetectHandler) HandleDetect(w http.ResponseWriter, r *http.Request) {
	defer cleanupForm(r)

	file, header, err := readImage(w, r, h.maxBytes)
	if err != nil {
		if !writeUploadError(w, err) {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	defer file.Close()

	jobID := uuid.NewString()
	log := h.logger.With(zap.String("job_id", jobID))

	job, err := h.fs.NewJob(jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	upload, err := job.SaveUpload(header.Filename, file)
	if err != nil {
		log.Error("Failed to save upload", zap.Error(err))
		if rerr := job.Release(); rerr != nil {
			log.Warn("Failed to release upload", zap.Error(rerr))
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info("Upload saved", zap.String("filename", header.Filename), zap.Int64("bytes", upload.Size))

	result, err := h.workflow.Execute(&workflows.WorkflowContext{
		Ctx:       r.Context(),
		RunID:     jobID,
		Job:       job,
		ImagePath: upload.Path,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, workflows.ErrNoImage) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, pipeline.DetectResponse{
		ProcessedImage:   result.ProcessedImage(),
		DetectedProducts: result.Products(),
	})
}
