package workflows

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/tendant/product-detect-pipeline/internal/metrics"
	"github.com/tendant/product-detect-pipeline/internal/products"
	"github.com/tendant/product-detect-pipeline/internal/storage"
)

// DetectionWorkflow detects products in one image: detection, batched
// recognition, aggregation, persistence and annotated image encoding.
type DetectionWorkflow struct {
	detector   Detector
	recognizer Recognizer
	results    ResultWriter
	normalizer *products.Normalizer
	batchSize  int
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewDetectionWorkflow creates a new detection workflow
func NewDetectionWorkflow(
	detector Detector,
	recognizer Recognizer,
	results ResultWriter,
	normalizer *products.Normalizer,
	batchSize int,
	logger *zap.Logger,
	m *metrics.Metrics,
) (*DetectionWorkflow, error) {
	if detector == nil || recognizer == nil || results == nil {
		return nil, fmt.Errorf("detector, recognizer and result writer are required")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if normalizer == nil {
		normalizer = products.DefaultNormalizer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DetectionWorkflow{
		detector:   detector,
		recognizer: recognizer,
		results:    results,
		normalizer: normalizer,
		batchSize:  batchSize,
		logger:     logger,
		metrics:    m,
	}, nil
}

// Name returns the workflow name
func (w *DetectionWorkflow) Name() string {
	return "DetectionWorkflow"
}

// Execute runs the detection workflow. The job is released before Execute
// returns, whatever the outcome.
func (w *DetectionWorkflow) Execute(wctx *WorkflowContext) (result *WorkflowResult, err error) {
	start := time.Now()
	log := w.logger.With(zap.String("job_id", wctx.RunID))
	log.Info("Starting detection workflow", zap.String("image", wctx.ImagePath))

	defer func() {
		if wctx.Job != nil {
			if rerr := wctx.Job.Release(); rerr != nil {
				log.Warn("Failed to release job files", zap.Error(rerr))
			} else {
				log.Debug("Job files released")
			}
		}

		if err != nil {
			w.metrics.ObserveDetect(metrics.OutcomeFailure, time.Since(start), 0)
			return
		}
		n := len(result.Products())
		outcome := metrics.OutcomeSuccess
		if n == 0 {
			outcome = metrics.OutcomeEmpty
		}
		w.metrics.ObserveDetect(outcome, time.Since(start), n)
	}()

	fail := func(step string, sentinel, cause error) (*WorkflowResult, error) {
		e := fmt.Errorf("%w: %w", sentinel, cause)
		log.Error("Detection workflow failed", zap.String("step", step), zap.Error(cause))
		return &WorkflowResult{Success: false, Error: e}, e
	}

	// Step 1: Validate the saved upload
	if wctx.Job == nil {
		return fail("validate", ErrNoImage, fmt.Errorf("no job workspace"))
	}
	if wctx.ImagePath == "" {
		return fail("validate", ErrNoImage, fmt.Errorf("empty image path"))
	}
	if _, statErr := os.Stat(wctx.ImagePath); statErr != nil {
		return fail("validate", ErrNoImage, statErr)
	}

	// Step 2: Detect product regions
	outDir, err := wctx.Job.Scratch()
	if err != nil {
		return fail("detect", ErrDetectionFailed, err)
	}

	det, err := w.detector.Detect(wctx.Ctx, wctx.ImagePath, outDir)
	if err != nil {
		return fail("detect", ErrDetectionFailed, err)
	}
	log.Info("Step 2: products detected", zap.Int("crops", len(det.CropPaths)))

	// Step 3: Recognize crops batch by batch
	batches := products.Partition(det.CropPaths, w.batchSize)
	candidates := make([][]string, 0, len(batches))
	for i, batch := range batches {
		if ctxErr := wctx.Ctx.Err(); ctxErr != nil {
			return fail("recognize", ctxErr, fmt.Errorf("stopped before batch %d", i+1))
		}
		log.Info("Step 3: recognizing batch",
			zap.Int("batch", i+1),
			zap.Int("batches", len(batches)),
			zap.Int("size", len(batch)))
		candidates = append(candidates, w.recognizer.RecognizeBatch(wctx.Ctx, batch))
	}

	// Step 4: Normalize, dedupe and sort
	list := products.Aggregate(w.normalizer, candidates)
	log.Info("Step 4: products aggregated", zap.Int("products", len(list)))

	// Step 5: Persist
	resultsPath, err := w.results.Save(wctx.Ctx, wctx.RunID, list)
	if err != nil {
		return fail("persist", ErrPersistFailed, err)
	}
	log.Info("Step 5: results persisted", zap.String("path", resultsPath))

	// Step 6: Encode annotated image
	dataURI, err := EncodeDataURI(det.AnnotatedPath)
	if err != nil {
		return fail("encode", ErrEncodeFailed, err)
	}

	log.Info("Detection workflow completed successfully",
		zap.Int("products", len(list)),
		zap.Duration("elapsed", time.Since(start)))

	return &WorkflowResult{
		Success: true,
		Outputs: map[string]interface{}{
			OutputProcessedImage: dataURI,
			OutputProducts:       list,
			OutputResultsPath:    resultsPath,
		},
	}, nil
}

// RunUpload runs the workflow on an image saved earlier under jobID, as the
// workflow bridge does on trigger, and returns the persisted results path.
// The job's upload directory is released with the rest of its files.
func (w *DetectionWorkflow) RunUpload(ctx context.Context, fs *storage.FilesystemStorage, jobID, imagePath string) (string, error) {
	job, err := fs.NewJob(jobID)
	if err != nil {
		return "", err
	}
	job.Track(job.UploadDir)

	result, err := w.Execute(&WorkflowContext{
		Ctx:       ctx,
		RunID:     jobID,
		Job:       job,
		ImagePath: imagePath,
	})
	if err != nil {
		return "", err
	}
	return result.ResultsPath(), nil
}

// EncodeDataURI reads a JPEG file and returns it as a base64 data URI
func EncodeDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read annotated image: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), nil
}

var _ Workflow = (*DetectionWorkflow)(nil)
