package workflows

import (
	"context"

	"github.com/tendant/product-detect-pipeline/internal/detector"
	"github.com/tendant/product-detect-pipeline/internal/storage"
	"github.com/tendant/product-detect-pipeline/pkg/pipeline"
)

// Output keys set on a successful WorkflowResult
const (
	OutputProcessedImage = "processed_image"
	OutputProducts       = "detected_products"
	OutputResultsPath    = pipeline.OutputKeyResults
)

// WorkflowContext contains context for one detection run
type WorkflowContext struct {
	Ctx   context.Context
	RunID string

	// Job owns every transient file of the run. The workflow releases it.
	Job *storage.Job

	// ImagePath is the saved upload to process
	ImagePath string
}

// WorkflowResult contains the result of workflow execution
type WorkflowResult struct {
	Success bool
	Error   error
	Outputs map[string]interface{}
}

// Products returns the product list of a successful result
func (r *WorkflowResult) Products() pipeline.ProductList {
	if r == nil {
		return pipeline.ProductList{}
	}
	list, ok := r.Outputs[OutputProducts].(pipeline.ProductList)
	if !ok {
		return pipeline.ProductList{}
	}
	return list
}

// ProcessedImage returns the annotated image data URI of a successful result
func (r *WorkflowResult) ProcessedImage() string {
	if r == nil {
		return ""
	}
	uri, _ := r.Outputs[OutputProcessedImage].(string)
	return uri
}

// ResultsPath returns the persisted artifact path of a successful result
func (r *WorkflowResult) ResultsPath() string {
	if r == nil {
		return ""
	}
	path, _ := r.Outputs[OutputResultsPath].(string)
	return path
}

// Workflow defines the interface for processing workflows
type Workflow interface {
	// Execute runs the workflow
	Execute(wctx *WorkflowContext) (*WorkflowResult, error)

	// Name returns the workflow name
	Name() string
}

// Detector locates product regions in an image and writes the crops and the
// annotated image under outDir.
type Detector interface {
	Detect(ctx context.Context, imagePath, outDir string) (*detector.Detection, error)
}

// Recognizer turns one batch of crop files into raw candidate names. It
// absorbs its own failures and returns an empty list instead.
type Recognizer interface {
	RecognizeBatch(ctx context.Context, paths []string) []string
}

// ResultWriter persists a product list keyed by job id
type ResultWriter interface {
	Save(ctx context.Context, jobID string, products pipeline.ProductList) (string, error)
}
