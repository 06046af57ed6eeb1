package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tendant/product-detect-pipeline/pkg/pipeline"
)

// ResultStore persists product lists as <results>/<job>/<job>_results.json
type ResultStore struct {
	fs         *FilesystemStorage
	exportXLSX bool
	logger     *zap.Logger
}

// NewResultStore creates a result store. When exportXLSX is set a
// spreadsheet copy is written next to every JSON artifact.
func NewResultStore(fs *FilesystemStorage, exportXLSX bool, logger *zap.Logger) *ResultStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultStore{
		fs:         fs,
		exportXLSX: exportXLSX,
		logger:     logger,
	}
}

// Key returns the results key of a job relative to the results root
func (s *ResultStore) Key(jobID string) string {
	return filepath.Join(jobID, jobID+"_results.json")
}

// Path returns the absolute-or-relative filesystem path of a job's results
func (s *ResultStore) Path(jobID string) string {
	return filepath.Join(s.fs.ResultsDir(), s.Key(jobID))
}

// Save writes the product list for jobID, replacing any earlier artifact
func (s *ResultStore) Save(ctx context.Context, jobID string, products pipeline.ProductList) (string, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return "", fmt.Errorf("%w: job id %q", ErrInvalidKey, jobID)
	}
	if products == nil {
		products = pipeline.ProductList{}
	}

	data, err := json.Marshal(pipeline.ResultsDocument{Products: products})
	if err != nil {
		return "", fmt.Errorf("failed to encode results: %w", err)
	}

	path := s.Path(jobID)
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}

	if s.exportXLSX {
		xlsxPath := path[:len(path)-len(".json")] + ".xlsx"
		if err := WriteProductsXLSX(xlsxPath, products); err != nil {
			// the JSON artifact is the contract; the spreadsheet is a convenience
			s.logger.Warn("Failed to write results spreadsheet",
				zap.String("job_id", jobID), zap.Error(err))
		}
	}

	return path, nil
}

// Load reads back the product list persisted for jobID
func (s *ResultStore) Load(ctx context.Context, jobID string) (pipeline.ProductList, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, fmt.Errorf("%w: job id %q", ErrInvalidKey, jobID)
	}

	r, err := s.fs.GetReader(ctx, s.Key(jobID))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var doc pipeline.ResultsDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	if doc.Products == nil {
		doc.Products = pipeline.ProductList{}
	}
	return doc.Products, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".results-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write results: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close results: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move results into place: %w", err)
	}
	return nil
}
