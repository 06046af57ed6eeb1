package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FilesystemStorage lays out per-job upload, scratch and result directories
// under two roots. Every path it hands out is namespaced by a job id.
type FilesystemStorage struct {
	uploadDir  string
	resultsDir string
}

// NewFilesystemStorage creates the upload and results roots if needed
func NewFilesystemStorage(uploadDir, resultsDir string) (*FilesystemStorage, error) {
	for _, dir := range []string{uploadDir, resultsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create base directory %s: %w", dir, err)
		}
	}

	return &FilesystemStorage{
		uploadDir:  uploadDir,
		resultsDir: resultsDir,
	}, nil
}

// ResultsDir returns the results root
func (fs *FilesystemStorage) ResultsDir() string {
	return fs.resultsDir
}

// NewJob computes the paths for one job. Directories are created on first use.
// jobID must be a UUID.
func (fs *FilesystemStorage) NewJob(jobID string) (*Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, fmt.Errorf("%w: job id %q", ErrInvalidKey, jobID)
	}

	return &Job{
		ID:         jobID,
		UploadDir:  filepath.Join(fs.uploadDir, jobID),
		ResultDir:  filepath.Join(fs.resultsDir, jobID),
		ScratchDir: filepath.Join(fs.resultsDir, jobID, "work"),
	}, nil
}

// GetReader returns a reader for the file at key, relative to the results root
func (fs *FilesystemStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s: %w", key, err)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Exists checks if a file exists at key, relative to the results root
func (fs *FilesystemStorage) Exists(ctx context.Context, key string) (bool, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}

	return true, nil
}

// resolve joins key onto the results root and rejects directory traversal
func (fs *FilesystemStorage) resolve(key string) (string, error) {
	path := filepath.Join(fs.resultsDir, key)
	rel, err := filepath.Rel(filepath.Clean(fs.resultsDir), filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path traversal detected", ErrInvalidKey)
	}
	return path, nil
}
