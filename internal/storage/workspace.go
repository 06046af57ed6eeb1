package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Upload describes a saved upload
type Upload struct {
	Path   string
	Size   int64
	SHA256 string
}

// Job owns the transient artifacts of one request. Everything created through
// SaveUpload, Scratch or Track is deleted by Release.
type Job struct {
	ID         string
	UploadDir  string
	ResultDir  string
	ScratchDir string

	mu       sync.Mutex
	tracked  []string
	released bool
}

// SaveUpload writes r into the job's upload directory under a sanitized
// version of filename and tracks it for release.
func (j *Job) SaveUpload(filename string, r io.Reader) (*Upload, error) {
	if err := os.MkdirAll(j.UploadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	j.Track(j.UploadDir)

	path := filepath.Join(j.UploadDir, SanitizeFilename(filename))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, hasher), r)
	if err != nil {
		return nil, fmt.Errorf("failed to write upload file: %w", err)
	}

	return &Upload{
		Path:   path,
		Size:   n,
		SHA256: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Scratch creates the job's scratch directory for derived files
// (crops, annotated image) and tracks it for release.
func (j *Job) Scratch() (string, error) {
	if err := os.MkdirAll(j.ScratchDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	j.Track(j.ScratchDir)
	return j.ScratchDir, nil
}

// Track registers additional paths to delete on Release
func (j *Job) Track(paths ...string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.tracked = append(j.tracked, paths...)
}

// Release deletes every tracked path. Missing paths are ignored and later
// calls are no-ops, so it is safe to defer on every exit path.
func (j *Job) Release() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.released {
		return nil
	}
	j.released = true

	var errs []error
	// reverse order: files tracked after their directory go first
	for i := len(j.tracked) - 1; i >= 0; i-- {
		if err := os.RemoveAll(j.tracked[i]); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", j.tracked[i], err))
		}
	}
	j.tracked = nil

	// drop the per-job results directory if nothing was persisted into it
	_ = os.Remove(j.ResultDir)

	return errors.Join(errs...)
}

// Released reports whether Release has run
func (j *Job) Released() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.released
}

// SanitizeFilename reduces name to a safe base name
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "upload"
	}
	return name
}
