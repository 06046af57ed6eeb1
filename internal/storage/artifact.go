package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"
)

// ArtifactReader opens an artifact named by a workflow engine output. Locations
// may be http(s) URLs, file:// URLs or plain filesystem paths.
type ArtifactReader struct {
	http *HTTPContentReader
}

// NewArtifactReader creates an artifact reader whose HTTP downloads time out after timeout
func NewArtifactReader(timeout time.Duration) *ArtifactReader {
	return &ArtifactReader{
		http: NewHTTPContentReader(timeout),
	}
}

// GetReader opens the artifact at location
func (a *ArtifactReader) GetReader(ctx context.Context, location string) (io.ReadCloser, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("%w: empty artifact location", ErrInvalidKey)
	}

	u, err := url.Parse(location)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			return a.http.GetReader(ctx, location)
		case "file":
			location = u.Path
		}
	}

	f, err := os.Open(location)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	return f, nil
}

// Exists checks whether the artifact at location can be opened
func (a *ArtifactReader) Exists(ctx context.Context, location string) (bool, error) {
	if u, err := url.Parse(location); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return a.http.Exists(ctx, location)
	}
	r, err := a.GetReader(ctx, location)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	r.Close()
	return true, nil
}

var _ Reader = (*ArtifactReader)(nil)
var _ Reader = (*FilesystemStorage)(nil)
