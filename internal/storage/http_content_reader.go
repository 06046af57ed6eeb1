package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPContentReader reads artifacts addressed by absolute http(s) URLs
type HTTPContentReader struct {
	httpClient *http.Client
}

// NewHTTPContentReader creates a new HTTP-based artifact reader
func NewHTTPContentReader(timeout time.Duration) *HTTPContentReader {
	return &HTTPContentReader{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetReader downloads the artifact at url
func (cr *HTTPContentReader) GetReader(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := cr.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download artifact: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	return resp.Body, nil
}

// Exists checks if the artifact at url is reachable
func (cr *HTTPContentReader) Exists(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := cr.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to check artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return true, nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}

	return false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
}
