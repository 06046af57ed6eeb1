package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tendant/product-detect-pipeline/pkg/pipeline"
)

// ErrNotFinished is returned by Wait when the context ends before the
// execution reaches a terminal state
var ErrNotFinished = errors.New("workflow did not finish")

// Client is an HTTP client for the product detection API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new pipeline client
func New(baseURL string) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{
		Timeout: 5 * time.Minute,
	})
}

// NewWithHTTPClient creates a new pipeline client with a custom HTTP client
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Detect uploads an image and waits for the synchronous detection result
func (c *Client) Detect(ctx context.Context, filename string, image io.Reader) (*pipeline.DetectResponse, error) {
	var out pipeline.DetectResponse
	if err := c.upload(ctx, "/api/detect", filename, image, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TriggerWorkflow uploads an image and starts an asynchronous execution
func (c *Client) TriggerWorkflow(ctx context.Context, filename string, image io.Reader) (*pipeline.TriggerResponse, error) {
	var out pipeline.TriggerResponse
	if err := c.upload(ctx, "/trigger_workflow", filename, image, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WorkflowStatus fetches the status object of an execution
func (c *Client) WorkflowStatus(ctx context.Context, executionID string) (pipeline.WorkflowStatus, error) {
	if executionID == "" {
		return nil, fmt.Errorf("execution id is required")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/workflow_status/"+url.PathEscape(executionID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var status pipeline.WorkflowStatus
	if err := c.do(httpReq, &status); err != nil {
		return nil, err
	}
	return status, nil
}

// Wait polls an execution every interval until it reaches a terminal state
func (c *Client) Wait(ctx context.Context, executionID string, interval time.Duration) (pipeline.WorkflowStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last pipeline.WorkflowStatus
	for {
		status, err := c.WorkflowStatus(ctx, executionID)
		if err != nil {
			if ctx.Err() != nil {
				return last, fmt.Errorf("%w: %w", ErrNotFinished, ctx.Err())
			}
			return nil, err
		}
		if pipeline.IsTerminal(status.State()) {
			return status, nil
		}
		last = status

		select {
		case <-ctx.Done():
			return last, fmt.Errorf("%w: %w", ErrNotFinished, ctx.Err())
		case <-ticker.C:
		}
	}
}

// upload posts image as the multipart "image" field and decodes the reply into out
func (c *Client) upload(ctx context.Context, endpoint, filename string, image io.Reader, out any) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("image", filename)
		if err == nil {
			_, err = io.Copy(part, image)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, pr)
	if err != nil {
		pr.Close()
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	return c.do(httpReq, out)
}

// do executes req and decodes a 200 reply into out
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		var apiErr pipeline.ErrorResponse
		if json.Unmarshal(bodyBytes, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
