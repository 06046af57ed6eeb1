// Package kestra triggers and polls flow executions through the Kestra REST API.
package kestra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tendant/product-detect-pipeline/internal/bridge"
)

// Config configures the Kestra client
type Config struct {
	// BaseURL is the API root, e.g. http://localhost:8080
	BaseURL string

	// UIURL is the root used for human-facing execution links. Defaults to BaseURL.
	UIURL string

	Namespace string
	FlowID    string
	Timeout   time.Duration
}

// Client is a bridge.Engine backed by Kestra
type Client struct {
	baseURL    string
	uiURL      string
	namespace  string
	flowID     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new Kestra client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	uiURL := cfg.UIURL
	if uiURL == "" {
		uiURL = cfg.BaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		uiURL:      strings.TrimRight(uiURL, "/"),
		namespace:  cfg.Namespace,
		flowID:     cfg.FlowID,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Name returns the engine name
func (c *Client) Name() string {
	return "kestra"
}

type executionRequest struct {
	Namespace string            `json:"namespace"`
	FlowID    string            `json:"flowId"`
	Inputs    map[string]string `json:"inputs"`
}

// Trigger creates an execution of the configured flow with the image path
// and the submission inputs.
func (c *Client) Trigger(ctx context.Context, sub bridge.Submission) (*bridge.Execution, error) {
	inputs := make(map[string]string, len(sub.Inputs)+2)
	for k, v := range sub.Inputs {
		inputs[k] = v
	}
	inputs["image_path"] = sub.ImagePath
	inputs["job_id"] = sub.JobID

	body, err := json.Marshal(executionRequest{
		Namespace: c.namespace,
		FlowID:    c.flowID,
		Inputs:    inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution request: %w", err)
	}

	c.logger.Debug("Creating Kestra execution",
		zap.String("namespace", c.namespace),
		zap.String("flow_id", c.flowID),
		zap.String("job_id", sub.JobID))

	status, err := c.do(ctx, http.MethodPost, c.baseURL+"/api/v1/executions", body)
	if err != nil {
		return nil, err
	}

	id, _ := status["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("kestra response has no execution id")
	}

	return &bridge.Execution{
		ID:    id,
		State: bridge.State(status),
		URL:   c.ExecutionURL(id),
	}, nil
}

// Status returns the execution object as reported by Kestra
func (c *Client) Status(ctx context.Context, executionID string) (map[string]any, error) {
	if executionID == "" {
		return nil, fmt.Errorf("execution id is required")
	}
	return c.do(ctx, http.MethodGet, c.baseURL+"/api/v1/executions/"+url.PathEscape(executionID), nil)
}

// ExecutionURL returns the UI link of an execution
func (c *Client) ExecutionURL(executionID string) string {
	return c.uiURL + "/ui/executions/" + url.PathEscape(executionID)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kestra request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("kestra returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode kestra response: %w", err)
	}
	return out, nil
}

var _ bridge.Engine = (*Client)(nil)
