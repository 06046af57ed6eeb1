package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/product-detect-pipeline/pkg/pipeline"
)

func TestClient_Detect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/detect", r.URL.Path)

		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "shelf.jpg", header.Filename)
		assert.Equal(t, "jpeg-bytes", string(data))

		_ = json.NewEncoder(w).Encode(pipeline.DetectResponse{
			ProcessedImage:   "data:image/jpeg;base64,AAAA",
			DetectedProducts: pipeline.ProductList{{Name: "Sprite"}},
		})
	}))
	defer server.Close()

	c := NewWithHTTPClient(server.URL+"/", server.Client())
	resp, err := c.Detect(context.Background(), "shelf.jpg", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", resp.ProcessedImage)
	assert.Equal(t, []string{"Sprite"}, resp.DetectedProducts.Names())
}

func TestClient_TriggerWorkflow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trigger_workflow", r.URL.Path)
		_, _ = io.WriteString(w, `{"message":"Workflow triggered successfully","execution_id":"e1","status":"CREATED","workflow_url":"http://k/ui/executions/e1","dedupe_seen_count":2}`)
	}))
	defer server.Close()

	c := NewWithHTTPClient(server.URL, server.Client())
	resp, err := c.TriggerWorkflow(context.Background(), "a.jpg", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "e1", resp.ExecutionID)
	assert.Equal(t, "CREATED", resp.Status)
	assert.Equal(t, 2, resp.DedupeSeenCount)
}

func TestClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"No image file provided"}`)
	}))
	defer server.Close()

	c := NewWithHTTPClient(server.URL, server.Client())
	_, err := c.Detect(context.Background(), "a.jpg", strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "No image file provided")
}

func TestClient_WorkflowStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/workflow_status/e1", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":"e1","state":{"current":"RUNNING"}}`)
	}))
	defer server.Close()

	c := NewWithHTTPClient(server.URL, server.Client())
	status, err := c.WorkflowStatus(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", status.State())

	_, err = c.WorkflowStatus(context.Background(), "")
	assert.Error(t, err)
}

func TestClient_Wait(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			_, _ = io.WriteString(w, `{"state":"RUNNING"}`)
			return
		}
		_, _ = io.WriteString(w, `{"state":"SUCCESS","results":{"products":[]}}`)
	}))
	defer server.Close()

	c := NewWithHTTPClient(server.URL, server.Client())
	status, err := c.Wait(context.Background(), "e1", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateSuccess, status.State())
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_WaitTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"state":"RUNNING"}`)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewWithHTTPClient(server.URL, server.Client())
	status, err := c.Wait(ctx, "e1", 5*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFinished)
	assert.Equal(t, "RUNNING", status.State())
}
