package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tendant/product-detect-pipeline/internal/metrics"
	"github.com/tendant/product-detect-pipeline/internal/storage"
	"github.com/tendant/product-detect-pipeline/internal/workflows"
	"github.com/tendant/product-detect-pipeline/pkg/pipeline"
)

// fakeWorkflow releases the job and returns a canned result
type fakeWorkflow struct {
	err      error
	products pipeline.ProductList
	got      *workflows.WorkflowContext
	content  []byte
}

func (f *fakeWorkflow) Execute(wctx *workflows.WorkflowContext) (*workflows.WorkflowResult, error) {
	f.got = wctx
	f.content, _ = os.ReadFile(wctx.ImagePath)
	defer wctx.Job.Release()
	if f.err != nil {
		return &workflows.WorkflowResult{Success: false, Error: f.err}, f.err
	}
	return &workflows.WorkflowResult{
		Success: true,
		Outputs: map[string]interface{}{
			workflows.OutputProcessedImage: "data:image/jpeg;base64,AAAA",
			workflows.OutputProducts:       f.products,
		},
	}, nil
}

func (f *fakeWorkflow) Name() string { return "fake" }

type fakeBridge struct {
	triggerErr error
	pollErr    error
	filename   string
	body       string
	polled     string
	status     map[string]any
}

func (f *fakeBridge) Trigger(ctx context.Context, filename string, r io.Reader) (*pipeline.TriggerResponse, error) {
	if f.triggerErr != nil {
		return nil, f.triggerErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.filename, f.body = filename, string(data)
	return &pipeline.TriggerResponse{
		Message:     "Workflow triggered successfully",
		ExecutionID: "exec-1",
		Status:      "CREATED",
		WorkflowURL: "http://kestra.local/ui/executions/exec-1",
	}, nil
}

func (f *fakeBridge) Poll(ctx context.Context, executionID string) (map[string]any, error) {
	f.polled = executionID
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	return f.status, nil
}

func newServer(t *testing.T, wf workflows.Workflow, b WorkflowBridge) *httptest.Server {
	t.Helper()
	root := t.TempDir()
	fs, err := storage.NewFilesystemStorage(filepath.Join(root, "uploads"), filepath.Join(root, "results"))
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	server := httptest.NewServer(NewRouter(Routes{
		Detect:  NewDetectHandler(fs, wf, 1<<20, logger),
		Async:   NewAsyncHandler(b, 1<<20, logger),
		Metrics: metrics.New().Handler(),
		Logger:  logger,
	}))
	t.Cleanup(server.Close)
	return server
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no file"))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func post(t *testing.T, url string, body io.Reader, contentType string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func dirEntries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return entries
}

func TestHealth(t *testing.T) {
	server := newServer(t, &fakeWorkflow{}, &fakeBridge{})

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"healthy"}`, string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	server := newServer(t, &fakeWorkflow{}, &fakeBridge{})

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDetect_Success(t *testing.T) {
	wf := &fakeWorkflow{products: pipeline.ProductList{{Name: "Coca Cola"}, {Name: "Sprite"}}}
	server := newServer(t, wf, &fakeBridge{})

	body, ct := multipartBody(t, ImageField, "my shelf.jpg", []byte("jpeg-bytes"))
	resp, out := post(t, server.URL+"/api/detect", body, ct)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", out["processed_image"])
	assert.Equal(t, []any{
		map[string]any{"name": "Coca Cola"},
		map[string]any{"name": "Sprite"},
	}, out["detected_products"])

	require.NotNil(t, wf.got)
	assert.Equal(t, "my_shelf.jpg", filepath.Base(wf.got.ImagePath))
	assert.Equal(t, "jpeg-bytes", string(wf.content))
	assert.Equal(t, wf.got.RunID, wf.got.Job.ID)

	// the workflow released the job
	assert.Empty(t, dirEntries(t, filepath.Dir(wf.got.Job.UploadDir)))
	assert.True(t, strings.HasPrefix(wf.got.ImagePath, filepath.Dir(wf.got.Job.UploadDir)))
}

func TestDetect_EmptyProductsEncodesEmptyArray(t *testing.T) {
	server := newServer(t, &fakeWorkflow{products: pipeline.ProductList{}}, &fakeBridge{})

	body, ct := multipartBody(t, ImageField, "a.jpg", []byte("x"))
	resp, err := http.Post(server.URL+"/api/detect", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), `"detected_products":[]`)
}

func TestDetect_BadRequests(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		file    string
		wantMsg string
	}{
		{"missing image field", "", "", "No image file provided"},
		{"wrong field name", "photo", "a.jpg", "No image file provided"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := &fakeWorkflow{}
			server := newServer(t, wf, &fakeBridge{})

			body, ct := multipartBody(t, tt.field, tt.file, []byte("x"))
			resp, out := post(t, server.URL+"/api/detect", body, ct)

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.wantMsg, out["error"])
			assert.Nil(t, wf.got)
		})
	}
}

func TestDetect_NotMultipart(t *testing.T) {
	wf := &fakeWorkflow{}
	server := newServer(t, wf, &fakeBridge{})

	resp, out := post(t, server.URL+"/api/detect", strings.NewReader(`{"image":"x"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "No image file provided", out["error"])
	assert.Nil(t, wf.got)
}

func TestDetect_TooLarge(t *testing.T) {
	fs, err := storage.NewFilesystemStorage(filepath.Join(t.TempDir(), "uploads"), filepath.Join(t.TempDir(), "results"))
	require.NoError(t, err)
	wf := &fakeWorkflow{}
	router := NewRouter(Routes{Detect: NewDetectHandler(fs, wf, 1<<10, zaptest.NewLogger(t))})

	body, ct := multipartBody(t, ImageField, "big.jpg", bytes.Repeat([]byte("x"), 4<<10))
	req := httptest.NewRequest(http.MethodPost, "/api/detect", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.JSONEq(t, `{"error":"Image file too large"}`, rec.Body.String())
	assert.Nil(t, wf.got)
}

func TestDetect_WorkflowErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"detector down", fmt.Errorf("%w: %w", workflows.ErrDetectionFailed, errors.New("connection refused")), http.StatusInternalServerError},
		{"no image", workflows.ErrNoImage, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newServer(t, &fakeWorkflow{err: tt.err}, &fakeBridge{})

			body, ct := multipartBody(t, ImageField, "a.jpg", []byte("x"))
			resp, out := post(t, server.URL+"/api/detect", body, ct)

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.err.Error(), out["error"])
		})
	}
}

func TestTriggerWorkflow_Success(t *testing.T) {
	b := &fakeBridge{}
	server := newServer(t, &fakeWorkflow{}, b)

	body, ct := multipartBody(t, ImageField, "shelf.jpg", []byte("jpeg-bytes"))
	resp, out := post(t, server.URL+"/trigger_workflow", body, ct)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Workflow triggered successfully", out["message"])
	assert.Equal(t, "exec-1", out["execution_id"])
	assert.Equal(t, "CREATED", out["status"])
	assert.Equal(t, "http://kestra.local/ui/executions/exec-1", out["workflow_url"])
	assert.NotContains(t, out, "dedupe_seen_count")

	assert.Equal(t, "shelf.jpg", b.filename)
	assert.Equal(t, "jpeg-bytes", b.body)
}

func TestTriggerWorkflow_Errors(t *testing.T) {
	t.Run("missing image", func(t *testing.T) {
		server := newServer(t, &fakeWorkflow{}, &fakeBridge{})
		body, ct := multipartBody(t, "", "", nil)
		resp, out := post(t, server.URL+"/trigger_workflow", body, ct)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "No image file provided", out["error"])
	})

	t.Run("engine rejects", func(t *testing.T) {
		server := newServer(t, &fakeWorkflow{}, &fakeBridge{triggerErr: errors.New("failed to trigger workflow: 500")})
		body, ct := multipartBody(t, ImageField, "a.jpg", []byte("x"))
		resp, out := post(t, server.URL+"/trigger_workflow", body, ct)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "failed to trigger workflow: 500", out["error"])
	})
}

func TestWorkflowStatus(t *testing.T) {
	b := &fakeBridge{status: map[string]any{
		"id":    "exec-1",
		"state": map[string]any{"current": "SUCCESS"},
		"results": map[string]any{
			"products": []any{map[string]any{"name": "Sprite"}},
		},
	}}
	server := newServer(t, &fakeWorkflow{}, b)

	resp, err := http.Get(server.URL + "/workflow_status/exec-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "exec-1", b.polled)

	raw, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"id":"exec-1","state":{"current":"SUCCESS"},"results":{"products":[{"name":"Sprite"}]}}`, string(raw))
}

func TestWorkflowStatus_EngineError(t *testing.T) {
	server := newServer(t, &fakeWorkflow{}, &fakeBridge{pollErr: errors.New("failed to get workflow status: 404")})

	resp, err := http.Get(server.URL + "/workflow_status/unknown")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "failed to get workflow status: 404", out["error"])
}

func TestCORSPreflight(t *testing.T) {
	server := newServer(t, &fakeWorkflow{}, &fakeBridge{})

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/api/detect", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
