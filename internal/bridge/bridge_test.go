package bridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tendant/product-detect-pipeline/internal/storage"
	"github.com/tendant/product-detect-pipeline/pkg/pipeline"
)

type fakeEngine struct {
	triggerErr error
	statusErr  error
	status     map[string]any
	submitted  []Submission
}

func (f *fakeEngine) Trigger(ctx context.Context, sub Submission) (*Execution, error) {
	f.submitted = append(f.submitted, sub)
	if f.triggerErr != nil {
		return nil, f.triggerErr
	}
	return &Execution{ID: "exec-1", State: "CREATED", URL: "http://kestra/ui/executions/exec-1"}, nil
}

func (f *fakeEngine) Status(ctx context.Context, executionID string) (map[string]any, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.status, nil
}

func (f *fakeEngine) Name() string { return "fake" }

type fakeLedger struct {
	counts map[string]int
	err    error
}

func (l *fakeLedger) Record(ctx context.Context, hash, pipeline string, version int) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	l.counts[hash]++
	return l.counts[hash], nil
}

func newTestBridge(t *testing.T, engine Engine, opts ...Option) (*Bridge, *storage.FilesystemStorage) {
	t.Helper()
	root := t.TempDir()
	fs, err := storage.NewFilesystemStorage(filepath.Join(root, "uploads"), filepath.Join(root, "results"))
	require.NoError(t, err)
	opts = append(opts, WithLogger(zaptest.NewLogger(t)))
	return New(fs, engine, storage.NewArtifactReader(time.Second), opts...), fs
}

func uploadDirs(t *testing.T, fs *storage.FilesystemStorage) []string {
	t.Helper()
	job, err := fs.NewJob("00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	entries, err := os.ReadDir(filepath.Dir(job.UploadDir))
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestTrigger_Success(t *testing.T) {
	engine := &fakeEngine{}
	b, fs := newTestBridge(t, engine, WithInputs(map[string]string{"gemini_api_key": "secret"}))

	resp, err := b.Trigger(context.Background(), "my shelf.jpg", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)

	assert.Equal(t, TriggerMessage, resp.Message)
	assert.Equal(t, "exec-1", resp.ExecutionID)
	assert.Equal(t, "CREATED", resp.Status)
	assert.Equal(t, "http://kestra/ui/executions/exec-1", resp.WorkflowURL)
	assert.Zero(t, resp.DedupeSeenCount)

	require.Len(t, engine.submitted, 1)
	sub := engine.submitted[0]
	assert.True(t, filepath.IsAbs(sub.ImagePath))
	assert.Equal(t, "my_shelf.jpg", filepath.Base(sub.ImagePath))
	assert.Contains(t, sub.ImagePath, sub.JobID)
	assert.Equal(t, "secret", sub.Inputs["gemini_api_key"])

	// the engine reads the upload later, so it stays
	data, err := os.ReadFile(sub.ImagePath)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
	assert.Len(t, uploadDirs(t, fs), 1)
}

func TestTrigger_FailureRemovesUpload(t *testing.T) {
	engine := &fakeEngine{triggerErr: errors.New("connection refused")}
	b, fs := newTestBridge(t, engine)

	_, err := b.Trigger(context.Background(), "shelf.jpg", strings.NewReader("jpeg-bytes"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTriggerFailed)

	require.Len(t, engine.submitted, 1)
	_, statErr := os.Stat(engine.submitted[0].ImagePath)
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, uploadDirs(t, fs))
}

func TestTrigger_Ledger(t *testing.T) {
	ledger := &fakeLedger{counts: map[string]int{}}
	b, _ := newTestBridge(t, &fakeEngine{}, WithLedger(ledger))

	first, err := b.Trigger(context.Background(), "a.jpg", strings.NewReader("same"))
	require.NoError(t, err)
	second, err := b.Trigger(context.Background(), "b.jpg", strings.NewReader("same"))
	require.NoError(t, err)
	other, err := b.Trigger(context.Background(), "c.jpg", strings.NewReader("different"))
	require.NoError(t, err)

	assert.Equal(t, 1, first.DedupeSeenCount)
	assert.Equal(t, 2, second.DedupeSeenCount)
	assert.Equal(t, 1, other.DedupeSeenCount)
}

func TestTrigger_LedgerFailureDoesNotFail(t *testing.T) {
	b, _ := newTestBridge(t, &fakeEngine{}, WithLedger(&fakeLedger{err: errors.New("db down")}))

	resp, err := b.Trigger(context.Background(), "a.jpg", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Zero(t, resp.DedupeSeenCount)
}

func TestPoll_MergesResults(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "job_results.json")
	require.NoError(t, os.WriteFile(artifact, []byte(`{"products":[{"name":"Sprite"}]}`), 0o644))

	engine := &fakeEngine{status: map[string]any{
		"id":      "exec-1",
		"state":   map[string]any{"current": "SUCCESS"},
		"outputs": map[string]any{pipeline.OutputKeyResults: artifact},
	}}
	b, _ := newTestBridge(t, engine)

	status, err := b.Poll(context.Background(), "exec-1")
	require.NoError(t, err)

	assert.Equal(t, "exec-1", status["id"])
	results, ok := status[pipeline.StatusKeyResults].(map[string]any)
	require.True(t, ok)
	products := results["products"].([]any)
	require.Len(t, products, 1)
	assert.Equal(t, "Sprite", products[0].(map[string]any)["name"])
}

func TestPoll_SuccessWithMissingArtifact(t *testing.T) {
	engine := &fakeEngine{status: map[string]any{
		"id":      "exec-1",
		"state":   "SUCCESS",
		"outputs": map[string]any{pipeline.OutputKeyResults: filepath.Join(t.TempDir(), "gone.json")},
	}}
	b, _ := newTestBridge(t, engine)

	status, err := b.Poll(context.Background(), "exec-1")
	require.NoError(t, err)

	assert.Equal(t, "exec-1", status["id"])
	assert.Equal(t, "SUCCESS", status["state"])
	assert.Contains(t, status, "outputs")
	assert.NotContains(t, status, pipeline.StatusKeyResults)
}

func TestPoll_PassesThroughOtherStates(t *testing.T) {
	for _, state := range []string{"PENDING", "RUNNING", "FAILED", "KILLED", "PAUSED"} {
		t.Run(state, func(t *testing.T) {
			engine := &fakeEngine{status: map[string]any{"id": "exec-1", "state": state}}
			b, _ := newTestBridge(t, engine)

			status, err := b.Poll(context.Background(), "exec-1")
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"id": "exec-1", "state": state}, status)
		})
	}
}

func TestPoll_EngineFailure(t *testing.T) {
	b, _ := newTestBridge(t, &fakeEngine{statusErr: errors.New("404 not found")})

	_, err := b.Poll(context.Background(), "exec-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStatusFailed)
}

func TestState(t *testing.T) {
	tests := []struct {
		name   string
		status map[string]any
		want   string
	}{
		{"string", map[string]any{"state": "RUNNING"}, "RUNNING"},
		{"object", map[string]any{"state": map[string]any{"current": "SUCCESS", "histories": []any{}}}, "SUCCESS"},
		{"missing", map[string]any{}, ""},
		{"wrong type", map[string]any{"state": 3}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, State(tt.status))
		})
	}
}
