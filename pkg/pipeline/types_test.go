package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowStatus_State(t *testing.T) {
	tests := []struct {
		name   string
		status WorkflowStatus
		want   string
	}{
		{"string state", WorkflowStatus{"state": "SUCCESS"}, "SUCCESS"},
		{"kestra state object", WorkflowStatus{"state": map[string]any{"current": "RUNNING"}}, "RUNNING"},
		{"object without current", WorkflowStatus{"state": map[string]any{}}, ""},
		{"missing", WorkflowStatus{}, ""},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.State())
		})
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []string{StateSuccess, StateFailed, "KILLED", "ERROR", "CANCELLED"} {
		assert.True(t, IsTerminal(s), s)
	}
	for _, s := range []string{StatePending, StateRunning, "CREATED", "ENQUEUED", "PAUSED", ""} {
		assert.False(t, IsTerminal(s), s)
	}
}

func TestResultsDocument_JSON(t *testing.T) {
	data, err := json.Marshal(ResultsDocument{Products: ProductList{{Name: "Coca Cola"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"products":[{"name":"Coca Cola"}]}`, string(data))

	data, err = json.Marshal(TriggerResponse{Message: "ok", ExecutionID: "e", Status: "CREATED"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dedupe_seen_count")
}
