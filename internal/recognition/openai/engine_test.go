package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/product-detect-pipeline/internal/recognition"
)

func TestNewEngine_RequiresAPIKey(t *testing.T) {
	_, err := NewEngine("", "", "")
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestNewEngine_DefaultModel(t *testing.T) {
	e, err := NewEngine("sk-test", "", "")
	require.NoError(t, err)
	assert.Equal(t, "openai:"+DefaultModel, e.Name())
}

func TestRecognize_SendsImagesAsDataURIs(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"products\":[{\"Product Name\":\"Sprite\"}]}"}
			}]
		}`)
	}))
	defer server.Close()

	e, err := NewEngine("sk-test", "gpt-4o-mini", server.URL+"/v1")
	require.NoError(t, err)

	reply, err := e.Recognize(context.Background(), "list products", []recognition.Image{
		{Name: "crop_000.jpg", MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"products":[{"Product Name":"Sprite"}]}`, reply)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	messages := body["messages"].([]any)
	require.Len(t, messages, 1)
	content := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "text", content[0].(map[string]any)["type"])
	imageURL := content[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.Equal(t, "data:image/jpeg;base64,/9j/", imageURL)
}

func TestRecognize_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad image","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	e, err := NewEngine("sk-test", "", server.URL)
	require.NoError(t, err)

	_, err = e.Recognize(context.Background(), "list products", nil)
	assert.Error(t, err)
}
