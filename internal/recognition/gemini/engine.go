package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/tendant/product-detect-pipeline/internal/recognition"
)

// DefaultModel is used when no model is configured
const DefaultModel = "gemini-1.5-flash-8b"

// Engine recognizes products with the Gemini API
type Engine struct {
	client *genai.Client
	model  string
}

// NewEngine creates a Gemini recognition engine
func NewEngine(ctx context.Context, apiKey, model string) (*Engine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Engine{
		client: client,
		model:  model,
	}, nil
}

// Recognize sends the prompt followed by every image as inline data
func (e *Engine) Recognize(ctx context.Context, prompt string, images []recognition.Image) (string, error) {
	parts := make([]*genai.Part, 0, len(images)+1)
	parts = append(parts, genai.NewPartFromText(prompt))
	for _, img := range images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}

	result, err := e.client.Models.GenerateContent(ctx,
		e.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("GenAI returned no text")
	}
	return text, nil
}

// Name returns the engine name
func (e *Engine) Name() string {
	return fmt.Sprintf("genai:%s", e.model)
}

var _ recognition.Engine = (*Engine)(nil)
