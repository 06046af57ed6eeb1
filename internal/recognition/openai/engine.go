package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/tendant/product-detect-pipeline/internal/recognition"
)

// DefaultModel is used when no model is configured
const DefaultModel = "gpt-4o-mini"

// ErrAPIKeyNotSet is returned when no API key is configured
var ErrAPIKeyNotSet = errors.New("OpenAI API key not set")

// Engine recognizes products with an OpenAI vision-capable chat model
type Engine struct {
	client openai.Client
	model  string
}

// NewEngine creates an OpenAI recognition engine. baseURL may be empty.
func NewEngine(apiKey, model, baseURL string) (*Engine, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if model == "" {
		model = DefaultModel
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &Engine{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

// Recognize sends the prompt and every image as data URIs in a single user message
func (e *Engine) Recognize(ctx context.Context, prompt string, images []recognition.Image) (string, error) {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(images)+1)
	parts = append(parts, openai.TextContentPart(prompt))
	for _, img := range images {
		dataURI := fmt.Sprintf("data:%s;base64,%s", img.MIMEType, base64.StdEncoding.EncodeToString(img.Data))
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: dataURI,
		}))
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(parts),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		},
	}

	completion, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}

	return completion.Choices[0].Message.Content, nil
}

// Name returns the engine name
func (e *Engine) Name() string {
	return fmt.Sprintf("openai:%s", e.model)
}

var _ recognition.Engine = (*Engine)(nil)
