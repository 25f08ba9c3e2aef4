package ai

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBackend generates text with an OpenAI-compatible chat completion API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend creates an OpenAI backend. baseURL may point at any
// OpenAI-compatible endpoint; empty uses the public API.
func NewOpenAIBackend(apiKey, model, baseURL string) *OpenAIBackend {
	if model == "" {
		model = DefaultOpenAIModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(cfg), model: model}
}

// Name implements Backend.
func (o *OpenAIBackend) Name() string { return ProviderOpenAI }

// Model implements Backend.
func (o *OpenAIBackend) Model() string { return o.model }

// Generate implements Backend.
func (o *OpenAIBackend) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", &httpStatusError{err: err, status: apiErr.HTTPStatusCode}
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return "", &httpStatusError{err: err, status: reqErr.HTTPStatusCode}
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoCandidates
	}
	return resp.Choices[0].Message.Content, nil
}
