package ai

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GeminiBackend generates text with the Gemini API.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

// NewGeminiBackend creates a Gemini backend.
func NewGeminiBackend(ctx context.Context, apiKey, model string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiBackend{client: client, model: model}, nil
}

// Name implements Backend.
func (g *GeminiBackend) Name() string { return ProviderGemini }

// Model implements Backend.
func (g *GeminiBackend) Model() string { return g.model }

// Generate implements Backend.
func (g *GeminiBackend) Generate(ctx context.Context, system, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &httpStatusError{err: err, status: apiErr.Code}
		}
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrNoCandidates
	}
	return resp.Text(), nil
}
