// Package ai forwards analysis requests to a generative-text backend.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/pride-mcp/internal/observability"
	"github.com/thebtf/pride-mcp/pkg/models"
)

// Supported providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Default models per provider.
const (
	DefaultGeminiModel = "gemini-2.0-flash-exp"
	DefaultOpenAIModel = "gpt-4o-mini"
)

// Request is one analysis request.
type Request struct {
	Data         string `json:"data"`
	AnalysisType string `json:"analysis_type"`
	Context      string `json:"context,omitempty"`
}

// Backend generates text for a prompt.
type Backend interface {
	Name() string
	Model() string
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Config selects and configures the backend.
type Config struct {
	Provider      string
	GeminiAPIKey  string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	Timeout       time.Duration
	Enabled       bool
}

// Service is the analysis adapter. A Service without a backend is disabled
// and rejects every request without contacting anything.
type Service struct {
	backend Backend
	timeout time.Duration
}

// NewService builds a Service from cfg. A missing credential or a disabled
// flag yields a disabled Service, not an error.
func NewService(ctx context.Context, cfg Config) (*Service, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if !cfg.Enabled {
		return &Service{timeout: timeout}, nil
	}

	var (
		backend Backend
		err     error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return &Service{timeout: timeout}, nil
		}
		backend, err = NewGeminiBackend(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return &Service{timeout: timeout}, nil
		}
		backend = NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	log.Info().Str("provider", backend.Name()).Str("model", backend.Model()).Msg("AI analysis enabled")
	return &Service{backend: backend, timeout: timeout}, nil
}

// NewServiceWithBackend wraps an existing backend; a nil backend disables the service.
func NewServiceWithBackend(backend Backend, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Service{backend: backend, timeout: timeout}
}

// Enabled reports whether a backend is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.backend != nil
}

// Provider returns the backend name, or "disabled".
func (s *Service) Provider() string {
	if !s.Enabled() {
		return "disabled"
	}
	return s.backend.Name()
}

// Analyze sends req to the backend and returns its output verbatim.
func (s *Service) Analyze(ctx context.Context, req Request) (string, error) {
	if !s.Enabled() {
		return "", models.ErrAIDisabled
	}
	if strings.TrimSpace(req.Data) == "" {
		return "", models.ValidationError("data is required and must not be empty")
	}
	if req.AnalysisType == "" {
		req.AnalysisType = AnalysisGeneral
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	operation := "ai_" + s.backend.Name()
	ctx, span := observability.StartUpstreamSpan(ctx, operation, s.backend.Model())
	start := time.Now()

	out, err := s.backend.Generate(ctx, systemPrompt, BuildPrompt(req))
	err = classify(ctx, err)

	observability.UpstreamLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	observability.UpstreamRequestsTotal.WithLabelValues(operation, observability.StatusLabel(err)).Inc()
	observability.EndSpan(span, err)

	if err != nil {
		return "", err
	}
	return out, nil
}

// ErrNoCandidates is returned by a backend whose response carried no
// candidate or choice at all. Empty text inside a candidate is not an error.
var ErrNoCandidates = errors.New("AI backend response has no candidates")

// statusError is implemented by backend errors that carry an HTTP status.
type statusError interface {
	error
	HTTPStatus() int
}

// classify maps backend failures to the error taxonomy.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var typed *models.Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, ErrNoCandidates) {
		return models.WrapError(models.KindUpstreamUnavailable, "AI backend returned no output", err)
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.WrapError(models.KindUpstreamUnavailable, "AI backend timed out", err)
	}
	var se statusError
	if errors.As(err, &se) {
		status := se.HTTPStatus()
		if status == 429 || status >= 500 || status == 0 {
			return models.WrapError(models.KindUpstreamUnavailable, fmt.Sprintf("AI backend unavailable (HTTP %d)", status), err)
		}
		return models.WrapError(models.KindUpstreamRejected, fmt.Sprintf("AI backend rejected request (HTTP %d)", status), err)
	}
	return models.WrapError(models.KindUpstreamUnavailable, "AI backend call failed", err)
}

// httpStatusError adapts a backend SDK error to statusError.
type httpStatusError struct {
	err    error
	status int
}

func (e *httpStatusError) Error() string   { return e.err.Error() }
func (e *httpStatusError) Unwrap() error   { return e.err }
func (e *httpStatusError) HTTPStatus() int { return e.status }
