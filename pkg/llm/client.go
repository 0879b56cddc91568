// Package llm provides clients for the generative-answer providers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sentorial-chat/internal/config"
	"strings"
	"time"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

var (
	// ErrBlocked is returned when the provider refuses to answer on safety grounds.
	ErrBlocked = errors.New("llm: response blocked by provider safety filter")
	// ErrEmptyResponse is returned when the payload carries no usable text.
	ErrEmptyResponse = errors.New("llm: empty or malformed response")
)

// StatusError reports a non-2xx answer from the provider.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm api returned non-2xx status: %s, body: %s", e.Status, e.Body)
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
}

// Client defines the interface for a generative provider.
type Client interface {
	// Generate sends a single prompt and returns the trimmed answer text.
	Generate(ctx context.Context, prompt string, gen GenerationParams) (string, error)
	// Name identifies the provider in logs and metrics.
	Name() string
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) (Client, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	switch strings.ToLower(cfg.Provider) {
	case ProviderGemini, "":
		return NewGeminiClient(cfg.BaseURL, cfg.APIKey, cfg.Model, httpClient), nil
	case ProviderOpenAI:
		return NewOpenAIClient(cfg.BaseURL, cfg.APIKey, cfg.Model, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
