package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

type openAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates an OpenAI-compatible provider (OpenAI, OpenRouter, DeepSeek...).
// TopK has no equivalent in the chat completions API and is ignored.
func NewOpenAIClient(baseURL, apiKey, model string, httpClient *http.Client) Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" && !strings.Contains(baseURL, "generativelanguage.googleapis.com") {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &openAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

func (c *openAIClient) Name() string { return ProviderOpenAI }

func (c *openAIClient) Generate(ctx context.Context, prompt string, gen GenerationParams) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(gen.Temperature),
		TopP:        float32(gen.TopP),
		MaxTokens:   gen.MaxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to call openai api: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", ErrBlocked
	}
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
