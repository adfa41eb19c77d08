package services

import (
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/athapong/docgraph/pkg/extract"
)

var DefaultOpenAIClient = sync.OnceValue(func() *openai.Client {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		panic("OPENAI_API_KEY is not set, please set it in the environment or .env file")
	}

	baseURL := os.Getenv("OPENAI_BASE_URL")
	config := openai.DefaultConfig(apiKey)

	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return openai.NewClientWithConfig(config)
})

const extractionSystemPrompt = "You are an entity extraction and analysis expert. " +
	"Always answer with strictly valid JSON matching the requested structure."

// OpenAICompleter adapts a chat-completion client to the pipeline's
// Completer capability. Any OpenAI-compatible endpoint works through
// OPENAI_BASE_URL (DeepSeek, OpenRouter, a local Ollama and friends).
type OpenAICompleter struct {
	client *openai.Client
	model  string
}

// NewOpenAICompleter wraps a client for the given model identifier.
func NewOpenAICompleter(client *openai.Client, model string) *OpenAICompleter {
	return &OpenAICompleter{client: client, model: model}
}

// Complete implements extract.Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.1,
		MaxTokens:   1000,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", extract.Transient(errors.New("no choices in model response"))
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyError separates retryable service failures (rate limits,
// server errors, transport problems) from permanent ones such as bad
// credentials or an invalid request.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return extract.Transient(err)
		}
		return err
	}
	// Anything below the API layer is a transport failure.
	return extract.Transient(err)
}
