// Package genai wraps the OpenAI API as the negotiation engine's language
// model oracle. The model is an opaque text-completion service: it may fail,
// time out, or return garbage, and callers treat its output as untrusted.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/haggleworks/dealgent/internal/models"
)

// DefaultModel is used when no model is configured.
const DefaultModel = string(openai.ChatModelGPT4oMini)

// ClientInterface is the oracle surface the engine consumes. Tests inject a
// MockClient.
type ClientInterface interface {
	// Complete sends a system and user prompt and returns the raw reply text.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// Model returns the model identifier stamped into decision metadata.
	Model() string
}

// Client calls the OpenAI chat completion API.
type Client struct {
	client openai.Client
	model  string
}

// Option configures the Client.
type Option func(*Client)

// WithModel overrides the completion model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// NewClient initializes a client using the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	return NewClientWithKey(apiKey, opts...)
}

// NewClientWithKey initializes a client with an explicit API key.
func NewClientWithKey(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	c := &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  DefaultModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	slog.Debug("GenAI client created", "model", c.model)
	return c, nil
}

// Complete sends the prompts and returns the first choice's text. The caller
// controls the deadline through ctx.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	})
	if err != nil {
		slog.Error("GenAI completion failed", "model", c.model, "error", err)
		return "", fmt.Errorf("%w: %v", models.ErrModelUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", models.ErrModelUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}
