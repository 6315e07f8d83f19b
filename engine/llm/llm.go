// Package llm provides the chat-model client. It speaks the OpenAI chat
// completions protocol, which covers OpenAI itself and the hosted
// OpenAI-compatible gateways (Groq and friends) via a base URL override.
package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/kbchat-ai/kbchat/engine/domain"
	"github.com/kbchat-ai/kbchat/pkg/resilience"
)

// Config configures the model client.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	// MaxRetries is the client-level retry count on transient failures.
	MaxRetries int
}

// Client invokes a hosted chat model.
type Client struct {
	client      openai.Client
	model       string
	temperature float64
	breaker     *resilience.Breaker
}

// DefaultModel is the default hosted model.
const DefaultModel = "llama-3.3-70b-versatile"

// New creates a model client. A circuit breaker guards every invocation so a
// dead upstream fails fast.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		breaker:     resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}, nil
}

func (c *Client) params(messages []domain.Message) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, len(messages))
	for i, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			msgs[i] = openai.SystemMessage(m.Content)
		case domain.RoleAssistant:
			msgs[i] = openai.AssistantMessage(m.Content)
		default:
			msgs[i] = openai.UserMessage(m.Content)
		}
	}
	return openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    msgs,
		Temperature: openai.Float(c.temperature),
	}
}

// Complete returns the full model response for the given messages.
func (c *Client) Complete(ctx context.Context, messages []domain.Message) (string, error) {
	var text string
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		resp, err := c.client.Chat.Completions.New(ctx, c.params(messages))
		if err != nil {
			return fmt.Errorf("llm: complete: %w: %w", domain.ErrProviderUnavailable, err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("llm: complete: no choices returned")
		}
		text = resp.Choices[0].Message.Content
		return nil
	})
	return text, err
}

// Stream invokes the model and forwards each content delta to onToken as it
// arrives. onToken returning an error aborts the stream.
func (c *Client) Stream(ctx context.Context, messages []domain.Message, onToken func(token string) error) error {
	return c.breaker.Call(ctx, func(ctx context.Context) (err error) {
		stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(messages))
		defer func() {
			if closeErr := stream.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("llm: close stream: %w", closeErr)
			}
		}()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				if err := onToken(delta); err != nil {
					return err
				}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("llm: stream: %w: %w", domain.ErrProviderUnavailable, err)
		}
		return nil
	})
}
