package llm

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tabletalk/tabletalk/internal/config"
)

// AnthropicClient implements Completer and Streamer on the Anthropic
// Messages API. Cacheable system segments get an ephemeral cache-control
// marker, so the schema portion of the prompt is billed once per dataset
// change instead of once per question.
type AnthropicClient struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

func NewAnthropicClient(cfg config.LLMConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (c *AnthropicClient) params(req Request) anthropic.MessageNewParams {
	system := make([]anthropic.TextBlockParam, 0, len(req.System))
	for _, segment := range req.System {
		if segment.Content == "" {
			continue
		}
		block := anthropic.TextBlockParam{Text: segment.Content}
		if segment.Cacheable {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		system = append(system, block)
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, message := range req.Messages {
		switch message.Role {
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(message.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(message.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages:  messages,
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := c.client.Messages.New(ctx, c.params(req))
	if err != nil {
		return "", fmt.Errorf("llm: completion failed: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if text := block.AsText(); text.Text != "" {
			b.WriteString(text.Text)
		}
	}
	out := b.String()
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("llm: model returned no text content")
	}
	return out, nil
}

func (c *AnthropicClient) Stream(ctx context.Context, req Request, onToken func(string)) error {
	stream := c.client.Messages.NewStreaming(ctx, c.params(req))
	for stream.Next() {
		event := stream.Current()
		if event.Type == "content_block_delta" {
			delta := event.AsContentBlockDelta()
			if delta.Delta.Type == "text_delta" && delta.Delta.Text != "" {
				onToken(delta.Delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("llm: streaming failed: %w", err)
	}
	return nil
}
