package anthropic_provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/LifeContext/lifecontext-sub000/provider/types"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Client implements types.TextGenerator on the Messages API.
type Client struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewClient creates a Messages API client.
func NewClient(apiKey, baseURL, model string, temperature float64, maxTokens int, timeout time.Duration) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Client{
		client:      anthropic.NewClient(opts...),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

func (c *Client) params(req types.CompletionRequest) anthropic.MessageNewParams {
	var system []string
	var msgs []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case types.RoleSystem:
			system = append(system, m.Content)
		case types.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	temp := req.Temperature
	if temp == 0 && !req.ZeroTemperature {
		temp = c.temperature
	}
	p := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		Messages:    msgs,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temp),
	}
	if len(system) > 0 {
		p.System = []anthropic.TextBlockParam{{Type: "text", Text: strings.Join(system, "\n\n")}}
	}
	return p
}

// Complete concatenates the text blocks of the reply.
func (c *Client) Complete(ctx context.Context, req types.CompletionRequest) (string, error) {
	msg, err := c.client.Messages.New(ctx, c.params(req))
	if err != nil {
		return "", classify(err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

// Stream forwards text deltas as they arrive.
func (c *Client) Stream(ctx context.Context, req types.CompletionRequest, onDelta func(string) error) (string, error) {
	stream := c.client.Messages.NewStreaming(ctx, c.params(req))
	defer stream.Close()

	var full strings.Builder
	for stream.Next() {
		event := stream.Current()
		if event.Type != "content_block_delta" {
			continue
		}
		delta := event.AsContentBlockDelta().Delta
		if delta.Type != "text_delta" || delta.Text == "" {
			continue
		}
		full.WriteString(delta.Text)
		if onDelta != nil {
			if err := onDelta(delta.Text); err != nil {
				return full.String(), err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return full.String(), classify(err)
	}
	return full.String(), nil
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		// 529 is Anthropic's "overloaded"
		if apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: anthropic: %w", types.ErrUnavailable, err)
		}
		return fmt.Errorf("anthropic: %w", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: anthropic: %w", types.ErrUnavailable, err)
}
