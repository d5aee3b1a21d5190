package openai_provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/LifeContext/lifecontext-sub000/provider/types"
	openai "github.com/sashabaranov/go-openai"
)

// Client implements types.TextGenerator on the chat completions API.
type Client struct {
	client      *openai.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewClient creates a chat client. baseURL may point at any
// OpenAI-compatible endpoint; empty uses the public API.
func NewClient(apiKey, baseURL, model string, temperature float64, maxTokens int, timeout time.Duration) *Client {
	return &Client{
		client:      openai.NewClientWithConfig(clientConfig(apiKey, baseURL, timeout)),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

func clientConfig(apiKey, baseURL string, timeout time.Duration) openai.ClientConfig {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return cfg
}

func (c *Client) request(req types.CompletionRequest, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case types.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case types.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	temp := req.Temperature
	if temp == 0 && !req.ZeroTemperature {
		temp = c.temperature
	}
	// the SDK drops a zero temperature from the payload; send the smallest
	// positive value instead so the server does not apply its own default
	t := float32(temp)
	if t == 0 {
		t = math.SmallestNonzeroFloat32
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: t,
		MaxTokens:   maxTokens,
		Stream:      stream,
	}
}

// Complete returns the first choice's content.
func (c *Client) Complete(ctx context.Context, req types.CompletionRequest) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.request(req, false))
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream forwards content deltas as they arrive.
func (c *Client) Stream(ctx context.Context, req types.CompletionRequest, onDelta func(string) error) (string, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, c.request(req, true))
	if err != nil {
		return "", classify(err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return full.String(), nil
		}
		if err != nil {
			return full.String(), classify(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return full.String(), err
			}
		}
	}
}

// Embedder implements types.Embedder on the embeddings API.
type Embedder struct {
	client *openai.Client
	model  string
}

// NewEmbedder creates an embeddings client.
func NewEmbedder(apiKey, baseURL, model string, timeout time.Duration) *Embedder {
	return &Embedder{
		client: openai.NewClientWithConfig(clientConfig(apiKey, baseURL, timeout)),
		model:  model,
	}
}

// Embed returns one vector per input text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, classify(err)
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("openai: missing embedding for input %d", i)
		}
	}
	return out, nil
}

// classify separates request problems (bad key, bad model) from the service
// being unreachable or overloaded.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: openai: %w", types.ErrUnavailable, err)
		}
		return fmt.Errorf("openai: %w", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: openai: %w", types.ErrUnavailable, err)
}
