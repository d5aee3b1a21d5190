// Package types holds the provider-neutral contracts shared by the
// text-generation clients.
package types

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a single text-generation call. Zero Temperature and
// MaxTokens fall back to the client's configured defaults; set
// ZeroTemperature to force a deterministic call.
type CompletionRequest struct {
	Messages        []Message
	Temperature     float64
	ZeroTemperature bool
	MaxTokens       int
}

// TextGenerator is the text-generation service.
type TextGenerator interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// Stream delivers the completion incrementally to onDelta and returns the
	// full text. An error from onDelta aborts the stream.
	Stream(ctx context.Context, req CompletionRequest, onDelta func(delta string) error) (string, error)
}

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrUnavailable marks a transport-level failure of the service.
var ErrUnavailable = errors.New("text generation service unavailable")
