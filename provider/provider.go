package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LifeContext/lifecontext-sub000/config"
	anthropic_provider "github.com/LifeContext/lifecontext-sub000/provider/anthropic"
	openai_provider "github.com/LifeContext/lifecontext-sub000/provider/openai"
	"github.com/LifeContext/lifecontext-sub000/provider/types"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
)

type (
	Message           = types.Message
	CompletionRequest = types.CompletionRequest
	TextGenerator     = types.TextGenerator
	Embedder          = types.Embedder
)

const (
	RoleSystem    = types.RoleSystem
	RoleUser      = types.RoleUser
	RoleAssistant = types.RoleAssistant
)

// ErrUnavailable marks a transport-level failure of the text-generation or
// embedding service.
var ErrUnavailable = types.ErrUnavailable

// IsUnavailable reports whether err means the service could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, types.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// New builds the text generator and embedder described by cfg. Both are nil
// when no API key is configured so callers can fail closed.
func New(cfg config.LLMConfig) (TextGenerator, Embedder, error) {
	if !cfg.Enabled() {
		return nil, nil, nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	embedKey := cfg.EmbeddingKey
	if embedKey == "" && Client(cfg.Provider) == OpenAI {
		embedKey = cfg.APIKey
	}
	var embedder Embedder
	if embedKey != "" {
		embedder = openai_provider.NewEmbedder(embedKey, cfg.BaseURL, cfg.EmbeddingModel, timeout)
	}
	switch Client(cfg.Provider) {
	case OpenAI:
		gen := openai_provider.NewClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens, timeout)
		return gen, embedder, nil
	case Anthropic:
		gen := anthropic_provider.NewClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens, timeout)
		return gen, embedder, nil
	default:
		return nil, nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}
}
