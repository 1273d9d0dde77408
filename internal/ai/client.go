// Package ai provides embedding clients for the supported providers.
package ai

import (
	"context"
	"errors"
)

// Client turns text into a fixed-dimension embedding vector.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// Provider is enumeration of supported embedding providers
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
	ProviderGoogle Provider = "google"
	ProviderStub   Provider = "stub"
)

// ClientConfig holds configuration for embedding clients
type ClientConfig struct {
	Provider   Provider
	BaseURL    string // Ollama base URL, e.g. http://localhost:11434
	APIKey     string
	EmbedModel string
	Dim        int
	ProjectID  string
	Location   string
}

// NewClient creates a new embedding client based on configuration
func NewClient(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderOllama:
		return NewOllamaClient(config), nil
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderGoogle:
		return NewGoogleClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubClient is a stub implementation of the Client interface for testing
// and for deployments that run without embeddings.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	return &StubClient{dim: dim}
}

func (s *StubClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, s.dim), nil
}

func (s *StubClient) Dim() int {
	return s.dim
}
