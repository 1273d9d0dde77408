package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OllamaClient calls a local Ollama server's embeddings API.
type OllamaClient struct {
	config *ClientConfig
	http   *http.Client
}

func NewOllamaClient(config *ClientConfig) *OllamaClient {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.EmbedModel == "" {
		config.EmbedModel = "nomic-embed-text"
	}
	if config.Dim == 0 {
		// nomic-embed-text
		config.Dim = 768
	}

	return &OllamaClient{
		config: config,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Embed implements the embedding functionality
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]string{
		"model":  c.config.EmbedModel,
		"prompt": text,
	}

	b, _ := json.Marshal(payload)
	url := strings.TrimSuffix(c.config.BaseURL, "/") + "/api/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embeddings: %s", resp.Status)
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, errors.New("no embedding")
	}
	return out.Embedding, nil
}

func (c *OllamaClient) Dim() int {
	return c.config.Dim
}
