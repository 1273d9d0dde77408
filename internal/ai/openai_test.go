package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestOpenAIDefaults(t *testing.T) {
	tests := []struct {
		name        string
		model       string
		expectedDim int
	}{
		{"small model default", "", 1536},
		{"large model", "text-embedding-3-large", 3072},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewOpenAIClient(&ClientConfig{Provider: ProviderOpenAI, EmbedModel: tt.model})
			if c.Dim() != tt.expectedDim {
				t.Errorf("expected dim %d, got %d", tt.expectedDim, c.Dim())
			}
		})
	}
}

func TestOpenAIEmbed(t *testing.T) {
	want := []float32{0.4, 0.5}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-proj-test" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		if r.Header.Get("OpenAI-Project") != "proj-123" {
			t.Errorf("unexpected project header: %s", r.Header.Get("OpenAI-Project"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": want}},
		})
	}))
	defer server.Close()

	c := NewOpenAIClient(&ClientConfig{
		Provider:  ProviderOpenAI,
		BaseURL:   server.URL,
		APIKey:    "sk-proj-test",
		ProjectID: "proj-123",
	})

	got, err := c.Embed(context.Background(), "some lua code")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestOpenAIEmbedMissingKey(t *testing.T) {
	c := NewOpenAIClient(&ClientConfig{Provider: ProviderOpenAI})
	if _, err := c.Embed(context.Background(), "text"); err == nil {
		t.Error("expected error for missing API key")
	}
}
