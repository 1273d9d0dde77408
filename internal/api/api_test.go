package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seanblong/luasearch/internal/auth"
	"github.com/seanblong/luasearch/internal/prompt"
	"github.com/seanblong/luasearch/internal/retrieve"
	"github.com/seanblong/luasearch/internal/store"
	"github.com/seanblong/luasearch/pkg/models"
)

// MockChunkStore implements the store.ChunkStore interface for testing
type MockChunkStore struct {
	StatsFunc func(ctx context.Context) (store.Stats, error)
	PingFunc  func(ctx context.Context) error
}

func (m *MockChunkStore) Migrate(ctx context.Context, dim int) error { return nil }

func (m *MockChunkStore) UpsertChunk(ctx context.Context, c models.Chunk, embedding []float32) error {
	return nil
}

func (m *MockChunkStore) SearchLexical(ctx context.Context, keywords []string, limit int) ([]models.SearchResult, error) {
	return []models.SearchResult{}, nil
}

func (m *MockChunkStore) SearchVector(ctx context.Context, embedding []float32, limit int) ([]models.SearchResult, error) {
	return []models.SearchResult{}, nil
}

func (m *MockChunkStore) Stats(ctx context.Context) (store.Stats, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx)
	}
	return store.Stats{}, nil
}

func (m *MockChunkStore) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// MockRetriever implements the Retriever interface for testing
type MockRetriever struct {
	RetrieveFunc func(ctx context.Context, query string, limit int) ([]models.SearchResult, error)
}

func (m *MockRetriever) Retrieve(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	if m.RetrieveFunc != nil {
		return m.RetrieveFunc(ctx, query, limit)
	}
	return []models.SearchResult{}, nil
}

func newTestServer(st store.ChunkStore, r Retriever) *httptest.Server {
	mux := NewMux(&Server{
		Store:     st,
		Retriever: r,
		Assembler: prompt.New(0),
		Timeout:   2 * time.Second,
	}, nil)
	return httptest.NewServer(mux)
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp, decoded
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name      string
		pingErr   error
		status    string
		connected bool
	}{
		{"database up", nil, "healthy", true},
		{"database down", errors.New("refused"), "degraded", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &MockChunkStore{PingFunc: func(ctx context.Context) error { return tt.pingErr }}
			srv := newTestServer(st, &MockRetriever{})
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/health")
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Errorf("expected 200 even when degraded, got %d", resp.StatusCode)
			}
			var body map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["status"] != tt.status {
				t.Errorf("expected status %q, got %v", tt.status, body["status"])
			}
			if body["db_connected"] != tt.connected {
				t.Errorf("expected db_connected %v, got %v", tt.connected, body["db_connected"])
			}
		})
	}
}

func TestSearchValidation(t *testing.T) {
	srv := newTestServer(&MockChunkStore{}, &MockRetriever{})
	defer srv.Close()

	tests := []struct {
		name string
		body string
	}{
		{"missing query", `{"limit":5}`},
		{"empty query", `{"query":""}`},
		{"invalid json", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postJSON(t, srv.URL+"/search", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
			if code := errorCode(body); code != "validation_error" {
				t.Errorf("expected validation_error, got %q", code)
			}
		})
	}
}

func TestSearchLimitClamping(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		expectedLimit int
	}{
		{"default", `{"query":"spawn"}`, 5},
		{"explicit", `{"query":"spawn","limit":7}`, 7},
		{"clamped high", `{"query":"spawn","limit":500}`, 50},
		{"negative becomes default", `{"query":"spawn","limit":-3}`, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotLimit int
			r := &MockRetriever{
				RetrieveFunc: func(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
					gotLimit = limit
					return []models.SearchResult{}, nil
				},
			}
			srv := newTestServer(&MockChunkStore{}, r)
			defer srv.Close()

			resp, _ := postJSON(t, srv.URL+"/search", tt.body)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
			if gotLimit != tt.expectedLimit {
				t.Errorf("expected limit %d, got %d", tt.expectedLimit, gotLimit)
			}
		})
	}
}

func TestSearchResults(t *testing.T) {
	r := &MockRetriever{
		RetrieveFunc: func(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
			return []models.SearchResult{
				{
					Chunk: models.Chunk{
						ID:        1,
						FilePath:  "scripts/spawn.lua",
						ChunkType: "function",
						Content:   "function spawnGroup() end",
						Metadata:  map[string]any{"name": "spawnGroup"},
						LineStart: 10,
						LineEnd:   12,
					},
					Score: 2,
				},
			}, nil
		},
	}
	srv := newTestServer(&MockChunkStore{}, r)
	defer srv.Close()

	resp, body := postJSON(t, srv.URL+"/search", `{"query":"spawn group"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	results, _ := body["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	first, _ := results[0].(map[string]any)
	if first["file_path"] != "scripts/spawn.lua" {
		t.Errorf("unexpected file_path: %v", first["file_path"])
	}
	if first["chunk_type"] != "function" {
		t.Errorf("unexpected chunk_type: %v", first["chunk_type"])
	}
	if first["score"] != float64(2) {
		t.Errorf("unexpected score: %v", first["score"])
	}
	if first["line_start"] != float64(10) || first["line_end"] != float64(12) {
		t.Errorf("unexpected line range: %v-%v", first["line_start"], first["line_end"])
	}
}

func TestSearchStoreUnavailable(t *testing.T) {
	r := &MockRetriever{
		RetrieveFunc: func(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
			return nil, fmt.Errorf("%w: connection refused", retrieve.ErrStoreUnavailable)
		},
	}
	srv := newTestServer(&MockChunkStore{}, r)
	defer srv.Close()

	resp, body := postJSON(t, srv.URL+"/search", `{"query":"spawn"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
	if code := errorCode(body); code != "upstream_unavailable" {
		t.Errorf("expected upstream_unavailable, got %q", code)
	}
}

func TestContextAndRagPrompt(t *testing.T) {
	r := &MockRetriever{
		RetrieveFunc: func(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
			return []models.SearchResult{
				{
					Chunk: models.Chunk{
						FilePath:  "scripts/spawn.lua",
						ChunkType: "function",
						Content:   "function spawnGroup() end",
						LineStart: 1,
						LineEnd:   1,
					},
					Score: 2,
				},
			}, nil
		},
	}
	srv := newTestServer(&MockChunkStore{}, r)
	defer srv.Close()

	resp, body := postJSON(t, srv.URL+"/context", `{"query":"spawn"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	ctx, _ := body["context"].(string)
	if !strings.Contains(ctx, "# Code Snippet 1 (function)") {
		t.Errorf("context missing snippet header:\n%s", ctx)
	}
	if body["snippet_count"] != float64(1) {
		t.Errorf("expected snippet_count 1, got %v", body["snippet_count"])
	}
	if _, ok := body["token_count"].(float64); !ok {
		t.Errorf("expected token_count in context response, got %v", body["token_count"])
	}

	resp, body = postJSON(t, srv.URL+"/rag_prompt", `{"query":"how to spawn"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	p, _ := body["prompt"].(string)
	if !strings.HasPrefix(p, prompt.SystemPrompt) {
		t.Error("prompt missing system preamble")
	}
	if !strings.Contains(p, "Question: how to spawn") {
		t.Error("prompt missing question")
	}
	if count, ok := body["token_count"].(float64); !ok || count < 0 {
		t.Errorf("expected a non-negative token_count, got %v", body["token_count"])
	}
}

func TestStats(t *testing.T) {
	st := &MockChunkStore{
		StatsFunc: func(ctx context.Context) (store.Stats, error) {
			return store.Stats{
				ChunkCount:  42,
				FileCount:   7,
				ByChunkType: map[string]int64{"function": 30, "comment": 12},
			}, nil
		},
	}
	srv := newTestServer(st, &MockRetriever{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["chunk_count"] != float64(42) {
		t.Errorf("expected chunk_count 42, got %v", body["chunk_count"])
	}
	if body["file_count"] != float64(7) {
		t.Errorf("expected file_count 7, got %v", body["file_count"])
	}
	byType, _ := body["by_chunk_type"].(map[string]any)
	if byType["function"] != float64(30) {
		t.Errorf("expected 30 functions, got %v", byType["function"])
	}
}

func TestAuthProtectsQueryEndpoints(t *testing.T) {
	auth.Initialize("test-secret", true)
	t.Cleanup(func() { auth.Initialize("", false) })

	srv := newTestServer(&MockChunkStore{}, &MockRetriever{})
	defer srv.Close()

	// Health stays open.
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health should not require auth, got %d", resp.StatusCode)
	}

	// Search without a token is rejected.
	resp, err = http.Post(srv.URL+"/search", "application/json", strings.NewReader(`{"query":"spawn"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}

	// A valid token passes.
	token, err := auth.GenerateToken("tester", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/search", strings.NewReader(`{"query":"spawn"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with valid token, got %d", resp.StatusCode)
	}
}
