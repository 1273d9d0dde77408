// Package api exposes the retrieval service over HTTP. Endpoints are thin
// adapters over the retriever and prompt assembler: request validation,
// limit clamping and error-code mapping only.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"
	"github.com/seanblong/luasearch/internal/auth"
	"github.com/seanblong/luasearch/internal/prompt"
	"github.com/seanblong/luasearch/internal/retrieve"
	"github.com/seanblong/luasearch/internal/store"
	"github.com/seanblong/luasearch/pkg/models"
)

const (
	defaultLimit = 5
	maxLimit     = 50
)

// Retriever is the slice of the retrieval service the API needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]models.SearchResult, error)
}

type Server struct {
	Store     store.ChunkStore
	Retriever Retriever
	Assembler *prompt.Assembler
	Timeout   time.Duration
}

// NewMux builds the route table. chat, when non-nil, handles the proxy
// endpoint.
func NewMux(s *Server, chat http.Handler) *http.ServeMux {
	if s.Timeout <= 0 {
		s.Timeout = 10 * time.Second
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", auth.OptionalAuthMiddleware(s.handleStats))
	mux.HandleFunc("POST /search", auth.OptionalAuthMiddleware(s.handleSearch))
	mux.HandleFunc("POST /context", auth.OptionalAuthMiddleware(s.handleContext))
	mux.HandleFunc("POST /rag_prompt", auth.OptionalAuthMiddleware(s.handleRagPrompt))
	if chat != nil {
		mux.Handle("POST /api/chat/completions", chat)
	}
	return mux
}

type queryRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// snippet is the flattened wire shape of one search hit.
type snippet struct {
	FilePath  string         `json:"file_path"`
	ChunkType string         `json:"chunk_type"`
	Content   string         `json:"content"`
	LineStart int            `json:"line_start"`
	LineEnd   int            `json:"line_end"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Score     float64        `json:"score"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := s.Store.Ping(r.Context()) == nil
	status := "healthy"
	if !connected {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"db_connected": connected,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.Timeout)
	defer cancel()

	st, err := s.Store.Stats(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "upstream_unavailable", "chunk store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, ok := s.parseQuery(w, r)
	if !ok {
		return
	}

	results, ok := s.retrieve(w, r, req)
	if !ok {
		return
	}

	out := make([]snippet, 0, len(results))
	for _, res := range results {
		score := res.Score
		if math.IsNaN(score) || math.IsInf(score, 0) {
			score = 0
		}
		out = append(out, snippet{
			FilePath:  res.Chunk.FilePath,
			ChunkType: res.Chunk.ChunkType,
			Content:   res.Chunk.Content,
			LineStart: res.Chunk.LineStart,
			LineEnd:   res.Chunk.LineEnd,
			Metadata:  res.Chunk.Metadata,
			Score:     score,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})

	hlog.FromRequest(r).Info().Str("path", "/search").Str("q", req.Query).
		Int("k", req.Limit).Int("hits", len(out)).Dur("dur", time.Since(start)).Msg("served")
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseQuery(w, r)
	if !ok {
		return
	}
	results, ok := s.retrieve(w, r, req)
	if !ok {
		return
	}
	ctx := s.Assembler.Context(results)
	writeJSON(w, http.StatusOK, map[string]any{
		"context":       ctx,
		"snippet_count": len(results),
		"token_count":   s.Assembler.TokenCount(ctx),
	})
}

func (s *Server) handleRagPrompt(w http.ResponseWriter, r *http.Request) {
	req, ok := s.parseQuery(w, r)
	if !ok {
		return
	}
	results, ok := s.retrieve(w, r, req)
	if !ok {
		return
	}
	p := s.Assembler.Prompt(req.Query, results)
	writeJSON(w, http.StatusOK, map[string]any{
		"prompt":        p,
		"context":       s.Assembler.Context(results),
		"snippet_count": len(results),
		"token_count":   s.Assembler.TokenCount(p),
	})
}

// parseQuery validates the request body: query is required, limit defaults
// to 5 and is clamped to [1, 50].
func (s *Server) parseQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return queryRequest{}, false
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "query is required")
		return queryRequest{}, false
	}
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	if req.Limit > maxLimit {
		req.Limit = maxLimit
	}
	return req, true
}

func (s *Server) retrieve(w http.ResponseWriter, r *http.Request, req queryRequest) ([]models.SearchResult, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), s.Timeout)
	defer cancel()

	results, err := s.Retriever.Retrieve(ctx, req.Query, req.Limit)
	if err != nil {
		if errors.Is(err, retrieve.ErrStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "upstream_unavailable", "chunk store unreachable")
		} else {
			writeError(w, http.StatusInternalServerError, "internal_error", "search failed")
		}
		return nil, false
	}
	return results, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		_, _ = w.Write([]byte("{}"))
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}
