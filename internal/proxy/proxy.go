// Package proxy implements the chat completions proxy that sits between a
// chat front-end and the LLM backend.
//
// Each request is routed through one of two states: PASSTHROUGH forwards
// the inbound body byte-for-byte; AUGMENTED replaces the last user message
// with an assembled RAG prompt. AUGMENTED is chosen only when the
// classifier matches the message and retrieval produces at least one chunk
// at or above the minimum score.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/luasearch/internal/prompt"
	"github.com/seanblong/luasearch/pkg/models"
)

// Retriever is the slice of the retrieval service the proxy needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]models.SearchResult, error)
}

type Handler struct {
	Upstream   string
	Retriever  Retriever
	Assembler  *prompt.Assembler
	Classifier Classifier
	MinScore   float64
	Limit      int

	client *http.Client
}

// NewHandler creates the proxy handler. The HTTP client bounds time to
// first response header but not total body time, so streamed completions
// can run as long as the upstream allows.
func NewHandler(upstream string, r Retriever, a *prompt.Assembler, c Classifier, minScore float64, limit int) *Handler {
	if limit <= 0 {
		limit = 5
	}
	return &Handler{
		Upstream:   strings.TrimSuffix(upstream, "/"),
		Retriever:  r,
		Assembler:  a,
		Classifier: c,
		MinScore:   minScore,
		Limit:      limit,
		client: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: 60 * time.Second},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "unreadable request body")
		return
	}

	forward := body
	if query, ok := lastUserMessage(body); ok && h.Classifier.Relevant(query) {
		if rewritten, ok := h.augment(r.Context(), body, query); ok {
			forward = rewritten
		}
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost,
		h.Upstream+"/api/chat/completions", bytes.NewReader(forward))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	copyHeaders(req.Header, r.Header)

	resp, err := h.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("upstream", h.Upstream).Msg("llm upstream request failed")
		writeError(w, http.StatusBadGateway, "upstream_unavailable", "LLM provider unreachable")
		return
	}
	defer resp.Body.Close()

	relay(w, resp)
}

// augment retrieves context for query and rewrites the last user message.
// Any failure keeps the request in PASSTHROUGH.
func (h *Handler) augment(ctx context.Context, body []byte, query string) ([]byte, bool) {
	results, err := h.Retriever.Retrieve(ctx, query, h.Limit)
	if err != nil {
		log.Warn().Err(err).Msg("retrieval failed, passing request through")
		return nil, false
	}
	if len(results) == 0 || results[0].Score < h.MinScore {
		return nil, false
	}

	rewritten, err := rewriteLastUserMessage(body, h.Assembler.Prompt(query, results))
	if err != nil {
		log.Warn().Err(err).Msg("prompt rewrite failed, passing request through")
		return nil, false
	}
	log.Info().Str("query", query).Int("chunks", len(results)).Msg("augmented chat request with code context")
	return rewritten, true
}

// relay copies the upstream response to the client. Streamed bodies are
// flushed chunk-by-chunk; the copy stops as soon as the client context is
// done because the upstream request shares it.
func relay(w http.ResponseWriter, resp *http.Response) {
	for k, vv := range resp.Header {
		if k == "Content-Length" || k == "Transfer-Encoding" {
			continue
		}
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

// lastUserMessage extracts the content of the most recent user message.
func lastUserMessage(body []byte) (string, bool) {
	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return "", false
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content, true
		}
	}
	return "", false
}

// rewriteLastUserMessage replaces only the last user message content,
// preserving every other field of the request.
func rewriteLastUserMessage(body []byte, content string) ([]byte, error) {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, err
	}
	messages, _ := data["messages"].([]any)
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]any)
		if !ok {
			continue
		}
		if role, _ := msg["role"].(string); role == "user" {
			msg["content"] = content
			break
		}
	}
	return json.Marshal(data)
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if k == "Host" || k == "Content-Length" {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}
