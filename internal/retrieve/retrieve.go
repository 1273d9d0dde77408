// Package retrieve ranks stored chunks against a query, either lexically or
// by embedding similarity.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/luasearch/internal/ai"
	"github.com/seanblong/luasearch/internal/store"
	"github.com/seanblong/luasearch/pkg/models"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	// ModeLexical is keyword matching against chunk content; always
	// available, no external dependency.
	ModeLexical Mode = "lexical"
	// ModeVector embeds the query with the same model used at ingestion and
	// ranks by cosine similarity.
	ModeVector Mode = "vector"
)

// ErrStoreUnavailable wraps chunk store failures so the API boundary can map
// them to a retryable status instead of a generic 500.
var ErrStoreUnavailable = errors.New("chunk store unavailable")

type Retriever struct {
	Client ai.Client
	Store  store.ChunkStore
	Mode   Mode
}

// New creates a retriever with the provided embedding client and store.
func New(client ai.Client, st store.ChunkStore, mode Mode) *Retriever {
	return &Retriever{Client: client, Store: st, Mode: mode}
}

// Retrieve returns at most limit results ordered best-first; ties break by
// ascending chunk id (guaranteed by the store queries). A query matching
// nothing yields an empty slice, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return []models.SearchResult{}, nil
	}

	if r.Mode == ModeVector {
		vec, err := r.Client.Embed(ctx, query)
		if err == nil {
			res, err := r.Store.SearchVector(ctx, vec, limit)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			return res, nil
		}
		// Degrade to lexical rather than failing the request outright.
		log.Warn().Err(err).Str("query", query).Msg("query embedding failed, falling back to lexical search")
	}

	res, err := r.Store.SearchLexical(ctx, Keywords(query), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res, nil
}

// Keywords extracts the lowercase search terms of a query, dropping short
// filler words the way the lexical SQL expects them.
func Keywords(query string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,?!;:\"'()[]{}")
		if len(w) > 3 {
			out = append(out, w)
		}
	}
	return out
}
