// Package store persists Lua chunks and their embeddings in
// Postgres/pgvector.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/seanblong/luasearch/pkg/models"
)

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// ChunkStore defines the methods that the Store must implement.
type ChunkStore interface {
	Migrate(ctx context.Context, dim int) error
	UpsertChunk(ctx context.Context, c models.Chunk, embedding []float32) error
	SearchLexical(ctx context.Context, keywords []string, limit int) ([]models.SearchResult, error)
	SearchVector(ctx context.Context, embedding []float32, limit int) ([]models.SearchResult, error)
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
}

// Stats summarizes the contents of the chunk table.
type Stats struct {
	ChunkCount  int64            `json:"chunk_count"`
	FileCount   int64            `json:"file_count"`
	ByChunkType map[string]int64 `json:"by_chunk_type"`
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate applies the schema. The unique index on (file_path, line_start,
// line_end) is the dedup key: re-ingesting a file upserts rows in place
// instead of duplicating them.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS lua_chunks (
  id         BIGSERIAL PRIMARY KEY,
  file_path  TEXT NOT NULL,
  chunk_type TEXT NOT NULL,
  content    TEXT NOT NULL,
  metadata   JSONB,
  embedding  vector(%d),
  line_start INT NOT NULL,
  line_end   INT NOT NULL,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS lua_chunks_path_span_uidx
  ON lua_chunks (file_path, line_start, line_end);

CREATE INDEX IF NOT EXISTS lua_chunks_file_path_idx
  ON lua_chunks (file_path);

CREATE INDEX IF NOT EXISTS lua_chunks_chunk_type_idx
  ON lua_chunks (chunk_type);

CREATE INDEX IF NOT EXISTS lua_chunks_embedding_idx
  ON lua_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}

// UpsertChunk inserts or updates a chunk keyed by (file_path, line_start,
// line_end). A nil embedding leaves the column NULL.
func (s *Store) UpsertChunk(ctx context.Context, c models.Chunk, embedding []float32) error {
	var ev any
	if embedding != nil {
		ev = pgvector.NewVector(embedding)
	} else {
		ev = (*pgvector.Vector)(nil)
	}

	const q = `
		INSERT INTO lua_chunks (
			file_path, chunk_type, content, metadata, embedding, line_start, line_end, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (file_path, line_start, line_end) DO UPDATE SET
			chunk_type = EXCLUDED.chunk_type,
			content    = EXCLUDED.content,
			metadata   = EXCLUDED.metadata,
			embedding  = COALESCE(EXCLUDED.embedding, lua_chunks.embedding),
			created_at = lua_chunks.created_at;`

	_, err := s.pool.Exec(ctx, q,
		c.FilePath, c.ChunkType, c.Content, c.Metadata, ev, c.LineStart, c.LineEnd,
	)
	return err
}

// SearchLexical ranks chunks by the number of keywords found in content,
// case-insensitively. Ties break by ascending id for determinism.
func (s *Store) SearchLexical(ctx context.Context, keywords []string, limit int) ([]models.SearchResult, error) {
	if len(keywords) == 0 {
		return []models.SearchResult{}, nil
	}

	terms := make([]string, 0, len(keywords))
	args := make([]any, 0, len(keywords)+1)
	for i, kw := range keywords {
		terms = append(terms, fmt.Sprintf("(content ILIKE $%d)::int", i+1))
		args = append(args, "%"+kw+"%")
	}
	args = append(args, limit)

	q := fmt.Sprintf(`
SELECT id, file_path, chunk_type, content, metadata, line_start, line_end, created_at, rank
FROM (
  SELECT *, (%s) AS rank FROM lua_chunks
) ranked
WHERE rank > 0
ORDER BY rank DESC, id ASC
LIMIT $%d;`, strings.Join(terms, " + "), len(keywords)+1)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.SearchResult{}
	for rows.Next() {
		var c models.Chunk
		var rank int
		if err := rows.Scan(
			&c.ID, &c.FilePath, &c.ChunkType, &c.Content, &c.Metadata,
			&c.LineStart, &c.LineEnd, &c.CreatedAt, &rank,
		); err != nil {
			return nil, err
		}
		out = append(out, models.SearchResult{Chunk: c, Score: float64(rank)})
	}
	return out, rows.Err()
}

// SearchVector ranks chunks by ascending cosine distance to the query
// embedding. Score is 1 - distance. Ties break by ascending id.
func (s *Store) SearchVector(ctx context.Context, embedding []float32, limit int) ([]models.SearchResult, error) {
	ev := pgvector.NewVector(embedding)

	const q = `
SELECT id, file_path, chunk_type, content, metadata, line_start, line_end, created_at,
       1 - (embedding <=> $1) AS score
FROM lua_chunks
WHERE embedding IS NOT NULL
ORDER BY embedding <=> $1 ASC, id ASC
LIMIT $2;`

	rows, err := s.pool.Query(ctx, q, ev, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.SearchResult{}
	for rows.Next() {
		var c models.Chunk
		var score float64
		if err := rows.Scan(
			&c.ID, &c.FilePath, &c.ChunkType, &c.Content, &c.Metadata,
			&c.LineStart, &c.LineEnd, &c.CreatedAt, &score,
		); err != nil {
			return nil, err
		}
		out = append(out, models.SearchResult{Chunk: c, Score: score})
	}
	return out, rows.Err()
}

// Stats returns chunk and file counts plus a per-type breakdown.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByChunkType: map[string]int64{}}

	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT file_path) FROM lua_chunks`,
	).Scan(&st.ChunkCount, &st.FileCount); err != nil {
		return Stats{}, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT chunk_type, COUNT(*) FROM lua_chunks GROUP BY chunk_type`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return Stats{}, err
		}
		st.ByChunkType[t] = n
	}
	return st, rows.Err()
}

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
