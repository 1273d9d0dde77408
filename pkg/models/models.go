package models

import "time"

// Chunk is a contiguous span of Lua source. Content equals the exact source
// substring spanned by LineStart..LineEnd at ingestion time; LineStart and
// LineEnd are 1-based inclusive.
type Chunk struct {
	ID        int64          `json:"id"`
	FilePath  string         `json:"file_path"`
	ChunkType string         `json:"chunk_type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	LineStart int            `json:"line_start"`
	LineEnd   int            `json:"line_end"`
	CreatedAt time.Time      `json:"created_at"`
}

type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}
