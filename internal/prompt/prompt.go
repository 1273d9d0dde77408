// Package prompt assembles retrieved chunks into LLM context and full RAG
// prompts.
package prompt

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/luasearch/pkg/models"
)

// SystemPrompt is the fixed instruction preamble for RAG prompts.
const SystemPrompt = `You are an expert DCS World Lua programming assistant.
Your task is to answer questions about DCS scripting by analyzing the relevant code snippets provided.
Always focus on providing practical, working code examples when possible.
If the provided context doesn't fully address the question, say so and provide your best guess based on general Lua and DCS knowledge.
For code examples, always use proper Lua syntax and follow DCS scripting conventions.`

const noContext = "No relevant DCS Lua code found in the database."

// DefaultBudget is the context character budget used when none is
// configured.
const DefaultBudget = 12000

// Assembler formats retrieved chunks into context text, truncating the
// chunk list (never individual chunk content) once the character budget
// would be exceeded. Best-ranked chunks are kept.
type Assembler struct {
	Budget int

	enc *tiktoken.Tiktoken
}

// New creates an Assembler. The BPE encoding is loaded once here, not on
// the request path; when it is unavailable (no cached ranks, no network)
// token counts report zero and everything else still works.
func New(budget int) *Assembler {
	if budget <= 0 {
		budget = DefaultBudget
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Warn().Err(err).Msg("token encoding unavailable, token counts disabled")
		enc = nil
	}
	return &Assembler{Budget: budget, enc: enc}
}

// Context renders results best-first until the next snippet would push the
// total over Budget. The returned string never exceeds Budget unless there
// are no results, in which case a fixed placeholder is returned.
func (a *Assembler) Context(results []models.SearchResult) string {
	if len(results) == 0 {
		return noContext
	}

	var b strings.Builder
	for i, r := range results {
		snippet := formatSnippet(i+1, r.Chunk)
		if b.Len()+len(snippet) > a.Budget {
			break
		}
		b.WriteString(snippet)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Prompt builds the full instruction + context + question prompt.
func (a *Assembler) Prompt(query string, results []models.SearchResult) string {
	return fmt.Sprintf("%s\n\nContext:\n%s\n\nQuestion: %s\n\nAnswer:",
		SystemPrompt, a.Context(results), query)
}

// TokenCount estimates the cl100k_base token count of text. The budget is
// characters; this is reported alongside assembled output so callers can
// size their completion windows. Returns 0 when no encoding is loaded.
func (a *Assembler) TokenCount(text string) int {
	if a.enc == nil {
		return 0
	}
	return len(a.enc.Encode(text, nil, nil))
}

func formatSnippet(n int, c models.Chunk) string {
	info := fmt.Sprintf("File: %s (Lines %d-%d)", c.FilePath, c.LineStart, c.LineEnd)
	if name, ok := c.Metadata["name"].(string); ok && name != "" {
		info += " - " + name
	}
	return fmt.Sprintf("# Code Snippet %d (%s)\n%s\n```lua\n%s\n```\n\n", n, c.ChunkType, info, c.Content)
}
