// Package chunker splits Lua source files into semantically meaningful
// chunks (functions, tables, comment blocks, control blocks) with 1-based
// inclusive line ranges.
//
// Splitting policy: every top-level construct becomes one chunk and residual
// top-level statements between constructs are grouped into "code" filler
// chunks, so the union of chunk line ranges covers every non-blank line of
// the file with no overlaps. Blank lines between top-level chunks are the
// only gaps. Input that cannot be scanned (unbalanced blocks, unterminated
// long comments) falls back to a single whole-file chunk; Split never fails,
// so ingestion never aborts on one bad file.
package chunker

import (
	"regexp"
	"strings"

	"github.com/seanblong/luasearch/pkg/models"
)

var (
	localFuncRe  = regexp.MustCompile(`^local\s+function\s+([A-Za-z_][\w.:]*)`)
	globalFuncRe = regexp.MustCompile(`^function\s+([A-Za-z_][\w.:]*)`)
	assignFuncRe = regexp.MustCompile(`^(?:local\s+)?([A-Za-z_][\w.]*)\s*=\s*function\b`)
	tableRe      = regexp.MustCompile(`^(?:local\s+)?([A-Za-z_][\w.]*)\s*=\s*\{`)

	ifRe     = regexp.MustCompile(`^if\b`)
	forRe    = regexp.MustCompile(`^for\b`)
	whileRe  = regexp.MustCompile(`^while\b`)
	repeatRe = regexp.MustCompile(`^repeat\b`)
	doRe     = regexp.MustCompile(`^do\b`)
)

// Split chunks src deterministically: identical bytes always produce
// identical boundaries, chunk types and metadata. Returned chunks carry no
// ID; the store assigns one at insertion.
func Split(filePath string, src []byte) []models.Chunk {
	lines := strings.Split(string(src), "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var chunks []models.Chunk
	fillerStart := -1

	flushFiller := func(end int) {
		if fillerStart < 0 {
			return
		}
		chunks = append(chunks, newChunk(filePath, "code", lines, fillerStart, end-1, ""))
		fillerStart = -1
	}

	i := 0
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])

		if trimmed == "" {
			flushFiller(i)
			i++
			continue
		}

		if strings.HasPrefix(trimmed, "--") {
			flushFiller(i)
			end, ok := scanComment(lines, i)
			if !ok {
				return fileFallback(filePath, lines)
			}
			chunks = append(chunks, newChunk(filePath, "comment", lines, i, end, ""))
			i = end + 1
			continue
		}

		if typ, name, matched := matchBlockStart(trimmed); matched {
			flushFiller(i)
			end, ok := scanBlock(lines, i)
			if !ok {
				return fileFallback(filePath, lines)
			}
			chunks = append(chunks, newChunk(filePath, typ, lines, i, end, name))
			i = end + 1
			continue
		}

		if m := tableRe.FindStringSubmatch(trimmed); m != nil {
			flushFiller(i)
			end, ok := scanBraces(lines, i)
			if !ok {
				return fileFallback(filePath, lines)
			}
			chunks = append(chunks, newChunk(filePath, "table", lines, i, end, m[1]))
			i = end + 1
			continue
		}

		if fillerStart < 0 {
			fillerStart = i
		}
		i++
	}
	flushFiller(len(lines))

	if len(chunks) == 0 {
		return fileFallback(filePath, lines)
	}
	return chunks
}

func matchBlockStart(trimmed string) (chunkType, name string, ok bool) {
	if m := localFuncRe.FindStringSubmatch(trimmed); m != nil {
		return "local_function", m[1], true
	}
	if m := globalFuncRe.FindStringSubmatch(trimmed); m != nil {
		return "function", m[1], true
	}
	if m := assignFuncRe.FindStringSubmatch(trimmed); m != nil {
		return "function", m[1], true
	}
	switch {
	case ifRe.MatchString(trimmed):
		return "if_statement", "", true
	case forRe.MatchString(trimmed):
		return "for_statement", "", true
	case whileRe.MatchString(trimmed):
		return "while_statement", "", true
	case repeatRe.MatchString(trimmed):
		return "repeat_statement", "", true
	case doRe.MatchString(trimmed):
		return "do_statement", "", true
	}
	return "", "", false
}

// scanBlock finds the line closing a keyword-delimited block by counting
// openers (function/if/for/while/do/repeat) against end/until. The count is
// lexical, not a parse: keywords inside string literals can fool it, in
// which case the caller falls back to a whole-file chunk.
func scanBlock(lines []string, start int) (int, bool) {
	depth := 0
	expectDo := false
	for i := start; i < len(lines); i++ {
		for _, tok := range tokens(lines[i]) {
			switch tok {
			case "function", "if", "repeat":
				depth++
			case "for", "while":
				depth++
				expectDo = true
			case "do":
				if expectDo {
					expectDo = false
				} else {
					depth++
				}
			case "end", "until":
				depth--
			}
		}
		if depth == 0 {
			return i, true
		}
		if depth < 0 {
			return 0, false
		}
	}
	return 0, false
}

func scanBraces(lines []string, start int) (int, bool) {
	depth := 0
	for i := start; i < len(lines); i++ {
		depth += strings.Count(lines[i], "{") - strings.Count(lines[i], "}")
		if depth <= 0 {
			return i, true
		}
	}
	return 0, false
}

// scanComment consumes a long comment (--[[ .. ]]) or a run of consecutive
// line comments.
func scanComment(lines []string, start int) (int, bool) {
	trimmed := strings.TrimSpace(lines[start])
	if strings.HasPrefix(trimmed, "--[[") {
		for i := start; i < len(lines); i++ {
			if strings.Contains(lines[i], "]]") {
				return i, true
			}
		}
		return 0, false
	}
	end := start
	for end+1 < len(lines) {
		next := strings.TrimSpace(lines[end+1])
		if !strings.HasPrefix(next, "--") || strings.HasPrefix(next, "--[[") {
			break
		}
		end++
	}
	return end, true
}

// tokens yields the identifier-like words of a line with any trailing line
// comment stripped.
func tokens(line string) []string {
	if idx := strings.Index(line, "--"); idx >= 0 {
		line = line[:idx]
	}
	return strings.FieldsFunc(line, func(r rune) bool {
		return !(r == '_' ||
			(r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9'))
	})
}

func newChunk(filePath, chunkType string, lines []string, start, end int, name string) models.Chunk {
	meta := map[string]any{"node_type": chunkType}
	if name != "" {
		meta["name"] = name
	}
	return models.Chunk{
		FilePath:  filePath,
		ChunkType: chunkType,
		Content:   strings.Join(lines[start:end+1], "\n"),
		Metadata:  meta,
		LineStart: start + 1,
		LineEnd:   end + 1,
	}
}

func fileFallback(filePath string, lines []string) []models.Chunk {
	return []models.Chunk{{
		FilePath:  filePath,
		ChunkType: "file",
		Content:   strings.Join(lines, "\n"),
		Metadata:  map[string]any{"node_type": "file"},
		LineStart: 1,
		LineEnd:   len(lines),
	}}
}
