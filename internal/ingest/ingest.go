// Package ingest walks a Lua script tree, chunks every file and loads the
// chunks (with embeddings) into the store.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/seanblong/luasearch/internal/ai"
	"github.com/seanblong/luasearch/internal/chunker"
	"github.com/seanblong/luasearch/internal/store"
	"github.com/seanblong/luasearch/pkg/models"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// SkippedFile records a file left out of the run and why.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report summarizes one ingestion run. LastFile is the highest path whose
// chunks have been committed to the store; it only advances on flush, so
// feeding it back as ResumeFrom after an aborted run never skips a file
// whose rows were lost with the failed batch.
type Report struct {
	RunID          uuid.UUID     `json:"run_id"`
	FilesProcessed int           `json:"files_processed"`
	ChunksStored   int           `json:"chunks_stored"`
	FilesSkipped   []SkippedFile `json:"files_skipped"`
	LastFile       string        `json:"last_file"`
}

// Ingester loads a directory of Lua sources into the chunk store. Files
// are processed in sorted path order so that interrupted runs can resume
// deterministically.
type Ingester struct {
	Store      store.ChunkStore
	Client     ai.Client
	Root       string
	BatchSize  int
	Excludes   []string
	ResumeFrom string
	Workers    int
	Walker     FileSystemWalker
	FileReader FileReader

	ignore gitignore.IgnoreParser
}

// New creates an Ingester rooted at root. A .gitignore at the root, when
// present, contributes exclusion patterns alongside the configured
// substring excludes.
func New(s store.ChunkStore, client ai.Client, root string, batchSize int, excludes []string) *Ingester {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8 // keep embedding API pressure bounded
	}
	if batchSize <= 0 {
		batchSize = 50
	}

	ig := &Ingester{
		Store:      s,
		Client:     client,
		Root:       root,
		BatchSize:  batchSize,
		Excludes:   excludes,
		Workers:    workers,
		Walker:     &DefaultFileSystemWalker{},
		FileReader: &DefaultFileReader{},
	}
	// Assign the interface only on success: a typed-nil *GitIgnore stored in
	// the interface would pass the != nil check in excluded.
	if ign, err := gitignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		ig.ignore = ign
	}
	return ig
}

// pending pairs a chunk with its embedding until the batch is flushed.
type pending struct {
	chunk     models.Chunk
	embedding []float32
}

// Run ingests every eligible .lua file under Root. A store write failure
// aborts the run; per-file read or embedding failures skip the file and
// are recorded in the report.
func (ig *Ingester) Run(ctx context.Context) (Report, error) {
	rep := Report{RunID: uuid.New(), FilesSkipped: []SkippedFile{}}

	paths, err := ig.collect()
	if err != nil {
		return rep, fmt.Errorf("walk %s: %w", ig.Root, err)
	}

	log.Info().Str("run_id", rep.RunID.String()).Int("files", len(paths)).
		Int("workers", ig.Workers).Str("resume_from", ig.ResumeFrom).Msg("starting ingestion")

	var batch []pending
	var batchFiles []string
	for _, relPath := range paths {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		b, err := ig.FileReader.ReadFile(filepath.Join(ig.Root, relPath))
		if err != nil {
			log.Warn().Err(err).Str("path", relPath).Msg("failed to read file")
			rep.FilesSkipped = append(rep.FilesSkipped, SkippedFile{Path: relPath, Reason: "read failed: " + err.Error()})
			continue
		}

		chunks := chunker.Split(relPath, b)
		if len(chunks) == 0 {
			rep.FilesSkipped = append(rep.FilesSkipped, SkippedFile{Path: relPath, Reason: "no chunks"})
			continue
		}

		embeddings, err := ig.embedAll(ctx, chunks)
		if err != nil {
			log.Warn().Err(err).Str("path", relPath).Msg("embedding failed, skipping file")
			rep.FilesSkipped = append(rep.FilesSkipped, SkippedFile{Path: relPath, Reason: "embedding failed: " + err.Error()})
			continue
		}

		for i, ch := range chunks {
			batch = append(batch, pending{chunk: ch, embedding: embeddings[i]})
		}
		batchFiles = append(batchFiles, relPath)
		if len(batch) >= ig.BatchSize {
			if err := ig.flush(ctx, batch, batchFiles, &rep); err != nil {
				return rep, err
			}
			batch, batchFiles = batch[:0], batchFiles[:0]
		}

		log.Debug().Str("path", relPath).Int("chunks", len(chunks)).Msg("ingested file")
	}

	if err := ig.flush(ctx, batch, batchFiles, &rep); err != nil {
		return rep, err
	}

	log.Info().Str("run_id", rep.RunID.String()).
		Int("files", rep.FilesProcessed).
		Int("chunks", rep.ChunksStored).
		Int("skipped", len(rep.FilesSkipped)).
		Msg("ingestion complete")
	return rep, nil
}

// collect walks Root, filters to .lua files and returns their relative
// paths sorted ascending, with resume filtering applied.
func (ig *Ingester) collect() ([]string, error) {
	var paths []string
	err := ig.Walker.Walk(ig.Root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				return nil
			}
			if strings.ToLower(filepath.Ext(path)) != ".lua" {
				return nil
			}
			relPath := rel(ig.Root, path)
			if ig.excluded(relPath) {
				return nil
			}
			paths = append(paths, relPath)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	if ig.ResumeFrom != "" {
		kept := paths[:0]
		for _, p := range paths {
			if p > ig.ResumeFrom {
				kept = append(kept, p)
			}
		}
		paths = kept
	}
	return paths, nil
}

func (ig *Ingester) excluded(relPath string) bool {
	if ig.ignore != nil && ig.ignore.MatchesPath(relPath) {
		return true
	}
	lower := strings.ToLower(relPath)
	for _, e := range ig.Excludes {
		if e != "" && strings.Contains(lower, strings.ToLower(e)) {
			return true
		}
	}
	return false
}

// embedAll embeds every chunk of one file with a bounded worker pool.
// The first error fails the whole file. A nil client yields nil
// embeddings, which the store accepts for lexical-only ingestion.
func (ig *Ingester) embedAll(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	embeddings := make([][]float32, len(chunks))
	if ig.Client == nil {
		return embeddings, nil
	}

	workers := ig.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(chunks) {
		workers = len(chunks)
	}

	idx := make(chan int, len(chunks))
	for i := range chunks {
		idx <- i
	}
	close(idx)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idx {
				vec, err := ig.Client.Embed(ctx, chunks[i].Content)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				embeddings[i] = vec
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return embeddings, nil
}

// flush commits the batch and only then advances the progress markers.
// A failure mid-batch leaves FilesProcessed and LastFile untouched, so a
// resumed run re-upserts the batch's files; the dedup key makes that
// idempotent.
func (ig *Ingester) flush(ctx context.Context, batch []pending, files []string, rep *Report) error {
	for _, p := range batch {
		if err := ig.Store.UpsertChunk(ctx, p.chunk, p.embedding); err != nil {
			return fmt.Errorf("upsert %s:%d-%d: %w", p.chunk.FilePath, p.chunk.LineStart, p.chunk.LineEnd, err)
		}
		rep.ChunksStored++
	}
	rep.FilesProcessed += len(files)
	if len(files) > 0 {
		rep.LastFile = files[len(files)-1]
	}
	return nil
}

func rel(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(r)
}
