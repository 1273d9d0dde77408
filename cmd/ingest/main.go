package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/seanblong/luasearch/internal/ai"
	"github.com/seanblong/luasearch/internal/config"
	"github.com/seanblong/luasearch/internal/ingest"
	"github.com/seanblong/luasearch/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("luasearch-ingest", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	clientConfig, err := clientConfigFor(cfg)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	c, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatal(err)
	}

	if c.Dim() == 0 && cfg.SearchMode == "vector" {
		log.Fatal("embedding dimension must be set for vector search")
	}

	if err := st.Migrate(ctx, c.Dim()); err != nil {
		log.Fatal(err)
	}

	ig := ingest.New(st, c, cfg.LuaRoot, cfg.BatchSize, cfg.Exclude)
	ig.ResumeFrom = cfg.ResumeFrom

	rep, err := ig.Run(ctx)
	if err != nil {
		// Emit the partial report so the run can be resumed from LastFile.
		printReport(rep)
		log.Fatalf("ingestion aborted: %v", err)
	}
	printReport(rep)
}

func printReport(rep ingest.Report) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		log.Printf("failed to encode report: %v", err)
	}
}

func clientConfigFor(cfg config.Specification) (*ai.ClientConfig, error) {
	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		return &ai.ClientConfig{
			Provider:   ai.ProviderOllama,
			BaseURL:    cfg.OllamaBaseURL,
			EmbedModel: cfg.EmbedModel,
			Dim:        cfg.Dim,
		}, nil
	case "openai":
		return &ai.ClientConfig{
			Provider:   ai.ProviderOpenAI,
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
		}, nil
	case "google", "vertexai":
		return &ai.ClientConfig{
			Provider:   ai.ProviderGoogle,
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
		}, nil
	case "stub":
		return &ai.ClientConfig{
			Provider: ai.ProviderStub,
			Dim:      cfg.Dim,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}
