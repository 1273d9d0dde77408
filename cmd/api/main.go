package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/seanblong/luasearch/internal/ai"
	"github.com/seanblong/luasearch/internal/api"
	"github.com/seanblong/luasearch/internal/auth"
	"github.com/seanblong/luasearch/internal/config"
	"github.com/seanblong/luasearch/internal/prompt"
	"github.com/seanblong/luasearch/internal/proxy"
	"github.com/seanblong/luasearch/internal/retrieve"
	"github.com/seanblong/luasearch/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	// .env is optional; real env always wins
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("luasearch-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("search_mode", cfg.SearchMode).
		Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting luasearch api")

	clientConfig, err := clientConfigFor(cfg)
	if err != nil {
		log.Fatal(err)
	}

	auth.Initialize(cfg.Auth.JwtSecret, cfg.Auth.Enabled)

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	c, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	dim := c.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	retriever := retrieve.New(c, st, retrieve.Mode(cfg.SearchMode))
	assembler := prompt.New(cfg.ContextBudget)

	var chat http.Handler
	if cfg.LLMBaseURL != "" {
		classifier := proxy.NewKeywordClassifier(cfg.DomainTerms)
		chat = proxy.NewHandler(cfg.LLMBaseURL, retriever, assembler, classifier, cfg.MinScore, 5)
	}

	mux := api.NewMux(&api.Server{
		Store:     st,
		Retriever: retriever,
		Assembler: assembler,
		Timeout:   cfg.RequestTimeout,
	}, chat)

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	s := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler}

	go func() {
		logger.Info().Str("addr", s.Addr).Msg("api server listening")
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
	logger.Info().Msg("api server stopped")
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
