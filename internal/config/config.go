package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Specification struct {
	Provider       string            `yaml:"provider"`
	APIKey         string            `yaml:"providerApiKey" envconfig:"PROVIDER_API_KEY"`
	EmbedModel     string            `yaml:"providerEmbedModel" envconfig:"PROVIDER_EMBEDDING_MODEL"`
	ProjectID      string            `yaml:"providerProjectID" envconfig:"PROVIDER_PROJECT_ID"`
	Location       string            `yaml:"providerLocation" envconfig:"PROVIDER_LOCATION"`
	OllamaBaseURL  string            `yaml:"ollamaBaseURL" envconfig:"OLLAMA_BASE_URL"`
	Dim            int               `yaml:"providerDim" envconfig:"EMBED_DIM"`
	Database       string            `yaml:"database" envconfig:"DB_URL"`
	LuaRoot        string            `yaml:"luaRoot" split_words:"true"`
	BatchSize      int               `yaml:"batchSize" split_words:"true"`
	Exclude        []string          `yaml:"exclude"`
	ResumeFrom     string            `yaml:"resumeFrom" split_words:"true"`
	SearchMode     string            `yaml:"searchMode" split_words:"true"`
	ContextBudget  int               `yaml:"contextBudget" split_words:"true"`
	MinScore       float64           `yaml:"minScore" split_words:"true"`
	DomainTerms    []string          `yaml:"domainTerms" split_words:"true"`
	LLMBaseURL     string            `yaml:"llmBaseURL" envconfig:"LLM_BASE_URL"`
	RequestTimeout time.Duration     `yaml:"requestTimeout" split_words:"true"`
	LogLevel       string            `yaml:"logLevel" split_words:"true"`
	Port           int               `yaml:"port" split_words:"true"`
	Auth           AuthSpecification `yaml:"auth"`

	flags *pflag.FlagSet `ignored:"true"`
}

type AuthSpecification struct {
	Enabled   bool   `yaml:"enabled"`
	JwtSecret string `yaml:"jwtSecret" split_words:"true"`
}

const envPrefix = "LUASEARCH"

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// Load => defaults < YAML < env < flags.
// configPath may be ""; if so we auto-discover.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	var cfg Specification

	// set defaults (lowest precedence)
	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	// config file
	path := configPath
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{
				"config/luasearch.yaml",
				"config/config.yaml",
				"./luasearch.yaml",
				"./config.yaml",
			} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	// env overrides config file
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	// flags override everything
	if err := fs.Parse(os.Args[1:]); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	// Minimal sanity
	if strings.TrimSpace(cfg.Database) == "" {
		return Specification{}, fmt.Errorf("LUASEARCH_DB_URL is required (env/file/flag)")
	}
	if cfg.SearchMode != "lexical" && cfg.SearchMode != "vector" {
		return Specification{}, fmt.Errorf("search mode must be lexical or vector, got %q", cfg.SearchMode)
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// ---------- helpers ----------

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	// If --config is provided on the command line, capture it now so
	// config discovery (which runs before flags.Parse) can use it.
	for i, a := range os.Args {
		if a == "--config" {
			if i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				_ = os.Setenv(envPrefix+"_CONFIG", os.Args[i+1])
			}
		} else if strings.HasPrefix(a, "--config=") {
			parts := strings.SplitN(a, "=", 2)
			if len(parts) == 2 {
				_ = os.Setenv(envPrefix+"_CONFIG", parts[1])
			}
		}
	}

	fs.String("provider", c.Provider, "Embedding provider (stub, ollama, openai, google)")
	fs.String("provider-api-key", c.APIKey, "Provider API key")
	fs.String("provider-embedding-model", c.EmbedModel, "Provider embedding model")
	fs.String("provider-project-id", c.ProjectID, "Provider project ID")
	fs.String("provider-location", c.Location, "Provider location/region")
	fs.String("ollama-base-url", c.OllamaBaseURL, "Ollama server base URL")

	fs.Int("embed-dim", c.Dim, "Embedding dimensionality")

	fs.String("db-url", c.Database, "Database URL (DSN)")

	fs.String("lua-root", c.LuaRoot, "Path to the Lua script tree to ingest")
	fs.Int("batch-size", c.BatchSize, "Chunks per store batch during ingestion")
	fs.StringSlice("exclude", c.Exclude, "Path substrings to exclude from ingestion")
	fs.String("resume-from", c.ResumeFrom, "Resume ingestion after this file path")

	fs.String("search-mode", c.SearchMode, "Retrieval mode (lexical|vector)")
	fs.Int("context-budget", c.ContextBudget, "Context character budget for assembled prompts")
	fs.Float64("min-score", c.MinScore, "Minimum top score required to augment chat requests")
	fs.StringSlice("domain-terms", c.DomainTerms, "Classifier terms that trigger augmentation")
	fs.String("llm-base-url", c.LLMBaseURL, "Upstream chat completions base URL")
	fs.Duration("request-timeout", c.RequestTimeout, "Per-request timeout for query endpoints")

	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")
	fs.Int("port", c.Port, "API server port")

	fs.Bool("auth-enabled", c.Auth.Enabled, "Require bearer tokens on query endpoints")
	fs.String("auth-jwt-secret", c.Auth.JwtSecret, "JWT secret for signing tokens")

	// Used later for usage/help
	// create a shallow copy of fs (so Usage can be called safely without mutating caller)
	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		if fs.Changed(name) {
			v, _ := fs.GetBool(name)
			*dst = v
		}
	}
	setFloat := func(name string, dst *float64) {
		if fs.Changed(name) {
			v, _ := fs.GetFloat64(name)
			*dst = v
		}
	}
	setSlice := func(name string, dst *[]string) {
		if fs.Changed(name) {
			v, _ := fs.GetStringSlice(name)
			*dst = v
		}
	}
	setDur := func(name string, dst *time.Duration) {
		if fs.Changed(name) {
			v, _ := fs.GetDuration(name)
			*dst = v
		}
	}

	// (We ignore --config here; it's for discovery.)
	setStr("provider", &c.Provider)
	setStr("provider-api-key", &c.APIKey)
	setStr("provider-embedding-model", &c.EmbedModel)
	setStr("provider-project-id", &c.ProjectID)
	setStr("provider-location", &c.Location)
	setStr("ollama-base-url", &c.OllamaBaseURL)

	setInt("embed-dim", &c.Dim)

	setStr("db-url", &c.Database)

	setStr("lua-root", &c.LuaRoot)
	setInt("batch-size", &c.BatchSize)
	setSlice("exclude", &c.Exclude)
	setStr("resume-from", &c.ResumeFrom)

	setStr("search-mode", &c.SearchMode)
	setInt("context-budget", &c.ContextBudget)
	setFloat("min-score", &c.MinScore)
	setSlice("domain-terms", &c.DomainTerms)
	setStr("llm-base-url", &c.LLMBaseURL)
	setDur("request-timeout", &c.RequestTimeout)

	setStr("log-level", &c.LogLevel)
	setInt("port", &c.Port)

	setBool("auth-enabled", &c.Auth.Enabled)
	setStr("auth-jwt-secret", &c.Auth.JwtSecret)
}

func setDefaults(c *Specification) {
	c.LogLevel = "info"
	c.LuaRoot = "."
	c.Provider = "ollama"
	c.OllamaBaseURL = "http://localhost:11434"
	// No default DSN: the database URL carries credentials and must come
	// from file, env or flag.
	c.LLMBaseURL = "http://localhost:11434"
	c.BatchSize = 50
	c.SearchMode = "lexical"
	c.ContextBudget = 12000
	c.MinScore = 1
	c.RequestTimeout = 10 * time.Second
	c.Location = "us-central1"
	c.Auth.Enabled = false
	c.Dim = 0
	c.Port = 8080
}
