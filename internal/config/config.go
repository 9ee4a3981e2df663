// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the memory service.
// Environment variables are parsed from the MEMORYD_ prefix.
type Config struct {
	// Build target selects the high-level environment: local or cloud.
	BuildTarget string `envconfig:"BUILD_TARGET" default:"local"`

	// Derived or override drivers.
	DBDriver    string `envconfig:"DB_DRIVER" default:"auto"`
	VectorStore string `envconfig:"VECTOR_STORE" default:"auto"`

	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP configuration.
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// DataDir roots all local durable artifacts (graph snapshot, sqlite
	// database, chromem collections).
	DataDir string `envconfig:"DATA_DIR" default:"./data"`

	// Postgres configuration (cloud target).
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// SQLite configuration (local target). Derived from DataDir when empty.
	SQLitePath string `envconfig:"SQLITE_PATH" default:""`

	// Vector index configuration.
	ChromemPath string `envconfig:"CHROMEM_PATH" default:""`
	WeaviateURL string `envconfig:"WEAVIATE_URL" default:"weaviate:8080"`

	// Graph snapshot artifact. Derived from DataDir when empty.
	GraphPath string `envconfig:"GRAPH_PATH" default:""`

	// Embedding collaborator.
	EmbedProvider string `envconfig:"EMBED_PROVIDER" default:"ollama"`
	EmbedModel    string `envconfig:"EMBED_MODEL" default:"mxbai-embed-large"`
	OllamaURL     string `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`

	// Extraction collaborator.
	ExtractModel   string        `envconfig:"EXTRACT_MODEL" default:"llama3.1"`
	ExtractURL     string        `envconfig:"EXTRACT_URL" default:""`
	ExtractTimeout time.Duration `envconfig:"EXTRACT_TIMEOUT" default:"45s"`

	// Working memory and context assembly.
	WorkingCapacity  int `envconfig:"WORKING_CAPACITY" default:"50"`
	RecentWindow     int `envconfig:"RECENT_WINDOW" default:"10"`
	EpisodicTopK     int `envconfig:"EPISODIC_TOP_K" default:"5"`
	MaxContextTokens int `envconfig:"MAX_CONTEXT_TOKENS" default:"4000"`

	// Consolidation worker pool.
	ConsolidationWorkers int `envconfig:"CONSOLIDATION_WORKERS" default:"2"`
	ConsolidationQueue   int `envconfig:"CONSOLIDATION_QUEUE" default:"256"`

	// Health probing cadence.
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"10"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`
}

// ResolveDefaults validates BuildTarget and derives driver and path choices
// when they are set to "auto" or empty.
func (c *Config) ResolveDefaults() error {
	var defaultDB, defaultVector string

	switch c.BuildTarget {
	case "local":
		defaultDB = "sqlite"
		defaultVector = "chromem"
	case "cloud":
		defaultDB = "postgres"
		defaultVector = "weaviate"
	default:
		return fmt.Errorf("unsupported BUILD_TARGET: %s", c.BuildTarget)
	}

	if c.DBDriver == "" || c.DBDriver == "auto" {
		c.DBDriver = defaultDB
	}
	if c.VectorStore == "" || c.VectorStore == "auto" {
		c.VectorStore = defaultVector
	}

	if c.SQLitePath == "" {
		c.SQLitePath = filepath.Join(c.DataDir, "memoryd.db")
	}
	if c.ChromemPath == "" {
		c.ChromemPath = filepath.Join(c.DataDir, "episodic")
	}
	if c.GraphPath == "" {
		c.GraphPath = filepath.Join(c.DataDir, "graph.json")
	}
	if c.ExtractURL == "" {
		c.ExtractURL = c.OllamaURL
	}

	allowedDB := map[string]bool{"sqlite": true, "postgres": true}
	if !allowedDB[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	allowedVector := map[string]bool{"chromem": true, "weaviate": true}
	if !allowedVector[c.VectorStore] {
		return fmt.Errorf("unsupported VECTOR_STORE: %s", c.VectorStore)
	}
	if c.DBDriver == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("DB_DRIVER=postgres requires MEMORYD_POSTGRES_DSN")
	}
	if c.WorkingCapacity <= 0 {
		return fmt.Errorf("WORKING_CAPACITY must be positive")
	}
	if c.MaxContextTokens <= 0 {
		return fmt.Errorf("MAX_CONTEXT_TOKENS must be positive")
	}
	return nil
}

// New creates a Config by parsing environment variables.
// Variables are prefixed with MEMORYD_, e.g. MEMORYD_HTTP_PORT.
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("MEMORYD", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("build_target", cfg.BuildTarget).
		Str("db_driver", cfg.DBDriver).
		Str("vector_store", cfg.VectorStore).
		Str("environment", string(cfg.Environment)).
		Int("port", cfg.HTTPPort).
		Str("embed_provider", cfg.EmbedProvider).
		Str("embed_model", cfg.EmbedModel).
		Str("extract_model", cfg.ExtractModel).
		Int("working_capacity", cfg.WorkingCapacity).
		Int("max_context_tokens", cfg.MaxContextTokens).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config suitable for unit tests: local drivers,
// small budgets, data rooted at dir.
func NewForTesting(dir string) *Config {
	cfg := &Config{
		BuildTarget:          "local",
		Environment:          EnvTesting,
		HTTPPort:             8080,
		DataDir:              dir,
		DBDriver:             "auto",
		VectorStore:          "auto",
		EmbedProvider:        "ollama",
		EmbedModel:           "mxbai-embed-large",
		OllamaURL:            "http://localhost:11434",
		ExtractModel:         "llama3.1",
		ExtractTimeout:       5 * time.Second,
		WorkingCapacity:      10,
		RecentWindow:         5,
		EpisodicTopK:         5,
		MaxContextTokens:     500,
		ConsolidationWorkers: 1,
		ConsolidationQueue:   16,
	}
	if err := cfg.ResolveDefaults(); err != nil {
		panic(err)
	}
	return cfg
}

// IsTesting returns true if the environment is set to testing.
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
