// Package factory constructs the service's pluggable dependencies from
// configuration. Each constructor returns the interface the rest of the
// service programs against.
package factory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/marketmind/memoryd/internal/config"
	"github.com/marketmind/memoryd/internal/embeddings"
	"github.com/marketmind/memoryd/internal/embeddings/ollama"
	"github.com/marketmind/memoryd/internal/extraction"
	"github.com/marketmind/memoryd/internal/graph"
	storepkg "github.com/marketmind/memoryd/internal/store"
	storepg "github.com/marketmind/memoryd/internal/store/postgres"
	storesqlite "github.com/marketmind/memoryd/internal/store/sqlite"
	"github.com/marketmind/memoryd/internal/vectorindex"
)

// NewStore returns the relational store for the configured driver.
func NewStore(cfg *config.Config, log zerolog.Logger) (storepkg.Store, error) {
	switch cfg.DBDriver {
	case "sqlite":
		db, err := storesqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite at %s: %w", cfg.SQLitePath, err)
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("sqlite store opened")
		return storesqlite.New(db), nil
	case "postgres":
		db, err := storepg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		log.Info().Msg("postgres store opened")
		return storepg.New(db), nil
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER: %s", cfg.DBDriver)
	}
}

// NewEmbedder returns the embedding provider wrapped in a read-through
// cache.
func NewEmbedder(cfg *config.Config, log zerolog.Logger) (embeddings.Provider, error) {
	if cfg.EmbedProvider != "ollama" {
		return nil, fmt.Errorf("unknown EMBED_PROVIDER: %s", cfg.EmbedProvider)
	}
	inner := ollama.New(cfg.OllamaURL, cfg.EmbedModel)
	cached, err := embeddings.NewCached(inner, 4096)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	log.Info().Str("provider", cfg.EmbedProvider).Str("model", cfg.EmbedModel).Msg("embedder ready")
	return cached, nil
}

// NewVectorIndex returns the episodic index for the configured backend.
func NewVectorIndex(ctx context.Context, cfg *config.Config, emb embeddings.Provider, log zerolog.Logger) (vectorindex.Index, error) {
	switch cfg.VectorStore {
	case "chromem":
		idx, err := vectorindex.NewChromemIndex(cfg.ChromemPath, emb)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.ChromemPath).Msg("chromem index opened")
		return idx, nil
	case "weaviate":
		idx, err := vectorindex.NewWeaviateIndex(ctx, cfg.WeaviateURL, emb)
		if err != nil {
			return nil, err
		}
		log.Info().Str("url", cfg.WeaviateURL).Msg("weaviate index ready")
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown VECTOR_STORE: %s", cfg.VectorStore)
	}
}

// NewExtractor returns the LLM extraction collaborator.
func NewExtractor(cfg *config.Config) extraction.Extractor {
	return extraction.NewOllamaExtractor(cfg.ExtractURL, cfg.ExtractModel, cfg.ExtractTimeout)
}

// NewGraphStore opens the durable relationship graph.
func NewGraphStore(cfg *config.Config, log zerolog.Logger) (*graph.Store, error) {
	return graph.NewStore(cfg.GraphPath, log)
}
