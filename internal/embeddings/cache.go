package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/dgraph-io/ristretto"
)

// CachedProvider is a read-through cache in front of another Provider.
// Consolidation and retrieval frequently embed identical text (replays,
// repeated queries); caching avoids re-calling the collaborator.
type CachedProvider struct {
	inner Provider
	cache *ristretto.Cache
}

// NewCached wraps inner with an in-memory cache holding up to maxEntries
// vectors.
func NewCached(inner Provider, maxEntries int64) (*CachedProvider, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedProvider{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for text when present, otherwise delegates
// to the inner provider and caches the result.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if v, ok := c.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec, 1)
	return vec, nil
}

// HealthPing delegates to the inner provider when it supports health checks.
func (c *CachedProvider) HealthPing(ctx context.Context) error {
	if hp, ok := c.inner.(HealthPinger); ok {
		return hp.HealthPing(ctx)
	}
	return nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
