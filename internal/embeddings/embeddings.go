// Package embeddings provides vector embedding providers for episodic
// indexing and retrieval.
package embeddings

import "context"

// Provider produces vector representations for text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HealthPinger is optionally implemented by a Provider to expose specialized
// health check logic. Returns nil when healthy.
type HealthPinger interface {
	HealthPing(ctx context.Context) error
}
