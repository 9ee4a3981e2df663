// Package vectorindex provides the episodic document index behind a small
// interface with embedded (chromem) and remote (weaviate) backends.
package vectorindex

import (
	"context"

	"github.com/marketmind/memoryd/internal/model"
)

// Index stores and retrieves episodic documents. Writes are upserts keyed by
// document ID. Query must return a well-formed empty slice, not an error,
// when the index is empty or the query embedding is degenerate: downstream
// assembly always destructures the result.
type Index interface {
	// Add upserts documents, embedding any whose Embedding is empty.
	Add(ctx context.Context, docs []model.EpisodicDocument) error

	// Query returns up to topK hits for the key ordered by descending
	// similarity.
	Query(ctx context.Context, userID, agentID, query string, topK int) ([]model.EpisodicHit, error)

	// Delete removes documents by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Count reports the number of stored documents.
	Count(ctx context.Context) (int, error)
}

// HealthPinger is optionally implemented by an Index to expose specialized
// health check logic. Returns nil when healthy.
type HealthPinger interface {
	HealthPing(ctx context.Context) error
}

// zeroVector reports whether vec carries no signal. Querying with it would
// produce meaningless similarities, so callers short-circuit to an empty
// result instead.
func zeroVector(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
