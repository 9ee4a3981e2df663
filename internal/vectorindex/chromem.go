package vectorindex

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"github.com/marketmind/memoryd/internal/embeddings"
	"github.com/marketmind/memoryd/internal/model"
)

const chromemCollection = "episodic"

// chromemIndex is an embedded, directory-backed Index built on chromem-go.
// The whole collection persists under the configured path, which keeps the
// local build target free of external services.
type chromemIndex struct {
	col *chromem.Collection
	emb embeddings.Provider
}

// NewChromemIndex opens (or creates) a persistent chromem collection at path.
// Documents added without vectors are embedded through emb.
func NewChromemIndex(path string, emb embeddings.Provider) (Index, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("%w: open chromem at %s: %v", model.ErrStorage, path, err)
	}
	embedFn := func(ctx context.Context, text string) ([]float32, error) {
		return emb.Embed(ctx, text)
	}
	col, err := db.GetOrCreateCollection(chromemCollection, nil, embedFn)
	if err != nil {
		return nil, fmt.Errorf("%w: create collection: %v", model.ErrStorage, err)
	}
	return &chromemIndex{col: col, emb: emb}, nil
}

func (c *chromemIndex) Add(ctx context.Context, docs []model.EpisodicDocument) error {
	for _, d := range docs {
		vec := d.Embedding
		if len(vec) == 0 {
			var err error
			vec, err = c.emb.Embed(ctx, d.Content)
			if err != nil {
				return fmt.Errorf("%w: embed document %s: %v", model.ErrStorage, d.ID, err)
			}
		}
		doc := chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Embedding: vec,
			Metadata:  docMetadata(d),
		}
		// AddDocument replaces any existing document with the same ID, which
		// gives the upsert semantics replay depends on.
		if err := c.col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("%w: add document %s: %v", model.ErrStorage, d.ID, err)
		}
	}
	return nil
}

func (c *chromemIndex) Query(ctx context.Context, userID, agentID, query string, topK int) ([]model.EpisodicHit, error) {
	if topK <= 0 {
		topK = 5
	}
	count := c.col.Count()
	if count == 0 {
		return []model.EpisodicHit{}, nil
	}
	if topK > count {
		topK = count
	}

	vec, err := c.emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", model.ErrStorage, err)
	}
	if len(vec) == 0 || zeroVector(vec) {
		log.Warn().Str("userId", userID).Msg("degenerate query embedding, returning empty episodic result")
		return []model.EpisodicHit{}, nil
	}

	where := map[string]string{}
	if userID != "" {
		where["userId"] = userID
	}
	if agentID != "" {
		where["agentId"] = agentID
	}

	// chromem rejects nResults larger than the number of documents matching
	// the filter, which we cannot know up front. Shrink and retry.
	var results []chromem.Result
	for limit := topK; limit >= 1; limit-- {
		var err error
		results, err = c.col.QueryEmbedding(ctx, vec, limit, where, nil)
		if err == nil {
			break
		}
		if strings.Contains(err.Error(), "number of documents") {
			if limit == 1 {
				return []model.EpisodicHit{}, nil
			}
			continue
		}
		return nil, fmt.Errorf("%w: query: %v", model.ErrStorage, err)
	}

	hits := make([]model.EpisodicHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, model.EpisodicHit{
			Document: docFromMetadata(r.ID, r.Content, r.Metadata),
			Score:    float64(r.Similarity),
		})
	}
	return hits, nil
}

func (c *chromemIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("%w: delete: %v", model.ErrStorage, err)
	}
	return nil
}

func (c *chromemIndex) Count(_ context.Context) (int, error) {
	return c.col.Count(), nil
}

func docMetadata(d model.EpisodicDocument) map[string]string {
	return map[string]string{
		"eventId":    d.EventID,
		"userId":     d.UserID,
		"agentId":    d.AgentID,
		"importance": strconv.FormatFloat(d.Importance, 'f', -1, 64),
		"timestamp":  d.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func docFromMetadata(id, content string, meta map[string]string) model.EpisodicDocument {
	d := model.EpisodicDocument{
		ID:      id,
		Content: content,
		EventID: meta["eventId"],
		UserID:  meta["userId"],
		AgentID: meta["agentId"],
	}
	if v, err := strconv.ParseFloat(meta["importance"], 64); err == nil {
		d.Importance = v
	}
	if ts, err := time.Parse(time.RFC3339Nano, meta["timestamp"]); err == nil {
		d.Timestamp = ts
	}
	return d
}
