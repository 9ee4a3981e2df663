package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	weaviate "github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	gql "github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/marketmind/memoryd/internal/embeddings"
	"github.com/marketmind/memoryd/internal/model"
)

const weaviateClass = "EpisodicDocument"

// weavIndex is an Index backed by a Weaviate instance for deployments that
// already run one. Vectors are supplied by the service; the class is created
// with vectorizer "none".
type weavIndex struct {
	client *weaviate.Client
	emb    embeddings.Provider
}

// NewWeaviateIndex constructs an Index backed by Weaviate at baseURL
// (host:port without scheme) and ensures the episodic class exists.
func NewWeaviateIndex(ctx context.Context, baseURL string, emb embeddings.Provider) (Index, error) {
	cfg := weaviate.Config{Scheme: "http", Host: baseURL}
	cl, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: weaviate client: %v", model.ErrStorage, err)
	}
	if err := ensureClass(ctx, cl); err != nil {
		return nil, fmt.Errorf("%w: bootstrap %s: %v", model.ErrStorage, weaviateClass, err)
	}
	return &weavIndex{client: cl, emb: emb}, nil
}

// ensureClass creates the episodic class when missing. Vectors are computed
// by the service, so the class vectorizer stays "none".
func ensureClass(ctx context.Context, cl *weaviate.Client) error {
	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	ex, err := cl.Schema().ClassGetter().WithClassName(weaviateClass).Do(cctx)
	if err == nil && ex != nil {
		return nil
	}

	desired := &models.Class{
		Class:      weaviateClass,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "docId", DataType: []string{"text"}},
			{Name: "eventId", DataType: []string{"text"}},
			{Name: "userId", DataType: []string{"text"}},
			{Name: "agentId", DataType: []string{"text"}},
			{Name: "content", DataType: []string{"text"}},
			{Name: "importance", DataType: []string{"number"}},
			{Name: "timestamp", DataType: []string{"date"}},
		},
	}
	if err := cl.Schema().ClassCreator().WithClass(desired).Do(cctx); err != nil {
		return fmt.Errorf("create class %s: %w", weaviateClass, err)
	}
	return nil
}

// objectID derives a stable Weaviate UUID from the document ID so re-adding
// the same document replaces it instead of duplicating.
func objectID(docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(docID)).String()
}

func (w *weavIndex) Add(ctx context.Context, docs []model.EpisodicDocument) error {
	if len(docs) == 0 {
		return nil
	}
	var objs []*models.Object
	for _, d := range docs {
		vec := d.Embedding
		if len(vec) == 0 {
			var err error
			vec, err = w.emb.Embed(ctx, d.Content)
			if err != nil {
				return fmt.Errorf("%w: embed document %s: %v", model.ErrStorage, d.ID, err)
			}
		}
		props := map[string]interface{}{
			"docId":      d.ID,
			"eventId":    d.EventID,
			"userId":     d.UserID,
			"agentId":    d.AgentID,
			"content":    d.Content,
			"importance": d.Importance,
			"timestamp":  d.Timestamp.UTC().Format(time.RFC3339Nano),
		}
		objs = append(objs, &models.Object{
			Class:      weaviateClass,
			ID:         strfmt.UUID(objectID(d.ID)),
			Properties: props,
			Vector:     vec,
		})
	}
	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objs...).Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: weaviate batch: %v", model.ErrStorage, err)
	}
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("%w: weaviate batch object: %s", model.ErrStorage, obj.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (w *weavIndex) Query(ctx context.Context, userID, agentID, query string, topK int) ([]model.EpisodicHit, error) {
	if topK <= 0 {
		topK = 5
	}
	vec, err := w.emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", model.ErrStorage, err)
	}
	if len(vec) == 0 || zeroVector(vec) {
		log.Warn().Str("userId", userID).Msg("degenerate query embedding, returning empty episodic result")
		return []model.EpisodicHit{}, nil
	}

	where := filters.Where().WithOperator(filters.And).WithOperands([]*filters.WhereBuilder{
		filters.Where().WithPath([]string{"userId"}).WithOperator(filters.Equal).WithValueText(userID),
		filters.Where().WithPath([]string{"agentId"}).WithOperator(filters.Equal).WithValueText(agentID),
	})

	nv := w.client.GraphQL().NearVectorArgBuilder().WithVector(vec)
	req := w.client.GraphQL().Get().
		WithClassName(weaviateClass).
		WithWhere(where).
		WithNearVector(nv).
		WithLimit(topK).
		WithFields(
			gql.Field{Name: "docId"},
			gql.Field{Name: "eventId"},
			gql.Field{Name: "userId"},
			gql.Field{Name: "agentId"},
			gql.Field{Name: "content"},
			gql.Field{Name: "importance"},
			gql.Field{Name: "timestamp"},
			gql.Field{Name: "_additional", Fields: []gql.Field{{Name: "certainty"}}},
		)

	resp, err := req.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: weaviate query: %v", model.ErrStorage, err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: weaviate graphql: %s", model.ErrStorage, resp.Errors[0].Message)
	}

	getData, ok := resp.Data["Get"].(map[string]any)
	if !ok {
		return []model.EpisodicHit{}, nil
	}
	raw, ok := getData[weaviateClass].([]any)
	if !ok || raw == nil {
		return []model.EpisodicHit{}, nil
	}

	safeString := func(v any) string {
		s, _ := v.(string)
		return s
	}

	out := make([]model.EpisodicHit, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		var score float64
		if add, ok := m["_additional"].(map[string]any); ok {
			switch v := add["certainty"].(type) {
			case float64:
				score = v
			case string:
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					score = f
				}
			}
		}
		doc := model.EpisodicDocument{
			ID:      safeString(m["docId"]),
			Content: safeString(m["content"]),
			EventID: safeString(m["eventId"]),
			UserID:  safeString(m["userId"]),
			AgentID: safeString(m["agentId"]),
		}
		if f, ok := m["importance"].(float64); ok {
			doc.Importance = f
		}
		if ts, err := time.Parse(time.RFC3339Nano, safeString(m["timestamp"])); err == nil {
			doc.Timestamp = ts
		}
		out = append(out, model.EpisodicHit{Document: doc, Score: score})
	}
	return out, nil
}

func (w *weavIndex) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		err := w.client.Data().Deleter().
			WithClassName(weaviateClass).
			WithID(objectID(id)).
			Do(ctx)
		if err == nil {
			continue
		}
		// Unknown IDs are ignored per the Index contract; anything else is
		// a real failure the caller must see.
		var clientErr *fault.WeaviateClientError
		if errors.As(err, &clientErr) && clientErr.StatusCode == http.StatusNotFound {
			log.Debug().Str("docId", id).Msg("weaviate delete: object absent")
			continue
		}
		return fmt.Errorf("%w: weaviate delete %s: %v", model.ErrStorage, id, err)
	}
	return nil
}

func (w *weavIndex) Count(ctx context.Context) (int, error) {
	resp, err := w.client.GraphQL().Aggregate().
		WithClassName(weaviateClass).
		WithFields(gql.Field{Name: "meta", Fields: []gql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: weaviate aggregate: %v", model.ErrStorage, err)
	}
	if len(resp.Errors) > 0 {
		return 0, fmt.Errorf("%w: weaviate aggregate: %s", model.ErrStorage, resp.Errors[0].Message)
	}
	agg, ok := resp.Data["Aggregate"].(map[string]any)
	if !ok {
		return 0, nil
	}
	rows, ok := agg[weaviateClass].([]any)
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	row, ok := rows[0].(map[string]any)
	if !ok {
		return 0, nil
	}
	meta, ok := row["meta"].(map[string]any)
	if !ok {
		return 0, nil
	}
	if f, ok := meta["count"].(float64); ok {
		return int(f), nil
	}
	return 0, nil
}

// HealthPing verifies the Weaviate instance is reachable and ready.
func (w *weavIndex) HealthPing(ctx context.Context) error {
	ready, err := w.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return err
	}
	if !ready {
		return fmt.Errorf("weaviate not ready")
	}
	return nil
}
