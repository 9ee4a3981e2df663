package vectorindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	weaviate "github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/marketmind/memoryd/internal/model"
)

// fakeWeaviate serves just enough of the REST surface for the client to
// resolve the server version and answer object deletes with a fixed status.
func fakeWeaviate(t *testing.T, deleteStatus int) *weavIndex {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/meta", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"version": "1.27.0"})
	})
	mux.HandleFunc("/v1/objects/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(deleteStatus)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cl, err := weaviate.NewClient(weaviate.Config{Scheme: "http", Host: strings.TrimPrefix(srv.URL, "http://")})
	require.NoError(t, err)
	return &weavIndex{client: cl, emb: &fakeEmbedder{}}
}

func TestWeaviateDeleteSucceeds(t *testing.T) {
	idx := fakeWeaviate(t, http.StatusNoContent)
	assert.NoError(t, idx.Delete(context.Background(), nil))
	assert.NoError(t, idx.Delete(context.Background(), []string{"evt-1", "evt-2"}))
}

func TestWeaviateDeleteIgnoresAbsentObjects(t *testing.T) {
	idx := fakeWeaviate(t, http.StatusNotFound)
	assert.NoError(t, idx.Delete(context.Background(), []string{"evt-1"}))
}

func TestWeaviateDeleteSurfacesTransportFailure(t *testing.T) {
	idx := fakeWeaviate(t, http.StatusInternalServerError)
	err := idx.Delete(context.Background(), []string{"evt-1"})
	assert.ErrorIs(t, err, model.ErrStorage)
}
