package rag

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	APIKey string
}

func newQdrantTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: string(body), APIKey: r.Header.Get("api-key")})
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

func newTestQdrantStore(t *testing.T, server *httptest.Server) *QdrantStore {
	t.Helper()
	store, err := NewQdrantStore(QdrantOptions{
		Endpoint:        server.URL + "/",
		APIKey:          "secret",
		Collection:      "ut_collection",
		Namespace:       "pdf-docs",
		VectorDimension: 2,
		HTTPClient:      server.Client(),
	})
	require.NoError(t, err)
	return store
}

func TestNewQdrantStoreRequiresEndpoint(t *testing.T) {
	_, err := NewQdrantStore(QdrantOptions{})
	assert.Error(t, err)
}

func TestQdrantStoreAddVectors(t *testing.T) {
	server, reqs := newQdrantTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	store := newTestQdrantStore(t, server)

	chunks := testChunks("bio.pdf", "hello")
	chunks[0].Embedding = []float32{0.1, 0.2}
	require.NoError(t, store.AddVectors(context.Background(), chunks))

	require.Len(t, reqs(), 1)
	req := reqs()[0]
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/collections/ut_collection/points", req.Path)
	assert.Equal(t, "secret", req.APIKey)

	var body struct {
		Points []struct {
			ID      string         `json:"id"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	require.NoError(t, json.Unmarshal([]byte(req.Body), &body))
	require.Len(t, body.Points, 1)
	assert.Equal(t, chunks[0].ID, body.Points[0].ID)
	assert.Equal(t, "hello", body.Points[0].Payload["text"])
	assert.Equal(t, "pdf-docs", body.Points[0].Payload["namespace"])
	assert.Equal(t, "bio.pdf", body.Points[0].Payload["filename"])
}

func TestQdrantStoreRejectsWrongDimension(t *testing.T) {
	server, reqs := newQdrantTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	store := newTestQdrantStore(t, server)

	chunks := testChunks("bio.pdf", "hello")
	chunks[0].Embedding = []float32{0.1, 0.2, 0.3}
	assert.Error(t, store.AddVectors(context.Background(), chunks))
	assert.Empty(t, reqs())
}

func TestQdrantStoreSearch(t *testing.T) {
	server, reqs := newQdrantTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","result":[{"id":"chunk-1","score":0.9,"vector":[0.1,0.2],"payload":{"text":"world","filename":"bio.pdf","upload_time":"2024-03-01T10:00:00Z","chunk_index":1,"total_chunks":3}}]}`))
	})
	store := newTestQdrantStore(t, server)

	results, err := store.Search(context.Background(), []float32{0.1, 0.2}, 3)
	require.NoError(t, err)
	require.Len(t, results, 1)

	got := results[0]
	assert.Equal(t, "chunk-1", got.Chunk.ID)
	assert.Equal(t, "world", got.Chunk.Text)
	assert.Equal(t, []float32{0.1, 0.2}, got.Chunk.Embedding)
	assert.Equal(t, 1, got.Chunk.Metadata.ChunkIndex)
	assert.Equal(t, 3, got.Chunk.Metadata.TotalChunks)
	assert.Equal(t, 2024, got.Chunk.Metadata.UploadTime.Year())
	assert.InDelta(t, 0.9, got.Score, 1e-9)

	req := reqs()[0]
	assert.Equal(t, "/collections/ut_collection/points/search", req.Path)
	assert.True(t, strings.Contains(req.Body, `"with_vector":true`))
	assert.True(t, strings.Contains(req.Body, `"pdf-docs"`))
}

func TestQdrantStoreEnsureIndexCreatesMissingCollection(t *testing.T) {
	server, reqs := newQdrantTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":{"error":"Not found"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	store := newTestQdrantStore(t, server)

	require.NoError(t, store.EnsureIndex(context.Background()))
	require.Len(t, reqs(), 3)
	assert.Equal(t, http.MethodPut, reqs()[1].Method)
	assert.Contains(t, reqs()[1].Body, `"size":2`)
	assert.Equal(t, "/collections/ut_collection/index", reqs()[2].Path)
}

func TestQdrantStoreEnsureIndexKeepsExistingCollection(t *testing.T) {
	server, reqs := newQdrantTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	store := newTestQdrantStore(t, server)

	require.NoError(t, store.EnsureIndex(context.Background()))
	assert.Len(t, reqs(), 1)
}

func TestQdrantStoreEnsureIndexPropagatesServerError(t *testing.T) {
	server, _ := newQdrantTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	store := newTestQdrantStore(t, server)

	assert.Error(t, store.EnsureIndex(context.Background()))
}

func TestQdrantStorePing(t *testing.T) {
	server, _ := newQdrantTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","result":{"collections":[]}}`))
	})
	store := newTestQdrantStore(t, server)
	assert.NoError(t, store.Ping(context.Background()))

	store.apiKey = "wrong"
	assert.Error(t, store.Ping(context.Background()))
}
