package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"zeno/internal/config"
	"zeno/internal/middleware"
	"zeno/internal/rag"
	"zeno/internal/rag/ragtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	err error
}

func (s stubBackend) Ping(ctx context.Context) error { return s.err }
func (s stubBackend) Backend() string                { return "memory" }

func newTestServer(t *testing.T, backend Pinger, limiter *middleware.RateLimiter) http.Handler {
	t.Helper()
	cfg := &config.Config{Server: config.ServerConfig{Mode: "test", MaxBodyMB: 1}}
	gw := ragtest.NewGateway(t, &ragtest.Embedder{Dim: 4})
	return SetupRouter(Deps{
		Config:   cfg,
		Chat:     ragtest.NewChatPipeline(t, gw, &ragtest.ChatModel{Tokens: []string{"ok"}}),
		Ingester: rag.NewIngestor(gw, nil, rag.IngestorOptions{ChunkSize: 100, TempDir: t.TempDir()}),
		Backend:  backend,
		Limiter:  limiter,
	})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSystemEndpoints(t *testing.T) {
	h := newTestServer(t, stubBackend{}, nil)

	w := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"zeno"}`, w.Body.String())

	w = serve(h, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ready","backend":"memory"}`, w.Body.String())

	w = serve(h, httptest.NewRequest(http.MethodGet, "/api/upload", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))

	w = serve(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "zeno_api_requests_total")
}

func TestReadinessFailsWhenBackendDown(t *testing.T) {
	h := newTestServer(t, stubBackend{err: errors.New("connection refused")}, nil)

	w := serve(h, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestChatRoute(t *testing.T) {
	h := newTestServer(t, stubBackend{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(h, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestBodyLimit(t *testing.T) {
	h := newTestServer(t, stubBackend{}, nil)

	big := bytes.Repeat([]byte("a"), 2<<20)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", bytes.NewReader(big))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	w := serve(h, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, stubBackend{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := serve(h, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitAppliesToAPIOnly(t *testing.T) {
	limiter := middleware.NewRateLimiter(config.RateLimitConfig{RequestsPerSecond: 0, BurstSize: 1})
	t.Cleanup(limiter.Stop)
	h := newTestServer(t, stubBackend{}, limiter)

	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/api/upload", nil)).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, httptest.NewRequest(http.MethodGet, "/api/upload", nil)).Code)
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
}
