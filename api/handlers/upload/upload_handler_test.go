package upload

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"zeno/internal/rag"
	"zeno/internal/rag/ragtest"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type part struct {
	field, name, content string
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gw := ragtest.NewGateway(t, &ragtest.Embedder{Dim: 4})
	in := rag.NewIngestor(gw, nil, rag.IngestorOptions{ChunkSize: 200, ChunkOverlap: 20, TempDir: t.TempDir()})
	h := NewHandler(in)

	r := gin.New()
	r.POST("/api/upload", h.Upload)
	r.GET("/api/upload", h.Ready)
	return r
}

func postFiles(t *testing.T, r *gin.Engine, parts ...part) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		fw, err := mw.CreateFormFile(p.field, p.name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(p.content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("note", "unit 3"))
	require.NoError(t, mw.Close())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	r.ServeHTTP(w, req)
	return w
}

func TestUploadPartialSuccess(t *testing.T) {
	r := newTestRouter(t)

	w := postFiles(t, r,
		part{"file", "lesson.txt", "Photosynthesis converts light into chemical energy in plants."},
		part{"files", "broken.pdf", "definitely not a pdf"},
	)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Document processed successfully", resp.Message)
	assert.Equal(t, 1, resp.Details.FilesProcessed)
	assert.Equal(t, 1, resp.Details.TotalChunks)
	require.Len(t, resp.Details.Files, 1)
	assert.Equal(t, "lesson.txt", resp.Details.Files[0].Filename)
	require.Len(t, resp.Details.Failed, 1)
	assert.Equal(t, "broken.pdf", resp.Details.Failed[0].Filename)
	assert.Equal(t, "extraction_error", string(resp.Details.Failed[0].Kind))
}

func TestUploadAllFilesFailed(t *testing.T) {
	r := newTestRouter(t)

	w := postFiles(t, r, part{"file", "slides.pptx", "binary"})
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Error processing document", resp.Error)
	require.NotNil(t, resp.Details)
	assert.Len(t, resp.Details.Failed, 1)
}

func TestUploadWithoutFile(t *testing.T) {
	r := newTestRouter(t)

	w := postFiles(t, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"No file provided"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/upload", bytes.NewBufferString("plain body")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadReady(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/upload", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Upload endpoint ready"}`, w.Body.String())
}
