package rag

import (
	"context"
	"errors"
	"testing"
	"time"

	"zeno/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, vectors map[string][]float32) (*Gateway, *countingStore, *fakeEmbeddingProvider) {
	t.Helper()
	store := &countingStore{MemoryStore: NewMemoryStore(0)}
	embedder := newFakeEmbedder(2, vectors)
	gw := NewGateway(store, embedder)
	require.NoError(t, gw.Open(context.Background()))
	t.Cleanup(func() { _ = gw.Close(context.Background()) })
	return gw, store, embedder
}

func testChunks(filename string, texts ...string) []*DocumentChunk {
	uploaded := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	chunks := make([]*DocumentChunk, len(texts))
	for i, text := range texts {
		chunks[i] = &DocumentChunk{
			ID:   ChunkID(filename, uploaded, i),
			Text: text,
			Metadata: ChunkMetadata{
				Filename:    filename,
				UploadTime:  uploaded,
				ChunkIndex:  i,
				ChunkLength: len([]rune(text)),
				TotalChunks: len(texts),
			},
		}
	}
	return chunks
}

func texts(results []*RetrievalResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.Text
	}
	return out
}

var biologyVectors = map[string][]float32{
	"what is photosynthesis":     {1, 0},
	"photosynthesis uses light":  {1, 0},
	"photosynthesis makes sugar": {0.98, 0.2},
	"cells divide by mitosis":    {0.6, 0.8},
	"rocks are made of minerals": {0, 1},
}

func TestGatewayRequiresOpen(t *testing.T) {
	gw := NewGateway(&countingStore{MemoryStore: NewMemoryStore(0)}, newFakeEmbedder(2, nil))
	ctx := context.Background()

	_, err := gw.Query(ctx, "anything", 2, SearchOptions{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindRetrieval, apperr.KindOf(err))

	err = gw.Upsert(ctx, testChunks("a.pdf", "text"))
	assert.Equal(t, apperr.KindRetrieval, apperr.KindOf(err))

	require.NoError(t, gw.Open(ctx))
	require.NoError(t, gw.Close(ctx))
	require.NoError(t, gw.Close(ctx))

	_, err = gw.Query(ctx, "anything", 2, SearchOptions{})
	assert.Equal(t, apperr.KindRetrieval, apperr.KindOf(err))
}

func TestGatewayOpenFailsWhenBackendUnreachable(t *testing.T) {
	gw := NewGateway(&countingStore{MemoryStore: NewMemoryStore(0)}, newFakeEmbedder(2, nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := gw.Open(ctx)
	require.Error(t, err)
	assert.Equal(t, apperr.KindRetrieval, apperr.KindOf(err))
}

func TestGatewayUpsertIsIdempotent(t *testing.T) {
	gw, store, embedder := newTestGateway(t, biologyVectors)
	ctx := context.Background()
	chunks := testChunks("bio.pdf", "photosynthesis uses light", "cells divide by mitosis")

	require.NoError(t, gw.Upsert(ctx, chunks))
	require.NoError(t, gw.Upsert(ctx, chunks))

	assert.Equal(t, 2, store.Count())
	assert.Equal(t, 1, store.ensureCalls)
	assert.Equal(t, 2, embedder.batchCalls)
	for _, c := range chunks {
		assert.Empty(t, c.Embedding, "caller chunks must not be mutated")
	}
}

func TestGatewayUpsertKeepsProvidedEmbeddings(t *testing.T) {
	gw, store, embedder := newTestGateway(t, nil)
	ctx := context.Background()
	chunks := testChunks("a.pdf", "one", "two")
	chunks[0].Embedding = []float32{0.5, 0.5}

	require.NoError(t, gw.Upsert(ctx, chunks))
	assert.Equal(t, []string{"two"}, embedder.batchTexts)
	assert.Equal(t, 2, store.Count())
}

func TestGatewayIndexCreationRetriesAfterFailure(t *testing.T) {
	gw, store, _ := newTestGateway(t, nil)
	ctx := context.Background()
	store.ensureErr = errors.New("index busy")

	err := gw.Upsert(ctx, testChunks("a.pdf", "one"))
	assert.Equal(t, apperr.KindRetrieval, apperr.KindOf(err))

	store.ensureErr = nil
	require.NoError(t, gw.Upsert(ctx, testChunks("a.pdf", "one")))
	assert.Equal(t, 2, store.ensureCalls)
}

func TestGatewayEmbeddingFailure(t *testing.T) {
	gw, store, embedder := newTestGateway(t, nil)
	embedder.err = errors.New("quota exceeded")
	ctx := context.Background()

	err := gw.Upsert(ctx, testChunks("a.pdf", "one"))
	assert.Equal(t, apperr.KindEmbedding, apperr.KindOf(err))
	assert.Equal(t, 0, store.Count())

	_, err = gw.Query(ctx, "question", 2, SearchOptions{})
	assert.Equal(t, apperr.KindEmbedding, apperr.KindOf(err))
}

func TestGatewayQueryValidation(t *testing.T) {
	gw, _, _ := newTestGateway(t, nil)
	ctx := context.Background()

	_, err := gw.Query(ctx, "   ", 2, SearchOptions{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = gw.Query(ctx, "question", 2, SearchOptions{Strategy: "hybrid"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestGatewaySimilarityQuery(t *testing.T) {
	gw, _, _ := newTestGateway(t, biologyVectors)
	ctx := context.Background()
	require.NoError(t, gw.Upsert(ctx, testChunks("bio.pdf",
		"rocks are made of minerals",
		"photosynthesis uses light",
		"cells divide by mitosis",
		"photosynthesis makes sugar",
	)))

	results, err := gw.Query(ctx, "what is photosynthesis", 2, SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"photosynthesis uses light", "photosynthesis makes sugar"}, texts(results))
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestGatewayQueryDefaultsK(t *testing.T) {
	gw, _, _ := newTestGateway(t, nil)
	ctx := context.Background()
	require.NoError(t, gw.Upsert(ctx, testChunks("a.pdf", "a", "b", "c", "d", "e", "f")))

	results, err := gw.Query(ctx, "question", 0, SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, results, defaultTopK)
}

func TestGatewayMMRQuery(t *testing.T) {
	gw, _, _ := newTestGateway(t, biologyVectors)
	ctx := context.Background()
	require.NoError(t, gw.Upsert(ctx, testChunks("bio.pdf",
		"photosynthesis uses light",
		"photosynthesis makes sugar",
		"cells divide by mitosis",
	)))

	diverse, err := gw.Query(ctx, "what is photosynthesis", 2, SearchOptions{Strategy: StrategyMMR, FetchK: 10, Lambda: 0.25})
	require.NoError(t, err)
	assert.Equal(t, []string{"photosynthesis uses light", "cells divide by mitosis"}, texts(diverse))

	similar, err := gw.Query(ctx, "what is photosynthesis", 2, SearchOptions{})
	require.NoError(t, err)

	relevanceOnly, err := gw.Query(ctx, "what is photosynthesis", 2, SearchOptions{Strategy: StrategyMMR, FetchK: 10, Lambda: 1})
	require.NoError(t, err)
	assert.Equal(t, texts(similar), texts(relevanceOnly))

	noExtraFetch, err := gw.Query(ctx, "what is photosynthesis", 2, SearchOptions{Strategy: StrategyMMR, FetchK: 2, Lambda: 0.25})
	require.NoError(t, err)
	assert.ElementsMatch(t, texts(similar), texts(noExtraFetch))
}

func TestGatewayMMRReembedsWhenBackendOmitsVectors(t *testing.T) {
	gw, store, embedder := newTestGateway(t, biologyVectors)
	ctx := context.Background()
	require.NoError(t, gw.Upsert(ctx, testChunks("bio.pdf",
		"photosynthesis uses light",
		"photosynthesis makes sugar",
		"cells divide by mitosis",
	)))
	store.dropVectors = true
	embedder.batchTexts = nil

	results, err := gw.Query(ctx, "what is photosynthesis", 2, SearchOptions{Strategy: StrategyMMR, FetchK: 3, Lambda: 0.25})
	require.NoError(t, err)
	assert.Equal(t, []string{"photosynthesis uses light", "cells divide by mitosis"}, texts(results))
	assert.Len(t, embedder.batchTexts, 3)
}

func TestGatewaySearchFailure(t *testing.T) {
	gw, store, _ := newTestGateway(t, nil)
	store.searchErr = errors.New("connection reset")

	_, err := gw.Query(context.Background(), "question", 2, SearchOptions{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindRetrieval, apperr.KindOf(err))
}

func TestGatewayQueryHonoursCancellation(t *testing.T) {
	gw, _, _ := newTestGateway(t, nil)
	require.NoError(t, gw.Upsert(context.Background(), testChunks("a.pdf", "one")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gw.Query(ctx, "question", 1, SearchOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
