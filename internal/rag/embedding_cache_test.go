package rag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedEmbeddingProviderSkipsCachedTexts(t *testing.T) {
	ctx := context.Background()
	inner := newFakeEmbedder(3, nil)
	provider := NewCachedEmbeddingProvider(inner, NewEmbeddingCache(nil, "", time.Minute))

	first, err := provider.EmbedBatch(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)

	second, err := provider.EmbedBatch(ctx, []string{"beta", "gamma", "alpha"})
	require.NoError(t, err)

	assert.Equal(t, first[1], second[0])
	assert.Equal(t, first[0], second[2])
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, inner.batchTexts)
	assert.Equal(t, 2, inner.batchCalls)

	vec, err := provider.Embed(ctx, "gamma")
	require.NoError(t, err)
	assert.Equal(t, second[1], vec)
	assert.Equal(t, 0, inner.embedCalls)
}

func TestCachedEmbeddingProviderIsKeyedByModel(t *testing.T) {
	cache := NewEmbeddingCache(nil, "test:", time.Minute)
	require.NoError(t, cache.Set(context.Background(), "alpha", "model-a", []float32{1}))

	_, ok := cache.Get(context.Background(), "alpha", "model-b")
	assert.False(t, ok)
	vec, ok := cache.Get(context.Background(), "alpha", "model-a")
	assert.True(t, ok)
	assert.Equal(t, []float32{1}, vec)
}

func TestCachedEmbeddingProviderDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	inner := newFakeEmbedder(2, nil)
	inner.err = assert.AnError
	provider := NewCachedEmbeddingProvider(inner, NewEmbeddingCache(nil, "", time.Minute))

	_, err := provider.Embed(ctx, "alpha")
	require.Error(t, err)

	inner.err = nil
	_, err = provider.Embed(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.embedCalls)
	assert.Equal(t, "fake-embedding", provider.GetModel())
}

func TestEmbeddingCacheEvictsWhenFull(t *testing.T) {
	cache := NewEmbeddingCache(nil, "", time.Minute)
	cache.maxLocal = 4
	ctx := context.Background()
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, cache.Set(ctx, text, "m", []float32{1}))
	}
	assert.LessOrEqual(t, cache.localLen(), 4)
	_, ok := cache.Get(ctx, "e", "m")
	assert.True(t, ok)
}
