package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"zeno/internal/logger"
	"zeno/internal/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EmbeddingCache 向量缓存：进程内 L1 + Redis L2，键由模型名和文本哈希组成
type EmbeddingCache struct {
	redis    redis.UniversalClient
	prefix   string
	ttl      time.Duration
	maxLocal int

	mu    sync.Mutex
	local map[string][]float32
}

// cachedEmbedding Redis 中保存的值
type cachedEmbedding struct {
	Vector    []float32 `json:"vector"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewEmbeddingCache 创建向量缓存，redisClient 为 nil 时只使用本地缓存
func NewEmbeddingCache(redisClient redis.UniversalClient, prefix string, ttl time.Duration) *EmbeddingCache {
	if prefix == "" {
		prefix = "zeno:emb:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EmbeddingCache{
		redis:    redisClient,
		prefix:   prefix,
		ttl:      ttl,
		maxLocal: 10000,
		local:    make(map[string][]float32),
	}
}

// Get 读取单条缓存
func (c *EmbeddingCache) Get(ctx context.Context, text, model string) ([]float32, bool) {
	vectors, _ := c.GetBatch(ctx, []string{text}, model)
	return vectors[0], vectors[0] != nil
}

// GetBatch 批量读取缓存，未命中的位置为 nil，并返回其下标
// Redis 查询通过一次 pipeline 完成，Redis 不可用时按未命中处理
func (c *EmbeddingCache) GetBatch(ctx context.Context, texts []string, model string) ([][]float32, []int) {
	vectors := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var pending []int

	c.mu.Lock()
	for i, text := range texts {
		keys[i] = c.key(text, model)
		if vec, ok := c.local[keys[i]]; ok {
			vectors[i] = vec
			metrics.EmbeddingCacheHits.WithLabelValues("local").Inc()
			continue
		}
		pending = append(pending, i)
	}
	c.mu.Unlock()

	if c.redis == nil || len(pending) == 0 {
		return vectors, pending
	}

	pipe := c.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(pending))
	for j, i := range pending {
		cmds[j] = pipe.Get(ctx, keys[i])
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		logger.WithContext(ctx).Warn("读取向量缓存失败", zap.Error(err))
		return vectors, pending
	}

	var missing []int
	for j, i := range pending {
		data, err := cmds[j].Bytes()
		var cached cachedEmbedding
		if err != nil || json.Unmarshal(data, &cached) != nil || len(cached.Vector) == 0 {
			missing = append(missing, i)
			continue
		}
		vectors[i] = cached.Vector
		c.storeLocal(keys[i], cached.Vector)
		metrics.EmbeddingCacheHits.WithLabelValues("redis").Inc()
	}
	return vectors, missing
}

// Set 写入单条缓存
func (c *EmbeddingCache) Set(ctx context.Context, text, model string, vector []float32) error {
	return c.SetBatch(ctx, []string{text}, model, [][]float32{vector})
}

// SetBatch 批量写入缓存，本地立即生效，Redis 通过一次 pipeline 写入
func (c *EmbeddingCache) SetBatch(ctx context.Context, texts []string, model string, vectors [][]float32) error {
	if len(texts) != len(vectors) {
		return fmt.Errorf("文本与向量数量不一致: %d != %d", len(texts), len(vectors))
	}
	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = c.key(text, model)
		c.storeLocal(keys[i], vectors[i])
	}
	if c.redis == nil || len(keys) == 0 {
		return nil
	}

	now := time.Now()
	pipe := c.redis.Pipeline()
	for i, key := range keys {
		data, err := json.Marshal(cachedEmbedding{Vector: vectors[i], Model: model, CreatedAt: now})
		if err != nil {
			return fmt.Errorf("序列化向量失败: %w", err)
		}
		pipe.Set(ctx, key, data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入 Redis 向量缓存失败: %w", err)
	}
	return nil
}

func (c *EmbeddingCache) key(text, model string) string {
	sum := sha256.Sum256([]byte(text))
	return c.prefix + model + ":" + hex.EncodeToString(sum[:16])
}

// storeLocal 写入本地缓存，达到上限时随机淘汰一半
func (c *EmbeddingCache) storeLocal(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.local[key]; !ok && len(c.local) >= c.maxLocal {
		drop := len(c.local) / 2
		for k := range c.local {
			if drop == 0 {
				break
			}
			delete(c.local, k)
			drop--
		}
	}
	c.local[key] = vector
}

func (c *EmbeddingCache) localLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.local)
}

// CachedEmbeddingProvider 带缓存的 Embedding 提供者包装器
type CachedEmbeddingProvider struct {
	provider EmbeddingProvider
	cache    *EmbeddingCache
}

// NewCachedEmbeddingProvider 创建带缓存的 Embedding 提供者
func NewCachedEmbeddingProvider(provider EmbeddingProvider, cache *EmbeddingCache) *CachedEmbeddingProvider {
	return &CachedEmbeddingProvider{
		provider: provider,
		cache:    cache,
	}
}

// Embed 单条向量化 (带缓存)
func (p *CachedEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	model := p.provider.GetModel()
	if vec, ok := p.cache.Get(ctx, text, model); ok {
		return vec, nil
	}

	vec, err := p.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := p.cache.Set(ctx, text, model, vec); err != nil {
		logger.WithContext(ctx).Warn("写入向量缓存失败", zap.Error(err))
	}
	return vec, nil
}

// EmbedBatch 批量向量化，只对未命中的文本调用上游
func (p *CachedEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	model := p.provider.GetModel()
	result, missing := p.cache.GetBatch(ctx, texts, model)
	if len(missing) == 0 {
		return result, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = texts[i]
	}
	vectors, err := p.provider.EmbedBatch(ctx, pending)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(pending) {
		return nil, fmt.Errorf("向量数量不匹配: 期望%d, 实际%d", len(pending), len(vectors))
	}
	if err := p.cache.SetBatch(ctx, pending, model, vectors); err != nil {
		logger.WithContext(ctx).Warn("写入向量缓存失败", zap.Error(err))
	}
	for j, i := range missing {
		result[i] = vectors[j]
	}
	return result, nil
}

// GetModel 获取模型名称
func (p *CachedEmbeddingProvider) GetModel() string {
	return p.provider.GetModel()
}

// GetProviderName 获取提供者名称
func (p *CachedEmbeddingProvider) GetProviderName() string {
	return p.provider.GetProviderName()
}
