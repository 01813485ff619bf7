package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore 进程内向量存储，用于本地开发和测试
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	chunks    map[string]*DocumentChunk
	order     []string // 写入顺序，保证同分时结果稳定
	indexed   bool
}

// NewMemoryStore 创建内存向量存储，dimension 为 0 时不校验维度
func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{
		dimension: dimension,
		chunks:    make(map[string]*DocumentChunk),
	}
}

// Name 后端名称
func (s *MemoryStore) Name() string { return "memory" }

// Ping 内存存储始终可用
func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// EnsureIndex 标记索引已就绪
func (s *MemoryStore) EnsureIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed = true
	return nil
}

// AddVectors 写入或覆盖分块
func (s *MemoryStore) AddVectors(ctx context.Context, chunks []*DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, chunk := range chunks {
		if chunk == nil {
			continue
		}
		if s.dimension > 0 && len(chunk.Embedding) != s.dimension {
			return fmt.Errorf("向量维度不匹配: 期望 %d 实际 %d", s.dimension, len(chunk.Embedding))
		}
		if _, exists := s.chunks[chunk.ID]; !exists {
			s.order = append(s.order, chunk.ID)
		}
		cp := *chunk
		cp.Embedding = append([]float32(nil), chunk.Embedding...)
		s.chunks[chunk.ID] = &cp
	}
	return nil
}

// Search 余弦相似度检索
func (s *MemoryStore) Search(ctx context.Context, queryVector []float32, topK int) ([]*RetrievalResult, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("查询向量不能为空")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	results := make([]*RetrievalResult, 0, len(s.chunks))
	for _, id := range s.order {
		chunk := s.chunks[id]
		cp := *chunk
		cp.Embedding = append([]float32(nil), chunk.Embedding...)
		results = append(results, &RetrievalResult{
			Chunk: &cp,
			Score: CosineSimilarity(queryVector, chunk.Embedding),
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Count 当前分块数量
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Indexed 索引是否已创建
func (s *MemoryStore) Indexed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexed
}

// Close 清空数据
func (s *MemoryStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = make(map[string]*DocumentChunk)
	s.order = nil
	s.indexed = false
	return nil
}
