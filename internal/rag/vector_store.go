package rag

import "context"

// VectorStore 抽象向量写入与检索，可由不同后端实现（MongoDB Atlas、Qdrant、Milvus、Redis、pgvector、内存）。
// 实现必须可并发调用；EnsureIndex 幂等，索引已存在时不做任何修改。
type VectorStore interface {
	// Name 后端名称，用于日志和指标
	Name() string
	// Ping 检查后端连通性
	Ping(ctx context.Context) error
	// EnsureIndex 创建集合/索引（已存在时为空操作）
	EnsureIndex(ctx context.Context) error
	// AddVectors 写入或覆盖一批已向量化的分块，ID 相同视为同一分块
	AddVectors(ctx context.Context, chunks []*DocumentChunk) error
	// Search 按相似度返回 topK 个结果，按分数降序；能取回向量时填充 Chunk.Embedding
	Search(ctx context.Context, queryVector []float32, topK int) ([]*RetrievalResult, error)
	// Close 释放连接
	Close(ctx context.Context) error
}
