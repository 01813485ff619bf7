package rag

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStoreOptions RediSearch 向量索引配置
type RedisStoreOptions struct {
	IndexName string
	KeyPrefix string
	Namespace string
	Dimension int
}

// RedisStore 基于 RediSearch 的向量存储，每个分块存为一个 Hash
// 客户端需使用 RESP2 协议
type RedisStore struct {
	client    redis.UniversalClient
	index     string
	prefix    string
	namespace string
	dimension int
}

var redisReturnFields = []string{"text", "content_hash", "filename", "upload_time", "chunk_index", "chunk_length", "total_chunks", "embedding", "vector_score"}

// NewRedisStore 创建 RediSearch 向量存储，client 由调用方管理
func NewRedisStore(client redis.UniversalClient, opts RedisStoreOptions) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis 客户端不能为空")
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("向量维度必须为正数")
	}
	s := &RedisStore{
		client:    client,
		index:     opts.IndexName,
		prefix:    opts.KeyPrefix,
		namespace: opts.Namespace,
		dimension: opts.Dimension,
	}
	if s.index == "" {
		s.index = "zeno_idx"
	}
	if s.prefix == "" {
		s.prefix = "zeno:chunk:"
	}
	return s, nil
}

// Name 后端名称
func (s *RedisStore) Name() string { return "redis" }

// Ping 检查 Redis 连接
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// EnsureIndex 创建 HNSW 余弦索引，索引已存在时忽略
func (s *RedisStore) EnsureIndex(ctx context.Context) error {
	err := s.client.FTCreate(ctx, s.index,
		&redis.FTCreateOptions{OnHash: true, Prefix: []interface{}{s.prefix}},
		&redis.FieldSchema{FieldName: "text", FieldType: redis.SearchFieldTypeText},
		&redis.FieldSchema{FieldName: "namespace", FieldType: redis.SearchFieldTypeTag},
		&redis.FieldSchema{FieldName: "filename", FieldType: redis.SearchFieldTypeTag},
		&redis.FieldSchema{
			FieldName: "embedding",
			FieldType: redis.SearchFieldTypeVector,
			VectorArgs: &redis.FTVectorArgs{HNSWOptions: &redis.FTHNSWOptions{
				Type:           "FLOAT32",
				Dim:            s.dimension,
				DistanceMetric: "COSINE",
			}},
		},
	).Err()
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "index already exists") {
		return fmt.Errorf("创建 RediSearch 索引失败: %w", err)
	}
	return nil
}

// AddVectors 以分块 ID 为 key 写入 Hash，重复写入覆盖原值
func (s *RedisStore) AddVectors(ctx context.Context, chunks []*DocumentChunk) error {
	pipe := s.client.Pipeline()
	n := 0
	for _, chunk := range chunks {
		if chunk == nil {
			continue
		}
		if len(chunk.Embedding) != s.dimension {
			return fmt.Errorf("向量维度不匹配: 期望 %d 实际 %d", s.dimension, len(chunk.Embedding))
		}
		pipe.HSet(ctx, s.prefix+chunk.ID, s.hashFields(chunk))
		n++
	}
	if n == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入 Redis 失败: %w", err)
	}
	return nil
}

func (s *RedisStore) hashFields(chunk *DocumentChunk) map[string]interface{} {
	return map[string]interface{}{
		"text":         chunk.Text,
		"namespace":    s.namespace,
		"content_hash": chunk.ContentHash,
		"filename":     chunk.Metadata.Filename,
		"upload_time":  chunk.Metadata.UploadTime.UnixNano(),
		"chunk_index":  chunk.Metadata.ChunkIndex,
		"chunk_length": chunk.Metadata.ChunkLength,
		"total_chunks": chunk.Metadata.TotalChunks,
		"embedding":    encodeFloat32s(chunk.Embedding),
	}
}

// Search KNN 检索，vector_score 为余弦距离，转换为相似度 1-d
func (s *RedisStore) Search(ctx context.Context, queryVector []float32, topK int) ([]*RetrievalResult, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("查询向量不能为空")
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	returns := make([]redis.FTSearchReturn, len(redisReturnFields))
	for i, f := range redisReturnFields {
		returns[i] = redis.FTSearchReturn{FieldName: f}
	}
	res, err := s.client.FTSearchWithArgs(ctx, s.index, s.knnQuery(topK), &redis.FTSearchOptions{
		Return:         returns,
		SortBy:         []redis.FTSearchSortBy{{FieldName: "vector_score", Asc: true}},
		Limit:          topK,
		Params:         map[string]interface{}{"vec": encodeFloat32s(queryVector)},
		DialectVersion: 2,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("RediSearch 检索失败: %w", err)
	}

	results := make([]*RetrievalResult, 0, len(res.Docs))
	for _, doc := range res.Docs {
		results = append(results, s.fromFields(doc.ID, doc.Fields))
	}
	return results, nil
}

func (s *RedisStore) knnQuery(topK int) string {
	filter := "*"
	if s.namespace != "" {
		filter = "@namespace:{" + escapeTag(s.namespace) + "}"
	}
	return fmt.Sprintf("(%s)=>[KNN %d @embedding $vec AS vector_score]", filter, topK)
}

func (s *RedisStore) fromFields(key string, fields map[string]string) *RetrievalResult {
	atoi := func(k string) int {
		n, _ := strconv.Atoi(fields[k])
		return n
	}
	chunk := &DocumentChunk{
		ID:          strings.TrimPrefix(key, s.prefix),
		Text:        fields["text"],
		ContentHash: fields["content_hash"],
		Embedding:   decodeFloat32s([]byte(fields["embedding"])),
		Metadata: ChunkMetadata{
			Filename:    fields["filename"],
			ChunkIndex:  atoi("chunk_index"),
			ChunkLength: atoi("chunk_length"),
			TotalChunks: atoi("total_chunks"),
		},
	}
	if ns, err := strconv.ParseInt(fields["upload_time"], 10, 64); err == nil {
		chunk.Metadata.UploadTime = time.Unix(0, ns).UTC()
	}
	distance, _ := strconv.ParseFloat(fields["vector_score"], 64)
	return &RetrievalResult{Chunk: chunk, Score: 1 - distance}
}

// Close 客户端由调用方关闭
func (s *RedisStore) Close(ctx context.Context) error { return nil }

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// escapeTag 转义 TAG 查询中的标点与空白
func escapeTag(v string) string {
	var b strings.Builder
	for _, r := range v {
		if strings.ContainsRune(",.<>{}[]\"':;!@#$%^&*()-+=~|/\\ ", r) {
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
