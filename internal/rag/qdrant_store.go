package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// QdrantOptions 初始化 Qdrant 向量存储的配置
type QdrantOptions struct {
	Endpoint        string
	APIKey          string
	Collection      string
	Namespace       string
	VectorDimension int
	Distance        string
	TimeoutSeconds  int
	HTTPClient      *http.Client
}

// QdrantStore 基于 Qdrant HTTP API 的向量存储实现
// 同一集合内按 payload.namespace 隔离不同数据集
type QdrantStore struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	collection string
	namespace  string
	vectorSize int
	distance   string
}

// NewQdrantStore 创建 Qdrant 向量存储实例，不发起网络请求
func NewQdrantStore(opts QdrantOptions) (*QdrantStore, error) {
	baseURL := strings.TrimSpace(opts.Endpoint)
	if baseURL == "" {
		return nil, fmt.Errorf("qdrant endpoint 不能为空")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	collection := opts.Collection
	if collection == "" {
		collection = "zeno"
	}
	vectorSize := opts.VectorDimension
	if vectorSize <= 0 {
		vectorSize = 1536
	}
	distance := opts.Distance
	if distance == "" {
		distance = "Cosine"
	}
	timeout := opts.TimeoutSeconds
	if timeout <= 0 {
		timeout = 10
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: time.Duration(timeout) * time.Second}
	}

	return &QdrantStore{
		client:     client,
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		collection: collection,
		namespace:  opts.Namespace,
		vectorSize: vectorSize,
		distance:   distance,
	}, nil
}

// Name 后端名称
func (s *QdrantStore) Name() string { return "qdrant" }

// Ping 列出集合以确认服务可用且鉴权通过
func (s *QdrantStore) Ping(ctx context.Context) error {
	var resp qdrantOperationResponse
	if err := s.doRequest(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("qdrant 状态异常: %s", resp.Error)
	}
	return nil
}

// EnsureIndex 集合不存在时创建集合，并为 namespace 建立 keyword 索引
func (s *QdrantStore) EnsureIndex(ctx context.Context) error {
	var resp qdrantOperationResponse
	err := s.doRequest(ctx, http.MethodGet, s.collectionPath(""), nil, &resp)
	if err == nil && resp.Status == "ok" {
		return nil
	}
	if err != nil && !isQdrantNotFound(err) {
		return err
	}

	createReq := createCollectionRequest{
		Vectors: qdrantVectorParams{Size: s.vectorSize, Distance: s.distance},
	}
	if err := s.doRequest(ctx, http.MethodPut, s.collectionPath(""), createReq, &resp); err != nil {
		return fmt.Errorf("创建 Qdrant 集合失败: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("创建 Qdrant 集合失败: %s", resp.Error)
	}

	indexReq := createFieldIndexRequest{FieldName: "namespace", FieldSchema: "keyword"}
	if err := s.doRequest(ctx, http.MethodPut, s.collectionPath("/index?wait=true"), indexReq, &resp); err != nil {
		return fmt.Errorf("创建 Qdrant payload 索引失败: %w", err)
	}
	return nil
}

// AddVectors 写入或更新一批分块，点 ID 即分块 ID
func (s *QdrantStore) AddVectors(ctx context.Context, chunks []*DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]qdrantPoint, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk == nil {
			continue
		}
		if len(chunk.Embedding) != s.vectorSize {
			return fmt.Errorf("向量维度不匹配: 期望 %d 实际 %d", s.vectorSize, len(chunk.Embedding))
		}
		points = append(points, qdrantPoint{
			ID:      chunk.ID,
			Vector:  chunk.Embedding,
			Payload: s.payloadFor(chunk),
		})
	}

	var resp qdrantOperationResponse
	if err := s.doRequest(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), upsertPointsRequest{Points: points}, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("qdrant upsert 失败: %s", resp.Error)
	}
	return nil
}

// Search 在当前命名空间内执行相似度检索，同时取回向量
func (s *QdrantStore) Search(ctx context.Context, queryVector []float32, topK int) ([]*RetrievalResult, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("查询向量不能为空")
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	req := searchRequest{
		Vector:      queryVector,
		Limit:       topK,
		WithPayload: true,
		WithVector:  true,
		Filter:      mustMatchFilter(map[string]string{"namespace": s.namespace}),
	}
	var resp searchResponse
	if err := s.doRequest(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("qdrant search 失败: %s", resp.Error)
	}

	results := make([]*RetrievalResult, 0, len(resp.Result))
	for _, item := range resp.Result {
		chunk := chunkFromPayload(fmt.Sprint(item.ID), item.Payload)
		chunk.Embedding = item.Vector
		results = append(results, &RetrievalResult{Chunk: chunk, Score: item.Score})
	}
	return results, nil
}

// Close 释放空闲连接
func (s *QdrantStore) Close(ctx context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *QdrantStore) payloadFor(chunk *DocumentChunk) map[string]any {
	payload := map[string]any{
		"text":         chunk.Text,
		"content_hash": chunk.ContentHash,
		"filename":     chunk.Metadata.Filename,
		"upload_time":  chunk.Metadata.UploadTime.UTC().Format(time.RFC3339Nano),
		"chunk_index":  chunk.Metadata.ChunkIndex,
		"chunk_length": chunk.Metadata.ChunkLength,
		"total_chunks": chunk.Metadata.TotalChunks,
	}
	if s.namespace != "" {
		payload["namespace"] = s.namespace
	}
	return payload
}

func chunkFromPayload(id string, payload map[string]any) *DocumentChunk {
	uploaded, _ := time.Parse(time.RFC3339Nano, stringFromPayload(payload, "upload_time"))
	return &DocumentChunk{
		ID:          id,
		Text:        stringFromPayload(payload, "text"),
		ContentHash: stringFromPayload(payload, "content_hash"),
		Metadata: ChunkMetadata{
			Filename:    stringFromPayload(payload, "filename"),
			UploadTime:  uploaded,
			ChunkIndex:  toInt(payload["chunk_index"]),
			ChunkLength: toInt(payload["chunk_length"]),
			TotalChunks: toInt(payload["total_chunks"]),
		},
	}
}

func (s *QdrantStore) collectionPath(path string) string {
	return fmt.Sprintf("/collections/%s%s", url.PathEscape(s.collection), path)
}

// qdrantStatusError 携带 HTTP 状态码，便于区分集合不存在
type qdrantStatusError struct {
	StatusCode int
	Status     string
}

func (e *qdrantStatusError) Error() string {
	return fmt.Sprintf("qdrant API 错误: %s (%d)", e.Status, e.StatusCode)
}

func isQdrantNotFound(err error) bool {
	se, ok := err.(*qdrantStatusError)
	return ok && se.StatusCode == http.StatusNotFound
}

func (s *QdrantStore) doRequest(ctx context.Context, method, path string, payload any, dest any) error {
	var bodyReader *bytes.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		bodyReader = bytes.NewReader(buf)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Status any `json:"status"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return &qdrantStatusError{StatusCode: resp.StatusCode, Status: fmt.Sprint(errBody.Status)}
	}
	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

func mustMatchFilter(values map[string]string) *qdrantFilter {
	must := make([]fieldCondition, 0, len(values))
	for k, v := range values {
		if v == "" {
			continue
		}
		must = append(must, fieldCondition{Key: k, Match: fieldMatch{Value: v}})
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrantFilter{Must: must}
}

func stringFromPayload(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	case string:
		var iv int
		fmt.Sscanf(n, "%d", &iv)
		return iv
	default:
		return 0
	}
}

// Qdrant API payloads

type qdrantVectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type createCollectionRequest struct {
	Vectors qdrantVectorParams `json:"vectors"`
}

type createFieldIndexRequest struct {
	FieldName   string `json:"field_name"`
	FieldSchema string `json:"field_schema"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type upsertPointsRequest struct {
	Points []qdrantPoint `json:"points"`
}

type fieldCondition struct {
	Key   string     `json:"key"`
	Match fieldMatch `json:"match"`
}

type fieldMatch struct {
	Value any `json:"value"`
}

type qdrantFilter struct {
	Must []fieldCondition `json:"must,omitempty"`
}

type searchRequest struct {
	Vector      []float32     `json:"vector"`
	Limit       int           `json:"limit"`
	WithPayload bool          `json:"with_payload"`
	WithVector  bool          `json:"with_vector"`
	Filter      *qdrantFilter `json:"filter,omitempty"`
}

type searchResponse struct {
	Status string              `json:"status"`
	Result []searchResultEntry `json:"result"`
	Error  string              `json:"error"`
}

type searchResultEntry struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  []float32      `json:"vector"`
}

type qdrantOperationResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}
