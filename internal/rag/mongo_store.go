package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	mongoopts "go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoOptions MongoDB Atlas Vector Search 配置
type MongoOptions struct {
	URI          string
	Namespace    string // db.collection
	IndexName    string
	TextKey      string
	EmbeddingKey string
	Dimension    int
	Timeout      time.Duration
}

// MongoStore 基于 MongoDB Atlas $vectorSearch 的向量存储
// 文档的 _id 为分块 ID，元数据字段平铺在文档顶层
type MongoStore struct {
	client       *mongo.Client
	coll         *mongo.Collection
	indexName    string
	textKey      string
	embeddingKey string
	dimension    int
}

// NewMongoStore 连接 MongoDB
func NewMongoStore(ctx context.Context, opts MongoOptions) (*MongoStore, error) {
	if opts.URI == "" {
		return nil, fmt.Errorf("mongodb uri 不能为空")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	clientOpts := mongoopts.Client().
		ApplyURI(opts.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("连接 MongoDB 失败: %w", err)
	}

	store, err := newMongoStoreWithClient(client, opts)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

func newMongoStoreWithClient(client *mongo.Client, opts MongoOptions) (*MongoStore, error) {
	db, collName, ok := strings.Cut(opts.Namespace, ".")
	if !ok || db == "" || collName == "" {
		return nil, fmt.Errorf("mongodb namespace 格式应为 <db>.<collection>: %q", opts.Namespace)
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("向量维度必须为正数")
	}
	store := &MongoStore{
		client:       client,
		coll:         client.Database(db).Collection(collName),
		indexName:    opts.IndexName,
		textKey:      opts.TextKey,
		embeddingKey: opts.EmbeddingKey,
		dimension:    opts.Dimension,
	}
	if store.indexName == "" {
		store.indexName = "vector_index"
	}
	if store.textKey == "" {
		store.textKey = "text"
	}
	if store.embeddingKey == "" {
		store.embeddingKey = "text_embedding"
	}
	return store, nil
}

// Name 后端名称
func (s *MongoStore) Name() string { return "mongodb" }

// Ping 检查主节点可达
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// EnsureIndex 不存在同名索引时创建 vectorSearch 索引
func (s *MongoStore) EnsureIndex(ctx context.Context) error {
	view := s.coll.SearchIndexes()
	cur, err := view.List(ctx, mongoopts.SearchIndexes().SetName(s.indexName))
	if err != nil {
		return fmt.Errorf("查询向量索引失败: %w", err)
	}
	exists := cur.Next(ctx)
	_ = cur.Close(ctx)
	if exists {
		return nil
	}

	model := mongo.SearchIndexModel{
		Definition: s.indexDefinition(),
		Options:    mongoopts.SearchIndexes().SetName(s.indexName).SetType("vectorSearch"),
	}
	if _, err := view.CreateOne(ctx, model); err != nil {
		return fmt.Errorf("创建向量索引失败: %w", err)
	}
	return nil
}

func (s *MongoStore) indexDefinition() bson.D {
	return bson.D{{Key: "fields", Value: bson.A{
		bson.D{
			{Key: "type", Value: "vector"},
			{Key: "path", Value: s.embeddingKey},
			{Key: "numDimensions", Value: s.dimension},
			{Key: "similarity", Value: "cosine"},
		},
	}}}
}

// AddVectors 按 _id 替换写入，已有文档被覆盖
func (s *MongoStore) AddVectors(ctx context.Context, chunks []*DocumentChunk) error {
	models := make([]mongo.WriteModel, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk == nil {
			continue
		}
		if len(chunk.Embedding) != s.dimension {
			return fmt.Errorf("向量维度不匹配: 期望 %d 实际 %d", s.dimension, len(chunk.Embedding))
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: chunk.ID}}).
			SetReplacement(s.toDocument(chunk)).
			SetUpsert(true))
	}
	if len(models) == 0 {
		return nil
	}
	if _, err := s.coll.BulkWrite(ctx, models, mongoopts.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("写入 MongoDB 失败: %w", err)
	}
	return nil
}

func (s *MongoStore) toDocument(chunk *DocumentChunk) bson.D {
	return bson.D{
		{Key: "_id", Value: chunk.ID},
		{Key: s.textKey, Value: chunk.Text},
		{Key: s.embeddingKey, Value: chunk.Embedding},
		{Key: "contentHash", Value: chunk.ContentHash},
		{Key: "filename", Value: chunk.Metadata.Filename},
		{Key: "uploadTime", Value: chunk.Metadata.UploadTime},
		{Key: "chunkIndex", Value: chunk.Metadata.ChunkIndex},
		{Key: "chunkLength", Value: chunk.Metadata.ChunkLength},
		{Key: "totalChunks", Value: chunk.Metadata.TotalChunks},
	}
}

// Search 使用 $vectorSearch 检索，候选数取 topK 的 10 倍
func (s *MongoStore) Search(ctx context.Context, queryVector []float32, topK int) ([]*RetrievalResult, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("查询向量不能为空")
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: s.indexName},
			{Key: "path", Value: s.embeddingKey},
			{Key: "queryVector", Value: queryVector},
			{Key: "numCandidates", Value: topK * 10},
			{Key: "limit", Value: topK},
		}}},
		{{Key: "$set", Value: bson.D{{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}}}}},
	}

	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("MongoDB 向量检索失败: %w", err)
	}
	defer cur.Close(ctx)

	results := make([]*RetrievalResult, 0, topK)
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("解析检索结果失败: %w", err)
		}
		results = append(results, s.fromDocument(doc))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("读取检索结果失败: %w", err)
	}
	return results, nil
}

func (s *MongoStore) fromDocument(doc bson.M) *RetrievalResult {
	chunk := &DocumentChunk{
		ID:          stringFromPayload(doc, "_id"),
		Text:        stringFromPayload(doc, s.textKey),
		ContentHash: stringFromPayload(doc, "contentHash"),
		Embedding:   toFloat32s(doc[s.embeddingKey]),
		Metadata: ChunkMetadata{
			Filename:    stringFromPayload(doc, "filename"),
			ChunkIndex:  toInt(doc["chunkIndex"]),
			ChunkLength: toInt(doc["chunkLength"]),
			TotalChunks: toInt(doc["totalChunks"]),
		},
	}
	if dt, ok := doc["uploadTime"].(primitive.DateTime); ok {
		chunk.Metadata.UploadTime = dt.Time().UTC()
	}
	score, _ := doc["score"].(float64)
	return &RetrievalResult{Chunk: chunk, Score: score}
}

func toFloat32s(v any) []float32 {
	arr, ok := v.(bson.A)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(arr))
	for _, item := range arr {
		switch n := item.(type) {
		case float64:
			out = append(out, float32(n))
		case float32:
			out = append(out, n)
		case int32:
			out = append(out, float32(n))
		case int64:
			out = append(out, float32(n))
		}
	}
	return out
}

// Close 断开连接
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
