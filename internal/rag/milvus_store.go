package rag

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
)

// milvus 集合字段
const (
	milvusFieldID          = "id"
	milvusFieldEmbedding   = "embedding"
	milvusFieldText        = "text"
	milvusFieldNamespace   = "namespace"
	milvusFieldFilename    = "filename"
	milvusFieldHash        = "content_hash"
	milvusFieldUploadTime  = "upload_time"
	milvusFieldChunkIndex  = "chunk_index"
	milvusFieldChunkLength = "chunk_length"
	milvusFieldTotalChunks = "total_chunks"
)

var milvusOutputFields = []string{
	milvusFieldEmbedding, milvusFieldText, milvusFieldFilename, milvusFieldHash,
	milvusFieldUploadTime, milvusFieldChunkIndex, milvusFieldChunkLength, milvusFieldTotalChunks,
}

// MilvusOptions Milvus 连接与集合配置
type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	DBName     string
	Collection string
	Namespace  string
	Dimension  int
	Timeout    time.Duration
}

// MilvusStore 基于 Milvus 的向量存储，主键为分块 ID
type MilvusStore struct {
	client     *milvusclient.Client
	collection string
	namespace  string
	dimension  int
}

// NewMilvusStore 连接 Milvus
func NewMilvusStore(ctx context.Context, opts MilvusOptions) (*MilvusStore, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("milvus address 不能为空")
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("向量维度必须为正数")
	}
	collection := opts.Collection
	if collection == "" {
		collection = "zeno"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	c, err := milvusclient.New(connectCtx, &milvusclient.ClientConfig{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
		DBName:   opts.DBName,
	})
	if err != nil {
		return nil, fmt.Errorf("连接 Milvus 失败: %w", err)
	}

	return &MilvusStore{
		client:     c,
		collection: collection,
		namespace:  opts.Namespace,
		dimension:  opts.Dimension,
	}, nil
}

// Name 后端名称
func (s *MilvusStore) Name() string { return "milvus" }

// Ping 列出集合确认连接可用
func (s *MilvusStore) Ping(ctx context.Context) error {
	_, err := s.client.ListCollections(ctx, milvusclient.NewListCollectionOption())
	return err
}

// EnsureIndex 集合不存在时建表、建 HNSW 余弦索引，并加载到内存
func (s *MilvusStore) EnsureIndex(ctx context.Context) error {
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.collection))
	if err != nil {
		return fmt.Errorf("检查集合失败: %w", err)
	}
	if !exists {
		if err := s.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(s.collection, s.schema())); err != nil {
			return fmt.Errorf("创建集合失败: %w", err)
		}
		idx := index.NewHNSWIndex(entity.COSINE, 16, 200)
		task, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(s.collection, milvusFieldEmbedding, idx))
		if err != nil {
			return fmt.Errorf("创建索引失败: %w", err)
		}
		if err := task.Await(ctx); err != nil {
			return fmt.Errorf("等待索引创建失败: %w", err)
		}
	}

	loadTask, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(s.collection))
	if err != nil {
		return fmt.Errorf("加载集合失败: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("等待集合加载失败: %w", err)
	}
	return nil
}

func (s *MilvusStore) schema() *entity.Schema {
	varchar := func(name string, maxLen int64) *entity.Field {
		return entity.NewField().WithName(name).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxLen)
	}
	int64Field := func(name string) *entity.Field {
		return entity.NewField().WithName(name).WithDataType(entity.FieldTypeInt64)
	}
	return entity.NewSchema().
		WithName(s.collection).
		WithDescription("zeno textbook chunks").
		WithAutoID(false).
		WithField(varchar(milvusFieldID, 64).WithIsPrimaryKey(true)).
		WithField(entity.NewField().WithName(milvusFieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dimension))).
		WithField(varchar(milvusFieldText, 65535)).
		WithField(varchar(milvusFieldNamespace, 128)).
		WithField(varchar(milvusFieldFilename, 512)).
		WithField(varchar(milvusFieldHash, 64)).
		WithField(int64Field(milvusFieldUploadTime)).
		WithField(int64Field(milvusFieldChunkIndex)).
		WithField(int64Field(milvusFieldChunkLength)).
		WithField(int64Field(milvusFieldTotalChunks))
}

// AddVectors upsert 分块并 flush，写入后立即可查
func (s *MilvusStore) AddVectors(ctx context.Context, chunks []*DocumentChunk) error {
	columns, err := s.buildColumns(chunks)
	if err != nil {
		return err
	}
	if columns == nil {
		return nil
	}

	if _, err := s.client.Upsert(ctx, milvusclient.NewColumnBasedInsertOption(s.collection, columns...)); err != nil {
		return fmt.Errorf("写入 Milvus 失败: %w", err)
	}
	flushTask, err := s.client.Flush(ctx, milvusclient.NewFlushOption(s.collection))
	if err != nil {
		return fmt.Errorf("flush 失败: %w", err)
	}
	if err := flushTask.Await(ctx); err != nil {
		return fmt.Errorf("等待 flush 失败: %w", err)
	}
	return nil
}

func (s *MilvusStore) buildColumns(chunks []*DocumentChunk) ([]column.Column, error) {
	var (
		ids, texts, namespaces, filenames, hashes []string
		uploads, indexes, lengths, totals         []int64
		vectors                                   [][]float32
	)
	for _, chunk := range chunks {
		if chunk == nil {
			continue
		}
		if len(chunk.Embedding) != s.dimension {
			return nil, fmt.Errorf("向量维度不匹配: 期望 %d 实际 %d", s.dimension, len(chunk.Embedding))
		}
		ids = append(ids, chunk.ID)
		vectors = append(vectors, chunk.Embedding)
		texts = append(texts, chunk.Text)
		namespaces = append(namespaces, s.namespace)
		filenames = append(filenames, chunk.Metadata.Filename)
		hashes = append(hashes, chunk.ContentHash)
		uploads = append(uploads, chunk.Metadata.UploadTime.UnixNano())
		indexes = append(indexes, int64(chunk.Metadata.ChunkIndex))
		lengths = append(lengths, int64(chunk.Metadata.ChunkLength))
		totals = append(totals, int64(chunk.Metadata.TotalChunks))
	}
	if len(ids) == 0 {
		return nil, nil
	}

	return []column.Column{
		column.NewColumnVarChar(milvusFieldID, ids),
		column.NewColumnFloatVector(milvusFieldEmbedding, s.dimension, vectors),
		column.NewColumnVarChar(milvusFieldText, texts),
		column.NewColumnVarChar(milvusFieldNamespace, namespaces),
		column.NewColumnVarChar(milvusFieldFilename, filenames),
		column.NewColumnVarChar(milvusFieldHash, hashes),
		column.NewColumnInt64(milvusFieldUploadTime, uploads),
		column.NewColumnInt64(milvusFieldChunkIndex, indexes),
		column.NewColumnInt64(milvusFieldChunkLength, lengths),
		column.NewColumnInt64(milvusFieldTotalChunks, totals),
	}, nil
}

// Search 在当前命名空间内检索，并取回向量
func (s *MilvusStore) Search(ctx context.Context, queryVector []float32, topK int) ([]*RetrievalResult, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("查询向量不能为空")
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	opt := milvusclient.NewSearchOption(s.collection, topK, []entity.Vector{entity.FloatVector(queryVector)}).
		WithANNSField(milvusFieldEmbedding).
		WithSearchParam("ef", strconv.Itoa(max(64, topK))).
		WithOutputFields(milvusOutputFields...)
	if s.namespace != "" {
		opt = opt.WithFilter(fmt.Sprintf("%s == %s", milvusFieldNamespace, strconv.Quote(s.namespace)))
	}

	resultSets, err := s.client.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("Milvus 检索失败: %w", err)
	}
	if len(resultSets) == 0 {
		return []*RetrievalResult{}, nil
	}
	rs := resultSets[0]
	return parseMilvusResults(rs.IDs, rs.Fields, rs.Scores, rs.ResultCount)
}

// parseMilvusResults 把列式结果还原为分块，COSINE 度量下分数越大越相似
func parseMilvusResults(ids column.Column, fields []column.Column, scores []float32, count int) ([]*RetrievalResult, error) {
	results := make([]*RetrievalResult, count)
	for i := 0; i < count; i++ {
		results[i] = &RetrievalResult{Chunk: &DocumentChunk{}}
		if i < len(scores) {
			results[i].Score = float64(scores[i])
		}
	}

	if idCol, ok := ids.(*column.ColumnVarChar); ok {
		for i := 0; i < count && i < idCol.Len(); i++ {
			results[i].Chunk.ID = idCol.Data()[i]
		}
	}

	for _, field := range fields {
		switch col := field.(type) {
		case *column.ColumnVarChar:
			data := col.Data()
			for i := 0; i < count && i < len(data); i++ {
				c := results[i].Chunk
				switch col.Name() {
				case milvusFieldText:
					c.Text = data[i]
				case milvusFieldFilename:
					c.Metadata.Filename = data[i]
				case milvusFieldHash:
					c.ContentHash = data[i]
				}
			}
		case *column.ColumnInt64:
			data := col.Data()
			for i := 0; i < count && i < len(data); i++ {
				m := &results[i].Chunk.Metadata
				switch col.Name() {
				case milvusFieldUploadTime:
					m.UploadTime = time.Unix(0, data[i]).UTC()
				case milvusFieldChunkIndex:
					m.ChunkIndex = int(data[i])
				case milvusFieldChunkLength:
					m.ChunkLength = int(data[i])
				case milvusFieldTotalChunks:
					m.TotalChunks = int(data[i])
				}
			}
		case *column.ColumnFloatVector:
			data := col.Data()
			for i := 0; i < count && i < len(data); i++ {
				results[i].Chunk.Embedding = data[i]
			}
		}
	}
	return results, nil
}

// Close 关闭 Milvus 连接
func (s *MilvusStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
