package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PGVectorOptions pgvector 存储配置
type PGVectorOptions struct {
	Table       string
	Namespace   string
	Dimension   int
	AutoMigrate bool // 为 false 时假定表和索引已由迁移脚本创建
}

// PGVectorStore 基于PostgreSQL pgvector扩展的向量存储实现
type PGVectorStore struct {
	db        *gorm.DB
	table     string
	namespace string
	dimension int
	migrate   bool
}

// pgChunkRecord 向量表的一行
type pgChunkRecord struct {
	ID          string          `gorm:"column:id;primaryKey"`
	Namespace   string          `gorm:"column:namespace"`
	Text        string          `gorm:"column:text"`
	ContentHash string          `gorm:"column:content_hash"`
	Metadata    datatypes.JSON  `gorm:"column:metadata"`
	Embedding   pgvector.Vector `gorm:"column:embedding"`
}

// NewPGVectorStore 创建pgvector存储实例，db 由调用方管理连接池
func NewPGVectorStore(db *gorm.DB, opts PGVectorOptions) (*PGVectorStore, error) {
	if db == nil {
		return nil, fmt.Errorf("数据库连接不能为空")
	}
	table := opts.Table
	if table == "" {
		table = "zeno_chunks"
	}
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("非法的表名: %q", table)
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("向量维度必须为正数")
	}
	return &PGVectorStore{
		db:        db,
		table:     table,
		namespace: opts.Namespace,
		dimension: opts.Dimension,
		migrate:   opts.AutoMigrate,
	}, nil
}

// Name 后端名称
func (s *PGVectorStore) Name() string { return "pgvector" }

// Ping 检查数据库连接
func (s *PGVectorStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// EnsureIndex 启用扩展并创建表与 HNSW 余弦索引
func (s *PGVectorStore) EnsureIndex(ctx context.Context) error {
	if !s.migrate {
		return nil
	}
	for _, stmt := range s.schemaStatements() {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("初始化 pgvector 表失败: %w", err)
		}
	}
	return nil
}

func (s *PGVectorStore) schemaStatements() []string {
	return []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			content_hash TEXT,
			metadata JSONB,
			embedding vector(%d) NOT NULL
		)`, s.table, s.dimension),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_namespace_idx ON %s (namespace)", s.table, s.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)", s.table, s.table),
	}
}

// AddVectors 按 ID upsert 分块
func (s *PGVectorStore) AddVectors(ctx context.Context, chunks []*DocumentChunk) error {
	records := make([]*pgChunkRecord, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk == nil {
			continue
		}
		rec, err := s.toRecord(chunk)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Table(s.table).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"namespace", "text", "content_hash", "metadata", "embedding"}),
		}).
		CreateInBatches(records, 200).Error
	if err != nil {
		return fmt.Errorf("写入向量失败: %w", err)
	}
	return nil
}

// Search 执行向量相似度搜索，<=> 为 pgvector 的余弦距离操作符
func (s *PGVectorStore) Search(ctx context.Context, queryVector []float32, topK int) ([]*RetrievalResult, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("查询向量不能为空")
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	query := fmt.Sprintf(`
		SELECT id, namespace, text, content_hash, metadata, embedding,
			1 - (embedding <=> ?) AS score
		FROM %s
		WHERE namespace = ?
		ORDER BY embedding <=> ?
		LIMIT ?
	`, s.table)

	var rows []struct {
		pgChunkRecord
		Score float64 `gorm:"column:score"`
	}
	qv := pgvector.NewVector(queryVector)
	if err := s.db.WithContext(ctx).Raw(query, qv, s.namespace, qv, topK).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("向量搜索失败: %w", err)
	}

	results := make([]*RetrievalResult, 0, len(rows))
	for i := range rows {
		chunk, err := fromRecord(&rows[i].pgChunkRecord)
		if err != nil {
			return nil, err
		}
		results = append(results, &RetrievalResult{Chunk: chunk, Score: rows[i].Score})
	}
	return results, nil
}

// Close 关闭连接池
func (s *PGVectorStore) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *PGVectorStore) toRecord(chunk *DocumentChunk) (*pgChunkRecord, error) {
	if len(chunk.Embedding) != s.dimension {
		return nil, fmt.Errorf("向量维度不匹配: 期望 %d 实际 %d", s.dimension, len(chunk.Embedding))
	}
	meta, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return nil, fmt.Errorf("序列化元数据失败: %w", err)
	}
	return &pgChunkRecord{
		ID:          chunk.ID,
		Namespace:   s.namespace,
		Text:        chunk.Text,
		ContentHash: chunk.ContentHash,
		Metadata:    datatypes.JSON(meta),
		Embedding:   pgvector.NewVector(chunk.Embedding),
	}, nil
}

func fromRecord(rec *pgChunkRecord) (*DocumentChunk, error) {
	chunk := &DocumentChunk{
		ID:          rec.ID,
		Text:        rec.Text,
		ContentHash: rec.ContentHash,
		Embedding:   rec.Embedding.Slice(),
	}
	if len(rec.Metadata) > 0 {
		if err := json.Unmarshal(rec.Metadata, &chunk.Metadata); err != nil {
			return nil, fmt.Errorf("解析元数据失败: %w", err)
		}
	}
	return chunk, nil
}
