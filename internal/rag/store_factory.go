package rag

import (
	"context"
	"fmt"
	"time"

	"zeno/internal/apperr"
	"zeno/internal/config"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// StoreDeps 后端共享的外部连接，按需提供
type StoreDeps struct {
	DB    *gorm.DB              // pgvector
	Redis redis.UniversalClient // redis
}

// NewVectorStore 按 rag.vector_store.type 创建后端
func NewVectorStore(ctx context.Context, cfg config.VectorStoreConfig, deps StoreDeps) (VectorStore, error) {
	store, err := newVectorStore(ctx, cfg, deps)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, "init vector store "+cfg.Type, err)
	}
	return store, nil
}

func newVectorStore(ctx context.Context, cfg config.VectorStoreConfig, deps StoreDeps) (VectorStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(cfg.Dimension), nil
	case "mongodb":
		return NewMongoStore(ctx, MongoOptions{
			URI:          cfg.Mongo.URI,
			Namespace:    cfg.Mongo.Namespace,
			IndexName:    cfg.Mongo.IndexName,
			TextKey:      cfg.Mongo.TextKey,
			EmbeddingKey: cfg.Mongo.EmbeddingKey,
			Dimension:    cfg.Dimension,
		})
	case "qdrant":
		return NewQdrantStore(QdrantOptions{
			Endpoint:        cfg.Qdrant.Endpoint,
			APIKey:          cfg.Qdrant.APIKey,
			Collection:      cfg.Qdrant.Collection,
			Namespace:       cfg.Namespace,
			VectorDimension: cfg.Dimension,
			Distance:        cfg.Qdrant.Distance,
			TimeoutSeconds:  cfg.Qdrant.TimeoutSeconds,
		})
	case "milvus":
		return NewMilvusStore(ctx, MilvusOptions{
			Address:    cfg.Milvus.Address,
			Username:   cfg.Milvus.Username,
			Password:   cfg.Milvus.Password,
			DBName:     cfg.Milvus.DBName,
			Collection: cfg.Milvus.Collection,
			Namespace:  cfg.Namespace,
			Dimension:  cfg.Dimension,
			Timeout:    10 * time.Second,
		})
	case "redis":
		if deps.Redis == nil {
			return nil, fmt.Errorf("redis 向量存储需要 Redis 连接")
		}
		return NewRedisStore(deps.Redis, RedisStoreOptions{
			IndexName: cfg.Redis.IndexName,
			KeyPrefix: cfg.Redis.KeyPrefix,
			Namespace: cfg.Namespace,
			Dimension: cfg.Dimension,
		})
	case "pgvector":
		if deps.DB == nil {
			return nil, fmt.Errorf("pgvector 向量存储需要数据库连接")
		}
		return NewPGVectorStore(deps.DB, PGVectorOptions{
			Table:       cfg.PGVector.Table,
			Namespace:   cfg.Namespace,
			Dimension:   cfg.Dimension,
			AutoMigrate: cfg.PGVector.AutoMigrate,
		})
	default:
		return nil, fmt.Errorf("不支持的向量存储类型: %s", cfg.Type)
	}
}
