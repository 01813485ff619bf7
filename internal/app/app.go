// Package app 按配置组装服务运行所需的组件，供 HTTP 服务和命令行工具共用
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zeno/internal/ai/openai"
	"zeno/internal/config"
	"zeno/internal/infra"
	"zeno/internal/logger"
	"zeno/internal/middleware"
	"zeno/internal/rag"
	"zeno/internal/rag/parsers"
	"zeno/internal/tracing"
	"zeno/pkg/aiinterface"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App 已打开的组件集合，用完后调用 Close
type App struct {
	Config   *config.Config
	Gateway  *rag.Gateway
	Ingestor *rag.Ingestor
	Chat     *rag.ChatPipeline
	Limiter  *middleware.RateLimiter // 未启用限流时为空

	tracing *tracing.Provider
	db      *gorm.DB
	redis   redis.UniversalClient
}

// Option 覆盖默认组件
type Option func(*options)

type options struct {
	embedder  rag.EmbeddingProvider
	chatModel aiinterface.ChatModel
	skipChat  bool
}

// WithEmbedder 使用指定的向量化服务代替 OpenAI
func WithEmbedder(e rag.EmbeddingProvider) Option {
	return func(o *options) { o.embedder = e }
}

// WithChatModel 使用指定的对话模型代替 OpenAI
func WithChatModel(m aiinterface.ChatModel) Option {
	return func(o *options) { o.chatModel = m }
}

// WithoutChat 只组装入库相关组件
func WithoutChat() Option {
	return func(o *options) { o.skipChat = true }
}

// New 按配置创建并打开全部组件，任何一步失败都会释放已创建的资源
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}
	if err := a.setup(ctx, &o); err != nil {
		if cerr := a.Close(context.Background()); cerr != nil {
			logger.Warn("释放组件失败", zap.Error(cerr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) setup(ctx context.Context, o *options) error {
	cfg := a.Config

	tp, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	a.tracing = tp

	vs := cfg.RAG.VectorStore
	if cfg.Redis.Configured() && (vs.Type == "redis" || cfg.RAG.EmbeddingCache.Enabled) {
		if a.redis, err = infra.NewRedisClient(ctx, &cfg.Redis); err != nil {
			return err
		}
	}
	if vs.Type == "pgvector" {
		if a.db, err = infra.OpenDatabase(ctx, &cfg.Database, cfg.Log.Level); err != nil {
			return err
		}
	}

	store, err := rag.NewVectorStore(ctx, vs, rag.StoreDeps{DB: a.db, Redis: a.redis})
	if err != nil {
		return err
	}

	embedder := o.embedder
	if embedder == nil {
		embedder = rag.NewOpenAIEmbeddingProvider(rag.OpenAIEmbeddingOptions{
			APIKey:  cfg.AI.OpenAI.APIKey,
			BaseURL: cfg.AI.OpenAI.BaseURL,
			OrgID:   cfg.AI.OpenAI.OrgID,
			Model:   cfg.AI.OpenAI.EmbeddingModel,
		})
	}
	if cfg.RAG.EmbeddingCache.Enabled {
		ttl := time.Duration(cfg.RAG.EmbeddingCache.TTLSeconds) * time.Second
		embedder = rag.NewCachedEmbeddingProvider(embedder, rag.NewEmbeddingCache(a.redis, "", ttl))
	}

	gateway := rag.NewGateway(store, embedder)
	if err := gateway.Open(ctx); err != nil {
		if cerr := store.Close(ctx); cerr != nil {
			logger.Warn("关闭向量库失败", zap.Error(cerr))
		}
		return err
	}
	a.Gateway = gateway

	a.Ingestor = rag.NewIngestor(gateway, parsers.NewParserRegistry(), rag.IngestorOptions{
		ChunkSize:    cfg.RAG.Chunking.ChunkSize,
		ChunkOverlap: cfg.RAG.Chunking.ChunkOverlap,
		Workers:      cfg.Ingest.Workers,
		TempDir:      cfg.Ingest.TempDir,
	})

	if o.skipChat {
		return nil
	}

	model := o.chatModel
	if model == nil {
		client, err := openai.NewClient(&aiinterface.ClientConfig{
			APIKey:  cfg.AI.OpenAI.APIKey,
			BaseURL: cfg.AI.OpenAI.BaseURL,
			OrgID:   cfg.AI.OpenAI.OrgID,
			Model:   cfg.AI.OpenAI.ChatModel,
			Timeout: cfg.AI.OpenAI.TimeoutSeconds,
		})
		if err != nil {
			return fmt.Errorf("创建对话模型失败: %w", err)
		}
		model = client
	}

	var counter rag.TokenCounter
	if tc, err := rag.NewTiktokenCounter(cfg.AI.OpenAI.ChatModel); err != nil {
		logger.Warn("加载 tiktoken 编码失败，改用近似计数", zap.Error(err))
	} else {
		counter = tc
	}

	assembler, err := rag.NewPromptAssembler(cfg.RAG.Prompt)
	if err != nil {
		return err
	}
	a.Chat = rag.NewChatPipeline(gateway, model, assembler, counter, rag.ChatOptions{
		Profile:     cfg.RAG.Profile,
		Temperature: cfg.AI.OpenAI.Temperature,
	})

	if cfg.RateLimit.Enabled {
		a.Limiter = middleware.NewRateLimiter(cfg.RateLimit)
	}
	return nil
}

// Close 按创建的逆序释放组件，可重复调用
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Limiter != nil {
		a.Limiter.Stop()
	}
	if a.Gateway != nil {
		errs = append(errs, a.Gateway.Close(ctx))
	}
	if a.db != nil {
		errs = append(errs, infra.CloseDatabase(a.db))
		a.db = nil
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
		a.redis = nil
	}
	if a.tracing != nil {
		errs = append(errs, a.tracing.Shutdown(ctx))
		a.tracing = nil
	}
	return errors.Join(errs...)
}
