package rag

import (
	"context"
	"strings"
	"sync"
	"time"

	"zeno/internal/apperr"
	"zeno/internal/logger"
	"zeno/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultTopK = 4

var tracer = otel.Tracer("zeno/rag")

// Gateway 向量库网关：统一负责文本向量化以及向量的写入和检索
// 由调用方显式 Open/Close，并发安全
type Gateway struct {
	store    VectorStore
	embedder EmbeddingProvider

	mu   sync.RWMutex
	open bool

	indexMu    sync.Mutex
	indexReady bool
}

// NewGateway 创建网关，需调用 Open 后才能使用
func NewGateway(store VectorStore, embedder EmbeddingProvider) *Gateway {
	return &Gateway{
		store:    store,
		embedder: embedder,
	}
}

// Open 检查后端连通性
func (g *Gateway) Open(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		return nil
	}
	if err := g.store.Ping(ctx); err != nil {
		return apperr.Wrap(apperr.KindRetrieval, "vector store unreachable", err)
	}
	g.open = true
	logger.WithContext(ctx).Info("向量库网关已打开", zap.String("backend", g.store.Name()))
	return nil
}

// Close 关闭后端连接，可重复调用
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		return nil
	}
	g.open = false

	g.indexMu.Lock()
	g.indexReady = false
	g.indexMu.Unlock()

	if err := g.store.Close(ctx); err != nil {
		return apperr.Wrap(apperr.KindRetrieval, "close vector store failed", err)
	}
	logger.WithContext(ctx).Info("向量库网关已关闭", zap.String("backend", g.store.Name()))
	return nil
}

// Backend 当前后端名称
func (g *Gateway) Backend() string {
	return g.store.Name()
}

// Ping 就绪检查
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.checkOpen(); err != nil {
		return err
	}
	if err := g.store.Ping(ctx); err != nil {
		return apperr.Wrap(apperr.KindRetrieval, "vector store unreachable", err)
	}
	return nil
}

// Embed 将文本向量化，不重试
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := g.embedder.Embed(ctx, text)
	if err != nil {
		return nil, wrapEmbeddingError(err)
	}
	return vec, nil
}

// EmbedBatch 批量向量化，结果顺序与输入一致
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := g.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, wrapEmbeddingError(err)
	}
	if len(vecs) != len(texts) {
		return nil, apperr.New(apperr.KindEmbedding, "embedding count mismatch")
	}
	return vecs, nil
}

// Upsert 写入分块，缺少向量的分块先向量化；首次调用时创建索引
func (g *Gateway) Upsert(ctx context.Context, chunks []*DocumentChunk) error {
	if err := g.checkOpen(); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "rag.gateway.upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("rag.backend", g.store.Name()),
		attribute.Int("rag.chunks", len(chunks)),
	)

	prepared := make([]*DocumentChunk, len(chunks))
	var texts []string
	var missing []int
	for i, chunk := range chunks {
		cp := *chunk
		prepared[i] = &cp
		if len(cp.Embedding) == 0 {
			texts = append(texts, cp.Text)
			missing = append(missing, i)
		}
	}
	if len(texts) > 0 {
		vecs, err := g.EmbedBatch(ctx, texts)
		if err != nil {
			recordSpanError(span, err)
			return err
		}
		for j, idx := range missing {
			prepared[idx].Embedding = vecs[j]
		}
	}

	if err := g.ensureIndex(ctx); err != nil {
		recordSpanError(span, err)
		return err
	}
	if err := g.store.AddVectors(ctx, prepared); err != nil {
		err = apperr.Wrap(apperr.KindRetrieval, "vector store write failed", err)
		recordSpanError(span, err)
		return err
	}
	return nil
}

// Query 检索与 text 最相关的 k 个分块
func (g *Gateway) Query(ctx context.Context, text string, k int, opts SearchOptions) ([]*RetrievalResult, error) {
	if err := g.checkOpen(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.KindValidation, "query must not be empty")
	}
	if k <= 0 {
		k = defaultTopK
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategySimilarity
	}

	ctx, span := tracer.Start(ctx, "rag.gateway.query")
	defer span.End()
	span.SetAttributes(
		attribute.String("rag.backend", g.store.Name()),
		attribute.String("rag.strategy", string(strategy)),
		attribute.Int("rag.k", k),
	)

	start := time.Now()
	results, err := g.query(ctx, text, k, strategy, opts)
	status := "success"
	if err != nil {
		status = "error"
		recordSpanError(span, err)
	}
	metrics.RAGRetrievalsTotal.WithLabelValues(g.store.Name(), string(strategy), status).Inc()
	metrics.RAGRetrievalDuration.WithLabelValues(g.store.Name(), string(strategy)).Observe(time.Since(start).Seconds())
	return results, err
}

func (g *Gateway) query(ctx context.Context, text string, k int, strategy Strategy, opts SearchOptions) ([]*RetrievalResult, error) {
	queryVector, err := g.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := g.ensureIndex(ctx); err != nil {
		return nil, err
	}

	fetch := k
	if strategy == StrategyMMR && opts.FetchK > k {
		fetch = opts.FetchK
	}

	results, err := g.store.Search(ctx, queryVector, fetch)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindRetrieval, "vector search failed", err)
	}

	switch strategy {
	case StrategySimilarity:
		if len(results) > k {
			results = results[:k]
		}
		return results, nil
	case StrategyMMR:
		if err := g.fillCandidateEmbeddings(ctx, results); err != nil {
			return nil, err
		}
		return NewMMRReranker(opts.Lambda).Rerank(queryVector, results, k), nil
	default:
		return nil, apperr.New(apperr.KindValidation, "unsupported search strategy: "+string(strategy))
	}
}

// fillCandidateEmbeddings 后端未返回向量时重新向量化候选文本
func (g *Gateway) fillCandidateEmbeddings(ctx context.Context, results []*RetrievalResult) error {
	var texts []string
	var idx []int
	for i, r := range results {
		if len(r.Chunk.Embedding) == 0 {
			texts = append(texts, r.Chunk.Text)
			idx = append(idx, i)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	vecs, err := g.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	for j, i := range idx {
		results[i].Chunk.Embedding = vecs[j]
	}
	return nil
}

// ensureIndex 进程内只成功创建一次索引，失败后下次调用重试
func (g *Gateway) ensureIndex(ctx context.Context) error {
	g.indexMu.Lock()
	defer g.indexMu.Unlock()
	if g.indexReady {
		return nil
	}
	if err := g.store.EnsureIndex(ctx); err != nil {
		return apperr.Wrap(apperr.KindRetrieval, "create vector index failed", err)
	}
	g.indexReady = true
	return nil
}

func (g *Gateway) checkOpen() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.open {
		return apperr.New(apperr.KindRetrieval, "vector store gateway is not open")
	}
	return nil
}

func wrapEmbeddingError(err error) error {
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	return apperr.Wrap(apperr.KindEmbedding, "embedding request failed", err)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
