package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zeno_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zeno_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// APIRequestSize API 请求体大小（字节），上传接口会很大
	APIRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zeno_api_request_size_bytes",
			Help:    "API 请求体大小分布",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000, 80000000},
		},
		[]string{"method", "path"},
	)
)

// RAG 检索指标
var (
	// RAGRetrievalsTotal 检索总数
	RAGRetrievalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zeno_rag_retrievals_total",
			Help: "RAG 检索总数",
		},
		[]string{"backend", "strategy", "status"},
	)

	// RAGRetrievalDuration 检索耗时（秒）
	RAGRetrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zeno_rag_retrieval_duration_seconds",
			Help:    "RAG 检索耗时分布",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"backend", "strategy"},
	)

	// EmbeddingCacheHits 向量缓存命中数
	EmbeddingCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zeno_embedding_cache_hits_total",
			Help: "向量缓存命中次数",
		},
		[]string{"layer"}, // local, redis
	)
)

// 入库指标
var (
	// IngestFilesTotal 处理文件数
	IngestFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zeno_ingest_files_total",
			Help: "文档入库文件数",
		},
		[]string{"status", "kind"},
	)

	// IngestChunksTotal 写入分块数
	IngestChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zeno_ingest_chunks_total",
			Help: "写入向量库的分块总数",
		},
	)
)

// 对话指标
var (
	// ChatRequestsTotal 对话请求数
	ChatRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zeno_chat_requests_total",
			Help: "对话请求总数",
		},
		[]string{"status", "kind"},
	)

	// ChatTokensStreamed 已推送给客户端的模型增量块数
	ChatTokensStreamed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zeno_chat_tokens_streamed_total",
			Help: "流式推送的增量块总数",
		},
	)
)
