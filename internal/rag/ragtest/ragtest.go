// Package ragtest 提供对话与入库流水线的测试替身
package ragtest

import (
	"context"
	"hash/fnv"
	"testing"

	"zeno/internal/config"
	"zeno/internal/rag"
	"zeno/pkg/aiinterface"

	"github.com/stretchr/testify/require"
)

// Embedder 按文本哈希生成稳定向量
type Embedder struct {
	Dim int
	Err error
}

func (e *Embedder) vector(text string) []float32 {
	v := make([]float32, e.Dim)
	for i := range v {
		h := fnv.New32a()
		_, _ = h.Write([]byte{byte(i)})
		_, _ = h.Write([]byte(text))
		v[i] = float32(h.Sum32()%1000)/1000 + 0.001
	}
	return v
}

// Embed 单条向量化
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	return e.vector(text), nil
}

// EmbedBatch 批量向量化
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

// GetModel 模型名
func (e *Embedder) GetModel() string { return "test-embedding" }

// GetProviderName 提供方名
func (e *Embedder) GetProviderName() string { return "test" }

// ChatModel 依次回放 Tokens，MidErr 在全部 Tokens 之后返回
type ChatModel struct {
	Tokens     []string
	StreamErr  error
	MidErr     error
	Completion string
}

// ChatCompletion 返回预设的 Completion
func (m *ChatModel) ChatCompletion(ctx context.Context, req *aiinterface.ChatCompletionRequest) (*aiinterface.ChatCompletionResponse, error) {
	return &aiinterface.ChatCompletionResponse{Content: m.Completion}, nil
}

// ChatCompletionStream 回放增量块
func (m *ChatModel) ChatCompletionStream(ctx context.Context, req *aiinterface.ChatCompletionRequest) (<-chan aiinterface.StreamChunk, <-chan error) {
	chunks := make(chan aiinterface.StreamChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if m.StreamErr != nil {
			errs <- m.StreamErr
			return
		}
		for _, tok := range m.Tokens {
			select {
			case chunks <- aiinterface.StreamChunk{Content: tok}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if m.MidErr != nil {
			errs <- m.MidErr
		}
	}()
	return chunks, errs
}

// NewGateway 创建基于内存存储、已打开的网关
func NewGateway(t testing.TB, embedder rag.EmbeddingProvider) *rag.Gateway {
	t.Helper()
	gw := rag.NewGateway(rag.NewMemoryStore(0), embedder)
	require.NoError(t, gw.Open(context.Background()))
	t.Cleanup(func() { _ = gw.Close(context.Background()) })
	return gw
}

// NewChatPipeline 使用默认提示词与相似度检索的对话流水线
func NewChatPipeline(t testing.TB, gw *rag.Gateway, model aiinterface.ChatModel) *rag.ChatPipeline {
	t.Helper()
	assembler, err := rag.NewPromptAssembler(config.PromptConfig{})
	require.NoError(t, err)
	return rag.NewChatPipeline(gw, model, assembler, rag.ApproxCounter{}, rag.ChatOptions{
		Profile: config.RetrievalProfile{Version: "test", Strategy: "similarity", K: 4, FetchK: 4},
	})
}
