package rag

import (
	"context"
	"hash/fnv"
	"sync"

	"zeno/pkg/aiinterface"
)

// fakeEmbeddingProvider 预设文本向量，未登记的文本按哈希生成稳定向量
type fakeEmbeddingProvider struct {
	mu         sync.Mutex
	vectors    map[string][]float32
	dim        int
	err        error
	embedCalls int
	batchCalls int
	batchTexts []string
}

func newFakeEmbedder(dim int, vectors map[string][]float32) *fakeEmbeddingProvider {
	if vectors == nil {
		vectors = map[string][]float32{}
	}
	return &fakeEmbeddingProvider{vectors: vectors, dim: dim}
}

func (f *fakeEmbeddingProvider) vectorFor(text string) []float32 {
	if v, ok := f.vectors[text]; ok {
		return append([]float32(nil), v...)
	}
	v := make([]float32, f.dim)
	for i := range v {
		h := fnv.New32a()
		_, _ = h.Write([]byte{byte(i)})
		_, _ = h.Write([]byte(text))
		v[i] = float32(h.Sum32()%1000)/1000 + 0.001
	}
	return v
}

func (f *fakeEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vectorFor(text), nil
}

func (f *fakeEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	f.batchTexts = append(f.batchTexts, texts...)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = f.vectorFor(text)
	}
	return out, nil
}

func (f *fakeEmbeddingProvider) GetModel() string        { return "fake-embedding" }
func (f *fakeEmbeddingProvider) GetProviderName() string { return "fake" }

// countingStore 记录 EnsureIndex 调用次数
type countingStore struct {
	*MemoryStore
	mu          sync.Mutex
	ensureCalls int
	ensureErr   error
	searchErr   error
	dropVectors bool
}

func (s *countingStore) EnsureIndex(ctx context.Context) error {
	s.mu.Lock()
	s.ensureCalls++
	err := s.ensureErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.EnsureIndex(ctx)
}

func (s *countingStore) Search(ctx context.Context, queryVector []float32, topK int) ([]*RetrievalResult, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	results, err := s.MemoryStore.Search(ctx, queryVector, topK)
	if err != nil || !s.dropVectors {
		return results, err
	}
	for _, r := range results {
		r.Chunk.Embedding = nil
	}
	return results, nil
}

// fakeChatModel 按顺序回放预设的增量块
type fakeChatModel struct {
	mu          sync.Mutex
	tokens      []string
	streamErr   error // 建立流时失败
	midErr      error // 发送完 tokens 后失败
	completion  string
	completeErr error
	requests    []*aiinterface.ChatCompletionRequest
	streamCalls int
}

func (m *fakeChatModel) ChatCompletion(ctx context.Context, req *aiinterface.ChatCompletionRequest) (*aiinterface.ChatCompletionResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.completeErr != nil {
		return nil, m.completeErr
	}
	return &aiinterface.ChatCompletionResponse{Content: m.completion}, nil
}

func (m *fakeChatModel) ChatCompletionStream(ctx context.Context, req *aiinterface.ChatCompletionRequest) (<-chan aiinterface.StreamChunk, <-chan error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.streamCalls++
	m.mu.Unlock()

	chunks := make(chan aiinterface.StreamChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if m.streamErr != nil {
			errs <- m.streamErr
			return
		}
		for _, tok := range m.tokens {
			select {
			case chunks <- aiinterface.StreamChunk{Content: tok}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if m.midErr != nil {
			errs <- m.midErr
			return
		}
		select {
		case chunks <- aiinterface.StreamChunk{Done: true}:
		case <-ctx.Done():
		}
	}()
	return chunks, errs
}

func (m *fakeChatModel) lastRequest() *aiinterface.ChatCompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}
