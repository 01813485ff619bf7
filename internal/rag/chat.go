package rag

import (
	"context"
	"strings"
	"sync"
	"time"

	"zeno/internal/apperr"
	"zeno/internal/config"
	"zeno/internal/logger"
	"zeno/internal/metrics"
	"zeno/pkg/aiinterface"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ChatRequest 一次对话请求，Messages 最后一条为当前问题
type ChatRequest struct {
	Messages []ConversationTurn
	UserID   string
}

// ChatOptions 对话流水线参数
type ChatOptions struct {
	Profile     config.RetrievalProfile
	Temperature float64
}

// ChatPipeline 检索增强对话：改写问题 → 检索 → 组装提示词 → 流式生成 → 追加来源
type ChatPipeline struct {
	gateway   *Gateway
	model     aiinterface.ChatModel
	assembler *PromptAssembler
	counter   TokenCounter
	profile   config.RetrievalProfile
	temp      float64
}

// NewChatPipeline 创建对话流水线，counter 为空时使用近似计数
func NewChatPipeline(gateway *Gateway, model aiinterface.ChatModel, assembler *PromptAssembler, counter TokenCounter, opts ChatOptions) *ChatPipeline {
	if counter == nil {
		counter = ApproxCounter{}
	}
	return &ChatPipeline{
		gateway:   gateway,
		model:     model,
		assembler: assembler,
		counter:   counter,
		profile:   opts.Profile,
		temp:      opts.Temperature,
	}
}

// AnswerStream 流式回答
// 先消费完 Tokens()，再调用 Err() 获取生成中途的错误
type AnswerStream struct {
	Sources    []SourceCitation
	Standalone string

	tokens chan string
	errs   chan error

	errOnce sync.Once
	err     error
}

// Tokens 回答增量，生成结束后依次追加来源块并关闭
func (s *AnswerStream) Tokens() <-chan string {
	return s.tokens
}

// Err 返回生成中途的错误，必须在 Tokens 关闭后调用
func (s *AnswerStream) Err() error {
	s.errOnce.Do(func() {
		s.err = <-s.errs
	})
	return s.err
}

// Collect 读取完整回答
func (s *AnswerStream) Collect() (string, error) {
	var b strings.Builder
	for tok := range s.tokens {
		b.WriteString(tok)
	}
	return b.String(), s.Err()
}

// Answer 执行检索并开始生成
// 第一个增量到达之前的失败直接返回；之后的失败通过 AnswerStream.Err 返回，已发送的内容不撤回
func (p *ChatPipeline) Answer(ctx context.Context, req *ChatRequest) (*AnswerStream, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "rag.chat")
	log := logger.WithContext(ctx).With(zap.String("user_id", req.UserID))

	fail := func(err error) (*AnswerStream, error) {
		kind := apperr.KindOf(err)
		log.Error("对话处理失败", zap.String("kind", string(kind)), zap.Error(err))
		metrics.ChatRequestsTotal.WithLabelValues("error", string(kind)).Inc()
		recordSpanError(span, err)
		span.End()
		return nil, err
	}

	history, question, err := SplitConversation(req.Messages)
	if err != nil {
		return fail(err)
	}
	history = TrimHistory(history, p.profile.HistoryMaxTokens, p.counter)
	span.SetAttributes(
		attribute.Int("rag.history_turns", len(history)),
		attribute.String("rag.profile", p.profile.Version),
	)

	standalone, err := p.contextualize(ctx, history, question)
	if err != nil {
		return fail(err)
	}

	results, err := p.gateway.Query(ctx, standalone, p.profile.K, SearchOptions{
		Strategy: Strategy(p.profile.Strategy),
		FetchK:   p.profile.FetchK,
		Lambda:   p.profile.Lambda,
	})
	if err != nil {
		return fail(err)
	}
	span.SetAttributes(attribute.Int("rag.sources", len(results)))

	prompt, err := p.assembler.Build(PromptInput{History: history, Question: question, Sources: results})
	if err != nil {
		return fail(apperr.Wrap(apperr.KindGeneration, "prompt assembly failed", err))
	}

	chunks, modelErrs := p.model.ChatCompletionStream(ctx, &aiinterface.ChatCompletionRequest{
		Messages:    prompt.Messages,
		Temperature: p.temp,
	})

	first, err := firstToken(ctx, chunks, modelErrs)
	if err != nil {
		return fail(wrapGenerationError(err))
	}

	out := &AnswerStream{
		Sources:    Citations(results),
		Standalone: standalone,
		tokens:     make(chan string),
		errs:       make(chan error, 1),
	}
	go p.forward(ctx, span, log, start, first, chunks, modelErrs, out)
	return out, nil
}

// contextualize 有历史时把追问改写为独立问题，用于检索
func (p *ChatPipeline) contextualize(ctx context.Context, history []ConversationTurn, question string) (string, error) {
	if !p.profile.Contextualize || len(history) == 0 {
		return question, nil
	}
	condensed, err := p.assembler.Condense(history, question)
	if err != nil {
		return "", apperr.Wrap(apperr.KindGeneration, "condense prompt failed", err)
	}
	resp, err := p.model.ChatCompletion(ctx, &aiinterface.ChatCompletionRequest{
		Messages: []aiinterface.Message{{Role: aiinterface.RoleUser, Content: condensed}},
	})
	if err != nil {
		return "", wrapGenerationError(err)
	}
	if s := strings.TrimSpace(resp.Content); s != "" {
		return s, nil
	}
	return question, nil
}

// firstToken 等待第一个非空增量；模型没有输出任何内容就结束时返回空串
func firstToken(ctx context.Context, chunks <-chan aiinterface.StreamChunk, errs <-chan error) (string, error) {
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return "", <-errs
			}
			if chunk.Content != "" {
				return chunk.Content, nil
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (p *ChatPipeline) forward(ctx context.Context, span trace.Span, log *zap.Logger, start time.Time,
	first string, chunks <-chan aiinterface.StreamChunk, modelErrs <-chan error, out *AnswerStream) {
	defer close(out.errs)
	defer close(out.tokens)

	sent := 0
	finish := func(err error) {
		status, kind := "success", ""
		if err != nil {
			status, kind = "error", string(apperr.KindOf(err))
			out.errs <- err
			recordSpanError(span, err)
			log.Error("回答生成中断", zap.String("kind", kind), zap.Int("tokens_sent", sent), zap.Error(err))
		} else {
			log.Info("回答生成完成",
				zap.Int("tokens_sent", sent),
				zap.Int("sources", len(out.Sources)),
				zap.Duration("duration", time.Since(start)))
		}
		metrics.ChatRequestsTotal.WithLabelValues(status, kind).Inc()
		span.SetAttributes(attribute.Int("rag.tokens_sent", sent))
		span.End()
	}

	emit := func(tok string) bool {
		select {
		case out.tokens <- tok:
			sent++
			metrics.ChatTokensStreamed.Inc()
			return true
		case <-ctx.Done():
			return false
		}
	}

	if first != "" && !emit(first) {
		finish(wrapGenerationError(ctx.Err()))
		return
	}
	for chunk := range chunks {
		if chunk.Content == "" {
			continue
		}
		if !emit(chunk.Content) {
			finish(wrapGenerationError(ctx.Err()))
			return
		}
	}
	if err := <-modelErrs; err != nil {
		finish(wrapGenerationError(err))
		return
	}

	if sources := FormatSources(out.Sources); sources != "" {
		select {
		case out.tokens <- sources:
		case <-ctx.Done():
			finish(wrapGenerationError(ctx.Err()))
			return
		}
	}
	finish(nil)
}

func wrapGenerationError(err error) error {
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	return apperr.Wrap(apperr.KindGeneration, "generation failed", err)
}
