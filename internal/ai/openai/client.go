package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"zeno/pkg/aiinterface"

	openai "github.com/sashabaranov/go-openai"
)

// Client OpenAI 客户端适配器，不做自动重试
type Client struct {
	client  *openai.Client
	modelID string
	timeout time.Duration
}

// Option 客户端可选项
type Option func(*openai.ClientConfig)

// WithHTTPClient 指定底层 HTTP 客户端（测试中指向 httptest 服务）
func WithHTTPClient(hc *http.Client) Option {
	return func(cfg *openai.ClientConfig) {
		cfg.HTTPClient = hc
	}
}

// NewClient 创建 OpenAI 客户端
func NewClient(config *aiinterface.ClientConfig, opts ...Option) (*Client, error) {
	if config.APIKey == "" {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeAuth,
			Message: "OpenAI API Key 不能为空",
		}
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.OrgID != "" {
		clientConfig.OrgID = config.OrgID
	}
	for _, opt := range opts {
		opt(&clientConfig)
	}

	model := config.Model
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}

	return &Client{
		client:  openai.NewClientWithConfig(clientConfig),
		modelID: model,
		timeout: time.Duration(config.Timeout) * time.Second,
	}, nil
}

// Model 返回模型标识
func (c *Client) Model() string {
	return c.modelID
}

// ChatCompletion 对话补全（非流式）
func (c *Client) ChatCompletion(ctx context.Context, req *aiinterface.ChatCompletionRequest) (*aiinterface.ChatCompletionResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, wrapError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, &aiinterface.ClientError{
			Type:    aiinterface.ErrorTypeServerError,
			Message: "API 返回空响应",
		}
	}

	return &aiinterface.ChatCompletionResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Content: resp.Choices[0].Message.Content,
		Usage: aiinterface.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// ChatCompletionStream 对话补全（流式）
// 内容 channel 无缓冲，消费方读取速度决定上游读取速度
func (c *Client) ChatCompletionStream(ctx context.Context, req *aiinterface.ChatCompletionRequest) (<-chan aiinterface.StreamChunk, <-chan error) {
	chunkChan := make(chan aiinterface.StreamChunk)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(req, true))
		if err != nil {
			errChan <- wrapError(err)
			return
		}
		defer stream.Close()

		send := func(chunk aiinterface.StreamChunk) bool {
			select {
			case chunkChan <- chunk:
				return true
			case <-ctx.Done():
				errChan <- wrapError(ctx.Err())
				return false
			}
		}

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					send(aiinterface.StreamChunk{Done: true})
					return
				}
				errChan <- wrapError(err)
				return
			}

			if len(response.Choices) == 0 || response.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(aiinterface.StreamChunk{
				ID:      response.ID,
				Model:   response.Model,
				Content: response.Choices[0].Delta.Content,
			}) {
				return
			}
		}
	}()

	return chunkChan, errChan
}

func (c *Client) buildRequest(req *aiinterface.ChatCompletionRequest, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	return openai.ChatCompletionRequest{
		Model:       c.modelID,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		TopP:        float32(req.TopP),
		Stream:      stream,
	}
}

// wrapError 按 HTTP 状态码归类错误
func wrapError(err error) *aiinterface.ClientError {
	var errType aiinterface.ErrorType

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		errType = aiinterface.ErrorTypeCanceled
	case errors.As(err, &apiErr):
		errType = classifyStatus(apiErr.HTTPStatusCode)
	case errors.As(err, &reqErr):
		errType = classifyStatus(reqErr.HTTPStatusCode)
	default:
		errType = aiinterface.ErrorTypeNetwork
	}

	return &aiinterface.ClientError{
		Type:    errType,
		Message: "OpenAI API 错误",
		Err:     err,
	}
}

func classifyStatus(code int) aiinterface.ErrorType {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return aiinterface.ErrorTypeAuth
	case code == http.StatusTooManyRequests:
		return aiinterface.ErrorTypeRateLimit
	case code >= 400 && code < 500:
		return aiinterface.ErrorTypeInvalidParams
	case code >= 500:
		return aiinterface.ErrorTypeServerError
	default:
		return aiinterface.ErrorTypeUnknown
	}
}
