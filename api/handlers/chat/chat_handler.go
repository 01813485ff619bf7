// Package chat 对话接口
package chat

import (
	"context"
	"io"
	"net/http"

	response "zeno/api/handlers/common"
	"zeno/internal/apperr"
	"zeno/internal/logger"
	"zeno/internal/rag"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 对外只暴露固定的失败提示
const errorProcessing = "Error Processing"

// Answerer 对话流水线
type Answerer interface {
	Answer(ctx context.Context, req *rag.ChatRequest) (*rag.AnswerStream, error)
}

// Handler 对话处理器
type Handler struct {
	chat Answerer
}

// NewHandler 创建对话处理器
func NewHandler(chat Answerer) *Handler {
	return &Handler{chat: chat}
}

// Chat 检索增强对话（流式）
// @Summary 与 AI 导师对话
// @Description 基于已上传的课程资料回答最后一条用户消息，正文以纯文本流式返回，结束后追加 Sources 来源块
// @Tags Chat
// @Accept json
// @Produce plain
// @Param request body ChatRequest true "对话消息"
// @Success 200 {string} string "流式回答"
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/chat [post]
func (h *Handler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.NewErrorResponse("invalid request body", apperr.KindValidation))
		return
	}

	turns := make([]rag.ConversationTurn, len(req.Messages))
	for i, m := range req.Messages {
		turns[i] = rag.ConversationTurn{Role: m.Role, Content: m.Content}
	}

	ctx := c.Request.Context()
	stream, err := h.chat.Answer(ctx, &rag.ChatRequest{Messages: turns, UserID: req.UserID})
	if err != nil {
		kind := apperr.KindOf(err)
		status := apperr.HTTPStatus(kind)
		message := errorProcessing
		if status < http.StatusInternalServerError {
			message = apperr.MessageOf(err)
		}
		c.JSON(status, response.NewErrorResponse(message, kind))
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for tok := range stream.Tokens() {
		if _, err := io.WriteString(c.Writer, tok); err != nil {
			// 客户端已断开，请求 ctx 取消后生成协程自行退出
			logger.WithContext(ctx).Warn("写入回答失败", zap.Error(err))
			return
		}
		c.Writer.Flush()
	}
	if err := stream.Err(); err != nil {
		_ = c.Error(err)
		logger.WithContext(ctx).Warn("回答未完整发送", zap.String("kind", string(apperr.KindOf(err))))
	}
}
