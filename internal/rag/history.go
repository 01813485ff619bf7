package rag

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"zeno/internal/apperr"
	"zeno/pkg/aiinterface"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// 每条消息除正文外的角色开销，按 OpenAI 对话格式估算
const messageTokenOverhead = 4

var bpeLoaderOnce sync.Once

// ConversationTurn 对话中的一轮发言，按时间顺序追加
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenCounter 统计文本的 token 数
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter 基于 tiktoken 的计数器
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter 按模型选择编码，未知模型回退到 cl100k_base
// 编码表从内置数据加载，不访问网络
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	bpeLoaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("加载 tiktoken 编码失败: %w", err)
		}
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count 返回 token 数
func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// ApproxCounter 按每 4 个字符约 1 个 token 粗略估算
type ApproxCounter struct{}

// Count 返回估算的 token 数
func (ApproxCounter) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// SplitConversation 拆分出最后一个用户问题与之前的历史
// 最后一条必须是非空的 user 消息
func SplitConversation(turns []ConversationTurn) ([]ConversationTurn, string, error) {
	if len(turns) == 0 {
		return nil, "", apperr.New(apperr.KindValidation, "messages must not be empty")
	}
	for i, t := range turns {
		switch t.Role {
		case aiinterface.RoleUser, aiinterface.RoleAssistant, aiinterface.RoleSystem:
		default:
			return nil, "", apperr.New(apperr.KindValidation, fmt.Sprintf("messages[%d]: unsupported role %q", i, t.Role))
		}
	}

	last := turns[len(turns)-1]
	if last.Role != aiinterface.RoleUser {
		return nil, "", apperr.New(apperr.KindValidation, "last message must come from the user")
	}
	question := strings.TrimSpace(last.Content)
	if question == "" {
		return nil, "", apperr.New(apperr.KindValidation, "question must not be empty")
	}

	history := make([]ConversationTurn, len(turns)-1)
	copy(history, turns[:len(turns)-1])
	return history, question, nil
}

// TrimHistory 从最旧的消息开始丢弃，直到总 token 数不超过 maxTokens
// maxTokens <= 0 时不裁剪；保留下来的消息顺序不变
func TrimHistory(history []ConversationTurn, maxTokens int, counter TokenCounter) []ConversationTurn {
	if maxTokens <= 0 || len(history) == 0 {
		return history
	}
	if counter == nil {
		counter = ApproxCounter{}
	}

	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := counter.Count(history[i].Content) + messageTokenOverhead
		if total+cost > maxTokens {
			break
		}
		total += cost
		start = i
	}
	return history[start:]
}

// FormatHistory 把历史渲染成改写问题时使用的纯文本
func FormatHistory(history []ConversationTurn) string {
	var b strings.Builder
	for _, t := range history {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		switch t.Role {
		case aiinterface.RoleUser:
			b.WriteString("Human: ")
		case aiinterface.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("System: ")
		}
		b.WriteString(t.Content)
	}
	return b.String()
}
