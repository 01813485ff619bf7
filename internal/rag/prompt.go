package rag

import (
	"fmt"
	"strings"

	"zeno/internal/config"
	"zeno/pkg/aiinterface"

	"github.com/tmc/langchaingo/prompts"
)

// PromptInput 组装提示词所需的全部输入
type PromptInput struct {
	History  []ConversationTurn
	Question string
	Sources  []*RetrievalResult
}

// Prompt 发送给对话模型的消息序列
type Prompt struct {
	Messages []aiinterface.Message
}

// PromptAssembler 按模板组装提示词，不依赖任何外部状态
type PromptAssembler struct {
	system   prompts.PromptTemplate
	question prompts.PromptTemplate
	condense prompts.PromptTemplate
}

// NewPromptAssembler 创建组装器，模板使用 {context}、{question}、{chat_history} 占位符
func NewPromptAssembler(cfg config.PromptConfig) (*PromptAssembler, error) {
	if cfg.SystemTemplate == "" {
		cfg.SystemTemplate = config.DefaultSystemTemplate
	}
	if cfg.QuestionTemplate == "" {
		cfg.QuestionTemplate = config.DefaultQuestionTemplate
	}
	if cfg.CondenseTemplate == "" {
		cfg.CondenseTemplate = config.DefaultCondenseTemplate
	}

	checks := []struct {
		name, tmpl string
		vars       []string
	}{
		{"system_template", cfg.SystemTemplate, []string{"context"}},
		{"question_template", cfg.QuestionTemplate, []string{"question"}},
		{"condense_template", cfg.CondenseTemplate, []string{"chat_history", "question"}},
	}
	for _, c := range checks {
		for _, v := range c.vars {
			if !strings.Contains(c.tmpl, "{"+v+"}") {
				return nil, fmt.Errorf("%s 缺少占位符 {%s}", c.name, v)
			}
		}
	}

	return &PromptAssembler{
		system:   fstringTemplate(cfg.SystemTemplate, "context"),
		question: fstringTemplate(cfg.QuestionTemplate, "question"),
		condense: fstringTemplate(cfg.CondenseTemplate, "chat_history", "question"),
	}, nil
}

func fstringTemplate(tmpl string, vars ...string) prompts.PromptTemplate {
	return prompts.PromptTemplate{
		Template:       tmpl,
		InputVariables: vars,
		TemplateFormat: prompts.TemplateFormatFString,
	}
}

// Build 组装消息：system(人设 + 检索上下文) → 历史 → 当前问题
// 检索上下文只出现在 system 消息中，历史消息原样保留
func (a *PromptAssembler) Build(in PromptInput) (*Prompt, error) {
	system, err := a.system.Format(map[string]any{"context": FormatContext(in.Sources)})
	if err != nil {
		return nil, fmt.Errorf("渲染 system 模板失败: %w", err)
	}
	question, err := a.question.Format(map[string]any{"question": in.Question})
	if err != nil {
		return nil, fmt.Errorf("渲染问题模板失败: %w", err)
	}

	messages := make([]aiinterface.Message, 0, len(in.History)+2)
	messages = append(messages, aiinterface.Message{Role: aiinterface.RoleSystem, Content: system})
	for _, t := range in.History {
		messages = append(messages, aiinterface.Message{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, aiinterface.Message{Role: aiinterface.RoleUser, Content: question})
	return &Prompt{Messages: messages}, nil
}

// Condense 生成把追问改写为独立问题的提示词
func (a *PromptAssembler) Condense(history []ConversationTurn, question string) (string, error) {
	out, err := a.condense.Format(map[string]any{
		"chat_history": FormatHistory(history),
		"question":     question,
	})
	if err != nil {
		return "", fmt.Errorf("渲染改写模板失败: %w", err)
	}
	return out, nil
}

// FormatContext 拼接检索到的分块正文
func FormatContext(sources []*RetrievalResult) string {
	parts := make([]string, 0, len(sources))
	for _, s := range sources {
		if s == nil || s.Chunk == nil {
			continue
		}
		parts = append(parts, s.Chunk.Text)
	}
	return strings.Join(parts, "\n\n")
}
